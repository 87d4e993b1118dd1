package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	patientClaimsKey contextKey = "patientClaims"
	patientTokenKey  contextKey = "patientToken"
)

// PatientJWT enforces an HMAC-signed patient session token. The raw token is
// kept in the request context so handlers can forward it to the remote API.
func PatientJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, token, ok := parseBearer(r, secret)
			if !ok {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), patientClaimsKey, claims)
			ctx = context.WithValue(ctx, patientTokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MaybePatientJWT attaches patient claims when a valid token is present but
// lets unauthenticated requests through. The restoration flow needs to see
// both kinds of caller: guests fall back to default selection, patients
// restore.
func MaybePatientJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, token, ok := parseBearer(r, secret); ok {
				ctx := context.WithValue(r.Context(), patientClaimsKey, claims)
				ctx = context.WithValue(ctx, patientTokenKey, token)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseBearer(r *http.Request, secret string) (jwt.RegisteredClaims, string, bool) {
	if secret == "" {
		return jwt.RegisteredClaims{}, "", false
	}
	auth := r.Header.Get("Authorization")
	if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
		return jwt.RegisteredClaims{}, "", false
	}
	tokenString := strings.TrimPrefix(auth, "Bearer ")
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return jwt.RegisteredClaims{}, "", false
	}
	return claims, tokenString, true
}

// PatientClaimsFromContext returns patient JWT claims if present.
func PatientClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(patientClaimsKey).(jwt.RegisteredClaims)
	return claims, ok
}

// PatientTokenFromContext returns the raw bearer token if present.
func PatientTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(patientTokenKey).(string)
	return token, ok
}
