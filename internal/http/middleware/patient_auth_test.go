package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carevia/booking-gateway/internal/http/middleware"
)

const secret = "test-secret"

func signToken(t *testing.T, secret, subject string, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func claimsProbe(got *bool, claims *jwt.RegisteredClaims, token *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := middleware.PatientClaimsFromContext(r.Context())
		*got = ok
		if ok {
			*claims = c
		}
		if raw, ok := middleware.PatientTokenFromContext(r.Context()); ok {
			*token = raw
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestPatientJWTAcceptsValidToken(t *testing.T) {
	var (
		got    bool
		claims jwt.RegisteredClaims
		raw    string
	)
	h := middleware.PatientJWT(secret)(claimsProbe(&got, &claims, &raw))

	token := signToken(t, secret, "12", time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, got)
	assert.Equal(t, "12", claims.Subject)
	assert.Equal(t, token, raw, "raw token kept for forwarding upstream")
}

func TestPatientJWTRejects(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"missing header", func(r *http.Request) {}},
		{"not bearer", func(r *http.Request) {
			r.Header.Set("Authorization", "Basic abc123")
		}},
		{"wrong secret", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", "12", time.Now().Add(time.Hour)))
		}},
		{"expired", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, secret, "12", time.Now().Add(-time.Hour)))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got bool
			h := middleware.PatientJWT(secret)(claimsProbe(&got, &jwt.RegisteredClaims{}, new(string)))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, got)
		})
	}
}

func TestMaybePatientJWTLetsGuestsThrough(t *testing.T) {
	var got bool
	h := middleware.MaybePatientJWT(secret)(claimsProbe(&got, &jwt.RegisteredClaims{}, new(string)))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, got)
}

func TestMaybePatientJWTIgnoresInvalidToken(t *testing.T) {
	var got bool
	h := middleware.MaybePatientJWT(secret)(claimsProbe(&got, &jwt.RegisteredClaims{}, new(string)))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, got, "a bad token degrades to guest, it does not block the page")
}
