package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/carevia/booking-gateway/pkg/logging"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogger emits structured logs for every HTTP request.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"request_id", reqID,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
