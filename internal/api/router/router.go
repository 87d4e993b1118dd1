package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/carevia/booking-gateway/internal/http/handlers"
	httpmiddleware "github.com/carevia/booking-gateway/internal/http/middleware"
	"github.com/carevia/booking-gateway/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Booking            *handlers.BookingHandler
	MetricsHandler     http.Handler
	PatientJWTSecret   string
	CORSAllowedOrigins []string
	RateLimitPerSec    float64
	RateLimitBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if cfg.RateLimitPerSec > 0 {
		r.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSec, cfg.RateLimitBurst))
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", cfg.Booking.Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api/v1", func(api chi.Router) {
		// Optional auth: guests save intents and see default selections,
		// patients restore them.
		api.Group(func(maybeAuth chi.Router) {
			maybeAuth.Use(httpmiddleware.MaybePatientJWT(cfg.PatientJWTSecret))
			maybeAuth.Post("/booking-context", cfg.Booking.SaveContext)
			maybeAuth.Get("/booking-context", cfg.Booking.GetContext)
			maybeAuth.Get("/doctors/{doctorID}/availability", cfg.Booking.WeekAvailability)
			maybeAuth.Post("/doctors/{doctorID}/resume", cfg.Booking.Resume)
		})

		// Booking requires a patient session.
		api.Group(func(auth chi.Router) {
			auth.Use(httpmiddleware.PatientJWT(cfg.PatientJWTSecret))
			auth.Post("/appointments", cfg.Booking.BookAppointment)
		})
	})

	return r
}
