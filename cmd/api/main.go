package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/carevia/booking-gateway/internal/api/router"
	"github.com/carevia/booking-gateway/internal/availability"
	"github.com/carevia/booking-gateway/internal/bookingctx"
	appconfig "github.com/carevia/booking-gateway/internal/config"
	"github.com/carevia/booking-gateway/internal/http/handlers"
	"github.com/carevia/booking-gateway/internal/observability/metrics"
	"github.com/carevia/booking-gateway/internal/restore"
	"github.com/carevia/booking-gateway/internal/telemedapi"
	"github.com/carevia/booking-gateway/pkg/logging"
)

func main() {
	// Load .env if present; real deployments set env vars directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting booking-gateway API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if cfg.PatientJWTSecret == "" {
		logger.Error("PATIENT_JWT_SECRET is required")
		os.Exit(1)
	}

	// Booking context store: Redis when reachable, in-memory otherwise.
	// Losing a saved intent degrades to the default selection, so a store
	// outage must never block startup.
	var store bookingctx.Store
	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, using in-memory booking context store",
			"addr", cfg.RedisAddr, "error", err)
		store = bookingctx.NewMemoryStore()
	} else {
		store = bookingctx.NewRedisStore(redisClient, logger)
	}
	cancelPing()

	bookingMetrics := metrics.NewBookingMetrics(prometheus.DefaultRegisterer)

	apiClient := telemedapi.NewClient(cfg.TelemedAPIBaseURL,
		telemedapi.WithHTTPClient(&http.Client{Timeout: cfg.TelemedAPITimeout}),
		telemedapi.WithLogger(logger),
	)

	fetcher := availability.NewFetcher(apiClient, logger, bookingMetrics)
	controller := restore.NewController(apiClient, fetcher, store, logger,
		restore.WithMetrics(bookingMetrics))
	booking := handlers.NewBookingHandler(store, controller, fetcher, apiClient, logger, bookingMetrics)

	r := router.New(&router.Config{
		Logger:             logger,
		Booking:            booking,
		MetricsHandler:     promhttp.Handler(),
		PatientJWTSecret:   cfg.PatientJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerSec:    cfg.RateLimitPerSec,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := redisClient.Close(); err != nil {
		logger.Warn("redis close failed", "error", err)
	}

	logger.Info("server stopped")
}
