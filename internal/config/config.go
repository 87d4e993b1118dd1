package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Remote telemedicine API
	TelemedAPIBaseURL string
	TelemedAPITimeout time.Duration

	// Redis (booking context store)
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Patient session auth
	PatientJWTSecret string

	// Abuse protection for the public booking endpoints
	RateLimitPerSec float64
	RateLimitBurst  int

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		TelemedAPIBaseURL:  strings.TrimRight(getEnv("TELEMED_API_BASE_URL", "http://localhost:8000"), "/"),
		TelemedAPITimeout:  getEnvAsDuration("TELEMED_API_TIMEOUT", 30*time.Second),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),
		PatientJWTSecret:   getEnv("PATIENT_JWT_SECRET", ""),
		RateLimitPerSec:    getEnvAsFloat("RATE_LIMIT_PER_SEC", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
		CORSAllowedOrigins: splitAndTrim(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat retrieves an environment variable as a float or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
