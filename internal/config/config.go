// Package config provides environment configuration for the API server.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	MaxBodyBytes       int64
	AllowedOrigins     []string

	// Storage
	DatabasePath string

	// Upstream settings
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterReferer string
	OpenRouterTitle   string
	UpstreamTimeout   time.Duration
	StreamIdleTimeout time.Duration

	// NATS settings; an empty URL disables event publishing
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// Logging
	LogLevel    string
	Development bool

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server. Write timeout defaults to 0 because event streams stay
		// open for the whole reply; each event write has its own deadline.
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),
		MaxBodyBytes:       int64(getIntEnv("MAX_BODY_BYTES", 1<<20)),
		AllowedOrigins:     getListEnv("CORS_ALLOWED_ORIGINS"),

		DatabasePath: getEnv("DATABASE_PATH", "data/chat.db"),

		// Upstream
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterReferer: getEnv("OPENROUTER_REFERER", "http://localhost"),
		OpenRouterTitle:   getEnv("OPENROUTER_TITLE", "Chat Relay"),
		UpstreamTimeout:   getDurationEnv("UPSTREAM_TIMEOUT", 60*time.Second),
		StreamIdleTimeout: getDurationEnv("STREAM_IDLE_TIMEOUT", 60*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Logging
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Development: getEnv("ENV", "production") == "development",

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.OpenRouterAPIKey == "" {
		errs = append(errs, errors.New("OPENROUTER_API_KEY is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("DATABASE_PATH is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, errors.New("UPSTREAM_TIMEOUT must be positive"))
	}
	if c.StreamIdleTimeout <= 0 {
		errs = append(errs, errors.New("STREAM_IDLE_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
