// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Admin identity allowed to register and remove oracles
	AdminAddress string

	// Directory for the pebble store; empty selects the in-memory store
	DataDir string

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// Webhook event export settings
	WebhookURL           string
	WebhookAPIKey        string
	WebhookBatchSize     int
	WebhookFlushInterval time.Duration

	// Rate limiting for mutation endpoints
	RateLimitRPS   float64
	RateLimitBurst int

	// Circuit breaker settings for the consensus read path
	EnableCircuitBreaker bool
	MaxSwingBps          int64
	MinSubmissions       int
	CircuitResetDelay    time.Duration

	// Whether to expose prometheus metrics
	EnableMetrics bool
}

// Load creates a new Config from environment variables
func Load() Config {
	return Config{
		Port:                 GetEnvOrDefault("PORT", "8080"),
		AdminAddress:         GetEnvOrDefault("ADMIN_ADDRESS", ""),
		DataDir:              GetEnvOrDefault("DATA_DIR", ""),
		OtelEndpoint:         GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		WebhookURL:           GetEnvOrDefault("WEBHOOK_URL", ""),
		WebhookAPIKey:        GetEnvOrDefault("WEBHOOK_API_KEY", ""),
		WebhookBatchSize:     GetEnvAsInt("WEBHOOK_BATCH_SIZE", 100),
		WebhookFlushInterval: GetEnvAsDuration("WEBHOOK_FLUSH_INTERVAL", time.Minute),
		RateLimitRPS:         GetEnvAsFloat("RATE_LIMIT_RPS", 10.0),
		RateLimitBurst:       GetEnvAsInt("RATE_LIMIT_BURST", 20),
		EnableCircuitBreaker: GetEnvAsBool("ENABLE_CIRCUIT_BREAKER", true),
		MaxSwingBps:          int64(GetEnvAsInt("MAX_SWING_BPS", 2000)), // 20% between rounds
		MinSubmissions:       GetEnvAsInt("MIN_SUBMISSIONS", 2),
		CircuitResetDelay:    GetEnvAsDuration("CIRCUIT_RESET_DELAY", 5*time.Minute),
		EnableMetrics:        GetEnvAsBool("ENABLE_METRICS", true),
	}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
