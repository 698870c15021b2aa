// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Auth header conventions understood by the provider.
const (
	AuthHeaderAPIKey = "x-api-key"
	AuthHeaderBearer = "authorization"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Provider endpoint and credentials
	ProviderBaseURL string
	ProviderAPIKey  string
	AuthHeader      string

	// Defaults applied when a request omits the window or detail flag
	DefaultWindow      string
	DefaultHideDetails string

	// Per-attempt provider timeout
	RequestTimeout time.Duration

	// Cache settings
	CacheTTL        time.Duration
	CacheMaxEntries int

	// Server features
	EnableMetrics        bool
	EnableRateLimit      bool
	RateLimitRPS         float64
	RateLimitBurst       int
	EnableCircuitBreaker bool

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// Base58 Solana private key used to sign responses
	SigningKey string

	// Downstream export of computed results
	ExportWebhookURL    string
	ExportWebhookAPIKey string
	ExportBatchSize     int
	ExportInterval      time.Duration
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:                 "8080",
		ProviderBaseURL:      "https://data.solanatracker.io",
		AuthHeader:           AuthHeaderAPIKey,
		DefaultWindow:        "30d",
		DefaultHideDetails:   "yes",
		RequestTimeout:       10 * time.Second,
		CacheTTL:             5 * time.Minute,
		CacheMaxEntries:      10000,
		EnableMetrics:        true,
		EnableRateLimit:      true,
		RateLimitRPS:         10,
		RateLimitBurst:       20,
		EnableCircuitBreaker: true,
		ExportBatchSize:      100,
		ExportInterval:       time.Minute,
	}
}

// Load creates a new Config from an optional YAML file and environment variables.
// Environment variables take precedence over the file.
func Load() Config {
	cfg := Default()

	if path := GetEnvOrDefault("METRICS_CONFIG_FILE", ""); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			logrus.Warnf("Ignoring config file %s: %v", path, err)
		}
	}

	cfg.Port = GetEnvOrDefault("PORT", cfg.Port)
	cfg.ProviderBaseURL = strings.TrimRight(GetEnvOrDefault("SOLANA_TRACKER_BASE_URL", cfg.ProviderBaseURL), "/")
	cfg.ProviderAPIKey = GetEnvOrDefault("SOLANA_TRACKER_API_KEY", cfg.ProviderAPIKey)
	cfg.AuthHeader = strings.ToLower(GetEnvOrDefault("SOLANA_TRACKER_AUTH_HEADER", cfg.AuthHeader))
	cfg.DefaultWindow = GetEnvOrDefault("SOLANA_TRACKER_PNL_WINDOW", cfg.DefaultWindow)
	cfg.DefaultHideDetails = GetEnvOrDefault("SOLANA_TRACKER_HIDE_DETAILS", cfg.DefaultHideDetails)
	cfg.RequestTimeout = GetEnvAsMillis("REQUEST_TIMEOUT_MS", cfg.RequestTimeout)
	cfg.CacheTTL = GetEnvAsMillis("METRICS_CACHE_TTL_MS", cfg.CacheTTL)
	cfg.CacheMaxEntries = GetEnvAsInt("METRICS_CACHE_MAX_ENTRIES", cfg.CacheMaxEntries)
	cfg.EnableMetrics = GetEnvAsBool("ENABLE_METRICS", cfg.EnableMetrics)
	cfg.EnableRateLimit = GetEnvAsBool("ENABLE_RATE_LIMIT", cfg.EnableRateLimit)
	cfg.RateLimitRPS = GetEnvAsFloat("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = GetEnvAsInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.EnableCircuitBreaker = GetEnvAsBool("ENABLE_CIRCUIT_BREAKER", cfg.EnableCircuitBreaker)
	cfg.OtelEndpoint = GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OtelEndpoint)
	cfg.SigningKey = GetEnvOrDefault("RESPONSE_SIGNING_KEY", cfg.SigningKey)
	cfg.ExportWebhookURL = GetEnvOrDefault("EXPORT_WEBHOOK_URL", cfg.ExportWebhookURL)
	cfg.ExportWebhookAPIKey = GetEnvOrDefault("EXPORT_WEBHOOK_API_KEY", cfg.ExportWebhookAPIKey)
	cfg.ExportBatchSize = GetEnvAsInt("EXPORT_BATCH_SIZE", cfg.ExportBatchSize)
	cfg.ExportInterval = GetEnvAsDuration("EXPORT_INTERVAL", cfg.ExportInterval)

	return cfg
}

// UseBearerAuth reports whether the provider key goes in an Authorization header.
func (c Config) UseBearerAuth() bool {
	return c.AuthHeader != AuthHeaderAPIKey
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists && value != "" {
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
		logrus.Warnf("Invalid integer in %s, using default: %v", key, defaultValue)
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		logrus.Warnf("Invalid float in %s, using default: %v", key, defaultValue)
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		logrus.Warnf("Invalid boolean in %s, using default: %v", key, defaultValue)
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		logrus.Warnf("Invalid duration in %s, using default: %v", key, defaultValue)
	}
	return defaultValue
}

// GetEnvAsMillis retrieves an environment variable holding a millisecond count
func GetEnvAsMillis(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
		logrus.Warnf("Invalid millisecond value in %s, using default: %v", key, defaultValue)
	}
	return defaultValue
}
