// Package config loads the auditor's settings from environment variables
// with defaults, and validates them before anything talks to the provider.
//
// Environment Variables:
//
// Provider:
//   - PROVIDER_BASE_URL: API root (default: https://api.luminatedata.com)
//   - PROVIDER_API_KEY, PROVIDER_USERNAME, PROVIDER_PASSWORD: credentials
//   - PROVIDER_AUTH_PATHS: comma separated auth endpoints tried in order (default: /auth)
//   - PROVIDER_AUTH_ENCODING: "form" or "json" credential body (default: form)
//   - PROVIDER_TOKEN_SCHEME: "raw" or "bearer" Authorization header (default: raw)
//   - PROVIDER_ACCEPT: Accept header for data requests
//   - PROVIDER_ID_TYPE: identifier type query value (default: ISRC)
//   - TOKEN_EXPIRY_SKEW: refresh this long before expiry (default: 30s)
//
// Fetching:
//   - FETCH_TIMEOUT: per attempt timeout (default: 30s)
//   - FETCH_MAX_ATTEMPTS: attempts per request including the first (default: 4)
//   - FETCH_INITIAL_BACKOFF (default: 500ms), FETCH_MAX_BACKOFF (default: 10s)
//   - CIRCUIT_BREAKER_ENABLED (default: true)
//
// Rate limiting:
//   - RATE_LIMIT_INTERVAL: minimum gap between outbound requests (default: 100ms)
//   - RATE_LIMIT_BACKEND: "local" or "redis" (default: local)
//   - REDIS_ADDRESS (default: localhost:6379), REDIS_PASSWORD, REDIS_DB (default: 0)
//   - RATE_LIMIT_KEY: shared Redis key (default: stream-auditor:provider)
//
// Batch:
//   - WORKERS: concurrent identifier pipelines (default: 4)
//   - REGION_THRESHOLD (default: 0.80), FREE_TIER_LOW_THRESHOLD (default: 0.03)
//
// Application:
//   - PORT (default: 8080), LOG_LEVEL (default: info), LOG_FORMAT, LOG_FILE
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"stream-auditor/internal/common/utils"
	"stream-auditor/internal/models"
)

// Config holds all configuration values. Use Load then Validate.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string
	LogFile   string

	ProviderBaseURL string
	Credentials     models.Credentials
	AuthPaths       []string
	AuthEncoding    string
	TokenScheme     string
	AcceptHeader    string
	IDType          string
	TokenSkew       time.Duration

	FetchTimeout          time.Duration
	FetchMaxAttempts      int
	FetchInitialBackoff   time.Duration
	FetchMaxBackoff       time.Duration
	CircuitBreakerEnabled bool

	RateLimitInterval time.Duration
	RateLimitBackend  string
	RateLimitKey      string
	RedisAddress      string
	RedisPassword     string
	RedisDB           int

	Workers              int
	RegionThreshold      float64
	FreeTierLowThreshold float64

	// parse failures found by Load, reported by Validate
	loadErrs []string
}

// Load reads the environment. Malformed values fall back to their defaults
// and are reported by Validate.
func Load() *Config {
	c := &Config{}

	c.Port = getEnv("PORT", "8080")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "console")
	c.LogFile = getEnv("LOG_FILE", "")

	c.ProviderBaseURL = strings.TrimRight(getEnv("PROVIDER_BASE_URL", "https://api.luminatedata.com"), "/")
	c.Credentials = models.Credentials{
		APIKey:   getEnv("PROVIDER_API_KEY", ""),
		Username: getEnv("PROVIDER_USERNAME", ""),
		Password: getEnv("PROVIDER_PASSWORD", ""),
	}
	c.AuthPaths = splitList(getEnv("PROVIDER_AUTH_PATHS", "/auth"))
	c.AuthEncoding = strings.ToLower(getEnv("PROVIDER_AUTH_ENCODING", "form"))
	c.TokenScheme = strings.ToLower(getEnv("PROVIDER_TOKEN_SCHEME", "raw"))
	c.AcceptHeader = getEnv("PROVIDER_ACCEPT", "application/vnd.luminate-data.svc-apibff.v1+json")
	c.IDType = getEnv("PROVIDER_ID_TYPE", "ISRC")
	c.TokenSkew = c.getDurationEnv("TOKEN_EXPIRY_SKEW", 30*time.Second)

	c.FetchTimeout = c.getDurationEnv("FETCH_TIMEOUT", 30*time.Second)
	c.FetchMaxAttempts = c.getIntEnv("FETCH_MAX_ATTEMPTS", 4)
	c.FetchInitialBackoff = c.getDurationEnv("FETCH_INITIAL_BACKOFF", 500*time.Millisecond)
	c.FetchMaxBackoff = c.getDurationEnv("FETCH_MAX_BACKOFF", 10*time.Second)
	c.CircuitBreakerEnabled = getBoolEnv("CIRCUIT_BREAKER_ENABLED", true)

	c.RateLimitInterval = c.getDurationEnv("RATE_LIMIT_INTERVAL", 100*time.Millisecond)
	c.RateLimitBackend = strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "local"))
	c.RateLimitKey = getEnv("RATE_LIMIT_KEY", "stream-auditor:provider")
	c.RedisAddress = getEnv("REDIS_ADDRESS", "localhost:6379")
	c.RedisPassword = getEnv("REDIS_PASSWORD", "")
	c.RedisDB = c.getIntEnv("REDIS_DB", 0)

	c.Workers = c.getIntEnv("WORKERS", 4)
	c.RegionThreshold = c.getFloatEnv("REGION_THRESHOLD", 0.80)
	c.FreeTierLowThreshold = c.getFloatEnv("FREE_TIER_LOW_THRESHOLD", 0.03)

	return c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv accepts anything strconv.ParseBool does.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (c *Config) getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		c.loadErrs = append(c.loadErrs, fmt.Sprintf("%s must be an integer, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (c *Config) getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		c.loadErrs = append(c.loadErrs, fmt.Sprintf("%s must be a number, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (c *Config) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := utils.ParseDuration(value)
	if err != nil {
		c.loadErrs = append(c.loadErrs, fmt.Sprintf("%s must be a duration (e.g. '500ms', '30s', '1d'), got %q", key, value))
		return defaultValue
	}
	return parsed
}

func splitList(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	}))
}

// Validate checks values that do not depend on the command being run.
// Credentials are checked separately by RequireCredentials, which every
// command that talks to the provider calls before wiring the app.
func (c *Config) Validate() error {
	if len(c.loadErrs) > 0 {
		return fmt.Errorf("%s", c.loadErrs[0])
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	u, err := url.Parse(c.ProviderBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PROVIDER_BASE_URL must be an absolute URL")
	}
	if len(c.AuthPaths) == 0 {
		return fmt.Errorf("PROVIDER_AUTH_PATHS must list at least one path")
	}
	if !lo.Contains([]string{"form", "json"}, c.AuthEncoding) {
		return fmt.Errorf("PROVIDER_AUTH_ENCODING must be 'form' or 'json'")
	}
	if !lo.Contains([]string{"raw", "bearer"}, c.TokenScheme) {
		return fmt.Errorf("PROVIDER_TOKEN_SCHEME must be 'raw' or 'bearer'")
	}

	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	if c.FetchMaxAttempts < 1 {
		return fmt.Errorf("FETCH_MAX_ATTEMPTS must be at least 1")
	}
	if c.FetchInitialBackoff < 0 || c.FetchMaxBackoff < c.FetchInitialBackoff {
		return fmt.Errorf("FETCH_MAX_BACKOFF must be >= FETCH_INITIAL_BACKOFF >= 0")
	}
	if c.TokenSkew < 0 {
		return fmt.Errorf("TOKEN_EXPIRY_SKEW must not be negative")
	}

	if c.RateLimitInterval <= 0 {
		return fmt.Errorf("RATE_LIMIT_INTERVAL must be positive")
	}
	switch c.RateLimitBackend {
	case "local":
	case "redis":
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when RATE_LIMIT_BACKEND=redis")
		}
		if c.RedisDB < 0 || c.RedisDB > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be 'local' or 'redis'")
	}

	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1")
	}
	if c.RegionThreshold <= 0 || c.RegionThreshold > 1 {
		return fmt.Errorf("REGION_THRESHOLD must be in (0, 1]")
	}
	if c.FreeTierLowThreshold <= 0 || c.FreeTierLowThreshold > 1 {
		return fmt.Errorf("FREE_TIER_LOW_THRESHOLD must be in (0, 1]")
	}

	return nil
}

// RequireCredentials fails when any provider credential is missing.
func (c *Config) RequireCredentials() error {
	if err := c.Credentials.Validate(); err != nil {
		return fmt.Errorf("PROVIDER_API_KEY, PROVIDER_USERNAME and PROVIDER_PASSWORD are required: %w", err)
	}
	return nil
}
