package ratelimit

import (
	"fmt"
	"time"
)

// BackendType selects where slots are reserved.
type BackendType string

const (
	BackendLocal BackendType = "local"
	BackendRedis BackendType = "redis"
)

// Config represents rate limiter configuration
type Config struct {
	// Interval is the minimum gap between two issued requests.
	Interval time.Duration `json:"interval"`
	Backend  BackendType   `json:"backend"`
	// Key names the shared Redis slot; ignored by the local backend.
	Key string `json:"key,omitempty"`
}

// DefaultConfig matches the provider's documented pacing of ten requests
// per second.
func DefaultConfig() Config {
	return Config{
		Interval: 100 * time.Millisecond,
		Backend:  BackendLocal,
		Key:      "stream-auditor:provider",
	}
}

// Validate checks the interval and the backend.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("rate limit interval must be positive, got %v", c.Interval)
	}
	switch c.Backend {
	case BackendLocal, "":
	case BackendRedis:
		if c.Key == "" {
			return fmt.Errorf("redis rate limiter needs a key")
		}
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.Backend)
	}
	return nil
}
