package ratelimit

import (
	"fmt"

	"stream-auditor/internal/common/logging"
)

// New builds the limiter selected by config.Backend. client may be nil for
// the local backend.
func New(config Config, client SlotReserver, observe WaitObserver, logger logging.Logger) (Limiter, error) {
	switch config.Backend {
	case BackendLocal, "":
		return NewLocalLimiter(config, observe)
	case BackendRedis:
		if client == nil {
			return nil, fmt.Errorf("redis rate limiter requires a redis client")
		}
		return NewDistributedLimiter(config, client, observe, logger)
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", config.Backend)
	}
}
