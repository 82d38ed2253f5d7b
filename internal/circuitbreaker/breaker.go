// Package circuitbreaker stops hammering the provider while it is failing,
// using Sony's gobreaker.
package circuitbreaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"stream-auditor/internal/common/errors"
	"stream-auditor/internal/common/logging"
)

// ErrOpen is wrapped by every error returned while the breaker rejects calls.
var ErrOpen = stderrors.New("circuit breaker open")

// Config holds the configuration for a circuit breaker
type Config struct {
	// MaxFailures consecutive failures open the breaker.
	MaxFailures int
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// MaxConcurrentRequests is the probe budget while half-open.
	MaxConcurrentRequests int
}

// ProviderConfig is tuned for the metrics provider: fail fast on a burst of
// 5xx responses, try again after half a minute.
var ProviderConfig = Config{
	MaxFailures:           5,
	Timeout:               30 * time.Second,
	MaxConcurrentRequests: 1,
}

// Validate reports the first non-positive setting.
func (c Config) Validate() error {
	if c.MaxFailures <= 0 {
		return fmt.Errorf("MaxFailures must be positive, got %d", c.MaxFailures)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("MaxConcurrentRequests must be positive, got %d", c.MaxConcurrentRequests)
	}
	return nil
}

// Breaker wraps gobreaker.CircuitBreaker.
type Breaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	logger  logging.Logger
}

// New creates a breaker. An invalid config falls back to ProviderConfig.
func New(name string, config Config, logger logging.Logger) *Breaker {
	logger = logging.OrGlobal(logger)
	if err := config.Validate(); err != nil {
		logger.Warn("Invalid circuit breaker config, using defaults",
			logging.String("breaker", name),
			logging.Err(err),
		)
		config = ProviderConfig
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.MaxConcurrentRequests),
		Interval:    time.Minute,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.MaxFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// cancellation by our own caller says nothing about provider health
			return err == nil || stderrors.Is(err, context.Canceled)
		},
	}

	return &Breaker{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Execute runs fn unless the breaker is open. Errors returned by fn count as
// failures and are passed through unchanged.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.InternalError(fmt.Sprintf("circuit breaker '%s' rejected the call", b.name),
			fmt.Errorf("%w: %w", ErrOpen, err))
	}
	return err
}

// State returns "closed", "open" or "half-open".
func (b *Breaker) State() string {
	return b.breaker.State().String()
}

// Name returns the name given to New.
func (b *Breaker) Name() string { return b.name }
