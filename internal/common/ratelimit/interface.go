package ratelimit

import (
	"context"
	"time"
)

// Limiter delays callers so that requests are issued no faster than the
// configured interval.
type Limiter interface {
	Acquire(ctx context.Context) error
	Stats() Stats
}

// Stats is a snapshot of limiter activity.
type Stats struct {
	Backend   string        `json:"backend"`
	Interval  time.Duration `json:"interval"`
	Acquired  int64         `json:"acquired"`
	TotalWait time.Duration `json:"total_wait"`
	Fallbacks int64         `json:"fallbacks,omitempty"`
}

// SlotReserver is the part of the Redis client the distributed backend uses.
type SlotReserver interface {
	ReserveSlot(ctx context.Context, key string, interval time.Duration) (time.Duration, error)
}

// WaitObserver is told how long each successful Acquire blocked.
type WaitObserver func(wait time.Duration)
