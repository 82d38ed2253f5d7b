package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// localLimiter implements Limiter using golang.org/x/time/rate
type localLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration
	observe  WaitObserver

	acquired  atomic.Int64
	totalWait atomic.Int64
}

// NewLocalLimiter creates an in-process limiter allowing one request per
// interval with no burst beyond that.
func NewLocalLimiter(config Config, observe WaitObserver) (Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newLocal(config.Interval, observe), nil
}

func newLocal(interval time.Duration, observe WaitObserver) *localLimiter {
	return &localLimiter{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
		observe:  observe,
	}
}

// Acquire blocks until the next slot is due. It only fails when ctx ends
// first, in which case the reserved slot is handed back.
func (l *localLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	r := l.limiter.Reserve()
	if delay := r.Delay(); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			r.Cancel()
			return ctx.Err()
		}
	}
	l.record(time.Since(start))
	return nil
}

func (l *localLimiter) record(wait time.Duration) {
	l.acquired.Add(1)
	l.totalWait.Add(int64(wait))
	if l.observe != nil {
		l.observe(wait)
	}
}

// Stats returns the acquisition counters.
func (l *localLimiter) Stats() Stats {
	return Stats{
		Backend:   string(BackendLocal),
		Interval:  l.interval,
		Acquired:  l.acquired.Load(),
		TotalWait: time.Duration(l.totalWait.Load()),
	}
}

var _ Limiter = (*localLimiter)(nil)
