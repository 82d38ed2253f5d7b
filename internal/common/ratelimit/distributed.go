package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"stream-auditor/internal/common/logging"
	"stream-auditor/internal/common/utils"
)

// distributedLimiter books slots in Redis and falls back to a local limiter
// while Redis is failing.
type distributedLimiter struct {
	client   SlotReserver
	key      string
	interval time.Duration
	fallback *localLimiter
	observe  WaitObserver
	logger   logging.Logger

	acquired  atomic.Int64
	totalWait atomic.Int64
	fallbacks atomic.Int64
}

// NewDistributedLimiter shares one request slot per interval across every
// process using the same Redis key. When Redis errors the limiter falls back
// to a local one instead of failing.
//
// Parameters:
//   - config: interval and key, validated first
//   - client: reserves slots through the Lua script
//   - observe: receives each wait, may be nil
//   - logger: reports fallbacks
func NewDistributedLimiter(config Config, client SlotReserver, observe WaitObserver, logger logging.Logger) (Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &distributedLimiter{
		client:   client,
		key:      config.Key,
		interval: config.Interval,
		fallback: newLocal(config.Interval, observe),
		observe:  observe,
		logger:   logging.OrGlobal(logger).WithFields(logging.String("component", "ratelimit")),
	}, nil
}

func (d *distributedLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	wait, err := d.client.ReserveSlot(ctx, d.key, d.interval)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.fallbacks.Add(1)
		d.logger.Warn("Redis slot reservation failed, using local limiter", logging.Err(err))
		return d.fallback.Acquire(ctx)
	}

	if err := utils.Sleep(ctx, wait); err != nil {
		return err
	}

	waited := time.Since(start)
	d.acquired.Add(1)
	d.totalWait.Add(int64(waited))
	if d.observe != nil {
		d.observe(waited)
	}
	return nil
}

// Stats returns the acquisition counters.
func (d *distributedLimiter) Stats() Stats {
	local := d.fallback.Stats()
	return Stats{
		Backend:   string(BackendRedis),
		Interval:  d.interval,
		Acquired:  d.acquired.Load() + local.Acquired,
		TotalWait: time.Duration(d.totalWait.Load()) + local.TotalWait,
		Fallbacks: d.fallbacks.Load(),
	}
}

var _ Limiter = (*distributedLimiter)(nil)
