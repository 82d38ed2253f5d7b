package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-auditor/internal/common/logging"
	"stream-auditor/internal/redis"
)

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{Interval: 0}.Validate())
	assert.Error(t, Config{Interval: time.Second, Backend: "memcache"}.Validate())
	assert.Error(t, Config{Interval: time.Second, Backend: BackendRedis}.Validate())
}

func TestLocalLimiter_EnforcesInterval(t *testing.T) {
	interval := 20 * time.Millisecond
	limiter, err := NewLocalLimiter(Config{Interval: interval}, nil)
	require.NoError(t, err)

	const workers = 5
	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, limiter.Acquire(context.Background()))
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, times, workers)
	first, last := times[0], times[0]
	for _, ts := range times {
		if ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}
	// five grants need at least four intervals between first and last
	assert.GreaterOrEqual(t, last.Sub(first), 4*interval-5*time.Millisecond)
	assert.Equal(t, int64(workers), limiter.Stats().Acquired)
}

func TestLocalLimiter_ContextCancelled(t *testing.T) {
	limiter, err := NewLocalLimiter(Config{Interval: time.Hour}, nil)
	require.NoError(t, err)

	require.NoError(t, limiter.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = limiter.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalLimiter_WaitsUntilDeadline(t *testing.T) {
	limiter, err := NewLocalLimiter(Config{Interval: time.Second}, nil)
	require.NoError(t, err)
	require.NoError(t, limiter.Acquire(context.Background()))

	// the next slot is beyond the deadline; Acquire must still only delay
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = limiter.Acquire(ctx)

	assert.Equal(t, context.DeadlineExceeded, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, int64(1), limiter.Stats().Acquired)
}

func TestLocalLimiter_CancelledWaitReturnsSlot(t *testing.T) {
	interval := 100 * time.Millisecond
	limiter, err := NewLocalLimiter(Config{Interval: interval}, nil)
	require.NoError(t, err)
	require.NoError(t, limiter.Acquire(context.Background()))
	first := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, limiter.Acquire(ctx))

	// the abandoned reservation does not push the next grant a slot further
	require.NoError(t, limiter.Acquire(context.Background()))
	assert.Less(t, time.Since(first), 2*interval)
}

func TestLocalLimiter_Observer(t *testing.T) {
	var observed []time.Duration
	limiter, err := NewLocalLimiter(Config{Interval: 10 * time.Millisecond}, func(d time.Duration) {
		observed = append(observed, d)
	})
	require.NoError(t, err)

	require.NoError(t, limiter.Acquire(context.Background()))
	require.NoError(t, limiter.Acquire(context.Background()))

	require.Len(t, observed, 2)
	assert.Greater(t, observed[1], time.Duration(0))
}

func TestDistributedLimiter_WithMiniredis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	interval := 30 * time.Millisecond
	cfg := Config{Interval: interval, Backend: BackendRedis, Key: "test:limiter"}

	// two limiters on the same key behave like one
	a, err := New(cfg, client, nil, logging.NewNopLogger())
	require.NoError(t, err)
	b, err := New(cfg, client, nil, logging.NewNopLogger())
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, a.Acquire(context.Background()))
	require.NoError(t, b.Acquire(context.Background()))
	require.NoError(t, a.Acquire(context.Background()))

	assert.GreaterOrEqual(t, time.Since(start), 2*interval-5*time.Millisecond)
	assert.Equal(t, "redis", a.Stats().Backend)
	assert.Equal(t, int64(2), a.Stats().Acquired)
}

type failingReserver struct{ calls int }

func (f *failingReserver) ReserveSlot(context.Context, string, time.Duration) (time.Duration, error) {
	f.calls++
	return 0, errors.New("connection refused")
}

func TestDistributedLimiter_FallsBackToLocal(t *testing.T) {
	reserver := &failingReserver{}
	limiter, err := NewDistributedLimiter(Config{Interval: 10 * time.Millisecond, Backend: BackendRedis, Key: "k"}, reserver, nil, logging.NewNopLogger())
	require.NoError(t, err)

	require.NoError(t, limiter.Acquire(context.Background()))
	require.NoError(t, limiter.Acquire(context.Background()))

	stats := limiter.Stats()
	assert.Equal(t, 2, reserver.calls)
	assert.Equal(t, int64(2), stats.Fallbacks)
	assert.Equal(t, int64(2), stats.Acquired)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Config{Interval: time.Second, Backend: BackendRedis, Key: "k"}, nil, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{Interval: time.Second, Backend: "disk"}, nil, nil, nil)
	assert.Error(t, err)

	l, err := New(Config{Interval: time.Second}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "local", l.Stats().Backend)
}
