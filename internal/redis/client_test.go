package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := NewClient(nil)
		assert.Error(t, err)
	})

	t.Run("unreachable server", func(t *testing.T) {
		_, err := NewClient(&Config{Address: "127.0.0.1:1"})
		assert.Error(t, err)
	})

	t.Run("defaults pool size", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		assert.Equal(t, 10, client.config.PoolSize)
	})
}

func TestClient_Health(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.Health(context.Background()))

	mr.Close()
	assert.Error(t, client.Health(context.Background()))
}

func TestClient_ReserveSlot(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	interval := 200 * time.Millisecond

	first, err := client.ReserveSlot(ctx, "limiter", interval)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), first)

	second, err := client.ReserveSlot(ctx, "limiter", interval)
	require.NoError(t, err)
	assert.Greater(t, second, 100*time.Millisecond)
	assert.LessOrEqual(t, second, interval)

	third, err := client.ReserveSlot(ctx, "limiter", interval)
	require.NoError(t, err)
	assert.Greater(t, third, second)

	other, err := client.ReserveSlot(ctx, "other-key", interval)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), other)

	assert.True(t, mr.Exists("limiter"))
}

func TestClient_ReserveSlot_ZeroInterval(t *testing.T) {
	client, _ := setupTestRedis(t)

	wait, err := client.ReserveSlot(context.Background(), "limiter", 0)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), wait)
}
