// Package redis wraps go-redis for the coordination state that has to be
// shared between auditor processes.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client wraps a go-redis client used for shared rate limiting.
type Client struct {
	rdb    *redis.Client
	config *Config
}

// Config holds the connection settings.
type Config struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// NewClient connects and pings Redis, failing when it is unreachable.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		rdb:    rdb,
		config: config,
	}, nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health pings Redis.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// reserveScript keeps the next free issuance time (unix ms) at KEYS[1].
// It books the earliest slot at or after ARGV[1] and returns how long the
// caller must wait for it.
var reserveScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local nextFree = tonumber(redis.call("GET", KEYS[1]) or "0")
local slot = now
if nextFree > now then
  slot = nextFree
end
redis.call("SET", KEYS[1], slot + interval, "PX", (slot - now) + interval * 2)
return slot - now
`)

// ReserveSlot books the next issuance slot for key so that slots are at
// least interval apart across every client sharing the key. It returns the
// time the caller has to wait before its slot starts.
func (c *Client) ReserveSlot(ctx context.Context, key string, interval time.Duration) (time.Duration, error) {
	if interval <= 0 {
		return 0, nil
	}
	intervalMs := interval.Milliseconds()
	if intervalMs == 0 {
		intervalMs = 1
	}

	res, err := reserveScript.Run(ctx, c.rdb, []string{key}, time.Now().UnixMilli(), intervalMs).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to reserve rate limit slot: %w", err)
	}
	if res < 0 {
		res = 0
	}
	return time.Duration(res) * time.Millisecond, nil
}
