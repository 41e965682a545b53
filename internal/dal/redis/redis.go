package redis

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// Client represents a Redis client.
type Client struct {
	rdb *redis.Client
}

// Redis returns the underlying client.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Close closes the connection pool for graceful shutdown.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// NewClient connects to addr and checks the connection.
func NewClient(ctx context.Context, addr, password string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// MustNewClient creates a Redis client from config. It returns nil when redis.addr is
// unset, which disables the features backed by it.
func MustNewClient() *Client {
	addr := viper.GetString("redis.addr")
	if addr == "" {
		slog.Warn("Redis address not configured, checkout idempotency keys disabled")

		return nil
	}

	client, err := NewClient(context.Background(), addr, os.Getenv("REDIS_PASSWORD"))
	if err != nil {
		panic(err)
	}
	slog.Info("Redis connected", "addr", addr)

	return client
}
