package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and verifies the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func idempotencyKey(scope, key string) string {
	return fmt.Sprintf("idempotency:checkout:%s:%s", scope, key)
}

// GetOrderID resolves an idempotency key to the order it created.
// ok is false when the key is unknown or expired.
func (c *Client) GetOrderID(ctx context.Context, scope, key string) (uuid.UUID, bool, error) {
	val, err := c.rdb.Get(ctx, idempotencyKey(scope, key)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}

	orderID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("corrupt idempotency entry %q: %w", val, err)
	}
	return orderID, true, nil
}

// RememberOrderID stores the order created for an idempotency key. An
// existing entry is never overwritten.
func (c *Client) RememberOrderID(ctx context.Context, scope, key string, orderID uuid.UUID, ttl time.Duration) error {
	return c.rdb.SetNX(ctx, idempotencyKey(scope, key), orderID.String(), ttl).Err()
}
