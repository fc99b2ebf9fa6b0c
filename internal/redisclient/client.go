package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/reserve_stock.lua
var reserveStockScript string

//go:embed scripts/restore_stock.lua
var restoreStockScript string

type Client struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	restoreScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
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

	return &Client{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveStockScript),
		restoreScript: redis.NewScript(restoreStockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(variantID int64) string {
	return fmt.Sprintf("stock:%d", variantID)
}

// ReserveStock atomically checks and decrements the cached counter.
// Returns (true, nil) on success, (false, nil) when stock is
// insufficient, and ErrStockUnknown when the counter is not cached.
func (c *Client) ReserveStock(ctx context.Context, variantID int64, quantity int) (bool, error) {
	result, err := c.reserveScript.Run(ctx, c.rdb, []string{stockKey(variantID)}, quantity).Result()
	if err != nil {
		return false, fmt.Errorf("reserve stock script failed: %w", err)
	}

	code, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}

	switch code {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, ErrStockUnknown
	}
}

// ErrStockUnknown means the counter is not cached and the caller must
// fall back to the database
var ErrStockUnknown = fmt.Errorf("stock counter not cached")

// RestoreStock atomically increments the cached counter (compensation)
func (c *Client) RestoreStock(ctx context.Context, variantID int64, quantity int) error {
	_, err := c.restoreScript.Run(ctx, c.rdb, []string{stockKey(variantID)}, quantity).Result()
	if err != nil {
		return fmt.Errorf("restore stock script failed: %w", err)
	}
	return nil
}

// GetStock reads the cached availability counter
func (c *Client) GetStock(ctx context.Context, variantID int64) (int, error) {
	val, err := c.rdb.Get(ctx, stockKey(variantID)).Int()
	if err == redis.Nil {
		return 0, ErrStockUnknown
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// SetStock seeds or overwrites the cached counter
func (c *Client) SetStock(ctx context.Context, variantID int64, available int) error {
	return c.rdb.Set(ctx, stockKey(variantID), available, 0).Err()
}

// SetIdempotencyKey stores a checkout idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), orderID, ttl).Err()
}

// GetIdempotencyKey returns the order id stored under an idempotency
// key, or 0 when the key is absent
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (int64, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}
