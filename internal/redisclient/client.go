package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and verifies connectivity.
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

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AllowOrder applies the per-user ordering limits: a cooldown between
// consecutive orders and a daily cap. It returns false with a human-readable
// reason when either limit blocks the order. Counters are advisory; the
// ledger and stock invariants never depend on them.
func (c *Client) AllowOrder(ctx context.Context, userID int64, cooldown time.Duration, dailyCap int) (bool, string, error) {
	cooldownKey := fmt.Sprintf("order:cooldown:%d", userID)
	ok, err := c.rdb.SetNX(ctx, cooldownKey, "1", cooldown).Result()
	if err != nil {
		return false, "", fmt.Errorf("order cooldown check: %w", err)
	}
	if !ok {
		return false, "cooldown", nil
	}

	dayKey := fmt.Sprintf("order:daily:%d:%s", userID, time.Now().UTC().Format("20060102"))
	count, err := c.rdb.Incr(ctx, dayKey).Result()
	if err != nil {
		return false, "", fmt.Errorf("daily order count: %w", err)
	}
	if count == 1 {
		c.rdb.Expire(ctx, dayKey, 24*time.Hour)
	}
	if int(count) > dailyCap {
		return false, "daily_limit", nil
	}

	return true, "", nil
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
