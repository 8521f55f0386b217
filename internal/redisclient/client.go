package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"storefront/internal/storage"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/reserve_callback.lua
var reserveCallbackScript string

//go:embed scripts/complete_callback.lua
var completeCallbackScript string

// Client implements storage.Storage and storage.Guard on Redis
type Client struct {
	rdb            *redis.Client
	reserveScript  *redis.Script
	completeScript *redis.Script
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

	return newClient(rdb), nil
}

func newClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:            rdb,
		reserveScript:  redis.NewScript(reserveCallbackScript),
		completeScript: redis.NewScript(completeCallbackScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Get implements storage.Storage
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

// Set implements storage.Storage. A zero ttl keeps the key forever.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Remove implements storage.Storage
func (c *Client) Remove(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// Reserve implements storage.Guard. The check and the claim run in one
// script so two concurrent callers cannot both get ReservationNew.
func (c *Client) Reserve(ctx context.Context, key string, ttl time.Duration) (storage.Reservation, error) {
	if ttl <= 0 {
		return storage.Reservation{}, storage.ErrInvalidTTL
	}

	result, err := c.reserveScript.Run(ctx, c.rdb, []string{key}, ttl.Milliseconds()).Result()
	if err != nil {
		return storage.Reservation{}, fmt.Errorf("reserve callback script failed: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return storage.Reservation{}, fmt.Errorf("unexpected script result type")
	}
	state, _ := values[0].(string)
	payload, _ := values[1].(string)

	switch state {
	case "new":
		return storage.Reservation{State: storage.ReservationNew}, nil
	case "pending":
		return storage.Reservation{State: storage.ReservationPending}, nil
	case "completed":
		return storage.Reservation{State: storage.ReservationCompleted, Result: []byte(payload)}, nil
	default:
		return storage.Reservation{}, fmt.Errorf("unexpected reservation state %q", state)
	}
}

// Complete implements storage.Guard
func (c *Client) Complete(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return storage.ErrInvalidTTL
	}

	_, err := c.completeScript.Run(ctx, c.rdb, []string{key}, string(result), ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("complete callback script failed: %w", err)
	}
	return nil
}

// Release implements storage.Guard
func (c *Client) Release(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}
