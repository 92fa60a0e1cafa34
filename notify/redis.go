package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "stakeout:events"

// DefaultRedisTimeout is the default per-publish timeout.
const DefaultRedisTimeout = 5 * time.Second

// RedisConfig configures the Redis pub/sub notifier. It publishes to
// the same Redis instance that backs the job queues.
type RedisConfig struct {
	// Addr is the host:port of the Redis instance (required).
	Addr string
	// Channel is the pub/sub channel name (default: stakeout:events).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
}

// Redis publishes events via Redis PUBLISH.
type Redis struct {
	config RedisConfig
	client *redis.Client
}

var _ Notifier = (*Redis)(nil)

// NewRedis creates a Redis pub/sub notifier from the given config.
// Returns an error if the address is empty.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis notifier requires an address")
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRedisTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Redis{
		config: cfg,
		client: redis.NewClient(&redis.Options{Addr: cfg.Addr}),
	}, nil
}

// Notify sends the event as a JSON PUBLISH to the configured channel.
// Retries with exponential backoff on failures.
func (r *Redis) Notify(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	var lastErr error
	attempts := 1 + r.config.Retries

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		// Exponential backoff before retries, not before the first
		// attempt.
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
		lastErr = r.client.Publish(publishCtx, r.config.Channel, body).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Close releases notifier resources.
func (r *Redis) Close() error {
	return r.client.Close()
}
