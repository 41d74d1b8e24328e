// Package cache maps slugs to destination URLs for a bounded time.
//
// The cache is advisory: callers must treat every error, not only ErrMiss, as
// a miss and fall back to the store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MagnunAVF/shortlinks/internal"
)

var ErrMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, slug string) (string, error)
	Set(ctx context.Context, slug, destination string, ttl time.Duration) error
}

const keyPrefix = "url:"

type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, slug string) (string, error) {
	dest, err := r.client.Get(ctx, keyPrefix+slug).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("redis get %q: %w: %w", slug, internal.ErrUnavailable, err)
	}
	return dest, nil
}

func (r *Redis) Set(ctx context.Context, slug, destination string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, keyPrefix+slug, destination, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w: %w", slug, internal.ErrUnavailable, err)
	}
	return nil
}

// Noop never holds anything. It stands in when no Redis is configured.
type Noop struct{}

func (Noop) Get(context.Context, string) (string, error) { return "", ErrMiss }

func (Noop) Set(context.Context, string, string, time.Duration) error { return nil }
