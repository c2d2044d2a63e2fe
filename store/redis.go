package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a redis server, allowing several processes to
// share one session.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// ensure that Redis implements the Store interface
var _ Store = (*Redis)(nil)

type redisOptions struct {
	withPrefix   string
	withDB       int
	withPassword string
	withTTL      time.Duration
}

func redisDefaults() redisOptions {
	return redisOptions{
		withPrefix: "nylas:sessions:",
	}
}

func getRedisOpts(opt ...Option) redisOptions {
	opts := redisDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// NewRedis creates a Redis store for the server at addr.  No connection is
// made until the first operation.
//
// Supported options: WithPrefix, WithDB, WithPassword, WithTTL
func NewRedis(addr string, opt ...Option) (*Redis, error) {
	const op = "store.NewRedis"
	if addr == "" {
		return nil, fmt.Errorf("%s: address is empty: %w", op, ErrInvalidParameter)
	}
	opts := getRedisOpts(opt...)
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			DB:       opts.withDB,
			Password: opts.withPassword,
		}),
		prefix: opts.withPrefix,
		ttl:    opts.withTTL,
	}, nil
}

// NewRedisFromClient wraps an existing go-redis client.
func NewRedisFromClient(c *redis.Client, opt ...Option) (*Redis, error) {
	const op = "store.NewRedisFromClient"
	if c == nil {
		return nil, fmt.Errorf("%s: client is nil: %w", op, ErrNilParameter)
	}
	opts := getRedisOpts(opt...)
	return &Redis{client: c, prefix: opts.withPrefix, ttl: opts.withTTL}, nil
}

func (r *Redis) key(k string) string { return r.prefix + k }

// Get implements Store.Get
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	const op = "Redis.Get"
	v, err := r.client.Get(ctx, r.key(key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", fmt.Errorf("%s: %q: %w", op, key, ErrNotFound)
	case err != nil:
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// Set implements Store.Set
func (r *Redis) Set(ctx context.Context, key, value string) error {
	const op = "Redis.Set"
	if key == "" {
		return fmt.Errorf("%s: key is empty: %w", op, ErrInvalidParameter)
	}
	if err := r.client.Set(ctx, r.key(key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Remove implements Store.Remove
func (r *Redis) Remove(ctx context.Context, key string) error {
	const op = "Redis.Remove"
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
