package store

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is a process-local Store. It's the default store for a session and
// is safe for concurrent use.
type Memory struct {
	c   *gocache.Cache
	ttl time.Duration
}

// ensure that Memory implements the Store interface
var _ Store = (*Memory)(nil)

type memoryOptions struct {
	withTTL time.Duration
}

func memoryDefaults() memoryOptions {
	return memoryOptions{
		withTTL: gocache.NoExpiration,
	}
}

func getMemoryOpts(opt ...Option) memoryOptions {
	opts := memoryDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// NewMemory creates an empty Memory store.  Supported options: WithTTL
func NewMemory(opt ...Option) *Memory {
	opts := getMemoryOpts(opt...)
	cleanup := time.Duration(0)
	if opts.withTTL > 0 {
		cleanup = time.Minute
	}
	return &Memory{
		c:   gocache.New(opts.withTTL, cleanup),
		ttl: opts.withTTL,
	}
}

// Get implements Store.Get
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	const op = "Memory.Get"
	v, ok := m.c.Get(key)
	if !ok {
		return "", fmt.Errorf("%s: %q: %w", op, key, ErrNotFound)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: %q is not a string record: %w", op, key, ErrInvalidParameter)
	}
	return s, nil
}

// Set implements Store.Set
func (m *Memory) Set(_ context.Context, key, value string) error {
	const op = "Memory.Set"
	if key == "" {
		return fmt.Errorf("%s: key is empty: %w", op, ErrInvalidParameter)
	}
	m.c.Set(key, value, gocache.DefaultExpiration)
	return nil
}

// Remove implements Store.Remove
func (m *Memory) Remove(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

// Len returns the number of records currently held.
func (m *Memory) Len() int {
	return m.c.ItemCount()
}
