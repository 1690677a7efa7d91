// Package cache stores byte values under string keys with optional expiry.
// The export function table is built on it; values are encoded by the caller.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("cache: key not found")

// Cache is a key-value store with TTL support. Implementations are safe for
// concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Scanner is implemented by caches that can enumerate live keys.
type Scanner interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Keys lists the keys of c under prefix, or ErrUnsupported when c cannot
// enumerate.
func Keys(ctx context.Context, c Cache, prefix string) ([]string, error) {
	s, ok := c.(Scanner)
	if !ok {
		return nil, ErrUnsupported
	}
	return s.Keys(ctx, prefix)
}

// ErrUnsupported is returned by Keys for caches without enumeration.
var ErrUnsupported = errors.New("cache: key enumeration not supported")
