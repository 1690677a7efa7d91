package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryCache is the process-local Cache, used on its own in local mode
// and as L1 of a TieredCache.
type InMemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memEntry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// InMemoryOption configures an InMemoryCache.
type InMemoryOption func(*InMemoryCache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) InMemoryOption {
	return func(c *InMemoryCache) { c.now = now }
}

// NewInMemoryCache creates a cache that sweeps expired entries every 30s
// until closed.
func NewInMemoryCache(opts ...InMemoryOption) *InMemoryCache {
	c := &InMemoryCache{
		entries: make(map[string]memEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweep(30 * time.Second)
	return c
}

func (c *InMemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !e.live(c.now()) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (c *InMemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries != nil {
		c.entries[key] = e
	}
	return nil
}

func (c *InMemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *InMemoryCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	return ok && e.live(c.now()), nil
}

// Keys returns the live keys under prefix, sorted.
func (c *InMemoryCache) Keys(_ context.Context, prefix string) ([]string, error) {
	now := c.now()
	c.mu.RLock()
	var keys []string
	for k, e := range c.entries {
		if strings.HasPrefix(k, prefix) && e.live(now) {
			keys = append(keys, k)
		}
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored entries, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *InMemoryCache) Ping(_ context.Context) error { return nil }

// Close drops all entries and stops the sweeper. Later writes are ignored.
func (c *InMemoryCache) Close() error {
	c.once.Do(func() {
		close(c.stop)
		c.mu.Lock()
		c.entries = nil
		c.mu.Unlock()
	})
	return nil
}

func (c *InMemoryCache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *InMemoryCache) evictExpired() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if !e.live(now) {
			delete(c.entries, k)
		}
	}
}
