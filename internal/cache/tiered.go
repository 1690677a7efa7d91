package cache

import (
	"context"
	"time"
)

// TieredCache reads through a local L1 to a shared L2. Writes go to both
// layers; L1 entries live at most l1TTL. When a publisher is attached every
// write and delete is announced so other processes drop their L1 copy.
type TieredCache struct {
	l1      Cache
	l2      Cache
	l1TTL   time.Duration
	publish func(ctx context.Context, key string) error
}

// NewTieredCache creates a two-level cache. l1TTL defaults to 10s.
func NewTieredCache(l1, l2 Cache, l1TTL time.Duration) *TieredCache {
	if l1TTL <= 0 {
		l1TTL = 10 * time.Second
	}
	return &TieredCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

// OnWrite registers a function announcing changed keys, typically
// Invalidator.Publish.
func (t *TieredCache) OnWrite(publish func(ctx context.Context, key string) error) {
	t.publish = publish
}

func (t *TieredCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, err := t.l1.Get(ctx, key); err == nil {
		return val, nil
	}
	val, err := t.l2.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	_ = t.l1.Set(ctx, key, val, t.l1TTL)
	return val, nil
}

func (t *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1TTL := t.l1TTL
	if ttl > 0 && ttl < l1TTL {
		l1TTL = ttl
	}
	_ = t.l1.Set(ctx, key, value, l1TTL)
	if err := t.l2.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return t.announce(ctx, key)
}

func (t *TieredCache) Delete(ctx context.Context, key string) error {
	_ = t.l1.Delete(ctx, key)
	if err := t.l2.Delete(ctx, key); err != nil {
		return err
	}
	return t.announce(ctx, key)
}

func (t *TieredCache) Exists(ctx context.Context, key string) (bool, error) {
	if ok, err := t.l1.Exists(ctx, key); err == nil && ok {
		return true, nil
	}
	return t.l2.Exists(ctx, key)
}

// Keys enumerates L2, which holds every key.
func (t *TieredCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	return Keys(ctx, t.l2, prefix)
}

func (t *TieredCache) Ping(ctx context.Context) error {
	if err := t.l1.Ping(ctx); err != nil {
		return err
	}
	return t.l2.Ping(ctx)
}

func (t *TieredCache) Close() error {
	_ = t.l1.Close()
	return t.l2.Close()
}

func (t *TieredCache) announce(ctx context.Context, key string) error {
	if t.publish == nil {
		return nil
	}
	return t.publish(ctx, key)
}
