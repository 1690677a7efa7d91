package cache

import (
	"context"
	"errors"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestInMemoryCache(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := NewInMemoryCache(WithClock(clock.Now))
	defer c.Close()
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	value := []byte("v1")
	if err := c.Set(ctx, "fn:job:a", value, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value[0] = 'X'
	got, err := c.Get(ctx, "fn:job:a")
	if err != nil || string(got) != "v1" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	got[0] = 'Y'
	if again, _ := c.Get(ctx, "fn:job:a"); string(again) != "v1" {
		t.Fatalf("stored value was mutated: %q", again)
	}

	c.Set(ctx, "fn:job:b", []byte("v2"), 0)
	c.Set(ctx, "fn:other:c", []byte("v3"), 0)

	keys, err := Keys(ctx, c, "fn:job:")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if want := []string{"fn:job:a", "fn:job:b"}; !reflect.DeepEqual(keys, want) {
		t.Fatalf("Keys = %v, want %v", keys, want)
	}

	clock.Advance(2 * time.Minute)
	if ok, _ := c.Exists(ctx, "fn:job:a"); ok {
		t.Fatal("entry should have expired")
	}
	if ok, _ := c.Exists(ctx, "fn:job:b"); !ok {
		t.Fatal("zero ttl entry should not expire")
	}
	c.evictExpired()
	if c.Len() != 2 {
		t.Fatalf("Len after eviction = %d, want 2", c.Len())
	}

	c.Delete(ctx, "fn:job:b")
	c.Delete(ctx, "never-set")
	if ok, _ := c.Exists(ctx, "fn:job:b"); ok {
		t.Fatal("deleted key still exists")
	}

	c.Close()
	c.Close()
	c.Set(ctx, "late", []byte("x"), 0)
	if _, err := c.Get(ctx, "late"); !errors.Is(err, ErrNotFound) {
		t.Fatal("writes after Close should be dropped")
	}
}

type unscannable struct{ Cache }

func TestKeysUnsupported(t *testing.T) {
	c := unscannable{NewInMemoryCache()}
	defer c.Close()
	if _, err := Keys(context.Background(), c, ""); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestTieredCache(t *testing.T) {
	ctx := context.Background()
	l1, l2 := NewInMemoryCache(), NewInMemoryCache()
	tc := NewTieredCache(l1, l2, time.Minute)
	defer tc.Close()

	var announced []string
	tc.OnWrite(func(_ context.Context, key string) error {
		announced = append(announced, key)
		return nil
	})

	if err := tc.Set(ctx, "k1", []byte("v1"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := l1.Get(ctx, "k1"); err != nil {
		t.Fatal("Set should populate L1")
	}

	l2.Set(ctx, "k2", []byte("v2"), 0)
	if got, err := tc.Get(ctx, "k2"); err != nil || string(got) != "v2" {
		t.Fatalf("fallthrough Get = %q, %v", got, err)
	}
	if _, err := l1.Get(ctx, "k2"); err != nil {
		t.Fatal("L2 hit should populate L1")
	}

	if _, err := tc.Get(ctx, "k3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	tc.Delete(ctx, "k1")
	if ok, _ := tc.Exists(ctx, "k1"); ok {
		t.Fatal("deleted key still exists")
	}

	if want := []string{"k1", "k1"}; !reflect.DeepEqual(announced, want) {
		t.Fatalf("announced = %v, want %v", announced, want)
	}

	keys, err := tc.Keys(ctx, "k")
	if err != nil || !reflect.DeepEqual(keys, []string{"k2"}) {
		t.Fatalf("Keys = %v, %v", keys, err)
	}
}

func TestTieredCacheDefaultL1TTL(t *testing.T) {
	tc := NewTieredCache(NewInMemoryCache(), NewInMemoryCache(), 0)
	defer tc.Close()
	if tc.l1TTL != 10*time.Second {
		t.Fatalf("l1TTL = %v, want 10s", tc.l1TTL)
	}
}

func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("QUASAR_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	return addr
}

func TestRedisCache(t *testing.T) {
	addr := redisAddr(t)
	ctx := context.Background()
	prefix := "quasar:test:" + t.Name() + ":"
	c := NewRedisCache(RedisCacheConfig{Addr: addr, KeyPrefix: prefix})
	defer c.Close()

	if err := c.Set(ctx, "fn:a", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	defer c.Delete(ctx, "fn:a")

	if got, err := c.Get(ctx, "fn:a"); err != nil || string(got) != "v" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	keys, err := c.Keys(ctx, "fn:")
	if err != nil || !reflect.DeepEqual(keys, []string{"fn:a"}) {
		t.Fatalf("Keys = %v, %v", keys, err)
	}
	c.Delete(ctx, "fn:a")
	if _, err := c.Get(ctx, "fn:a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInvalidatorEvictsPeerL1(t *testing.T) {
	addr := redisAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shared := NewRedisCache(RedisCacheConfig{Addr: addr, KeyPrefix: "quasar:test:inv:"})
	defer shared.Close()
	channel := "quasar:test:invalidate:" + t.Name()

	peerL1 := NewInMemoryCache()
	peer := NewTieredCache(peerL1, shared, time.Minute)
	iv := NewInvalidator(peerL1, shared.Client(), channel)
	if err := iv.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer iv.Close()

	writer := NewTieredCache(NewInMemoryCache(), shared, time.Minute)
	writer.OnWrite(NewInvalidator(nil, shared.Client(), channel).Publish)

	writer.Set(ctx, "fn:x", []byte("old"), time.Minute)
	defer shared.Delete(ctx, "fn:x")
	if got, _ := peer.Get(ctx, "fn:x"); string(got) != "old" {
		t.Fatalf("peer read %q", got)
	}

	writer.Set(ctx, "fn:x", []byte("new"), time.Minute)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ok, _ := peerL1.Exists(ctx, "fn:x"); !ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got, _ := peer.Get(ctx, "fn:x"); string(got) != "new" {
		t.Fatalf("peer still reads %q after invalidation", got)
	}
}
