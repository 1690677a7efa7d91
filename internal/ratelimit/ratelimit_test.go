package ratelimit

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/quasar/internal/domain"
	"github.com/redis/go-redis/v9"
)

func request(job, name string) *domain.SubmissionRequest {
	return &domain.SubmissionRequest{
		SessionJob: domain.SessionJob{SessionID: "s", JobID: job},
		Descriptor: domain.FunctionDescriptor{Language: domain.LanguageGo, Module: "demo", Name: name},
	}
}

func TestLocalBackendRefill(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewLocalBackend()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _, _ := l.CheckRateLimit(ctx, "k", 2, 1, 1); !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if ok, _, _ := l.CheckRateLimit(ctx, "k", 2, 1, 1); ok {
		t.Fatal("bucket should be empty")
	}
	now = now.Add(time.Second)
	if ok, remaining, _ := l.CheckRateLimit(ctx, "k", 2, 1, 1); !ok || remaining != 0 {
		t.Fatalf("one token should have refilled, ok=%v remaining=%d", ok, remaining)
	}
}

func TestKey(t *testing.T) {
	req := request("j1", "add")
	tests := []struct {
		scope Scope
		want  string
	}{
		{ScopeGlobal, "submit:global"},
		{"", "submit:global"},
		{ScopeJob, "submit:job:j1"},
		{ScopeFunction, "submit:fn:j1:demo.add"},
	}
	for _, tt := range tests {
		t.Run(string(tt.scope), func(t *testing.T) {
			if got := Key(tt.scope, req); got != tt.want {
				t.Fatalf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLimitSubmit(t *testing.T) {
	if LimitSubmit(NewLocalBackend(), Config{}) != nil {
		t.Fatal("disabled config should yield no middleware")
	}

	var submitted atomic.Int32
	next := func(context.Context, *domain.SubmissionRequest) ([]domain.ObjectRef, error) {
		submitted.Add(1)
		return []domain.ObjectRef{{ID: "r"}}, nil
	}
	submit := domain.Chain(next, LimitSubmit(NewLocalBackend(), Config{Rate: 0.001, Burst: 2, Scope: ScopeFunction}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := submit(ctx, request("j", "add")); err != nil {
			t.Fatalf("submission %d refused: %v", i, err)
		}
	}
	if _, err := submit(ctx, request("j", "add")); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if _, err := submit(ctx, request("j", "sub")); err != nil {
		t.Fatalf("other function has its own bucket: %v", err)
	}
	if n := submitted.Load(); n != 3 {
		t.Fatalf("submitted %d, want 3", n)
	}
}

func TestLimitSubmitWaitHonorsContext(t *testing.T) {
	next := func(context.Context, *domain.SubmissionRequest) ([]domain.ObjectRef, error) { return nil, nil }
	submit := domain.Chain(next, LimitSubmit(NewLocalBackend(), Config{Rate: 0.001, Burst: 1, Wait: true}))

	if _, err := submit(context.Background(), request("j", "add")); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := submit(ctx, request("j", "add"))
	if !errors.Is(err, ErrRateLimited) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected rate limit and deadline errors, got %v", err)
	}
}

type failingBackend struct{ fail atomic.Bool }

func (f *failingBackend) CheckRateLimit(context.Context, string, int, float64, int) (bool, int, error) {
	if f.fail.Load() {
		return false, 0, errors.New("redis down")
	}
	return true, 100, nil
}

func TestFallbackBackend(t *testing.T) {
	primary := &failingBackend{}
	primary.fail.Store(true)
	fb := NewFallbackBackend(primary)
	ctx := context.Background()

	if ok, _, err := fb.CheckRateLimit(ctx, "k", 1, 1, 1); err != nil || !ok {
		t.Fatalf("fallback should answer from local buckets, ok=%v err=%v", ok, err)
	}
	if !fb.Degraded() {
		t.Fatal("backend should be degraded")
	}

	primary.fail.Store(false)
	fb.lastProbe.Store(time.Now().Add(-time.Minute).UnixNano())
	if _, remaining, _ := fb.CheckRateLimit(ctx, "k", 1, 1, 1); remaining != 100 {
		t.Fatalf("expected answer from recovered primary, remaining=%d", remaining)
	}
	if fb.Degraded() {
		t.Fatal("backend should have recovered")
	}
}

func TestRedisBackend(t *testing.T) {
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

	b := NewRedisBackend(client, "quasar:test:rl:")
	key := uuid.NewString()
	defer client.Del(context.Background(), "quasar:test:rl:"+key)

	for i := 0; i < 3; i++ {
		if ok, _, err := b.CheckRateLimit(context.Background(), key, 3, 0.01, 1); err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _, _ := b.CheckRateLimit(context.Background(), key, 3, 0.01, 1); ok {
		t.Fatal("fourth request should be refused")
	}
}
