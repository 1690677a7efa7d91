package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/quasar/internal/logging"
)

// FallbackBackend uses primary until it fails, then local buckets. While
// degraded it probes primary at most every probeInterval and switches back
// once a probe succeeds.
type FallbackBackend struct {
	primary   Backend
	local     *LocalBackend
	degraded  atomic.Bool
	probeMu   sync.Mutex
	lastProbe atomic.Int64 // unix nanos
}

const probeInterval = 5 * time.Second

func NewFallbackBackend(primary Backend) *FallbackBackend {
	return &FallbackBackend{primary: primary, local: NewLocalBackend()}
}

func (f *FallbackBackend) CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error) {
	if f.degraded.Load() {
		if time.Since(time.Unix(0, f.lastProbe.Load())) > probeInterval {
			f.probe(ctx)
		}
		if f.degraded.Load() {
			return f.local.CheckRateLimit(ctx, key, maxTokens, refillRate, requested)
		}
	}

	allowed, remaining, err := f.primary.CheckRateLimit(ctx, key, maxTokens, refillRate, requested)
	if err != nil {
		logging.Op().Warn("rate limit backend failed, using local buckets", "error", err)
		f.degraded.Store(true)
		f.lastProbe.Store(time.Now().UnixNano())
		return f.local.CheckRateLimit(ctx, key, maxTokens, refillRate, requested)
	}
	return allowed, remaining, nil
}

func (f *FallbackBackend) probe(ctx context.Context) {
	if !f.probeMu.TryLock() {
		return
	}
	defer f.probeMu.Unlock()

	f.lastProbe.Store(time.Now().UnixNano())
	if _, _, err := f.primary.CheckRateLimit(ctx, "probe:health", 1000, 1000, 0); err == nil {
		logging.Op().Info("rate limit backend recovered")
		f.degraded.Store(false)
	}
}

// Degraded reports whether local buckets are in use.
func (f *FallbackBackend) Degraded() bool { return f.degraded.Load() }
