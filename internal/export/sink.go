package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oriys/quasar/internal/cache"
	"github.com/oriys/quasar/internal/codec"
	"github.com/oriys/quasar/internal/domain"
)

// Sink receives exported functions.
type Sink interface {
	Export(ctx context.Context, fn *domain.ExportedFunction) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, fn *domain.ExportedFunction) error

func (f SinkFunc) Export(ctx context.Context, fn *domain.ExportedFunction) error { return f(ctx, fn) }

// ErrNotExported is returned by lookups for functions no sink has seen.
var ErrNotExported = errors.New("export: function not exported")

// CacheTable is a function table stored in a cache.Cache, keyed by job and
// descriptor hash so any worker of the job can resolve a descriptor.
type CacheTable struct {
	cache cache.Cache
	codec codec.Codec
	ttl   time.Duration
}

// NewCacheTable creates a function table. A zero ttl keeps entries until the
// cache evicts them.
func NewCacheTable(c cache.Cache, cdc codec.Codec, ttl time.Duration) *CacheTable {
	return &CacheTable{cache: c, codec: cdc, ttl: ttl}
}

// TableKey returns the cache key of an exported function.
func TableKey(jobID, functionID string) string {
	return "fn:" + jobID + ":" + functionID
}

// Export stores fn under its job and descriptor hash.
func (t *CacheTable) Export(ctx context.Context, fn *domain.ExportedFunction) error {
	data, err := t.codec.Marshal(fn)
	if err != nil {
		return fmt.Errorf("encode exported function %s: %w", fn.Descriptor, err)
	}
	key := TableKey(fn.SessionJob.JobID, fn.Descriptor.Hash)
	if err := t.cache.Set(ctx, key, data, t.ttl); err != nil {
		return fmt.Errorf("store exported function %s: %w", key, err)
	}
	return nil
}

// Lookup loads an exported function. The handler is never stored.
func (t *CacheTable) Lookup(ctx context.Context, jobID, functionID string) (*domain.ExportedFunction, error) {
	data, err := t.cache.Get(ctx, TableKey(jobID, functionID))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotExported, functionID)
	}
	if err != nil {
		return nil, err
	}
	var fn domain.ExportedFunction
	if err := t.codec.Unmarshal(data, &fn); err != nil {
		return nil, fmt.Errorf("decode exported function %s: %w", functionID, err)
	}
	return &fn, nil
}

// List returns every function exported for jobID. The cache must support
// key enumeration.
func (t *CacheTable) List(ctx context.Context, jobID string) ([]*domain.ExportedFunction, error) {
	prefix := TableKey(jobID, "")
	keys, err := cache.Keys(ctx, t.cache, prefix)
	if err != nil {
		return nil, fmt.Errorf("list exported functions of job %s: %w", jobID, err)
	}
	out := make([]*domain.ExportedFunction, 0, len(keys))
	for _, key := range keys {
		fn, err := t.Lookup(ctx, jobID, strings.TrimPrefix(key, prefix))
		if errors.Is(err, ErrNotExported) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, fn)
	}
	return out, nil
}

// Fanout delivers every export to all sinks in order. All sinks are tried;
// their errors are joined.
type Fanout []Sink

func (f Fanout) Export(ctx context.Context, fn *domain.ExportedFunction) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Export(ctx, fn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
