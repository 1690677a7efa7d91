// Package export tracks which session/job a task definition was last
// exported for, and delivers exported functions to sinks.
package export

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/oriys/quasar/internal/domain"
	"golang.org/x/sync/singleflight"
)

// Record is the export watermark of one task definition. The zero value
// means "never exported". Safe for concurrent use: invokers racing on a new
// session share a single export.
type Record struct {
	last   atomic.Pointer[domain.SessionJob]
	flight singleflight.Group
}

// Last returns the session/job of the last successful export.
func (r *Record) Last() (domain.SessionJob, bool) {
	p := r.last.Load()
	if p == nil {
		return domain.SessionJob{}, false
	}
	return *p, true
}

// EnsureExported calls export unless the watermark already equals sj. The
// watermark moves only after export succeeds, so a failed export is retried
// on the next call. Concurrent callers for the same sj share one export but
// each waits on its own ctx: when the shared export fails because the
// caller that ran it was cancelled, a live caller runs it again. Reports
// whether this call ran export.
func (r *Record) EnsureExported(ctx context.Context, sj domain.SessionJob, export func(context.Context) error) (bool, error) {
	key := sj.String()
	for {
		if r.exportedFor(sj) {
			return false, nil
		}
		var ran atomic.Bool
		ch := r.flight.DoChan(key, func() (any, error) {
			if r.exportedFor(sj) {
				return nil, nil
			}
			ran.Store(true)
			if err := export(ctx); err != nil {
				return nil, err
			}
			r.last.Store(&sj)
			return nil, nil
		})

		select {
		case res := <-ch:
			if res.Err != nil && !ran.Load() && isCancellation(res.Err) && ctx.Err() == nil {
				continue
			}
			return ran.Load(), res.Err
		case <-ctx.Done():
			return ran.Load(), ctx.Err()
		}
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (r *Record) exportedFor(sj domain.SessionJob) bool {
	p := r.last.Load()
	return p != nil && *p == sj
}

// Reset forgets the watermark.
func (r *Record) Reset() { r.last.Store(nil) }
