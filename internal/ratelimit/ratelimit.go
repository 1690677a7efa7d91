// Package ratelimit throttles task submissions with token buckets, either
// shared through Redis or local to the process.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oriys/quasar/internal/domain"
)

// Backend performs one token bucket check. It reports whether requested
// tokens were granted and how many remain.
type Backend interface {
	CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error)
}

// ErrRateLimited is returned when a submission is refused.
var ErrRateLimited = errors.New("submission rate limit exceeded")

// Scope selects which submissions share a bucket.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeJob      Scope = "job"
	ScopeFunction Scope = "function"
)

// Config describes a submission limit. Rate is tokens per second and Burst
// the bucket size. With Wait set a refused submission polls until a token
// frees up or ctx is done; otherwise it fails immediately.
type Config struct {
	Rate  float64 `json:"rate" yaml:"rate"`
	Burst int     `json:"burst" yaml:"burst"`
	Scope Scope   `json:"scope" yaml:"scope"`
	Wait  bool    `json:"wait" yaml:"wait"`
}

// Enabled reports whether cfg limits anything.
func (c Config) Enabled() bool { return c.Rate > 0 && c.Burst > 0 }

// Key returns the bucket key of req under scope.
func Key(scope Scope, req *domain.SubmissionRequest) string {
	switch scope {
	case ScopeJob:
		return "submit:job:" + req.SessionJob.JobID
	case ScopeFunction:
		return "submit:fn:" + req.SessionJob.JobID + ":" + req.Descriptor.QualifiedName()
	default:
		return "submit:global"
	}
}

const pollInterval = 20 * time.Millisecond

// LimitSubmit returns middleware admitting submissions through b. A disabled
// config returns nil, which domain.Chain skips.
func LimitSubmit(b Backend, cfg Config) domain.SubmitMiddleware {
	if !cfg.Enabled() {
		return nil
	}
	return func(next domain.SubmitFunc) domain.SubmitFunc {
		return func(ctx context.Context, req *domain.SubmissionRequest) ([]domain.ObjectRef, error) {
			key := Key(cfg.Scope, req)
			for {
				allowed, _, err := b.CheckRateLimit(ctx, key, cfg.Burst, cfg.Rate, 1)
				if err != nil {
					return nil, fmt.Errorf("rate limit check: %w", err)
				}
				if allowed {
					return next(ctx, req)
				}
				if !cfg.Wait {
					return nil, fmt.Errorf("%w for %s", ErrRateLimited, key)
				}
				select {
				case <-ctx.Done():
					return nil, fmt.Errorf("%w for %s: %w", ErrRateLimited, key, ctx.Err())
				case <-time.After(pollInterval):
				}
			}
		}
	}
}
