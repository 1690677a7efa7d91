package backend

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/quasar/internal/domain"
	"github.com/oriys/quasar/internal/logging"
)

type future struct {
	jobID      string
	done       chan struct{}
	val        any
	err        error
	resolvedAt time.Time
}

func (f *future) resolve(val any, err error) {
	f.val, f.err = val, err
	f.resolvedAt = time.Now()
	close(f.done)
}

// expired reports whether f resolved before cutoff. It never blocks.
func (f *future) expired(cutoff time.Time) bool {
	select {
	case <-f.done:
		return f.resolvedAt.Before(cutoff)
	default:
		return false
	}
}

type registered struct {
	fn    *domain.ExportedFunction
	calls atomic.Int64
}

// Local runs tasks inside the current process. It is the export sink for
// the functions it runs: Export registers the in-process handler under the
// descriptor hash.
type Local struct {
	mu        sync.RWMutex
	functions map[string]*registered
	objects   map[string]*future

	sem       chan struct{}
	backoff   time.Duration
	objectTTL time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// closing is only set while holding mu, so SubmitTask's wg.Add never
	// races with Close's wg.Wait.
	closing atomic.Bool
}

type LocalOption func(*Local)

// WithConcurrency bounds the number of tasks running at once.
func WithConcurrency(n int) LocalOption {
	return func(l *Local) {
		if n > 0 {
			l.sem = make(chan struct{}, n)
		}
	}
}

// WithRetryBackoff sets the pause between attempts of a failing task.
func WithRetryBackoff(d time.Duration) LocalOption {
	return func(l *Local) { l.backoff = d }
}

// WithObjectTTL drops results that were resolved more than ttl ago and
// never released. Zero keeps them until Release.
func WithObjectTTL(ttl time.Duration) LocalOption {
	return func(l *Local) { l.objectTTL = ttl }
}

// NewLocal creates an in-process backend.
func NewLocal(opts ...LocalOption) *Local {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Local{
		functions: make(map[string]*registered),
		objects:   make(map[string]*future),
		sem:       make(chan struct{}, 64),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.objectTTL > 0 {
		l.wg.Add(1)
		go l.sweepLoop()
	}
	return l
}

func (l *Local) Mode() domain.Mode { return domain.ModeLocal }

// Export registers fn's handler. Re-exporting the same descriptor replaces
// the previous registration.
func (l *Local) Export(_ context.Context, fn *domain.ExportedFunction) error {
	if fn.Handler == nil {
		return fmt.Errorf("local backend cannot run %s: no in-process handler", fn.Descriptor)
	}
	l.mu.Lock()
	l.functions[fn.Descriptor.Hash] = &registered{fn: fn}
	l.mu.Unlock()
	return nil
}

// Functions returns the descriptors of every registered function.
func (l *Local) Functions() []domain.FunctionDescriptor {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.FunctionDescriptor, 0, len(l.functions))
	for _, r := range l.functions {
		out = append(out, r.fn.Descriptor)
	}
	return out
}

// SubmitTask schedules req and returns one ref per declared return value.
func (l *Local) SubmitTask(_ context.Context, req *domain.SubmissionRequest) ([]domain.ObjectRef, error) {
	l.mu.Lock()
	if l.closing.Load() {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	reg, ok := l.functions[req.Descriptor.Hash]
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, req.Descriptor)
	}

	refs := make([]domain.ObjectRef, req.NumReturns)
	futures := make([]*future, req.NumReturns)
	for i := range refs {
		refs[i] = domain.ObjectRef{ID: uuid.New().String(), TaskID: req.TaskID, Index: i}
		futures[i] = &future{jobID: req.SessionJob.JobID, done: make(chan struct{})}
		l.objects[refs[i].ID] = futures[i]
	}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		l.run(req, reg, futures)
	}()
	return refs, nil
}

func (l *Local) run(req *domain.SubmissionRequest, reg *registered, futures []*future) {
	select {
	case l.sem <- struct{}{}:
		defer func() { <-l.sem }()
	case <-l.ctx.Done():
		resolveAll(futures, nil, ErrClosed)
		return
	}

	name := req.DisplayName()
	attempts := 0
	for {
		attempts++
		out, panicked, err := l.call(req, reg)
		if err == nil {
			if len(out) != req.NumReturns {
				err = fmt.Errorf("task %s returned %d values, declared %d", name, len(out), req.NumReturns)
				resolveAll(futures, nil, err)
				return
			}
			for i, f := range futures {
				f.resolve(out[i], nil)
			}
			return
		}

		retryable := panicked || req.RetryExceptions
		if !retryable || !retriesLeft(req.MaxRetries, attempts) || l.closing.Load() {
			resolveAll(futures, nil, &TaskError{Task: name, Attempts: attempts, Err: err})
			return
		}
		logging.Op().Warn("retrying task", "task", name, "attempt", attempts, "error", err)
		if l.backoff > 0 {
			select {
			case <-time.After(l.backoff):
			case <-l.ctx.Done():
				resolveAll(futures, nil, ErrClosed)
				return
			}
		}
	}
}

// call runs the handler once. A panic stands in for a worker crash.
func (l *Local) call(req *domain.SubmissionRequest, reg *registered) (out []any, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("recovered panic in task", "task", req.DisplayName(), "panic", r, "stack", string(debug.Stack()))
			out, panicked, err = nil, true, fmt.Errorf("worker crashed: %v", r)
		}
	}()

	if limit := int64(reg.fn.MaxCalls); limit > 0 {
		if n := reg.calls.Add(1); n > limit {
			reg.calls.Store(1)
			logging.Op().Debug("recycling worker", "function", reg.fn.Descriptor.String(), "max_calls", limit)
		}
	}
	out, err = reg.fn.Handler(l.ctx, req.Args)
	return out, false, err
}

func retriesLeft(maxRetries, attempts int) bool {
	return maxRetries < 0 || attempts <= maxRetries
}

func resolveAll(futures []*future, val any, err error) {
	for _, f := range futures {
		f.resolve(val, err)
	}
}

// Get blocks until ref is ready or ctx is done.
func (l *Local) Get(ctx context.Context, ref domain.ObjectRef) (any, error) {
	l.mu.RLock()
	f, ok := l.objects[ref.ID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, ref.ID)
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release forgets the values behind refs. Unknown refs are ignored.
func (l *Local) Release(_ context.Context, refs ...domain.ObjectRef) error {
	l.mu.Lock()
	for _, ref := range refs {
		delete(l.objects, ref.ID)
	}
	l.mu.Unlock()
	return nil
}

// ReleaseJob forgets every function exported for jobID and every object its
// tasks produced. It returns how many functions were dropped.
func (l *Local) ReleaseJob(_ context.Context, jobID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dropped := 0
	for hash, reg := range l.functions {
		if reg.fn.SessionJob.JobID == jobID {
			delete(l.functions, hash)
			dropped++
		}
	}
	for id, f := range l.objects {
		if f.jobID == jobID {
			delete(l.objects, id)
		}
	}
	return dropped, nil
}

// Objects returns the number of results currently held.
func (l *Local) Objects() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.objects)
}

func (l *Local) sweepLoop() {
	defer l.wg.Done()
	interval := l.objectTTL
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep(time.Now().Add(-l.objectTTL))
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *Local) sweep(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, f := range l.objects {
		if f.expired(cutoff) {
			delete(l.objects, id)
			n++
		}
	}
	if n > 0 {
		logging.Op().Debug("swept expired objects", "count", n)
	}
	return n
}

// Close stops accepting tasks, cancels running ones and waits for them.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closing.Load() {
		l.mu.Unlock()
		return nil
	}
	l.closing.Store(true)
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()
	return nil
}
