package remote

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/oriys/quasar/internal/codec"
	"github.com/oriys/quasar/internal/crosslang"
	"github.com/oriys/quasar/internal/domain"
	"github.com/oriys/quasar/internal/export"
	"github.com/oriys/quasar/internal/placement"
	"github.com/oriys/quasar/internal/runtimeenv"
)

// Backend executes submitted tasks.
type Backend interface {
	SubmitTask(ctx context.Context, req *domain.SubmissionRequest) ([]domain.ObjectRef, error)
	Mode() domain.Mode
}

// ArgFormatter prepares arguments for functions of a foreign runtime.
type ArgFormatter interface {
	FormatArgs(args []any, kwargs map[string]any) ([]any, error)
}

// SubmitFunc and SubmitMiddleware are re-exported for callers composing
// submission chains.
type (
	SubmitFunc       = domain.SubmitFunc
	SubmitMiddleware = domain.SubmitMiddleware
)

// Worker is the execution context every invocation runs against: where
// tasks go, where functions are exported, and which session, job and
// placement group the caller belongs to.
type Worker struct {
	backend   Backend
	sink      export.Sink
	codec     codec.Codec
	formatter ArgFormatter

	currentGroup *placement.Group
	capture      bool
	jobEnv       *runtimeenv.Env
	middleware   []SubmitMiddleware
	submit       SubmitFunc

	connected atomic.Bool

	mu          sync.Mutex
	sessionJob  domain.SessionJob
	debugMarker string
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithSink sets where functions are exported. Defaults to the backend when
// it implements export.Sink.
func WithSink(s export.Sink) WorkerOption {
	return func(w *Worker) { w.sink = s }
}

// WithCodec sets the serializer for exported functions. Defaults to CBOR.
func WithCodec(c codec.Codec) WorkerOption {
	return func(w *Worker) { w.codec = c }
}

// WithFormatter sets the cross-runtime argument formatter.
func WithFormatter(f ArgFormatter) WorkerOption {
	return func(w *Worker) { w.formatter = f }
}

func WithSessionJob(sj domain.SessionJob) WorkerOption {
	return func(w *Worker) { w.sessionJob = sj }
}

// WithCurrentGroup sets the placement group the caller itself runs in.
func WithCurrentGroup(g *placement.Group) WorkerOption {
	return func(w *Worker) { w.currentGroup = g }
}

// WithCaptureDefault sets whether child tasks inherit the caller's group
// when a call does not say.
func WithCaptureDefault(capture bool) WorkerOption {
	return func(w *Worker) { w.capture = capture }
}

// WithJobEnv sets the job-level runtime environment.
func WithJobEnv(env *runtimeenv.Env) WorkerOption {
	return func(w *Worker) { w.jobEnv = env.Clone() }
}

// WithMiddleware appends submit middleware. The first is outermost.
func WithMiddleware(mws ...SubmitMiddleware) WorkerOption {
	return func(w *Worker) { w.middleware = append(w.middleware, mws...) }
}

// NewWorker creates a connected worker for b.
func NewWorker(b Backend, opts ...WorkerOption) *Worker {
	w := &Worker{backend: b}
	if s, ok := b.(export.Sink); ok {
		w.sink = s
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.codec == nil {
		w.codec = codec.MustCBOR()
	}
	if w.formatter == nil {
		w.formatter = crosslang.NewProtoFormatter()
	}
	w.buildChain()
	w.connected.Store(b != nil)
	return w
}

func (w *Worker) buildChain() {
	w.submit = domain.Chain(func(ctx context.Context, req *domain.SubmissionRequest) ([]domain.ObjectRef, error) {
		return w.backend.SubmitTask(ctx, req)
	}, w.middleware...)
}

// Derive returns a worker sharing this one's backend, sink and session but
// with opts applied on top, e.g. the context a task runs in.
func (w *Worker) Derive(opts ...WorkerOption) *Worker {
	d := &Worker{
		backend:      w.backend,
		sink:         w.sink,
		codec:        w.codec,
		formatter:    w.formatter,
		currentGroup: w.currentGroup,
		capture:      w.capture,
		jobEnv:       w.jobEnv,
		middleware:   append([]SubmitMiddleware(nil), w.middleware...),
		sessionJob:   w.SessionJob(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.buildChain()
	d.connected.Store(w.IsConnected())
	return d
}

// IsConnected reports whether the worker may submit tasks.
func (w *Worker) IsConnected() bool { return w != nil && w.connected.Load() }

// Disconnect stops further submissions.
func (w *Worker) Disconnect() { w.connected.Store(false) }

// Connect re-enables submissions. It fails without a backend.
func (w *Worker) Connect() error {
	if w.backend == nil {
		return domain.Configurationf("cannot connect a worker without a backend")
	}
	w.connected.Store(true)
	return nil
}

func (w *Worker) Backend() Backend { return w.backend }

// Mode returns the backend's execution mode.
func (w *Worker) Mode() domain.Mode { return w.backend.Mode() }

func (w *Worker) SessionJob() domain.SessionJob {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionJob
}

// StartSession switches to a new session/job. Definitions re-export on
// their next invocation.
func (w *Worker) StartSession(sj domain.SessionJob) {
	w.mu.Lock()
	w.sessionJob = sj
	w.mu.Unlock()
}

func (w *Worker) CurrentGroup() *placement.Group { return w.currentGroup }

// SetDebugMarker arms a one-shot breakpoint marker attached to the next
// submitted task.
func (w *Worker) SetDebugMarker(marker string) {
	w.mu.Lock()
	w.debugMarker = marker
	w.mu.Unlock()
}

// DebugMarker returns the armed marker, if any.
func (w *Worker) DebugMarker() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.debugMarker
}

// clearDebugMarker disarms marker once a task carried it. A marker armed
// again in the meantime stays.
func (w *Worker) clearDebugMarker(marker string) {
	if marker == "" {
		return
	}
	w.mu.Lock()
	if w.debugMarker == marker {
		w.debugMarker = ""
	}
	w.mu.Unlock()
}
