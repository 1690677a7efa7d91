package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/quasar/internal/domain"
	"github.com/oriys/quasar/internal/export"
	"github.com/oriys/quasar/internal/logging"
	"github.com/oriys/quasar/internal/resources"
)

// TaskDefinition is a reusable proxy for a function that runs as a task.
// Defaults are fixed at Define; the only mutable state is the export
// watermark and the descriptor computed by the last export.
type TaskDefinition struct {
	id          string
	fn          Function
	defaults    InvocationOptions
	interceptor Interceptor

	exported   export.Record
	descriptor atomic.Pointer[domain.FunctionDescriptor]
}

// Define validates fn and its default options.
func Define(fn Function, opts ...Option) (*TaskDefinition, error) {
	switch fn.Kind {
	case "", KindSync:
	case KindCoroutine, KindAsyncGenerator:
		return nil, domain.Usagef("%s is a %s function; tasks must be synchronous, there is no event loop on the worker", fn.QualifiedName(), fn.Kind)
	default:
		return nil, domain.Validationf("unknown function kind %q", fn.Kind)
	}
	if fn.Name == "" {
		return nil, domain.Usagef("function name is required")
	}
	lang := fn.language()
	if !lang.IsValid() {
		return nil, domain.Validationf("unsupported function language %q", fn.Language)
	}
	if !lang.IsForeign() && fn.Handler == nil {
		return nil, domain.Usagef("native function %s has no handler", fn.QualifiedName())
	}

	defaults := buildOptions(opts)
	if err := resources.ValidateRequest(defaults.Resources); err != nil {
		return nil, err
	}
	if err := validateCounts(defaults); err != nil {
		return nil, err
	}
	if defaults.MaxCalls != nil && *defaults.MaxCalls < 0 {
		return nil, domain.Validationf("max_calls must be non-negative, got %d", *defaults.MaxCalls)
	}

	def := &TaskDefinition{
		id:       uuid.New().String(),
		fn:       fn,
		defaults: defaults,
	}
	def.interceptor = defaults.Interceptor
	if def.interceptor == nil {
		if i, ok := fn.Receiver.(Interceptor); ok {
			def.interceptor = i
		}
	}

	if lang.IsForeign() {
		d := domain.FunctionDescriptor{Language: lang, Module: fn.Module, Name: fn.Name}
		if fn.Descriptor != nil {
			d = *fn.Descriptor
			d.Language = lang
		}
		def.descriptor.Store(&d)
	}
	return def, nil
}

// MustDefine is Define for package-level task tables.
func MustDefine(fn Function, opts ...Option) *TaskDefinition {
	def, err := Define(fn, opts...)
	if err != nil {
		panic(err)
	}
	return def
}

func validateCounts(o InvocationOptions) error {
	if o.NumReturns != nil && *o.NumReturns < 0 {
		return domain.Validationf("num_returns must be non-negative, got %d", *o.NumReturns)
	}
	if o.MaxRetries != nil && *o.MaxRetries < -1 {
		return domain.Validationf("max_retries must be -1 or non-negative, got %d", *o.MaxRetries)
	}
	return nil
}

func (d *TaskDefinition) ID() string { return d.id }

// Name returns the function's qualified name.
func (d *TaskDefinition) Name() string { return d.fn.QualifiedName() }

func (d *TaskDefinition) Function() Function { return d.fn }

func (d *TaskDefinition) Language() domain.Language { return d.fn.language() }

// Defaults returns the definition's default options.
func (d *TaskDefinition) Defaults() InvocationOptions { return d.defaults }

// MaxCalls returns the worker-recycle limit; zero means unlimited.
func (d *TaskDefinition) MaxCalls() int { return intOr(d.defaults.MaxCalls, DefaultMaxCalls) }

// Descriptor returns the descriptor from the last export, or the static one
// of a foreign function.
func (d *TaskDefinition) Descriptor() (domain.FunctionDescriptor, bool) {
	p := d.descriptor.Load()
	if p == nil {
		return domain.FunctionDescriptor{}, false
	}
	return *p, true
}

// ExportedFor returns the session/job the definition was last exported for.
func (d *TaskDefinition) ExportedFor() (domain.SessionJob, bool) { return d.exported.Last() }

// Call always fails: a task definition is not directly callable.
func (d *TaskDefinition) Call(args ...any) error {
	return domain.Usagef("remote functions cannot be called directly; use %s.Invoke instead", d.Name())
}

// Invoke submits the function with its default options.
func (d *TaskDefinition) Invoke(ctx context.Context, w *Worker, args []any, kwargs map[string]any) (Result, error) {
	return InvokeWith(ctx, w, d, InvocationOptions{}, args, kwargs)
}

// Options returns a transient binding of per-call overrides. The overrides
// are validated here, before any invocation.
func (d *TaskDefinition) Options(opts ...Option) (Bound, error) {
	overrides := buildOptions(opts)
	if err := resources.ValidateRequest(overrides.Resources); err != nil {
		return Bound{}, err
	}
	if err := validateCounts(overrides); err != nil {
		return Bound{}, err
	}
	if overrides.MaxCalls != nil {
		return Bound{}, domain.Usagef("max_calls can only be set when defining %s", d.Name())
	}
	if overrides.Interceptor != nil {
		return Bound{}, domain.Usagef("an interceptor can only be set when defining %s", d.Name())
	}
	if overrides.RuntimeEnv != nil && overrides.RuntimeEnv.WorkingDir != "" {
		return Bound{}, domain.Usagef("overriding working_dir for tasks is not supported; set it on the job instead")
	}
	return Bound{def: d, overrides: overrides}, nil
}

// Bound is a task definition paired with per-call overrides.
type Bound struct {
	def       *TaskDefinition
	overrides InvocationOptions
}

// Invoke submits the function with the bound overrides.
func (b Bound) Invoke(ctx context.Context, w *Worker, args []any, kwargs map[string]any) (Result, error) {
	if b.def == nil {
		return Result{}, domain.Usagef("invoke on an unbound task definition")
	}
	return InvokeWith(ctx, w, b.def, b.overrides, args, kwargs)
}

// exportPayload is what gets serialized for every export. Captures are
// re-read each time so state changes between sessions are picked up.
type exportPayload struct {
	DefinitionID string         `cbor:"definition_id"`
	Module       string         `cbor:"module"`
	Name         string         `cbor:"name"`
	Signature    string         `cbor:"signature"`
	Captures     map[string]any `cbor:"captures,omitempty"`
}

// export serializes the function, recomputes its descriptor and hands it to
// the worker's sink.
func (d *TaskDefinition) export(ctx context.Context, w *Worker, sj domain.SessionJob) error {
	payload := exportPayload{
		DefinitionID: d.id,
		Module:       d.fn.Module,
		Name:         d.fn.Name,
		Signature:    d.fn.Signature.String(),
	}
	if d.fn.Captures != nil {
		payload.Captures = d.fn.Captures()
	}
	blob, err := w.codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("serialize function %s: %w", d.Name(), err)
	}

	sum := sha256.New()
	sum.Write([]byte(d.id))
	sum.Write(blob)
	desc := domain.FunctionDescriptor{
		Language: domain.LanguageGo,
		Module:   d.fn.Module,
		Name:     d.fn.Name,
		Hash:     hex.EncodeToString(sum.Sum(nil)),
	}
	d.descriptor.Store(&desc)

	if w.sink == nil {
		return nil
	}
	err = w.sink.Export(ctx, &domain.ExportedFunction{
		DefinitionID: d.id,
		SessionJob:   sj,
		Descriptor:   desc,
		Blob:         blob,
		MaxCalls:     d.MaxCalls(),
		ExportedAt:   time.Now(),
		Handler:      d.fn.Handler,
	})
	if err != nil {
		return fmt.Errorf("export function %s: %w", d.Name(), err)
	}
	logging.Op().Debug("function exported", "function", desc.String(), "session", sj.String())
	return nil
}
