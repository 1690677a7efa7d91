// Package remote turns ordinary Go functions into remotely schedulable task
// definitions and builds the submission requests handed to a backend.
package remote

import (
	"context"
	"fmt"

	"github.com/oriys/quasar/internal/domain"
	"github.com/oriys/quasar/internal/signature"
)

// Kind classifies how a function produces its results.
type Kind string

const (
	KindSync           Kind = "sync"
	KindCoroutine      Kind = "coroutine"
	KindAsyncGenerator Kind = "async-generator"
)

// Function is the callable wrapped by a task definition.
type Function struct {
	Module    string
	Name      string
	Language  domain.Language // empty means native Go
	Kind      Kind            // empty means sync
	Signature signature.Signature

	// Handler runs the function in-process. Required for native functions.
	Handler domain.Handler

	// Captures returns the closure state serialized with the function on
	// every export. Optional.
	Captures func() map[string]any

	// Receiver is the object Handler is bound to, if any. When it implements
	// Interceptor and the definition sets none explicitly, it wraps every
	// invocation.
	Receiver any

	// Descriptor identifies a foreign function to its runtime. When nil it
	// is derived from Language, Module and Name.
	Descriptor *domain.FunctionDescriptor
}

// QualifiedName returns module.name.
func (f *Function) QualifiedName() string {
	if f.Module == "" {
		return f.Name
	}
	return f.Module + "." + f.Name
}

func (f *Function) language() domain.Language {
	if f.Language == "" {
		return domain.LanguageGo
	}
	return f.Language
}

// Invocation runs steps from argument flattening through submission. An
// interceptor may call it with rewritten arguments.
type Invocation func(ctx context.Context, args []any, kwargs map[string]any) (Result, error)

// Interceptor wraps every invocation of a definition.
type Interceptor interface {
	Intercept(ctx context.Context, args []any, kwargs map[string]any, next Invocation) (Result, error)
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(ctx context.Context, args []any, kwargs map[string]any, next Invocation) (Result, error)

func (f InterceptorFunc) Intercept(ctx context.Context, args []any, kwargs map[string]any, next Invocation) (Result, error) {
	return f(ctx, args, kwargs, next)
}

// Result holds the handles of one invocation, shaped by the return count:
// zero returns leave both fields empty, one sets Ref, more set Refs in
// return order.
type Result struct {
	Ref  *domain.ObjectRef
	Refs []domain.ObjectRef
}

// Empty reports whether the task declared no return values.
func (r Result) Empty() bool { return r.Ref == nil && len(r.Refs) == 0 }

// All returns every handle in order.
func (r Result) All() []domain.ObjectRef {
	if r.Ref != nil {
		return []domain.ObjectRef{*r.Ref}
	}
	return append([]domain.ObjectRef(nil), r.Refs...)
}

func shapeResult(refs []domain.ObjectRef, numReturns int) (Result, error) {
	if len(refs) != numReturns {
		return Result{}, fmt.Errorf("backend returned %d object refs for a task with %d return values", len(refs), numReturns)
	}
	switch numReturns {
	case 0:
		return Result{}, nil
	case 1:
		ref := refs[0]
		return Result{Ref: &ref}, nil
	default:
		return Result{Refs: append([]domain.ObjectRef(nil), refs...)}, nil
	}
}
