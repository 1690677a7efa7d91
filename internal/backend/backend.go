// Package backend executes submitted tasks. Local runs them in-process on
// goroutines; the grpc package provides a client for a remote daemon.
package backend

import (
	"context"
	"errors"

	"github.com/oriys/quasar/internal/domain"
)

var (
	// ErrUnknownObject is returned by Get for refs the backend never issued.
	ErrUnknownObject = errors.New("backend: unknown object")
	// ErrUnknownFunction is returned when a task names a function that was
	// never exported to the backend.
	ErrUnknownFunction = errors.New("backend: function not exported")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("backend: closed")
)

// Backend accepts fully built submission requests.
type Backend interface {
	SubmitTask(ctx context.Context, req *domain.SubmissionRequest) ([]domain.ObjectRef, error)
	Mode() domain.Mode
}

// Getter retrieves the value behind an object ref, blocking until the task
// producing it finishes or ctx is done.
type Getter interface {
	Get(ctx context.Context, ref domain.ObjectRef) (any, error)
}

// Releaser frees results the caller no longer needs.
type Releaser interface {
	Release(ctx context.Context, refs ...domain.ObjectRef) error
	ReleaseJob(ctx context.Context, jobID string) (int, error)
}

// TaskError is a task's application error as seen by the caller of Get.
type TaskError struct {
	Task     string
	Attempts int
	Err      error
}

func (e *TaskError) Error() string {
	return "task " + e.Task + " failed: " + e.Err.Error()
}

func (e *TaskError) Unwrap() error { return e.Err }
