package domain

import (
	"context"
	"fmt"
	"time"
)

// Language identifies the runtime a task's function belongs to.
type Language string

const (
	// LanguageGo is the native runtime: functions defined in this process.
	LanguageGo     Language = "go"
	LanguagePython Language = "python"
	LanguageJava   Language = "java"
	LanguageCpp    Language = "cpp"
)

func (l Language) IsValid() bool {
	switch l {
	case LanguageGo, LanguagePython, LanguageJava, LanguageCpp:
		return true
	}
	return false
}

// IsForeign reports whether functions of this language are executed by a
// different runtime than the one submitting them.
func (l Language) IsForeign() bool {
	return l != LanguageGo
}

// Mode is the execution mode of a backend.
type Mode string

const (
	// ModeLocal executes tasks inside the submitting process.
	ModeLocal Mode = "local"
	// ModeCluster hands tasks to a remote scheduler.
	ModeCluster Mode = "cluster"
)

// SessionJob identifies one driver session and job. A task definition is
// exported at most once per SessionJob (best effort).
type SessionJob struct {
	SessionID string `json:"session_id" cbor:"session_id"`
	JobID     string `json:"job_id" cbor:"job_id"`
}

func (sj SessionJob) String() string {
	return sj.SessionID + "/" + sj.JobID
}

// IsZero reports whether no session has been established.
func (sj SessionJob) IsZero() bool {
	return sj.SessionID == "" && sj.JobID == ""
}

// FunctionDescriptor is the backend-facing identity of an exported function.
type FunctionDescriptor struct {
	Language Language `json:"language" cbor:"language"`
	Module   string   `json:"module" cbor:"module"`
	Name     string   `json:"name" cbor:"name"`
	Class    string   `json:"class,omitempty" cbor:"class,omitempty"`
	Hash     string   `json:"hash,omitempty" cbor:"hash,omitempty"`
}

// QualifiedName returns module.name (or module.Class.name).
func (d FunctionDescriptor) QualifiedName() string {
	if d.Class != "" {
		return d.Module + "." + d.Class + "." + d.Name
	}
	if d.Module == "" {
		return d.Name
	}
	return d.Module + "." + d.Name
}

func (d FunctionDescriptor) String() string {
	if d.Hash == "" {
		return fmt.Sprintf("%s:%s", d.Language, d.QualifiedName())
	}
	return fmt.Sprintf("%s:%s@%s", d.Language, d.QualifiedName(), d.Hash)
}

// ObjectRef is a future handle to one return value of a submitted task.
type ObjectRef struct {
	ID     string `json:"id" cbor:"id"`
	TaskID string `json:"task_id" cbor:"task_id"`
	Index  int    `json:"index" cbor:"index"`
}

func (r ObjectRef) String() string {
	return fmt.Sprintf("ObjectRef(%s)", r.ID)
}

// SubmissionRequest is the fully resolved, backend-ready invocation. It is
// built once per invocation and never persisted.
type SubmissionRequest struct {
	TaskID            string             `json:"task_id" cbor:"task_id"`
	DefinitionID      string             `json:"definition_id" cbor:"definition_id"`
	Descriptor        FunctionDescriptor `json:"descriptor" cbor:"descriptor"`
	Args              []any              `json:"args" cbor:"args"`
	Name              string             `json:"name,omitempty" cbor:"name,omitempty"`
	NumReturns        int                `json:"num_returns" cbor:"num_returns"`
	Resources         map[string]float64 `json:"resources" cbor:"resources"`
	MaxRetries        int                `json:"max_retries" cbor:"max_retries"`
	RetryExceptions   bool               `json:"retry_exceptions" cbor:"retry_exceptions"`
	PlacementGroupID  string             `json:"placement_group_id,omitempty" cbor:"placement_group_id,omitempty"`
	BundleIndex       int                `json:"bundle_index" cbor:"bundle_index"`
	CaptureChildTasks bool               `json:"capture_child_tasks" cbor:"capture_child_tasks"`
	DebugMarker       string             `json:"debug_marker,omitempty" cbor:"debug_marker,omitempty"`
	RuntimeEnv        map[string]any     `json:"runtime_env,omitempty" cbor:"runtime_env,omitempty"`
	ExtraEnv          map[string]string  `json:"extra_env,omitempty" cbor:"extra_env,omitempty"`
	SessionJob        SessionJob         `json:"session_job" cbor:"session_job"`
}

// DisplayName returns the explicit task name, falling back to the function.
func (r *SubmissionRequest) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Descriptor.QualifiedName()
}

// Handler executes a native task in-process. Args arrive flattened in
// declared parameter order; the returned slice must have NumReturns entries.
type Handler func(ctx context.Context, args []any) ([]any, error)

// ExportedFunction is what an export sink receives: enough for any backend
// worker in the same job to resolve the descriptor back to code.
type ExportedFunction struct {
	DefinitionID string             `json:"definition_id" cbor:"definition_id"`
	SessionJob   SessionJob         `json:"session_job" cbor:"session_job"`
	Descriptor   FunctionDescriptor `json:"descriptor" cbor:"descriptor"`
	Blob         []byte             `json:"blob" cbor:"blob"`
	MaxCalls     int                `json:"max_calls" cbor:"max_calls"`
	ExportedAt   time.Time          `json:"exported_at" cbor:"exported_at"`

	// Handler is only set for in-process sinks.
	Handler Handler `json:"-" cbor:"-"`
}

// SubmitFunc hands a built request to a backend and returns one handle per
// declared return value.
type SubmitFunc func(ctx context.Context, req *SubmissionRequest) ([]ObjectRef, error)

// SubmitMiddleware wraps a SubmitFunc. Tracing, metrics and request logging
// are provided this way.
type SubmitMiddleware func(next SubmitFunc) SubmitFunc

// Chain composes middleware so the first one is outermost.
func Chain(submit SubmitFunc, mws ...SubmitMiddleware) SubmitFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			submit = mws[i](submit)
		}
	}
	return submit
}
