package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/oriys/quasar/internal/domain"
	"go.opentelemetry.io/otel/trace"
)

// SubmitLog is one task submission.
type SubmitLog struct {
	Timestamp   time.Time          `json:"timestamp"`
	TaskID      string             `json:"task_id"`
	TraceID     string             `json:"trace_id,omitempty"`
	SpanID      string             `json:"span_id,omitempty"`
	Task        string             `json:"task"`
	Function    string             `json:"function"`
	Language    string             `json:"language"`
	Session     string             `json:"session"`
	NumArgs     int                `json:"num_args"`
	NumReturns  int                `json:"num_returns"`
	Resources   map[string]float64 `json:"resources,omitempty"`
	Placement   string             `json:"placement_group,omitempty"`
	BundleIndex int                `json:"bundle_index"`
	MaxRetries  int                `json:"max_retries"`
	DurationMs  int64              `json:"duration_ms"`
	Success     bool               `json:"success"`
	Error       string             `json:"error,omitempty"`
}

// Logger writes submission logs to the console and, optionally, a JSON
// lines file.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	console io.Writer
	file    *os.File
}

var defaultLogger = NewLogger(os.Stdout)

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// NewLogger creates an enabled logger writing human-readable lines to
// console. A nil console disables console output.
func NewLogger(console io.Writer) *Logger {
	return &Logger{enabled: true, console: console}
}

// SetOutput sets the JSON log file
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	if enabled && l.console == nil {
		l.console = os.Stdout
	} else if !enabled {
		l.console = nil
	}
	l.mu.Unlock()
}

// SetEnabled turns submission logging on or off.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
}

// Log writes a submission log entry
func (l *Logger) Log(entry *SubmitLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if l.console != nil {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		pg := ""
		if entry.Placement != "" {
			pg = fmt.Sprintf(" [pg:%s/%d]", entry.Placement, entry.BundleIndex)
		}
		fmt.Fprintf(l.console, "[submit] %s %s %s args=%d returns=%d %dms%s\n",
			status, entry.TaskID, entry.Task, entry.NumArgs, entry.NumReturns, entry.DurationMs, pg)
		if entry.Error != "" {
			fmt.Fprintf(l.console, "[submit]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

// LogSubmit returns middleware writing one SubmitLog per submission to l.
func LogSubmit(l *Logger) domain.SubmitMiddleware {
	return func(next domain.SubmitFunc) domain.SubmitFunc {
		return func(ctx context.Context, req *domain.SubmissionRequest) ([]domain.ObjectRef, error) {
			start := time.Now()
			refs, err := next(ctx, req)

			entry := &SubmitLog{
				TaskID:      req.TaskID,
				Task:        req.DisplayName(),
				Function:    req.Descriptor.String(),
				Language:    string(req.Descriptor.Language),
				Session:     req.SessionJob.String(),
				NumArgs:     len(req.Args),
				NumReturns:  req.NumReturns,
				Resources:   req.Resources,
				Placement:   req.PlacementGroupID,
				BundleIndex: req.BundleIndex,
				MaxRetries:  req.MaxRetries,
				DurationMs:  time.Since(start).Milliseconds(),
				Success:     err == nil,
			}
			if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
				entry.TraceID = sc.TraceID().String()
				entry.SpanID = sc.SpanID().String()
			}
			if err != nil {
				entry.Error = err.Error()
			}
			l.Log(entry)
			return refs, err
		}
	}
}
