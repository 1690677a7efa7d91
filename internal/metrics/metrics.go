// Package metrics records task submission and export metrics, both as
// in-process counters and as Prometheus collectors.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/quasar/internal/domain"
	"github.com/oriys/quasar/internal/export"
)

// Metrics holds in-process counters.
type Metrics struct {
	Submissions       atomic.Int64
	FailedSubmissions atomic.Int64
	Exports           atomic.Int64
	FailedExports     atomic.Int64

	funcMetrics sync.Map // qualified name -> *FunctionMetrics
	startTime   time.Time
}

// FunctionMetrics tracks submissions of one function
type FunctionMetrics struct {
	Submissions atomic.Int64
	Failures    atomic.Int64
	TotalUs     atomic.Int64
}

var global = New()

// New returns an empty metrics set.
func New() *Metrics { return &Metrics{startTime: time.Now()} }

// Global returns the process-wide metrics.
func Global() *Metrics { return global }

func (m *Metrics) function(name string) *FunctionMetrics {
	v, _ := m.funcMetrics.LoadOrStore(name, &FunctionMetrics{})
	return v.(*FunctionMetrics)
}

// RecordSubmit records one submission.
func (m *Metrics) RecordSubmit(function string, d time.Duration, success bool) {
	m.Submissions.Add(1)
	fm := m.function(function)
	fm.Submissions.Add(1)
	fm.TotalUs.Add(d.Microseconds())
	if !success {
		m.FailedSubmissions.Add(1)
		fm.Failures.Add(1)
	}
}

// RecordExport records one export attempt.
func (m *Metrics) RecordExport(success bool) {
	m.Exports.Add(1)
	if !success {
		m.FailedExports.Add(1)
	}
}

// FunctionSnapshot is the JSON view of FunctionMetrics.
type FunctionSnapshot struct {
	Submissions int64   `json:"submissions"`
	Failures    int64   `json:"failures"`
	AvgMs       float64 `json:"avg_ms"`
}

// Snapshot is the JSON view of Metrics.
type Snapshot struct {
	UptimeSeconds     int64                       `json:"uptime_seconds"`
	Submissions       int64                       `json:"submissions"`
	FailedSubmissions int64                       `json:"failed_submissions"`
	Exports           int64                       `json:"exports"`
	FailedExports     int64                       `json:"failed_exports"`
	Functions         map[string]FunctionSnapshot `json:"functions"`
}

// Snapshot returns a consistent-enough copy of the counters.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		UptimeSeconds:     int64(time.Since(m.startTime).Seconds()),
		Submissions:       m.Submissions.Load(),
		FailedSubmissions: m.FailedSubmissions.Load(),
		Exports:           m.Exports.Load(),
		FailedExports:     m.FailedExports.Load(),
		Functions:         make(map[string]FunctionSnapshot),
	}
	m.funcMetrics.Range(func(k, v any) bool {
		fm := v.(*FunctionMetrics)
		fs := FunctionSnapshot{Submissions: fm.Submissions.Load(), Failures: fm.Failures.Load()}
		if fs.Submissions > 0 {
			fs.AvgMs = float64(fm.TotalUs.Load()) / float64(fs.Submissions) / 1000
		}
		s.Functions[k.(string)] = fs
		return true
	})
	return s
}

// JSONHandler serves the snapshot as JSON.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Snapshot())
	})
}

// ObserveSubmit returns middleware recording every submission in m and in
// the Prometheus collectors.
func ObserveSubmit(m *Metrics) domain.SubmitMiddleware {
	return func(next domain.SubmitFunc) domain.SubmitFunc {
		return func(ctx context.Context, req *domain.SubmissionRequest) ([]domain.ObjectRef, error) {
			incInflight()
			start := time.Now()
			refs, err := next(ctx, req)
			d := time.Since(start)
			decInflight()

			name := req.Descriptor.QualifiedName()
			m.RecordSubmit(name, d, err == nil)
			recordPrometheusSubmit(name, string(req.Descriptor.Language), float64(d.Microseconds())/1000, req.Resources, err == nil)
			return refs, err
		}
	}
}

// ObserveExport wraps an export sink, recording every export.
func ObserveExport(m *Metrics, sink export.Sink) export.Sink {
	return export.SinkFunc(func(ctx context.Context, fn *domain.ExportedFunction) error {
		start := time.Now()
		err := sink.Export(ctx, fn)
		m.RecordExport(err == nil)
		recordPrometheusExport(float64(time.Since(start).Microseconds())/1000, err == nil)
		return err
	})
}
