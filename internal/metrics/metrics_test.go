package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oriys/quasar/internal/domain"
	"github.com/oriys/quasar/internal/export"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSubmit(t *testing.T) {
	InitPrometheus("quasar_test", nil)
	m := New()

	ok := ObserveSubmit(m)(func(context.Context, *domain.SubmissionRequest) ([]domain.ObjectRef, error) {
		return []domain.ObjectRef{{ID: "r"}}, nil
	})
	fail := ObserveSubmit(m)(func(context.Context, *domain.SubmissionRequest) ([]domain.ObjectRef, error) {
		return nil, errors.New("down")
	})
	req := &domain.SubmissionRequest{
		Descriptor: domain.FunctionDescriptor{Language: domain.LanguageGo, Module: "demo", Name: "add"},
		Resources:  map[string]float64{"CPU": 2},
	}

	ok(context.Background(), req)
	ok(context.Background(), req)
	fail(context.Background(), req)

	snap := m.Snapshot()
	if snap.Submissions != 3 || snap.FailedSubmissions != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if fs := snap.Functions["demo.add"]; fs.Submissions != 3 || fs.Failures != 1 {
		t.Fatalf("unexpected function snapshot %+v", fs)
	}

	if got := testutil.ToFloat64(promMetrics.submissionsTotal.WithLabelValues("demo.add", "go", "success")); got != 2 {
		t.Fatalf("success counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(promMetrics.resourceRequested.WithLabelValues("CPU")); got != 4 {
		t.Fatalf("CPU requested = %v, want 4", got)
	}
}

func TestObserveExport(t *testing.T) {
	InitPrometheus("quasar_test", nil)
	m := New()
	boom := errors.New("boom")
	sink := ObserveExport(m, export.SinkFunc(func(context.Context, *domain.ExportedFunction) error { return boom }))

	if err := sink.Export(context.Background(), &domain.ExportedFunction{}); !errors.Is(err, boom) {
		t.Fatalf("expected error to pass through, got %v", err)
	}
	if m.Exports.Load() != 1 || m.FailedExports.Load() != 1 {
		t.Fatalf("exports=%d failed=%d", m.Exports.Load(), m.FailedExports.Load())
	}
	if got := testutil.ToFloat64(promMetrics.exportsTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed exports = %v", got)
	}
}

func TestHandlers(t *testing.T) {
	InitPrometheus("quasar_test", nil)
	SetCircuitBreakerState("daemon:9090", 1)

	rec := httptest.NewRecorder()
	PrometheusHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `quasar_test_circuit_breaker_state{target="daemon:9090"} 1`) {
		t.Fatalf("breaker gauge missing from scrape output")
	}

	m := New()
	m.RecordSubmit("f", 0, true)
	rec = httptest.NewRecorder()
	m.JSONHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/stats", nil))
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil || snap.Submissions != 1 {
		t.Fatalf("stats = %s, %v", rec.Body.String(), err)
	}
}
