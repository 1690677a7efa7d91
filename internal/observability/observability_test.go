package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oriys/quasar/internal/domain"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc/metadata"
)

func installRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	if err := InitWithExporter(context.Background(), "quasar-test", exp); err != nil {
		t.Fatalf("InitWithExporter failed: %v", err)
	}
	t.Cleanup(func() { Shutdown(context.Background()) })
	return exp
}

func TestTraceSubmit(t *testing.T) {
	exp := installRecorder(t)
	req := &domain.SubmissionRequest{
		TaskID:           "t1",
		Descriptor:       domain.FunctionDescriptor{Language: domain.LanguageGo, Module: "demo", Name: "add"},
		NumReturns:       1,
		PlacementGroupID: "pg",
	}

	var sawTrace string
	submit := TraceSubmit()(func(ctx context.Context, _ *domain.SubmissionRequest) ([]domain.ObjectRef, error) {
		sawTrace = GetTraceID(ctx)
		return []domain.ObjectRef{{ID: "r"}}, nil
	})
	if _, err := submit(context.Background(), req); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "submit demo.add" || spans[0].Status.Code != codes.Ok {
		t.Fatalf("unexpected span %s %v", spans[0].Name, spans[0].Status)
	}
	if sawTrace == "" || sawTrace != spans[0].SpanContext.TraceID().String() {
		t.Fatal("backend should see the submission span in its context")
	}
}

func TestTraceSubmitError(t *testing.T) {
	exp := installRecorder(t)
	boom := errors.New("boom")
	submit := TraceSubmit()(func(context.Context, *domain.SubmissionRequest) ([]domain.ObjectRef, error) {
		return nil, boom
	})
	if _, err := submit(context.Background(), &domain.SubmissionRequest{Descriptor: domain.FunctionDescriptor{Name: "f"}}); !errors.Is(err, boom) {
		t.Fatalf("expected error to pass through, got %v", err)
	}
	if spans := exp.GetSpans(); len(spans) != 1 || spans[0].Status.Code != codes.Error {
		t.Fatalf("expected one errored span, got %+v", spans)
	}
}

func TestPropagationRoundTrip(t *testing.T) {
	installRecorder(t)
	ctx, span := StartSpan(context.Background(), "caller")
	defer span.End()

	out := InjectOutgoing(ctx)
	md, ok := metadata.FromOutgoingContext(out)
	if !ok || len(md.Get("traceparent")) == 0 {
		t.Fatalf("traceparent not injected: %v", md)
	}

	in := ExtractIncoming(metadata.NewIncomingContext(context.Background(), md))
	if GetTraceID(in) != GetTraceID(ctx) {
		t.Fatal("extracted trace should match the caller's")
	}
}

func TestHTTPMiddleware(t *testing.T) {
	exp := installRecorder(t)
	h := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "GET /metrics" || spans[0].Status.Code != codes.Error {
		t.Fatalf("unexpected spans %+v", spans)
	}
}

func TestDisabledIsNoop(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if Enabled() {
		t.Fatal("tracing should be disabled")
	}
	if ctx := InjectOutgoing(context.Background()); ctx != context.Background() {
		if _, ok := metadata.FromOutgoingContext(ctx); ok {
			t.Fatal("disabled tracing should not add metadata")
		}
	}
}
