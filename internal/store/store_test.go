package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/quasar/internal/domain"
	"github.com/oriys/quasar/internal/export"
)

func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("QUASAR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("QUASAR_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewPostgresStoreRequiresDSN(t *testing.T) {
	if _, err := NewPostgresStore(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestPostgresStoreFunctionTable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := "job-" + uuid.NewString()
	t.Cleanup(func() { s.DeleteJob(context.Background(), job) })

	fn := &domain.ExportedFunction{
		DefinitionID: "def-1",
		SessionJob:   domain.SessionJob{SessionID: "s1", JobID: job},
		Descriptor:   domain.FunctionDescriptor{Language: domain.LanguageGo, Module: "demo", Name: "add", Hash: "h1"},
		Blob:         []byte{0xa1, 0x01},
		MaxCalls:     2,
	}
	if err := s.Export(ctx, fn); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	got, err := s.Lookup(ctx, job, "h1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.DefinitionID != "def-1" || got.MaxCalls != 2 || string(got.Blob) != string(fn.Blob) {
		t.Fatalf("Lookup() = %+v", got)
	}

	// Re-export under the same hash replaces the row.
	fn.MaxCalls = 5
	if err := s.Export(ctx, fn); err != nil {
		t.Fatalf("re-export failed: %v", err)
	}
	second := *fn
	second.Descriptor.Name, second.Descriptor.Hash = "sub", "h2"
	if err := s.Export(ctx, &second); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	list, err := s.List(ctx, job)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].MaxCalls != 5 || list[1].Descriptor.Name != "sub" {
		t.Fatalf("List() = %+v", list)
	}

	if _, err := s.Lookup(ctx, job, "missing"); !errors.Is(err, export.ErrNotExported) {
		t.Fatalf("expected ErrNotExported, got %v", err)
	}

	n, err := s.DeleteJob(ctx, job)
	if err != nil || n != 2 {
		t.Fatalf("DeleteJob = %d, %v", n, err)
	}
}

func TestPostgresStoreRejectsIncompleteFunction(t *testing.T) {
	s := newTestStore(t)
	err := s.Export(context.Background(), &domain.ExportedFunction{Descriptor: domain.FunctionDescriptor{Hash: "h"}})
	if err == nil {
		t.Fatal("expected error without job id")
	}
}
