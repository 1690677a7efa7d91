// Package store persists the export function table.
package store

import (
	"context"

	"github.com/oriys/quasar/internal/domain"
	"github.com/oriys/quasar/internal/export"
)

// FunctionTable records exported functions per job and resolves them by
// descriptor hash. export.CacheTable and PostgresStore implement it.
type FunctionTable interface {
	export.Sink
	Lookup(ctx context.Context, jobID, functionID string) (*domain.ExportedFunction, error)
	List(ctx context.Context, jobID string) ([]*domain.ExportedFunction, error)
}

var (
	_ FunctionTable = (*export.CacheTable)(nil)
	_ FunctionTable = (*PostgresStore)(nil)
)
