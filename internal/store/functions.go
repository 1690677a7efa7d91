package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oriys/quasar/internal/domain"
	"github.com/oriys/quasar/internal/export"
)

// Export upserts fn. A re-export of the same descriptor hash in a job
// replaces the earlier row.
func (s *PostgresStore) Export(ctx context.Context, fn *domain.ExportedFunction) error {
	if fn.SessionJob.JobID == "" || fn.Descriptor.Hash == "" {
		return fmt.Errorf("job id and descriptor hash are required")
	}
	if fn.ExportedAt.IsZero() {
		fn.ExportedAt = time.Now()
	}

	data, err := json.Marshal(fn)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO exported_functions (job_id, function_id, session_id, qualified_name, language, blob, data, exported_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
		ON CONFLICT (job_id, function_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			qualified_name = EXCLUDED.qualified_name,
			language = EXCLUDED.language,
			blob = EXCLUDED.blob,
			data = EXCLUDED.data,
			exported_at = EXCLUDED.exported_at
	`, fn.SessionJob.JobID, fn.Descriptor.Hash, fn.SessionJob.SessionID, fn.Descriptor.QualifiedName(),
		string(fn.Descriptor.Language), fn.Blob, data, fn.ExportedAt)
	if err != nil {
		return fmt.Errorf("save exported function: %w", err)
	}
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, jobID, functionID string) (*domain.ExportedFunction, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data
		FROM exported_functions
		WHERE job_id = $1 AND function_id = $2
	`, jobID, functionID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", export.ErrNotExported, functionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get exported function: %w", err)
	}

	var fn domain.ExportedFunction
	if err := json.Unmarshal(data, &fn); err != nil {
		return nil, err
	}
	return &fn, nil
}

// List returns the functions exported for jobID ordered by qualified name.
func (s *PostgresStore) List(ctx context.Context, jobID string) ([]*domain.ExportedFunction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data
		FROM exported_functions
		WHERE job_id = $1
		ORDER BY qualified_name, exported_at
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list exported functions: %w", err)
	}
	defer rows.Close()

	var out []*domain.ExportedFunction
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var fn domain.ExportedFunction
		if err := json.Unmarshal(data, &fn); err != nil {
			return nil, err
		}
		out = append(out, &fn)
	}
	return out, rows.Err()
}

// DeleteJob drops every function exported for jobID and returns how many
// rows were removed.
func (s *PostgresStore) DeleteJob(ctx context.Context, jobID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM exported_functions WHERE job_id = $1`, jobID)
	if err != nil {
		return 0, fmt.Errorf("delete exported functions: %w", err)
	}
	return tag.RowsAffected(), nil
}
