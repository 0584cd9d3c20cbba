package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/icdev-platform/dispatch/internal/model"
)

type pipelineRunStore struct {
	pool *pgxpool.Pool
}

func (s *pipelineRunStore) CreateIfIdle(ctx context.Context, run *model.PipelineRun) (bool, error) {
	// Single guarded insert; the partial unique index on active runs is
	// the backstop for two callers racing past the NOT EXISTS check.
	err := s.pool.QueryRow(ctx, `
		INSERT INTO pipeline_runs (id, session_key, run_id, platform, workflow, status, trigger_source)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM pipeline_runs
			WHERE session_key = $2 AND status IN ('running', 'recovering')
		)
		RETURNING created_at`,
		run.ID, run.SessionKey, run.RunID, run.Platform, run.Workflow, run.Status, run.TriggerSource,
	).Scan(&run.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("creating pipeline run: %w", err)
	}
	return true, nil
}

func (s *pipelineRunStore) GetActive(ctx context.Context, sessionKey string) (*model.PipelineRun, error) {
	return s.scanOne(ctx, `
		SELECT id, session_key, run_id, platform, workflow, status, trigger_source, created_at, completed_at
		FROM pipeline_runs
		WHERE session_key = $1 AND status IN ('running', 'recovering')`,
		sessionKey)
}

func (s *pipelineRunStore) GetByRunID(ctx context.Context, runID string) (*model.PipelineRun, error) {
	return s.scanOne(ctx, `
		SELECT id, session_key, run_id, platform, workflow, status, trigger_source, created_at, completed_at
		FROM pipeline_runs
		WHERE run_id = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		runID)
}

func (s *pipelineRunStore) Finish(ctx context.Context, runID string, status model.RunStatus) (string, error) {
	var sessionKey string
	err := s.pool.QueryRow(ctx, `
		UPDATE pipeline_runs
		SET status = $2, completed_at = now()
		WHERE run_id = $1 AND status IN ('running', 'recovering')
		RETURNING session_key`,
		runID, status,
	).Scan(&sessionKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("finishing pipeline run: %w", err)
	}
	return sessionKey, nil
}

func (s *pipelineRunStore) ListBySessionKey(ctx context.Context, sessionKey string, limit int32) ([]model.PipelineRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_key, run_id, platform, workflow, status, trigger_source, created_at, completed_at
		FROM pipeline_runs
		WHERE session_key = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pipeline runs: %w", err)
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *pipelineRunStore) scanOne(ctx context.Context, query string, args ...any) (*model.PipelineRun, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.PipelineRun, error) {
	var run model.PipelineRun
	if err := row.Scan(
		&run.ID, &run.SessionKey, &run.RunID, &run.Platform, &run.Workflow,
		&run.Status, &run.TriggerSource, &run.CreatedAt, &run.CompletedAt,
	); err != nil {
		return nil, err
	}
	return &run, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
