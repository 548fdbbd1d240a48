// Copyright 2025 James Ross
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrRetryRunNotFound is returned when a lookup by id finds no row.
var ErrRetryRunNotFound = errors.New("persistence: retry run not found")

// InsertRetryRun records a new retry invocation, part of the Retry
// Service's audit trail of reprocessing attempts.
func (s *Store) InsertRetryRun(ctx context.Context, rr *RetryRun) error {
	rr.RequestedAt = time.Now().UTC()
	rr.Status = "running"
	return s.withLockRetry(ctx, "insert_retry_run", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO retry_runs (job_id, source_session_id, status, requested_at)
			VALUES (?, ?, ?, ?)`,
			rr.JobID, rr.SourceSessionID, rr.Status, rr.RequestedAt,
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		rr.ID = id
		return nil
	})
}

// FinishRetryRun stamps a RetryRun's terminal status and completed_at.
func (s *Store) FinishRetryRun(ctx context.Context, id int64, status string) error {
	now := time.Now().UTC()
	return s.withLockRetry(ctx, "finish_retry_run", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE retry_runs SET status = ?, completed_at = ? WHERE id = ?`,
			status, now, id)
		return checkRowsAffected(res, err)
	})
}

func (s *Store) GetRetryRun(ctx context.Context, id int64) (*RetryRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, source_session_id, status, requested_at, completed_at
		FROM retry_runs WHERE id = ?`, id)
	var rr RetryRun
	if err := row.Scan(&rr.ID, &rr.JobID, &rr.SourceSessionID, &rr.Status, &rr.RequestedAt, &rr.CompletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRetryRunNotFound
		}
		return nil, err
	}
	return &rr, nil
}

// ListRetryRunsBySession returns prior retry attempts for a session,
// newest first.
func (s *Store) ListRetryRunsBySession(ctx context.Context, sessionID string) ([]*RetryRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, source_session_id, status, requested_at, completed_at
		FROM retry_runs WHERE source_session_id = ? ORDER BY requested_at DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*RetryRun
	for rows.Next() {
		var rr RetryRun
		if err := rows.Scan(&rr.ID, &rr.JobID, &rr.SourceSessionID, &rr.Status, &rr.RequestedAt, &rr.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, &rr)
	}
	return out, rows.Err()
}
