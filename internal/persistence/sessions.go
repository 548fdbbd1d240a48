// Copyright 2025 James Ross
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a lookup by session id finds no row.
var ErrSessionNotFound = errors.New("persistence: session not found")

// UpsertSession projects a Session row, tagging projection_source and
// observing last-writer-wins on updated_at.
func (s *Store) UpsertSession(ctx context.Context, sess *Session) error {
	now := time.Now().UTC()
	sess.UpdatedAt = now
	return s.withLockRetry(ctx, "upsert_session", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (
				session_id, source_directory, status, total_files, processed_count, failed_count,
				artifact_dir, is_archived, archived_at, projection_source, projection_error,
				last_reconciled_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				source_directory = excluded.source_directory,
				status = excluded.status,
				total_files = excluded.total_files,
				processed_count = excluded.processed_count,
				failed_count = excluded.failed_count,
				artifact_dir = excluded.artifact_dir,
				projection_source = excluded.projection_source,
				projection_error = excluded.projection_error,
				last_reconciled_at = excluded.last_reconciled_at,
				updated_at = excluded.updated_at
			WHERE excluded.updated_at >= sessions.updated_at`,
			sess.SessionID, sess.SourceDirectory, sess.Status, sess.TotalFiles, sess.ProcessedCount, sess.FailedCount,
			sess.ArtifactDir, boolToInt(sess.IsArchived), sess.ArchivedAt, sess.ProjectionSource, sess.ProjectionError,
			sess.LastReconciledAt, sess.UpdatedAt,
		)
		return err
	})
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, source_directory, status, total_files, processed_count, failed_count,
			artifact_dir, is_archived, archived_at, projection_source, projection_error,
			last_reconciled_at, updated_at
		FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

// ListSessionsMissingProjection returns jobs that carry a session_id
// but have no corresponding Session row, used by startup recovery to
// rehydrate projections from result_payload.
func (s *Store) ListSessionsMissingProjection(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, jobSelectColumns+`
		WHERE session_id IS NOT NULL
		AND session_id NOT IN (SELECT session_id FROM sessions)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		j, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var archived int
	if err := row.Scan(
		&sess.SessionID, &sess.SourceDirectory, &sess.Status, &sess.TotalFiles, &sess.ProcessedCount, &sess.FailedCount,
		&sess.ArtifactDir, &archived, &sess.ArchivedAt, &sess.ProjectionSource, &sess.ProjectionError,
		&sess.LastReconciledAt, &sess.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sess.IsArchived = archived != 0
	return &sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
