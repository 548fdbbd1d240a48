// Copyright 2025 James Ross
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrJobNotFound is returned when a lookup by job id finds no row.
var ErrJobNotFound = errors.New("persistence: job not found")

// InsertJob persists a new Job row with the caller's status; attempt
// defaults to 1 when unset. If id
// already names a `pending_dispatch` placeholder row (Runtime's
// queue-full fallback persisted the request but never got to run it),
// this upserts over it and flips dispatch_state to `dispatched`: the
// placeholder and the job it was standing in for are the same job.
func (s *Store) InsertJob(ctx context.Context, job *Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	// Jobs reach InsertJob by way of JobService.Run, which by construction
	// only runs after a successful hand-off (a direct CLI call, or the
	// Local Job Queue worker that already pulled this job off the
	// channel). dispatch_state therefore starts `dispatched`; only
	// Runtime.EnqueueProcess/EnqueueRetry persist a genuine
	// `pending_dispatch` row, for a request that failed to enqueue at all.
	if job.DispatchState == "" {
		job.DispatchState = DispatchDone
	}
	if job.ArtifactSyncState == "" {
		job.ArtifactSyncState = ArtifactSyncPending
	}
	if job.DispatchPayload == "" {
		job.DispatchPayload = "{}"
	}

	return s.withLockRetry(ctx, "insert_job", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO jobs (
				id, status, input_path, output_dir, requested_format, chunk_size,
				request_payload, result_payload, session_id, request_hash,
				idempotency_key, attempt, artifact_dir,
				dispatch_payload, dispatch_state, dispatch_attempts,
				artifact_sync_state, artifact_sync_attempts,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				input_path = excluded.input_path,
				output_dir = excluded.output_dir,
				requested_format = excluded.requested_format,
				chunk_size = excluded.chunk_size,
				request_payload = excluded.request_payload,
				session_id = excluded.session_id,
				request_hash = excluded.request_hash,
				idempotency_key = excluded.idempotency_key,
				attempt = excluded.attempt,
				artifact_dir = excluded.artifact_dir,
				dispatch_state = ?,
				updated_at = excluded.updated_at
		`,
			job.ID, job.Status, job.InputPath, job.OutputDir, job.RequestedFormat, job.ChunkSize,
			job.RequestPayload, job.ResultPayload, job.SessionID, job.RequestHash,
			job.IdempotencyKey, job.Attempt, job.ArtifactDir,
			job.DispatchPayload, job.DispatchState, job.DispatchAttempts,
			job.ArtifactSyncState, job.ArtifactSyncAttempts,
			job.CreatedAt, job.UpdatedAt,
			DispatchDone,
		)
		return err
	})
}

func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, jobSelectColumns+` WHERE id = ?`, id)
	return scanJob(row)
}

// FindJobByIdempotency looks up a Job by the (idempotency_key,
// request_hash) unique tuple.
func (s *Store) FindJobByIdempotency(ctx context.Context, idempotencyKey, requestHash string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, jobSelectColumns+` WHERE idempotency_key = ? AND request_hash = ?`, idempotencyKey, requestHash)
	return scanJob(row)
}

// FindJobBySessionID returns the Job that produced a given session,
// used by the Retry Service to recover the canonical result_payload
// when no session sidecar file is present.
func (s *Store) FindJobBySessionID(ctx context.Context, sessionID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, jobSelectColumns+` WHERE session_id = ? ORDER BY created_at DESC LIMIT 1`, sessionID)
	return scanJob(row)
}

// ListJobsByStatus returns every Job in the given status, used by
// startup recovery to find abandoned running/queued jobs.
func (s *Store) ListJobsByStatus(ctx context.Context, status JobStatus) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, jobSelectColumns+` WHERE status = ?`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

const jobSelectColumns = `SELECT
	id, status, input_path, output_dir, requested_format, chunk_size,
	request_payload, result_payload, session_id, request_hash, idempotency_key,
	attempt, artifact_dir,
	dispatch_payload, dispatch_state, dispatch_attempts, dispatch_last_error,
	dispatch_last_attempt_at, dispatch_next_attempt_at,
	artifact_sync_state, artifact_sync_attempts, artifact_sync_error,
	artifact_last_synced_at, result_checksum,
	created_at, started_at, finished_at, updated_at
	FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row *sql.Row) (*Job, error) {
	j, err := scanJobScanner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

func scanJobRows(rows *sql.Rows) (*Job, error) {
	return scanJobScanner(rows)
}

func scanJobScanner(r rowScanner) (*Job, error) {
	var j Job
	if err := r.Scan(
		&j.ID, &j.Status, &j.InputPath, &j.OutputDir, &j.RequestedFormat, &j.ChunkSize,
		&j.RequestPayload, &j.ResultPayload, &j.SessionID, &j.RequestHash, &j.IdempotencyKey,
		&j.Attempt, &j.ArtifactDir,
		&j.DispatchPayload, &j.DispatchState, &j.DispatchAttempts, &j.DispatchLastError,
		&j.DispatchLastAttemptAt, &j.DispatchNextAttemptAt,
		&j.ArtifactSyncState, &j.ArtifactSyncAttempts, &j.ArtifactSyncError,
		&j.ArtifactLastSyncedAt, &j.ResultChecksum,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &j, nil
}

// MarkJobStarted transitions a Job to running and stamps started_at.
func (s *Store) MarkJobStarted(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.withLockRetry(ctx, "mark_job_started", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, started_at = ?, updated_at = ? WHERE id = ?`,
			JobRunning, now, now, id)
		return checkRowsAffected(res, err)
	})
}

// FinishJob persists the terminal status, result payload, and
// finished_at.
func (s *Store) FinishJob(ctx context.Context, id string, status JobStatus, resultPayload string, sessionID *string) error {
	now := time.Now().UTC()
	return s.withLockRetry(ctx, "finish_job", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status = ?, result_payload = ?, session_id = COALESCE(?, session_id),
				finished_at = ?, updated_at = ? WHERE id = ?`,
			status, resultPayload, sessionID, now, now, id)
		return checkRowsAffected(res, err)
	})
}

// AbandonRunningJob implements the RecoveryAbandoned transition:
// a Job found `running` at startup becomes `failed`.
func (s *Store) AbandonRunningJob(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.withLockRetry(ctx, "abandon_running_job", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status = ?, finished_at = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			JobFailed, now, now, id, JobRunning)
		return checkRowsAffected(res, err)
	})
}

// UpdateDispatchState advances a Job's dispatch subsystem fields.
func (s *Store) UpdateDispatchState(ctx context.Context, id string, state DispatchState, attempts int, lastErr *string, nextAttemptAt *time.Time) error {
	now := time.Now().UTC()
	return s.withLockRetry(ctx, "update_dispatch_state", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET dispatch_state = ?, dispatch_attempts = ?, dispatch_last_error = ?,
				dispatch_last_attempt_at = ?, dispatch_next_attempt_at = ?, updated_at = ?
			WHERE id = ?`,
			state, attempts, lastErr, now, nextAttemptAt, now, id)
		return checkRowsAffected(res, err)
	})
}

// ListPendingDispatch returns Jobs whose dispatch_next_attempt_at has
// elapsed, ordered for FIFO-ish processing by the dispatcher.
func (s *Store) ListPendingDispatch(ctx context.Context, now time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, jobSelectColumns+`
		WHERE dispatch_state IN (?, ?)
		AND (dispatch_next_attempt_at IS NULL OR dispatch_next_attempt_at <= ?)
		ORDER BY created_at ASC`, DispatchPending, DispatchRetrying, now)
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

// UpdateArtifactSync advances the advisory artifact-sync bookkeeping
// state machine for a job's result checksum.
func (s *Store) UpdateArtifactSync(ctx context.Context, id string, state ArtifactSyncState, checksum *string, syncErr *string) error {
	now := time.Now().UTC()
	return s.withLockRetry(ctx, "update_artifact_sync", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET artifact_sync_state = ?, artifact_sync_attempts = artifact_sync_attempts + 1,
				result_checksum = COALESCE(?, result_checksum), artifact_sync_error = ?,
				artifact_last_synced_at = CASE WHEN ? = ? THEN ? ELSE artifact_last_synced_at END,
				updated_at = ?
			WHERE id = ?`,
			state, checksum, syncErr, state, ArtifactSyncSynced, now, now, id)
		return checkRowsAffected(res, err)
	})
}

func checkRowsAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}
