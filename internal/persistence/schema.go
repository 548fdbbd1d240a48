// Copyright 2025 James Ross
package persistence

import "fmt"

// schemaStatements mirrors the three migrations in
// original_source/alembic/versions/* collapsed into one idempotent
// CREATE-IF-NOT-EXISTS pass, since this store has no separate
// migration runner: base tables, then the idempotency/attempt/
// artifact_dir columns, then the dispatch/artifact-sync/projection
// columns.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		input_path TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		requested_format TEXT NOT NULL,
		chunk_size INTEGER NOT NULL,
		request_payload TEXT NOT NULL,
		result_payload TEXT NOT NULL DEFAULT '',
		session_id TEXT,
		request_hash TEXT,
		idempotency_key TEXT,
		attempt INTEGER NOT NULL DEFAULT 1,
		artifact_dir TEXT,
		dispatch_payload TEXT NOT NULL DEFAULT '{}',
		dispatch_state TEXT NOT NULL DEFAULT 'pending_dispatch',
		dispatch_attempts INTEGER NOT NULL DEFAULT 0,
		dispatch_last_error TEXT,
		dispatch_last_attempt_at DATETIME,
		dispatch_next_attempt_at DATETIME,
		artifact_sync_state TEXT NOT NULL DEFAULT 'pending',
		artifact_sync_attempts INTEGER NOT NULL DEFAULT 0,
		artifact_sync_error TEXT,
		artifact_last_synced_at DATETIME,
		result_checksum TEXT,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_jobs_status ON jobs (status)`,
	`CREATE INDEX IF NOT EXISTS ix_jobs_request_hash ON jobs (request_hash)`,
	`CREATE INDEX IF NOT EXISTS ix_jobs_idempotency_key ON jobs (idempotency_key)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ix_jobs_idempotency_hash ON jobs (idempotency_key, request_hash) WHERE idempotency_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS ix_jobs_dispatch_state_next_attempt_at ON jobs (dispatch_state, dispatch_next_attempt_at)`,
	`CREATE INDEX IF NOT EXISTS ix_jobs_artifact_sync_state_updated_at ON jobs (artifact_sync_state, updated_at)`,

	`CREATE TABLE IF NOT EXISTS job_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL REFERENCES jobs(id),
		source_path TEXT NOT NULL,
		normalized_source_path TEXT NOT NULL,
		status TEXT NOT NULL,
		output_path TEXT,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		error_type TEXT,
		error_message TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS ix_job_files_job_id ON job_files (job_id)`,
	`CREATE INDEX IF NOT EXISTS ix_job_files_status ON job_files (status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_job_files_job_norm_path ON job_files (job_id, normalized_source_path)`,

	`CREATE TABLE IF NOT EXISTS job_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL REFERENCES jobs(id),
		event_type TEXT NOT NULL,
		message TEXT NOT NULL,
		payload TEXT NOT NULL,
		event_time DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_job_events_job_id ON job_events (job_id)`,
	`CREATE INDEX IF NOT EXISTS ix_job_events_event_type ON job_events (event_type)`,
	`CREATE INDEX IF NOT EXISTS ix_job_events_event_time ON job_events (event_time)`,
	`CREATE INDEX IF NOT EXISTS ix_job_events_job_id_event_time ON job_events (job_id, event_time)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		source_directory TEXT NOT NULL,
		status TEXT NOT NULL,
		total_files INTEGER NOT NULL,
		processed_count INTEGER NOT NULL,
		failed_count INTEGER NOT NULL,
		artifact_dir TEXT,
		is_archived INTEGER NOT NULL DEFAULT 0,
		archived_at DATETIME,
		projection_source TEXT,
		projection_error TEXT,
		last_reconciled_at DATETIME,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_sessions_status ON sessions (status)`,

	`CREATE TABLE IF NOT EXISTS retry_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL REFERENCES jobs(id),
		source_session_id TEXT,
		status TEXT NOT NULL,
		requested_at DATETIME NOT NULL,
		completed_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS ix_retry_runs_job_id ON retry_runs (job_id)`,
	`CREATE INDEX IF NOT EXISTS ix_retry_runs_status ON retry_runs (status)`,

	`CREATE TABLE IF NOT EXISTS app_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
}

func (s *Store) migrate() error {
	for i, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("persistence: migrate statement %d: %w", i, err)
		}
	}
	return nil
}
