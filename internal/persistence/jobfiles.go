// Copyright 2025 James Ross
package persistence

import (
	"context"
	"database/sql"
)

// InsertJobFile persists a pending JobFile row, keyed by
// (job_id, normalized_source_path).
func (s *Store) InsertJobFile(ctx context.Context, jf *JobFile) error {
	return s.withLockRetry(ctx, "insert_job_file", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO job_files (job_id, source_path, normalized_source_path, status, chunk_count, retry_count)
			VALUES (?, ?, ?, ?, ?, ?)`,
			jf.JobID, jf.SourcePath, jf.NormalizedSourcePath, jf.Status, jf.ChunkCount, jf.RetryCount,
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		jf.ID = id
		return nil
	})
}

// MarkJobFileProcessed records a successful per-file outcome.
func (s *Store) MarkJobFileProcessed(ctx context.Context, jobID, normalizedSourcePath, outputPath string, chunkCount int) error {
	return s.withLockRetry(ctx, "mark_job_file_processed", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE job_files SET status = ?, output_path = ?, chunk_count = ?, error_type = NULL, error_message = NULL
			WHERE job_id = ? AND normalized_source_path = ?`,
			JobFileProcessed, outputPath, chunkCount, jobID, normalizedSourcePath,
		)
		return err
	})
}

// MarkJobFileFailed records a per-file failure, incrementing retry_count.
func (s *Store) MarkJobFileFailed(ctx context.Context, jobID, normalizedSourcePath, errType, errMessage string) error {
	return s.withLockRetry(ctx, "mark_job_file_failed", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE job_files SET status = ?, error_type = ?, error_message = ?, retry_count = retry_count + 1
			WHERE job_id = ? AND normalized_source_path = ?`,
			JobFileFailed, errType, errMessage, jobID, normalizedSourcePath,
		)
		return err
	})
}

// MarkJobFileSkipped records a file the incremental filter determined
// was unchanged since its last successful run.
func (s *Store) MarkJobFileSkipped(ctx context.Context, jobID, normalizedSourcePath string) error {
	return s.withLockRetry(ctx, "mark_job_file_skipped", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE job_files SET status = ?
			WHERE job_id = ? AND normalized_source_path = ?`,
			JobFileSkipped, jobID, normalizedSourcePath,
		)
		return err
	})
}

// ListJobFiles returns every JobFile row for a Job.
func (s *Store) ListJobFiles(ctx context.Context, jobID string) ([]*JobFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, source_path, normalized_source_path, status, output_path, chunk_count, retry_count, error_type, error_message
		FROM job_files WHERE job_id = ? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*JobFile
	for rows.Next() {
		jf, err := scanJobFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, jf)
	}
	return out, rows.Err()
}

// ListFailedJobFiles returns the failed JobFile rows for a Job, used
// by the Retry Service to reopen a prior session's failures.
func (s *Store) ListFailedJobFiles(ctx context.Context, jobID string) ([]*JobFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, source_path, normalized_source_path, status, output_path, chunk_count, retry_count, error_type, error_message
		FROM job_files WHERE job_id = ? AND status = ? ORDER BY id ASC`, jobID, JobFileFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*JobFile
	for rows.Next() {
		jf, err := scanJobFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, jf)
	}
	return out, rows.Err()
}

func scanJobFile(rows *sql.Rows) (*JobFile, error) {
	var jf JobFile
	if err := rows.Scan(&jf.ID, &jf.JobID, &jf.SourcePath, &jf.NormalizedSourcePath, &jf.Status,
		&jf.OutputPath, &jf.ChunkCount, &jf.RetryCount, &jf.ErrorType, &jf.ErrorMessage); err != nil {
		return nil, err
	}
	return &jf, nil
}
