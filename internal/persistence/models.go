// Copyright 2025 James Ross
// Package persistence implements the Jobs/JobFiles/JobEvents/Sessions/
// RetryRuns/AppSettings tables over a single embedded SQLite store,
// schema grounded in original_source/alembic/versions/*.
package persistence

import "time"

// JobStatus is the Job lifecycle state.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobPartial   JobStatus = "partial"
	JobFailed    JobStatus = "failed"
)

// DispatchState tracks the at-least-once delivery state machine
// a Job moves through between being queued and handed to a worker.
type DispatchState string

const (
	DispatchPending   DispatchState = "pending_dispatch"
	DispatchDone      DispatchState = "dispatched"
	DispatchRetrying  DispatchState = "retrying"
	DispatchFailed    DispatchState = "failed_dispatch"
)

// ArtifactSyncState tracks the advisory result-checksum bookkeeping
// for a job's output artifact.
type ArtifactSyncState string

const (
	ArtifactSyncPending ArtifactSyncState = "pending"
	ArtifactSyncSynced  ArtifactSyncState = "synced"
	ArtifactSyncError   ArtifactSyncState = "error"
)

// Job is a single processing request's durable record.
type Job struct {
	ID              string
	Status          JobStatus
	InputPath       string
	OutputDir       string
	RequestedFormat string
	ChunkSize       int
	RequestPayload  string
	ResultPayload   string
	SessionID       *string
	RequestHash     *string
	IdempotencyKey  *string
	Attempt         int
	ArtifactDir     *string

	DispatchPayload       string
	DispatchState         DispatchState
	DispatchAttempts      int
	DispatchLastError     *string
	DispatchLastAttemptAt *time.Time
	DispatchNextAttemptAt *time.Time

	ArtifactSyncState    ArtifactSyncState
	ArtifactSyncAttempts int
	ArtifactSyncError    *string
	ArtifactLastSyncedAt *time.Time
	ResultChecksum       *string

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	UpdatedAt  time.Time
}

// JobFileStatus is JobFile's per-file state.
type JobFileStatus string

const (
	JobFilePending   JobFileStatus = "pending"
	JobFileProcessed JobFileStatus = "processed"
	JobFileFailed    JobFileStatus = "failed"
	JobFileSkipped   JobFileStatus = "skipped"
)

// JobFile is one row per source file considered for a Job.
type JobFile struct {
	ID                    int64
	JobID                 string
	SourcePath            string
	NormalizedSourcePath  string
	Status                JobFileStatus
	OutputPath            *string
	ChunkCount            int
	RetryCount            int
	ErrorType             *string
	ErrorMessage          *string
}

// JobEvent is an append-only progress log entry.
type JobEvent struct {
	ID        int64
	JobID     string
	EventType string
	Message   string
	Payload   string
	EventTime time.Time
}

// Session is a cross-Job projection of a logical batch over one
// source tree.
type Session struct {
	SessionID          string
	SourceDirectory    string
	Status             string
	TotalFiles         int
	ProcessedCount     int
	FailedCount        int
	ArtifactDir        *string
	IsArchived         bool
	ArchivedAt         *time.Time
	ProjectionSource   string
	ProjectionError    *string
	LastReconciledAt   *time.Time
	UpdatedAt          time.Time
}

// RetryRun is an audit row for retry invocations.
type RetryRun struct {
	ID              int64
	JobID           string
	SourceSessionID *string
	Status          string
	RequestedAt     time.Time
	CompletedAt     *time.Time
}

// AppSetting is a key/value row with a timestamp.
type AppSetting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
