// Copyright 2025 James Ross
// Package jobservice implements the Job Service: builds a durable Job
// from a ProcessJobRequest, applies idempotency, invokes discovery and
// the pipeline, projects Session rows, and derives the CLI/HTTP exit
// code. Grounded on exactly_once's idempotency/outbox shape,
// reimplemented against the SQLite persistence layer.
package jobservice

import "github.com/dataextractd/dataextractd/internal/output"

// ProcessJobRequest is the field-precise external request shape.
type ProcessJobRequest struct {
	InputPath        string        `json:"input_path"`
	OutputPath       string        `json:"output_path,omitempty"`
	OutputFormat     output.Format `json:"output_format"`
	ChunkSize        int           `json:"chunk_size"`
	Recursive        bool          `json:"recursive"`
	Incremental      bool          `json:"incremental"`
	Force            bool          `json:"force"`
	Resume           bool          `json:"resume"`
	ResumeSession    string        `json:"resume_session,omitempty"`
	Preset           string        `json:"preset,omitempty"`
	NonInteractive   bool          `json:"non_interactive"`
	IncludeSemantic  bool          `json:"include_semantic"`
	ContinueOnError  bool          `json:"continue_on_error"`
	SourceFiles      []string      `json:"source_files,omitempty"`
	IdempotencyKey   string        `json:"idempotency_key,omitempty"`

	// Workers is not part of the external wire shape but is threaded
	// through from config for the pipeline's worker pool size.
	Workers int `json:"-"`
	// Attempt lets the Retry Service bump attempt on reinvocation.
	Attempt int `json:"-"`
	// PresetJobID lets internal/runtime pre-allocate the job id it hands
	// back from EnqueueProcess before the Local Job Queue worker picks
	// the request up, so the returned id matches the persisted row.
	PresetJobID string `json:"-"`
}

// Normalize applies the request's default values. Workers is left alone:
// it is filled in by the caller from config.Pipeline.MaxParallelFiles,
// not defaulted here, so a config-driven worker pool size isn't
// shadowed by a hardcoded 1.
func (r *ProcessJobRequest) Normalize() {
	if r.OutputFormat == "" {
		r.OutputFormat = output.FormatJSON
	}
	if r.ChunkSize == 0 {
		r.ChunkSize = 512
	}
	if r.Attempt == 0 {
		r.Attempt = 1
	}
}

// ProcessedFile is one successful file outcome in a ProcessJobResult.
type ProcessedFile struct {
	Path           string           `json:"path"`
	OutputPath     string           `json:"output_path"`
	ChunkCount     int              `json:"chunk_count"`
	StageTimingsMS map[string]int64 `json:"stage_timings_ms"`
	SourceKey      string           `json:"source_key"`
}

// FailedFile is one failed file outcome in a ProcessJobResult.
type FailedFile struct {
	Path         string `json:"path"`
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	RetryCount   int    `json:"retry_count"`
}

// ProcessJobResult is the field-precise external result shape.
type ProcessJobResult struct {
	JobID          string            `json:"job_id"`
	Status         string            `json:"status"`
	TotalFiles     int               `json:"total_files"`
	ProcessedCount int               `json:"processed_count"`
	FailedCount    int               `json:"failed_count"`
	SkippedCount   int               `json:"skipped_count"`
	OutputDir      string            `json:"output_dir"`
	SessionID      string            `json:"session_id,omitempty"`
	ProcessedFiles []ProcessedFile   `json:"processed_files"`
	FailedFiles    []FailedFile      `json:"failed_files"`
	StageTotalsMS  map[string]int64  `json:"stage_totals_ms"`
	StartedAt      string            `json:"started_at"`
	FinishedAt     string            `json:"finished_at"`
	ExitCode       int               `json:"exit_code"`
}

// Exit codes returned to the CLI/HTTP layer.
const (
	ExitSuccess             = 0
	ExitPartial             = 1
	ExitFailure             = 2
	ExitConfigurationError  = 3
)

// ErrConfigurationError wraps request-validation failures, surfaced to
// the CLI/HTTP layer as exit code 3 without ever reaching the queue.
type ErrConfigurationError struct {
	Reason string
}

func (e *ErrConfigurationError) Error() string { return "configuration error: " + e.Reason }
