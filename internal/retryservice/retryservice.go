// Copyright 2025 James Ross
// Package retryservice implements the Retry Service: reopens a prior
// session's failed files for reprocessing. Grounded on
// original_source/tests/unit/.../test_retry_service.py's sidecar-vs-
// canonical session resolution and relative-path file filter.
package retryservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dataextractd/dataextractd/internal/jobservice"
	"github.com/dataextractd/dataextractd/internal/output"
	"github.com/dataextractd/dataextractd/internal/persistence"
	"go.uber.org/zap"
)

// ErrSessionNotFound is returned when neither a sidecar file nor a
// persisted Job carries the requested session id.
var ErrSessionNotFound = errors.New("retryservice: session not found")

// Request is the field-precise RetryRequest shape.
type Request struct {
	Session        string
	File           string // optional: retry only this file, relative to source_directory
	NonInteractive bool
	IdempotencyKey string
}

// Service implements run_retry(RetryRequest, work_dir) -> ProcessJobResult.
type Service struct {
	store      *persistence.Store
	jobService *jobservice.Service
	log        *zap.Logger
}

func NewService(store *persistence.Store, jobService *jobservice.Service, log *zap.Logger) *Service {
	return &Service{store: store, jobService: jobService, log: log}
}

func (s *Service) Run(ctx context.Context, req Request, workDir string) (jobservice.ProcessJobResult, error) {
	job, result, err := s.locateSession(ctx, req.Session, workDir)
	if err != nil {
		return jobservice.ProcessJobResult{}, err
	}
	sourceDir := s.sourceDirFor(ctx, req.Session, job)

	var sourceFiles []string
	for _, ff := range result.FailedFiles {
		if req.File != "" {
			relAbs, _ := filepath.Abs(filepath.Join(sourceDir, req.File))
			ffAbs, _ := filepath.Abs(ff.Path)
			if relAbs != ffAbs {
				continue
			}
		}
		sourceFiles = append(sourceFiles, ff.Path)
	}
	if len(sourceFiles) == 0 {
		return jobservice.ProcessJobResult{}, fmt.Errorf("retryservice: no matching failed files in session %s", req.Session)
	}

	rr := &persistence.RetryRun{JobID: job.ID, SourceSessionID: &req.Session}
	if err := s.store.InsertRetryRun(ctx, rr); err != nil {
		return jobservice.ProcessJobResult{}, fmt.Errorf("retryservice: record retry run: %w", err)
	}

	jreq := jobservice.ProcessJobRequest{
		InputPath:       sourceDir,
		OutputPath:      result.OutputDir,
		OutputFormat:    output.Format(job.RequestedFormat),
		ChunkSize:       job.ChunkSize,
		ContinueOnError: true,
		SourceFiles:     sourceFiles,
		NonInteractive:  req.NonInteractive,
		IdempotencyKey:  req.IdempotencyKey,
		Attempt:         job.Attempt + 1,
	}

	runResult, runErr := s.jobService.Run(ctx, jreq, workDir)
	status := "completed"
	switch {
	case runErr != nil:
		status = "failed"
	case runResult.FailedCount > 0:
		status = "partial"
	}
	if err := s.store.FinishRetryRun(ctx, rr.ID, status); err != nil {
		s.log.Warn("retryservice: finish retry run failed")
	}
	return runResult, runErr
}

// locateSession resolves the prior Job and its cached ProcessJobResult,
// preferring the in-work-dir sidecar file's result content over the
// canonical Job.result_payload, while always using the Job row for
// attempt/format/session-directory bookkeeping.
func (s *Service) locateSession(ctx context.Context, sessionID, workDir string) (*persistence.Job, jobservice.ProcessJobResult, error) {
	job, err := s.store.FindJobBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, persistence.ErrJobNotFound) {
			return nil, jobservice.ProcessJobResult{}, ErrSessionNotFound
		}
		return nil, jobservice.ProcessJobResult{}, err
	}

	sidecarPath := filepath.Join(workDir, ".data-extract-session", fmt.Sprintf("session-%s.json", sessionID))
	if body, err := os.ReadFile(sidecarPath); err == nil {
		var result jobservice.ProcessJobResult
		if err := json.Unmarshal(body, &result); err == nil {
			return job, result, nil
		}
	}

	var result jobservice.ProcessJobResult
	if err := json.Unmarshal([]byte(job.ResultPayload), &result); err != nil {
		return nil, jobservice.ProcessJobResult{}, fmt.Errorf("retryservice: unmarshal canonical result: %w", err)
	}
	return job, result, nil
}

// sourceDirFor recovers the session's stored source_directory from the
// Session projection row, falling back to the Job's input_path.
func (s *Service) sourceDirFor(ctx context.Context, sessionID string, job *persistence.Job) string {
	if sess, err := s.store.GetSession(ctx, sessionID); err == nil {
		return sess.SourceDirectory
	}
	return job.InputPath
}
