// Copyright 2025 James Ross
package jobservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dataextractd/dataextractd/internal/config"
	"github.com/dataextractd/dataextractd/internal/discovery"
	"github.com/dataextractd/dataextractd/internal/extract"
	"github.com/dataextractd/dataextractd/internal/incremental"
	"github.com/dataextractd/dataextractd/internal/obs"
	"github.com/dataextractd/dataextractd/internal/output"
	"github.com/dataextractd/dataextractd/internal/pathing"
	"github.com/dataextractd/dataextractd/internal/persistence"
	"github.com/dataextractd/dataextractd/internal/pipeline"
	"go.uber.org/zap"
)

// Service is the Job Service: the run_process orchestrator.
type Service struct {
	store    *persistence.Store
	registry *extract.Registry
	pipeline *pipeline.Service
	pcfg     config.Pipeline
	dcfg     config.Discovery
	log      *zap.Logger
}

func NewService(store *persistence.Store, registry *extract.Registry, pipelineSvc *pipeline.Service, pcfg config.Pipeline, dcfg config.Discovery, log *zap.Logger) *Service {
	return &Service{store: store, registry: registry, pipeline: pipelineSvc, pcfg: pcfg, dcfg: dcfg, log: log}
}

func validFormat(f output.Format) bool {
	switch f {
	case output.FormatJSON, output.FormatTXT, output.FormatCSV:
		return true
	}
	return false
}

// Run implements run_process(request, work_dir) -> ProcessJobResult.
func (s *Service) Run(ctx context.Context, req ProcessJobRequest, workDir string) (ProcessJobResult, error) {
	if req.Workers == 0 {
		req.Workers = s.pcfg.MaxParallelFiles
	}
	req.Normalize()
	if req.ChunkSize < 1 {
		return ProcessJobResult{}, &ErrConfigurationError{Reason: "chunk_size must be >= 1"}
	}
	if !validFormat(req.OutputFormat) {
		return ProcessJobResult{}, &ErrConfigurationError{Reason: fmt.Sprintf("unsupported output_format %q", req.OutputFormat)}
	}

	requestHash, err := RequestHash(req)
	if err != nil {
		return ProcessJobResult{}, fmt.Errorf("jobservice: hash request: %w", err)
	}

	if req.IdempotencyKey != "" {
		if existing, err := s.store.FindJobByIdempotency(ctx, req.IdempotencyKey, requestHash); err == nil {
			return s.replay(existing)
		} else if !errors.Is(err, persistence.ErrJobNotFound) {
			return ProcessJobResult{}, fmt.Errorf("jobservice: idempotency lookup: %w", err)
		}
	}

	outputDir := req.OutputPath
	if outputDir == "" {
		outputDir = filepath.Join(workDir, "extracted")
	}
	outputDirAbs, err := filepath.Abs(outputDir)
	if err != nil {
		return ProcessJobResult{}, fmt.Errorf("jobservice: resolve output dir: %w", err)
	}

	discoveryResult, discErr := s.resolveFiles(req, outputDirAbs)
	if discErr != nil {
		return ProcessJobResult{}, discErr // NoSupportedFiles: client error, no Job row created
	}

	jobID := req.PresetJobID
	if jobID == "" {
		var err error
		jobID, err = newJobID()
		if err != nil {
			return ProcessJobResult{}, fmt.Errorf("jobservice: generate job id: %w", err)
		}
	}

	requestPayload, err := json.Marshal(req)
	if err != nil {
		return ProcessJobResult{}, fmt.Errorf("jobservice: marshal request: %w", err)
	}

	var idempotencyKeyPtr *string
	if req.IdempotencyKey != "" {
		idempotencyKeyPtr = &req.IdempotencyKey
	}
	hashPtr := &requestHash

	job := &persistence.Job{
		ID:              jobID,
		Status:          persistence.JobQueued,
		InputPath:       req.InputPath,
		OutputDir:       outputDirAbs,
		RequestedFormat: string(req.OutputFormat),
		ChunkSize:       req.ChunkSize,
		RequestPayload:  string(requestPayload),
		IdempotencyKey:  idempotencyKeyPtr,
		RequestHash:     hashPtr,
		Attempt:         req.Attempt,
	}
	if err := s.store.InsertJob(ctx, job); err != nil {
		return ProcessJobResult{}, fmt.Errorf("jobservice: insert job: %w", err)
	}
	_ = s.store.AppendEvent(ctx, jobID, "job_queued", "job queued", "{}")

	for _, f := range discoveryResult.Files {
		norm, err := pathing.Normalize(f)
		if err != nil {
			norm = f
		}
		jf := &persistence.JobFile{JobID: jobID, SourcePath: f, NormalizedSourcePath: norm, Status: persistence.JobFilePending}
		if err := s.store.InsertJobFile(ctx, jf); err != nil {
			return ProcessJobResult{}, fmt.Errorf("jobservice: insert job file: %w", err)
		}
	}

	return s.execute(ctx, jobID, req, discoveryResult, outputDirAbs, workDir)
}

// execute runs discovery's file list through the pipeline for an
// already-persisted Job (status=queued, JobFile rows inserted), and
// persists the terminal outcome. It is the shared tail of Run (a freshly
// submitted request) and Resume (a Job recovered from a prior `queued`
// row at startup).
func (s *Service) execute(ctx context.Context, jobID string, req ProcessJobRequest, discoveryResult discovery.Result, outputDirAbs, workDir string) (ProcessJobResult, error) {
	startedAt := time.Now().UTC()
	if err := s.store.MarkJobStarted(ctx, jobID); err != nil {
		return ProcessJobResult{}, fmt.Errorf("jobservice: mark started: %w", err)
	}
	_ = s.store.AppendEvent(ctx, jobID, "job_started", "job started", "{}")

	filesToProcess := discoveryResult.Files
	var incState *incremental.State
	var configHash string
	var skippedFiles []string
	if req.Incremental {
		configHash = incremental.ConfigHash(string(req.OutputFormat), req.ChunkSize)
		var loadErr error
		incState, loadErr = incremental.Load(workDir)
		if loadErr != nil {
			s.log.Warn("jobservice: load incremental state failed, processing all files", obs.Err(loadErr))
		} else {
			filesToProcess, skippedFiles = incState.Filter(discoveryResult.Files, discoveryResult.SourceRoot, outputDirAbs, configHash, req.Force)
		}
	}
	for _, f := range skippedFiles {
		norm, _ := pathing.Normalize(f)
		_ = s.store.MarkJobFileSkipped(ctx, jobID, norm)
		_ = s.store.AppendEvent(ctx, jobID, "file_skipped", f, "{}")
	}

	opts := pipeline.Options{
		OutputDir:       outputDirAbs,
		Format:          req.OutputFormat,
		ChunkSize:       req.ChunkSize,
		IncludeSemantic: req.IncludeSemantic,
		SourceRoot:      discoveryResult.SourceRoot,
		Workers:         req.Workers,
		ContinueOnError: req.ContinueOnError,
		Profile:         pipeline.ProfileAuto,
	}
	run := s.pipeline.ProcessFiles(ctx, filesToProcess, opts)

	var processedFiles []ProcessedFile
	for _, fr := range run.Processed {
		processedFiles = append(processedFiles, ProcessedFile{
			Path:           fr.SourcePath,
			OutputPath:     fr.OutputPath,
			ChunkCount:     fr.ChunkCount,
			StageTimingsMS: fr.StageTimingsMS,
			SourceKey:      fr.SourceKey,
		})
		norm, _ := pathing.Normalize(fr.SourcePath)
		_ = s.store.MarkJobFileProcessed(ctx, jobID, norm, fr.OutputPath, fr.ChunkCount)
		_ = s.store.AppendEvent(ctx, jobID, "file_completed", fr.SourcePath, "{}")
		obs.JobsCompleted.Inc()
	}
	var failedFiles []FailedFile
	for _, ff := range run.Failed {
		failedFiles = append(failedFiles, FailedFile{Path: ff.SourcePath, ErrorType: ff.ErrorType, ErrorMessage: ff.ErrorMessage})
		norm, _ := pathing.Normalize(ff.SourcePath)
		_ = s.store.MarkJobFileFailed(ctx, jobID, norm, ff.ErrorType, ff.ErrorMessage)
		_ = s.store.AppendEvent(ctx, jobID, "file_failed", ff.SourcePath, ff.ErrorMessage)
		obs.JobsFailed.Inc()
	}

	processedCount := len(run.Processed)
	failedCount := len(run.Failed)
	skippedCount := len(skippedFiles)
	total := len(discoveryResult.Files)

	status := persistence.JobCompleted
	switch {
	case processedCount > 0 && failedCount > 0:
		status = persistence.JobPartial
	case processedCount == 0 && failedCount > 0:
		status = persistence.JobFailed
	}

	if req.Incremental && incState != nil {
		processedOutputs := make(map[string]incremental.ProcessedEntry, len(run.Processed))
		for _, fr := range run.Processed {
			processedOutputs[fr.SourcePath] = incremental.ProcessedEntry{OutputPath: fr.OutputPath}
		}
		incState.Record(discoveryResult.SourceRoot, outputDirAbs, configHash, processedOutputs)
		if err := incState.Save(workDir); err != nil {
			s.log.Warn("jobservice: save incremental state failed", obs.Err(err))
		}
	}

	finishedAt := time.Now().UTC()
	sessionID := "sess-" + jobID

	result := ProcessJobResult{
		JobID:          jobID,
		Status:         string(status),
		TotalFiles:     total,
		ProcessedCount: processedCount,
		FailedCount:    failedCount,
		SkippedCount:   skippedCount,
		OutputDir:      outputDirAbs,
		SessionID:      sessionID,
		ProcessedFiles: processedFiles,
		FailedFiles:    failedFiles,
		StageTotalsMS:  run.StageTotalsMS,
		StartedAt:      startedAt.Format(time.RFC3339Nano),
		FinishedAt:     finishedAt.Format(time.RFC3339Nano),
		ExitCode:       exitCodeFor(processedCount, failedCount),
	}

	resultPayload, err := json.Marshal(result)
	if err != nil {
		return ProcessJobResult{}, fmt.Errorf("jobservice: marshal result: %w", err)
	}
	if err := s.store.FinishJob(ctx, jobID, status, string(resultPayload), &sessionID); err != nil {
		// Left running; the startup recovery pass will abandon it on next start.
		s.log.Error("jobservice: finish job failed, leaving for recovery", obs.String("job_id", jobID), obs.Err(err))
		return result, nil
	}
	_ = s.store.AppendEvent(ctx, jobID, "job_finished", string(status), "{}")

	if err := s.projectSession(ctx, sessionID, req.InputPath, outputDirAbs, total, processedCount, failedCount, string(status)); err != nil {
		s.log.Warn("jobservice: session projection failed", obs.String("session_id", sessionID), obs.Err(err))
	}
	s.writeSessionSidecar(workDir, sessionID, result)

	return result, nil
}

// Resume re-executes a Job that was found `queued` at startup: its row
// and JobFile rows already exist, only the pipeline run never happened
// before the process restarted. It reuses execute's tail so a resumed
// job produces the same shape of result a fresh submission would.
func (s *Service) Resume(ctx context.Context, job *persistence.Job, workDir string) (ProcessJobResult, error) {
	var req ProcessJobRequest
	if err := json.Unmarshal([]byte(job.RequestPayload), &req); err != nil {
		return ProcessJobResult{}, fmt.Errorf("jobservice: unmarshal resumed request: %w", err)
	}
	if req.Workers == 0 {
		req.Workers = s.pcfg.MaxParallelFiles
	}
	req.Normalize()

	discoveryResult, discErr := s.resolveFiles(req, job.OutputDir)
	if discErr != nil {
		return ProcessJobResult{}, discErr
	}
	return s.execute(ctx, job.ID, req, discoveryResult, job.OutputDir, workDir)
}

func exitCodeFor(processed, failed int) int {
	switch {
	case failed == 0:
		return ExitSuccess
	case processed == 0:
		return ExitFailure
	default:
		return ExitPartial
	}
}

// resolveFiles applies req.SourceFiles as a discovery override (used by
// the Retry Service) or falls back to File Discovery Service resolution.
func (s *Service) resolveFiles(req ProcessJobRequest, outputDirAbs string) (discovery.Result, error) {
	if len(req.SourceFiles) > 0 {
		var abs []string
		for _, f := range req.SourceFiles {
			p, err := filepath.Abs(f)
			if err != nil {
				return discovery.Result{}, err
			}
			abs = append(abs, p)
		}
		root := filepath.Dir(abs[0])
		return discovery.Result{Files: abs, SourceRoot: root}, nil
	}
	recursive := req.Recursive || s.dcfg.DefaultRecursive
	return discovery.Discover(s.registry, req.InputPath, recursive, outputDirAbs)
}

// replay returns the previously computed ProcessJobResult for an
// idempotent resubmission.
func (s *Service) replay(job *persistence.Job) (ProcessJobResult, error) {
	if job.ResultPayload == "" {
		// non-terminal job re-submitted before it finished: report what we know.
		return ProcessJobResult{
			JobID:      job.ID,
			Status:     string(job.Status),
			OutputDir:  job.OutputDir,
			TotalFiles: 0,
		}, nil
	}
	var result ProcessJobResult
	if err := json.Unmarshal([]byte(job.ResultPayload), &result); err != nil {
		return ProcessJobResult{}, fmt.Errorf("jobservice: unmarshal cached result: %w", err)
	}
	return result, nil
}

func (s *Service) projectSession(ctx context.Context, sessionID, sourceDir, artifactDir string, total, processed, failed int, status string) error {
	ad := artifactDir
	return s.store.UpsertSession(ctx, &persistence.Session{
		SessionID:        sessionID,
		SourceDirectory:  sourceDir,
		Status:           status,
		TotalFiles:       total,
		ProcessedCount:   processed,
		FailedCount:      failed,
		ArtifactDir:      &ad,
		ProjectionSource: "result_payload",
	})
}

// writeSessionSidecar persists the per-session JSON sidecar, best-effort:
// a write failure here does not fail the Job, since the database row is
// the durable source of truth.
func (s *Service) writeSessionSidecar(workDir, sessionID string, result ProcessJobResult) {
	dir := filepath.Join(workDir, ".data-extract-session")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Warn("jobservice: mkdir session sidecar dir failed", obs.Err(err))
		return
	}
	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		s.log.Warn("jobservice: marshal session sidecar failed", obs.Err(err))
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("session-%s.json", sessionID))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		s.log.Warn("jobservice: write session sidecar failed", obs.Err(err))
	}
}
