// Copyright 2025 James Ross
// Package runtime reifies what would otherwise be module-level
// singletons (queue handle, database session factory, readiness
// report) into one explicit value. Startup constructs a Runtime, runs recovery, and starts the
// Local Job Queue; shutdown tears it down. Grounded on
// internal/reaper/reaper.go's scan-and-requeue shape, retargeted from
// "workers without a heartbeat" to "jobs left `running` across a
// process restart."
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dataextractd/dataextractd/internal/config"
	"github.com/dataextractd/dataextractd/internal/jobservice"
	"github.com/dataextractd/dataextractd/internal/obs"
	"github.com/dataextractd/dataextractd/internal/persistence"
	"github.com/dataextractd/dataextractd/internal/queue"
	"github.com/dataextractd/dataextractd/internal/retryservice"
	"github.com/dataextractd/dataextractd/internal/statusservice"
	"go.uber.org/zap"
)

// RecoveryStats reports what the startup recovery pass did.
type RecoveryStats struct {
	Abandoned           int
	Requeued            int
	SessionsRehydrated  int
}

// ReadinessReport is the module-level "readiness" singleton reified as
// a field on Runtime instead of a package global.
type ReadinessReport struct {
	mu    sync.RWMutex
	ready bool
	err   error
}

func (r *ReadinessReport) Set(ready bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready, r.err = ready, err
}

func (r *ReadinessReport) Check(context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.ready {
		if r.err != nil {
			return r.err
		}
		return fmt.Errorf("runtime: not ready")
	}
	return nil
}

// Runtime owns the Local Job Queue, the persistence handles, and the
// three services fronting them (Job, Retry, Status). It is the single
// value cmd/dataextractd constructs at process startup and passes to its
// HTTP layer; cmd/dataextract does not build one and calls the services
// directly.
type Runtime struct {
	Store         *persistence.Store
	Queue         *queue.Queue
	Dispatcher    *jobservice.Dispatcher
	JobService    *jobservice.Service
	RetryService  *retryservice.Service
	StatusService *statusservice.Service
	Readiness     *ReadinessReport

	workDir string
	log     *zap.Logger
}

// New wires a Runtime around already-constructed services. The Local
// Job Queue's handler dispatches queued payloads back into JobService/
// RetryService.
func New(cfg *config.Config, store *persistence.Store, jobSvc *jobservice.Service, retrySvc *retryservice.Service, statusSvc *statusservice.Service, workDir string, log *zap.Logger) *Runtime {
	rt := &Runtime{
		Store:         store,
		JobService:    jobSvc,
		RetryService:  retrySvc,
		StatusService: statusSvc,
		Readiness:     &ReadinessReport{},
		workDir:       workDir,
		log:           log,
	}
	rt.Queue = queue.New(cfg.Queue, cfg.Breaker, rt.dispatch, rt.onHandlerError, log)
	rt.Dispatcher = jobservice.NewDispatcher(store, rt.Queue, cfg.Dispatch, log)
	return rt
}

// queuedPayload is the wire shape persisted in Job.DispatchPayload and
// carried through queue.Item.Payload for an enqueued process request.
type queuedPayload struct {
	Kind    string                          `json:"kind"` // "process" | "retry"
	Process *jobservice.ProcessJobRequest   `json:"process,omitempty"`
	Retry   *retryservice.Request           `json:"retry,omitempty"`
}

// WorkDir returns the session work directory, for callers (e.g.
// internal/httpapi) that need it to locate session-scoped state such
// as the incremental-state file.
func (rt *Runtime) WorkDir() string { return rt.workDir }

// EnqueueProcess pre-allocates a job id, submits the request to the
// Local Job Queue, and returns immediately so HTTP callers get a fast
// ack; the worker dispatch loop executes JobService.Run asynchronously.
// If the queue is at capacity, the request is persisted as a genuine
// `pending_dispatch` Job row instead of being dropped: the background
// Dispatcher resubmits it, and JobService.Run later upserts the same
// row into the real job once it finally runs.
func (rt *Runtime) EnqueueProcess(ctx context.Context, req jobservice.ProcessJobRequest) (string, error) {
	id, err := jobservice.NewJobID()
	if err != nil {
		return "", fmt.Errorf("runtime: generate job id: %w", err)
	}
	req.PresetJobID = id
	payload := queuedPayload{Kind: "process", Process: &req}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("runtime: marshal dispatch payload: %w", err)
	}
	if err := rt.Queue.Submit(ctx, queue.Item{JobID: id, Payload: body}); err != nil {
		if !errors.Is(err, queue.ErrQueueFull) {
			return "", err
		}
		if persistErr := rt.persistUndelivered(ctx, id, body, req.InputPath, req.OutputPath, string(req.OutputFormat), req.ChunkSize); persistErr != nil {
			return "", fmt.Errorf("runtime: queue full, persist for retry: %w", persistErr)
		}
	}
	return id, nil
}

// EnqueueRetry is EnqueueProcess's counterpart for retry requests.
func (rt *Runtime) EnqueueRetry(ctx context.Context, req retryservice.Request) (string, error) {
	id, err := jobservice.NewJobID()
	if err != nil {
		return "", fmt.Errorf("runtime: generate retry id: %w", err)
	}
	payload := queuedPayload{Kind: "retry", Retry: &req}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("runtime: marshal dispatch payload: %w", err)
	}
	if err := rt.Queue.Submit(ctx, queue.Item{JobID: id, Payload: body}); err != nil {
		if !errors.Is(err, queue.ErrQueueFull) {
			return "", err
		}
		if persistErr := rt.persistUndelivered(ctx, id, body, req.Session, "", "", 0); persistErr != nil {
			return "", fmt.Errorf("runtime: queue full, persist for retry: %w", persistErr)
		}
	}
	return id, nil
}

// persistUndelivered records a request the Local Job Queue could not
// accept as a `pending_dispatch` Job row carrying the real dispatch
// payload, so the Dispatcher's background poll resubmits it instead of
// the request being silently lost.
func (rt *Runtime) persistUndelivered(ctx context.Context, id string, dispatchPayload []byte, inputPath, outputPath, format string, chunkSize int) error {
	now := time.Now().UTC()
	job := &persistence.Job{
		ID:              id,
		Status:          persistence.JobQueued,
		InputPath:       inputPath,
		OutputDir:       outputPath,
		RequestedFormat: format,
		ChunkSize:       chunkSize,
		RequestPayload:  string(dispatchPayload),
		DispatchPayload: string(dispatchPayload),
		DispatchState:   persistence.DispatchPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return rt.Store.InsertJob(ctx, job)
}

// dispatch is the Local Job Queue's Handler: it routes a queued payload
// back to JobService or RetryService. Handler errors are trapped by the
// queue itself; this function only needs to return them.
func (rt *Runtime) dispatch(ctx context.Context, item queue.Item) error {
	body, ok := item.Payload.([]byte)
	if !ok {
		return fmt.Errorf("runtime: unexpected payload type %T for job %s", item.Payload, item.JobID)
	}
	var payload queuedPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("runtime: unmarshal dispatch payload for job %s: %w", item.JobID, err)
	}
	switch payload.Kind {
	case "process":
		_, err := rt.JobService.Run(ctx, *payload.Process, rt.workDir)
		return err
	case "retry":
		_, err := rt.RetryService.Run(ctx, *payload.Retry, rt.workDir)
		return err
	default:
		return fmt.Errorf("runtime: unknown queued payload kind %q", payload.Kind)
	}
}

// onHandlerError is the queue's ErrorHandler: trapped failures are
// logged, not re-raised, so a failing Fatal error inside one worker
// never stops the queue.
func (rt *Runtime) onHandlerError(item queue.Item, err error) {
	rt.log.Error("runtime: queued job handler failed", obs.String("job_id", item.JobID), obs.Err(err))
}

// Start launches the Local Job Queue's workers and the dispatch
// subsystem. Call Recover first so abandoned/queued jobs are settled
// before new work starts flowing.
func (rt *Runtime) Start(ctx context.Context) {
	rt.Queue.Start(ctx)
	rt.Dispatcher.Start(ctx)
	rt.Readiness.Set(true, nil)
}

// Stop signals shutdown to the queue and dispatcher.
func (rt *Runtime) Stop(timeout time.Duration) {
	rt.Readiness.Set(false, fmt.Errorf("runtime: shutting down"))
	rt.Dispatcher.Stop()
	rt.Queue.Stop(timeout)
}

// Recover runs the startup recovery pass:
//   - Jobs found `running` are abandoned (RecoveryAbandoned).
//   - Jobs found `queued` are resumed in-process (their pipeline run
//     never started before the crash).
//   - Jobs carrying a session_id but no Session row get their
//     projection rehydrated from result_payload.
func (rt *Runtime) Recover(ctx context.Context) (RecoveryStats, error) {
	var stats RecoveryStats

	running, err := rt.Store.ListJobsByStatus(ctx, persistence.JobRunning)
	if err != nil {
		return stats, fmt.Errorf("runtime: list running jobs: %w", err)
	}
	for _, job := range running {
		if err := rt.Store.AbandonRunningJob(ctx, job.ID); err != nil {
			rt.log.Error("runtime: abandon running job failed", obs.String("job_id", job.ID), obs.Err(err))
			continue
		}
		_ = rt.Store.AppendEvent(ctx, job.ID, "error", "abandoned on restart", "{}")
		stats.Abandoned++
		obs.JobsFailed.Inc()
	}

	queued, err := rt.Store.ListJobsByStatus(ctx, persistence.JobQueued)
	if err != nil {
		return stats, fmt.Errorf("runtime: list queued jobs: %w", err)
	}
	for _, job := range queued {
		j := job
		stats.Requeued++
		go func() {
			if _, err := rt.JobService.Resume(context.Background(), j, rt.workDir); err != nil {
				rt.log.Error("runtime: resume queued job failed", obs.String("job_id", j.ID), obs.Err(err))
			}
		}()
	}

	orphanedSessions, err := rt.Store.ListSessionsMissingProjection(ctx)
	if err != nil {
		return stats, fmt.Errorf("runtime: list orphaned session projections: %w", err)
	}
	for _, job := range orphanedSessions {
		if job.SessionID == nil || job.ResultPayload == "" {
			continue
		}
		var result jobservice.ProcessJobResult
		if err := json.Unmarshal([]byte(job.ResultPayload), &result); err != nil {
			rt.log.Warn("runtime: unmarshal result_payload for rehydration failed", obs.String("job_id", job.ID), obs.Err(err))
			continue
		}
		now := time.Now().UTC()
		ad := job.ArtifactDir
		if ad == nil {
			ad = &result.OutputDir
		}
		sess := &persistence.Session{
			SessionID:        *job.SessionID,
			SourceDirectory:  job.InputPath,
			Status:           string(job.Status),
			TotalFiles:       result.TotalFiles,
			ProcessedCount:   result.ProcessedCount,
			FailedCount:      result.FailedCount,
			ArtifactDir:      ad,
			ProjectionSource: "startup_reconcile",
			LastReconciledAt: &now,
		}
		if err := rt.Store.UpsertSession(ctx, sess); err != nil {
			rt.log.Error("runtime: rehydrate session projection failed", obs.String("session_id", *job.SessionID), obs.Err(err))
			continue
		}
		stats.SessionsRehydrated++
	}

	return stats, nil
}
