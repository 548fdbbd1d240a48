// Copyright 2025 James Ross
package runtime

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dataextractd/dataextractd/internal/config"
	"github.com/dataextractd/dataextractd/internal/extract"
	"github.com/dataextractd/dataextractd/internal/jobservice"
	"github.com/dataextractd/dataextractd/internal/output"
	"github.com/dataextractd/dataextractd/internal/persistence"
	"github.com/dataextractd/dataextractd/internal/pipeline"
	"github.com/dataextractd/dataextractd/internal/retryservice"
	"github.com/dataextractd/dataextractd/internal/statusservice"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRuntime(t *testing.T, workDir string) (*Runtime, *persistence.Store) {
	t.Helper()
	store, err := persistence.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := extract.NewRegistry()
	pipelineSvc := pipeline.NewService(registry, zap.NewNop())
	pcfg := config.Pipeline{ChunkSize: 16, MaxParallelFiles: 2}
	dcfg := config.Discovery{}
	jobSvc := jobservice.NewService(store, registry, pipelineSvc, pcfg, dcfg, zap.NewNop())
	retrySvc := retryservice.NewService(store, jobSvc, zap.NewNop())
	statusSvc := statusservice.NewService(registry, zap.NewNop())

	cfg := config.Config{
		Queue:   config.Queue{WorkerCount: 2, Capacity: 8, SubmitTimeout: 200 * time.Millisecond},
		Breaker: config.Breaker{FailureThreshold: 0.5, Window: time.Second, CooldownPeriod: 50 * time.Millisecond, MinSamples: 2},
		Dispatch: config.Dispatch{
			PollInterval: 50 * time.Millisecond,
			MaxAttempts:  3,
			Backoff:      config.Backoff{Base: 10 * time.Millisecond, Max: 100 * time.Millisecond},
		},
	}
	rt := New(&cfg, store, jobSvc, retrySvc, statusSvc, workDir, zap.NewNop())
	return rt, store
}

func TestEnqueueProcess_ExecutesAndPersistsJob(t *testing.T) {
	tmp := t.TempDir()
	sourceDir := filepath.Join(tmp, "source")
	require.NoError(t, os.MkdirAll(sourceDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "a.txt"), []byte("one two three"), 0o644))

	rt, store := newTestRuntime(t, tmp)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Start(ctx)
	defer rt.Stop(time.Second)

	req := jobservice.ProcessJobRequest{
		InputPath:       sourceDir,
		OutputPath:      filepath.Join(tmp, "output"),
		OutputFormat:    output.FormatJSON,
		ChunkSize:       2,
		ContinueOnError: true,
	}
	jobID, err := rt.EnqueueProcess(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		job, err := store.GetJob(ctx, jobID)
		return err == nil && job.Status == persistence.JobCompleted
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRecover_AbandonsRunningJobs(t *testing.T) {
	tmp := t.TempDir()
	rt, store := newTestRuntime(t, tmp)
	ctx := context.Background()

	job := &persistence.Job{
		ID:              "abc123abc123",
		Status:          persistence.JobRunning,
		InputPath:       tmp,
		OutputDir:       tmp,
		RequestedFormat: "json",
		ChunkSize:       10,
		RequestPayload:  "{}",
	}
	require.NoError(t, store.InsertJob(ctx, job))
	require.NoError(t, store.MarkJobStarted(ctx, job.ID))

	stats, err := rt.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Abandoned)

	reloaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, persistence.JobFailed, reloaded.Status)

	events, err := store.ListEvents(ctx, job.ID)
	require.NoError(t, err)
	var found bool
	for _, e := range events {
		if e.EventType == "error" {
			found = true
			require.Contains(t, e.Message, "abandoned on restart")
		}
	}
	require.True(t, found)
}

func TestRecover_ResumesQueuedJobs(t *testing.T) {
	tmp := t.TempDir()
	sourceDir := filepath.Join(tmp, "source")
	require.NoError(t, os.MkdirAll(sourceDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "a.txt"), []byte("one two three four"), 0o644))

	rt, store := newTestRuntime(t, tmp)
	ctx := context.Background()

	req := jobservice.ProcessJobRequest{
		InputPath:    sourceDir,
		OutputFormat: output.FormatJSON,
		ChunkSize:    2,
	}
	req.Normalize()
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	outputDir := filepath.Join(tmp, "extracted")
	job := &persistence.Job{
		ID:              "def456def456",
		Status:          persistence.JobQueued,
		InputPath:       sourceDir,
		OutputDir:       outputDir,
		RequestedFormat: "json",
		ChunkSize:       2,
		RequestPayload:  string(payload),
	}
	require.NoError(t, store.InsertJob(ctx, job))

	stats, err := rt.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Requeued)

	require.Eventually(t, func() bool {
		reloaded, err := store.GetJob(ctx, job.ID)
		return err == nil && reloaded.Status == persistence.JobCompleted
	}, 3*time.Second, 20*time.Millisecond)
}
