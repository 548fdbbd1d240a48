// Copyright 2025 James Ross
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dataextractd/dataextractd/internal/config"
	"github.com/dataextractd/dataextractd/internal/extract"
	"github.com/dataextractd/dataextractd/internal/jobservice"
	"github.com/dataextractd/dataextractd/internal/persistence"
	"github.com/dataextractd/dataextractd/internal/pipeline"
	"github.com/dataextractd/dataextractd/internal/retryservice"
	"github.com/dataextractd/dataextractd/internal/runtime"
	"github.com/dataextractd/dataextractd/internal/statusservice"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, workDir string) (*httptest.Server, *runtime.Runtime) {
	t.Helper()
	store, err := persistence.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := extract.NewRegistry()
	pipelineSvc := pipeline.NewService(registry, zap.NewNop())
	pcfg := config.Pipeline{ChunkSize: 16, MaxParallelFiles: 2}
	jobSvc := jobservice.NewService(store, registry, pipelineSvc, pcfg, config.Discovery{}, zap.NewNop())
	retrySvc := retryservice.NewService(store, jobSvc, zap.NewNop())
	statusSvc := statusservice.NewService(registry, zap.NewNop())

	cfg := config.Config{
		Queue:    config.Queue{WorkerCount: 2, Capacity: 8, SubmitTimeout: 200 * time.Millisecond},
		Breaker:  config.Breaker{FailureThreshold: 0.5, Window: time.Second, CooldownPeriod: 50 * time.Millisecond, MinSamples: 2},
		Dispatch: config.Dispatch{PollInterval: time.Hour, MaxAttempts: 3, Backoff: config.Backoff{Base: 10 * time.Millisecond, Max: 100 * time.Millisecond}},
	}
	rt := runtime.New(&cfg, store, jobSvc, retrySvc, statusSvc, workDir, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	rt.Start(ctx)
	t.Cleanup(func() { rt.Stop(time.Second) })

	srv := NewServer("127.0.0.1:0", rt, zap.NewNop())
	ts := httptest.NewServer(srv.srv.Handler)
	t.Cleanup(ts.Close)
	return ts, rt
}

func TestHandleCreateJobAndGetJob_RoundTrips(t *testing.T) {
	tmp := t.TempDir()
	sourceDir := filepath.Join(tmp, "source")
	require.NoError(t, os.MkdirAll(sourceDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "a.txt"), []byte("one two three four"), 0o644))

	ts, _ := newTestServer(t, tmp)

	body := createJobRequest{
		InputPath:       sourceDir,
		OutputPath:      filepath.Join(tmp, "output"),
		OutputFormat:    "json",
		ChunkSize:       2,
		ContinueOnError: true,
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	jobID := created["job_id"]
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		r, err := http.Get(ts.URL + "/api/v1/jobs/" + jobID)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		if r.StatusCode != http.StatusOK {
			return false
		}
		var result jobservice.ProcessJobResult
		_ = json.NewDecoder(r.Body).Decode(&result)
		return result.Status == "completed"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestHandleCreateJob_InvalidBodyReturnsBadRequest(t *testing.T) {
	ts, _ := newTestServer(t, t.TempDir())
	resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/json", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleGetJob_UnknownIDReturnsNotFound(t *testing.T) {
	ts, _ := newTestServer(t, t.TempDir())
	resp, err := http.Get(ts.URL + "/api/v1/jobs/doesnotexist")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleStatus_MissingParamsReturnsBadRequest(t *testing.T) {
	ts, _ := newTestServer(t, t.TempDir())
	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

