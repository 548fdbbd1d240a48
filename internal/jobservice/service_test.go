// Copyright 2025 James Ross
package jobservice

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dataextractd/dataextractd/internal/config"
	"github.com/dataextractd/dataextractd/internal/extract"
	"github.com/dataextractd/dataextractd/internal/output"
	"github.com/dataextractd/dataextractd/internal/persistence"
	"github.com/dataextractd/dataextractd/internal/pipeline"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*Service, *persistence.Store) {
	t.Helper()
	store, err := persistence.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := extract.NewRegistry()
	pipelineSvc := pipeline.NewService(registry, zap.NewNop())
	pcfg := config.Pipeline{ChunkSize: 16, DefaultFormat: "json", DefaultProfile: "auto", MaxParallelFiles: 2}
	dcfg := config.Discovery{DefaultRecursive: false}

	return NewService(store, registry, pipelineSvc, pcfg, dcfg, zap.NewNop()), store
}

func TestRun_GeneratesOutputForSingleFile(t *testing.T) {
	svc, _ := newTestService(t)
	tmp := t.TempDir()
	sourceDir := filepath.Join(tmp, "source")
	outputDir := filepath.Join(tmp, "output")
	require.NoError(t, os.MkdirAll(sourceDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "sample.txt"), []byte("alpha beta gamma"), 0o644))

	req := ProcessJobRequest{
		InputPath:       sourceDir,
		OutputPath:      outputDir,
		OutputFormat:    output.FormatJSON,
		ChunkSize:       16,
		ContinueOnError: true,
	}
	result, err := svc.Run(context.Background(), req, tmp)
	require.NoError(t, err)
	require.Equal(t, 1, result.ProcessedCount)
	require.Equal(t, 0, result.FailedCount)
	require.Equal(t, ExitSuccess, result.ExitCode)
	require.FileExists(t, filepath.Join(outputDir, "sample.json"))
	require.NotEmpty(t, result.JobID)
}

func TestRun_AvoidsOutputCollisionsForDuplicateStems(t *testing.T) {
	svc, _ := newTestService(t)
	tmp := t.TempDir()
	sourceDir := filepath.Join(tmp, "source-dupes")
	outputDir := filepath.Join(tmp, "output-dupes")
	require.NoError(t, os.MkdirAll(filepath.Join(sourceDir, "a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(sourceDir, "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "a", "same.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "b", "same.txt"), []byte("beta"), 0o644))

	req := ProcessJobRequest{
		InputPath:       sourceDir,
		OutputPath:      outputDir,
		OutputFormat:    output.FormatJSON,
		ChunkSize:       16,
		Recursive:       true,
		ContinueOnError: true,
	}
	result, err := svc.Run(context.Background(), req, tmp)
	require.NoError(t, err)
	require.Equal(t, 2, result.ProcessedCount)
	require.FileExists(t, filepath.Join(outputDir, "a", "same.json"))
	require.FileExists(t, filepath.Join(outputDir, "b", "same.json"))
	for _, pf := range result.ProcessedFiles {
		require.NotEmpty(t, pf.SourceKey)
	}
}

func TestRun_NoSupportedFiles_ReturnsClientErrorWithoutCreatingJob(t *testing.T) {
	svc, store := newTestService(t)
	tmp := t.TempDir()
	sourceDir := filepath.Join(tmp, "empty")
	require.NoError(t, os.MkdirAll(sourceDir, 0o755))

	req := ProcessJobRequest{InputPath: sourceDir, OutputFormat: output.FormatJSON, ChunkSize: 16}
	_, err := svc.Run(context.Background(), req, tmp)
	require.Error(t, err)

	jobs, err := store.ListJobsByStatus(context.Background(), persistence.JobQueued)
	require.NoError(t, err)
	require.Len(t, jobs, 0)
}

func TestRun_ConfigurationError_RejectsBadChunkSize(t *testing.T) {
	svc, _ := newTestService(t)
	req := ProcessJobRequest{InputPath: t.TempDir(), OutputFormat: output.FormatJSON, ChunkSize: -1}
	_, err := svc.Run(context.Background(), req, t.TempDir())
	var cfgErr *ErrConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestRun_IdempotentReplay(t *testing.T) {
	svc, _ := newTestService(t)
	tmp := t.TempDir()
	sourceDir := filepath.Join(tmp, "source")
	outputDir := filepath.Join(tmp, "output")
	require.NoError(t, os.MkdirAll(sourceDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "a.txt"), []byte("hello world"), 0o644))

	req := ProcessJobRequest{
		InputPath:       sourceDir,
		OutputPath:      outputDir,
		OutputFormat:    output.FormatJSON,
		ChunkSize:       16,
		ContinueOnError: true,
		IdempotencyKey:  "fixed-key",
	}
	first, err := svc.Run(context.Background(), req, tmp)
	require.NoError(t, err)

	second, err := svc.Run(context.Background(), req, tmp)
	require.NoError(t, err)
	require.Equal(t, first.JobID, second.JobID)
	require.Equal(t, first.ProcessedCount, second.ProcessedCount)
}

func TestRun_PartialStatusAndExitCode(t *testing.T) {
	svc, _ := newTestService(t)
	tmp := t.TempDir()
	sourceDir := filepath.Join(tmp, "source")
	outputDir := filepath.Join(tmp, "output")
	require.NoError(t, os.MkdirAll(sourceDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "ok.txt"), []byte("fine"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "bad.weird"), []byte("nope"), 0o644))

	req := ProcessJobRequest{
		InputPath:       sourceDir,
		OutputPath:      outputDir,
		OutputFormat:    output.FormatJSON,
		ChunkSize:       16,
		ContinueOnError: true,
		SourceFiles:     []string{filepath.Join(sourceDir, "ok.txt"), filepath.Join(sourceDir, "bad.weird")},
	}
	result, err := svc.Run(context.Background(), req, tmp)
	require.NoError(t, err)
	require.Equal(t, "partial", result.Status)
	require.Equal(t, ExitPartial, result.ExitCode)
	require.Len(t, result.FailedFiles, 1)
}

func TestRun_IncrementalSkipsUnchangedFilesOnSecondRun(t *testing.T) {
	svc, _ := newTestService(t)
	tmp := t.TempDir()
	sourceDir := filepath.Join(tmp, "source")
	outputDir := filepath.Join(tmp, "output")
	require.NoError(t, os.MkdirAll(sourceDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "sample.txt"), []byte("alpha beta gamma"), 0o644))

	req := ProcessJobRequest{
		InputPath:       sourceDir,
		OutputPath:      outputDir,
		OutputFormat:    output.FormatJSON,
		ChunkSize:       16,
		ContinueOnError: true,
		Incremental:     true,
	}

	first, err := svc.Run(context.Background(), req, tmp)
	require.NoError(t, err)
	require.Equal(t, 1, first.ProcessedCount)
	require.Equal(t, 0, first.SkippedCount)

	second, err := svc.Run(context.Background(), req, tmp)
	require.NoError(t, err)
	require.Equal(t, 0, second.ProcessedCount)
	require.Equal(t, 1, second.SkippedCount)
	require.Equal(t, ExitSuccess, second.ExitCode)
}

func TestRun_IncrementalForceReprocessesUnchangedFiles(t *testing.T) {
	svc, _ := newTestService(t)
	tmp := t.TempDir()
	sourceDir := filepath.Join(tmp, "source")
	outputDir := filepath.Join(tmp, "output")
	require.NoError(t, os.MkdirAll(sourceDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "sample.txt"), []byte("alpha beta gamma"), 0o644))

	req := ProcessJobRequest{
		InputPath:       sourceDir,
		OutputPath:      outputDir,
		OutputFormat:    output.FormatJSON,
		ChunkSize:       16,
		ContinueOnError: true,
		Incremental:     true,
	}
	_, err := svc.Run(context.Background(), req, tmp)
	require.NoError(t, err)

	req.Force = true
	second, err := svc.Run(context.Background(), req, tmp)
	require.NoError(t, err)
	require.Equal(t, 1, second.ProcessedCount)
	require.Equal(t, 0, second.SkippedCount)
}

func TestRequestHash_IsStableUnderSourceFileOrdering(t *testing.T) {
	a := ProcessJobRequest{InputPath: "/x", OutputFormat: "json", ChunkSize: 1, SourceFiles: []string{"b", "a"}}
	b := ProcessJobRequest{InputPath: "/x", OutputFormat: "json", ChunkSize: 1, SourceFiles: []string{"a", "b"}}
	ha, err := RequestHash(a)
	require.NoError(t, err)
	hb, err := RequestHash(b)
	require.NoError(t, err)
	require.Equal(t, ha, hb)
}
