// Copyright 2025 James Ross
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dataextractd/dataextractd/internal/extract"
	"github.com/dataextractd/dataextractd/internal/output"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNormalizeIsIdempotent(t *testing.T) {
	input := "one   two\r\n\r\n\r\nthree   \n"
	once := Normalize(ProfileLegacy, input)
	twice := Normalize(ProfileLegacy, once)
	require.Equal(t, once, twice)
}

func TestChunkCountMatchesCeilingRule(t *testing.T) {
	text := "one two three four five six seven"
	chunks := Chunk(text, 3, "doc", 1.0)
	require.Len(t, chunks, 3) // ceil(7/3) = 3
	require.Equal(t, 1, chunks[2].WordCount)
}

func TestChunkEmptyInputYieldsPlaceholder(t *testing.T) {
	chunks := Chunk("", 5, "doc", 1.0)
	require.Len(t, chunks, 1)
	require.Equal(t, 0, chunks[0].TokenCount)
}

func TestProcessFileSingleTextJSON(t *testing.T) {
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "source")
	outDir := filepath.Join(dir, "output")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))

	path := filepath.Join(srcDir, "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte("one two three four five six"), 0o644))

	svc := NewService(extract.NewRegistry(), zap.NewNop())
	tracker := newPlacementTracker()
	res, err := svc.ProcessFile(path, Options{
		OutputDir: outDir, Format: output.FormatJSON, ChunkSize: 3, SourceRoot: srcDir, Profile: ProfileAuto,
	}, tracker)
	require.NoError(t, err)
	require.Equal(t, 2, res.ChunkCount)

	count, err := output.CountChunksInArtifact(res.OutputPath, output.FormatJSON)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestProcessFilesMixedSuccessFailureContinueOnError(t *testing.T) {
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "source")
	outDir := filepath.Join(dir, "output")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))

	goodA := filepath.Join(srcDir, "good-a.txt")
	badFile := filepath.Join(srcDir, "bad.xyz")
	goodB := filepath.Join(srcDir, "good-b.txt")
	require.NoError(t, os.WriteFile(goodA, []byte("hello world"), 0o644))
	require.NoError(t, os.WriteFile(badFile, []byte("nope"), 0o644))
	require.NoError(t, os.WriteFile(goodB, []byte("hello again"), 0o644))

	svc := NewService(extract.NewRegistry(), zap.NewNop())
	run := svc.ProcessFiles(context.Background(), []string{goodA, badFile, goodB}, Options{
		OutputDir: outDir, Format: output.FormatJSON, ChunkSize: 512, SourceRoot: srcDir,
		ContinueOnError: true, Workers: 1, Profile: ProfileAuto,
	})
	require.Len(t, run.Processed, 2)
	require.Len(t, run.Failed, 1)
	require.Equal(t, "UnsupportedExtension", run.Failed[0].ErrorType)
}

func TestProcessFilesDuplicateStemsAcrossSiblingsStayDistinct(t *testing.T) {
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "source")
	outDir := filepath.Join(dir, "output")
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "b"), 0o755))

	fileA := filepath.Join(srcDir, "a", "same.txt")
	fileB := filepath.Join(srcDir, "b", "same.txt")
	require.NoError(t, os.WriteFile(fileA, []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(fileB, []byte("beta"), 0o644))

	svc := NewService(extract.NewRegistry(), zap.NewNop())
	run := svc.ProcessFiles(context.Background(), []string{fileA, fileB}, Options{
		OutputDir: outDir, Format: output.FormatJSON, ChunkSize: 512, SourceRoot: srcDir,
		ContinueOnError: true, Workers: 2, Profile: ProfileAuto,
	})
	require.Len(t, run.Processed, 2)
	require.NotEqual(t, run.Processed[0].OutputPath, run.Processed[1].OutputPath)
}

func TestSemanticGateSkipsOnNonJSONFormat(t *testing.T) {
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "source")
	outDir := filepath.Join(dir, "output")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	path := filepath.Join(srcDir, "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	svc := NewService(extract.NewRegistry(), zap.NewNop())
	res, err := svc.ProcessFile(path, Options{
		OutputDir: outDir, Format: output.FormatTXT, ChunkSize: 512, SourceRoot: srcDir,
		IncludeSemantic: true, Profile: ProfileAuto,
	}, newPlacementTracker())
	require.NoError(t, err)
	require.Equal(t, "skipped", res.Semantic.Status)
	require.Equal(t, ReasonSemanticIncompatible, res.Semantic.ReasonCode)
}
