// Copyright 2025 James Ross
package output

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dataextractd/dataextractd/internal/chunk"
	"github.com/stretchr/testify/require"
)

func sampleChunks() []chunk.Chunk {
	return []chunk.Chunk{
		{ID: "c1", Text: "one two three", DocumentID: "doc", PositionIndex: 0, WordCount: 3, TokenCount: 3},
		{ID: "c2", Text: "four five six", DocumentID: "doc", PositionIndex: 1, WordCount: 3, TokenCount: 3},
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sample.json")

	res, err := Write(sampleChunks(), target, FormatJSON, false, []string{"sample.txt"}, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 2, res.ChunkCount)

	count, err := CountChunksInArtifact(target, FormatJSON)
	require.NoError(t, err)
	require.Equal(t, res.ChunkCount, count)
}

func TestWriteCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sample.csv")

	res, err := Write(sampleChunks(), target, FormatCSV, false, nil, 0)
	require.NoError(t, err)

	count, err := CountChunksInArtifact(target, FormatCSV)
	require.NoError(t, err)
	require.Equal(t, res.ChunkCount, count)
}

func TestWriteTXTCombinedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sample.txt")

	res, err := Write(sampleChunks(), target, FormatTXT, false, nil, 0)
	require.NoError(t, err)

	count, err := CountChunksInArtifact(target, FormatTXT)
	require.NoError(t, err)
	require.Equal(t, res.ChunkCount, count)
}

func TestWriteTXTPerChunkCreatesDistinctFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sample")

	res, err := Write(sampleChunks(), target, FormatTXT, true, nil, 0)
	require.NoError(t, err)
	require.Len(t, res.OutputPaths, 2)
	require.NotEqual(t, res.OutputPaths[0], res.OutputPaths[1])
}

func TestExtensionFor(t *testing.T) {
	require.Equal(t, ".json", ExtensionFor(FormatJSON))
	require.Equal(t, ".txt", ExtensionFor(FormatTXT))
	require.Equal(t, ".csv", ExtensionFor(FormatCSV))
}
