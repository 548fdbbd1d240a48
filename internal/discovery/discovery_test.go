// Copyright 2025 James Ross
package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dataextractd/dataextractd/internal/extract"
	"github.com/stretchr/testify/require"
)

func TestDiscoverSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	res, err := Discover(extract.NewRegistry(), path, false, "")
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	require.Equal(t, dir, res.SourceRoot)
}

func TestDiscoverDirectoryExcludesOutputDir(t *testing.T) {
	dir := t.TempDir()
	outputDir := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(outputDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "a.json"), []byte("{}"), 0o644))

	res, err := Discover(extract.NewRegistry(), dir, false, outputDir)
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	require.Equal(t, filepath.Join(dir, "a.txt"), res.Files[0])
}

func TestDiscoverDirectoryRecursive(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.txt"), []byte("b"), 0o644))

	nonRecursive, err := Discover(extract.NewRegistry(), dir, false, "")
	require.NoError(t, err)
	require.Len(t, nonRecursive.Files, 1)

	recursive, err := Discover(extract.NewRegistry(), dir, true, "")
	require.NoError(t, err)
	require.Len(t, recursive.Files, 2)
}

func TestDiscoverNoSupportedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.xyz"), []byte("a"), 0o644))

	_, err := Discover(extract.NewRegistry(), dir, false, "")
	require.ErrorIs(t, err, ErrNoSupportedFiles)
}

func TestDiscoverGlobRelative(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"), []byte("b"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	res, err := Discover(extract.NewRegistry(), "*.txt", false, "")
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
}
