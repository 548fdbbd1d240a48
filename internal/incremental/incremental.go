// Copyright 2025 James Ross
// Package incremental implements the incremental-state file: a
// per-(source_dir, output_dir, config_hash) record of each file's
// content hash so a later `incremental` request can skip files that
// have not changed since their last successful run. Hashing follows
// internal/jobservice's RequestHash sha256-of-canonical-bytes shape;
// the file itself is written atomically, following
// internal/output.atomicWrite's temp-file + rename pattern.
package incremental

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const stateVersion = "1.0"

// FileRecord is one entry in the state file's "files" map.
type FileRecord struct {
	Hash        string `json:"hash"`
	ProcessedAt string `json:"processed_at"`
	OutputPath  string `json:"output_path"`
	SizeBytes   int64  `json:"size_bytes"`
}

// State is the on-disk incremental-state file schema.
type State struct {
	Version     string                `json:"version"`
	SourceDir   string                `json:"source_dir"`
	OutputDir   string                `json:"output_dir"`
	ConfigHash  string                `json:"config_hash"`
	ProcessedAt string                `json:"processed_at"`
	Files       map[string]FileRecord `json:"files"`
}

func pathFor(workDir string) string {
	return filepath.Join(workDir, ".data-extract-session", "incremental-state.json")
}

// Load reads the incremental-state file for workDir. A missing file is
// not an error: it returns a zero-value State ready to populate.
func Load(workDir string) (*State, error) {
	body, err := os.ReadFile(pathFor(workDir))
	if os.IsNotExist(err) {
		return &State{Version: stateVersion, Files: map[string]FileRecord{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("incremental: read state file: %w", err)
	}
	var st State
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("incremental: unmarshal state file: %w", err)
	}
	if st.Files == nil {
		st.Files = map[string]FileRecord{}
	}
	return &st, nil
}

// Save atomically writes st to workDir's incremental-state file.
func (st *State) Save(workDir string) error {
	path := pathFor(workDir)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("incremental: mkdir %s: %w", dir, err)
	}
	body, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("incremental: marshal state file: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".incremental-state-*.tmp")
	if err != nil {
		return fmt.Errorf("incremental: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("incremental: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("incremental: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("incremental: rename into place: %w", err)
	}
	return nil
}

// ConfigHash fingerprints the request settings that affect output
// content (format and chunk size): a config change invalidates every
// recorded hash even if the source files themselves are untouched.
func ConfigHash(format string, chunkSize int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", format, chunkSize)))
	return hex.EncodeToString(sum[:])
}

// HashFile computes the sha256 content hash of path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("incremental: open %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("incremental: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Filter splits candidate files into those that must be (re)processed
// and those that can be skipped, given the previously recorded state
// for this (source_dir, output_dir, config_hash) triple. force bypasses
// the comparison entirely; a mismatched config_hash or source/output
// dir treats every candidate as unprocessed, since the recorded hashes
// no longer describe the same run.
func (st *State) Filter(files []string, sourceDir, outputDir, configHash string, force bool) (toProcess, skipped []string) {
	if force || st.SourceDir != sourceDir || st.OutputDir != outputDir || st.ConfigHash != configHash {
		return files, nil
	}
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			abs = f
		}
		rec, ok := st.Files[abs]
		if !ok {
			toProcess = append(toProcess, f)
			continue
		}
		hash, err := HashFile(abs)
		if err != nil || hash != rec.Hash {
			toProcess = append(toProcess, f)
			continue
		}
		if _, statErr := os.Stat(rec.OutputPath); statErr != nil {
			toProcess = append(toProcess, f)
			continue
		}
		skipped = append(skipped, f)
	}
	return toProcess, skipped
}

// Record updates st with the outcome of a run: sourceDir/outputDir/
// configHash become the new baseline and each processed file's current
// content hash and output path are stored.
func (st *State) Record(sourceDir, outputDir, configHash string, processed map[string]ProcessedEntry) {
	st.Version = stateVersion
	st.SourceDir = sourceDir
	st.OutputDir = outputDir
	st.ConfigHash = configHash
	st.ProcessedAt = time.Now().UTC().Format(time.RFC3339Nano)
	if st.Files == nil {
		st.Files = map[string]FileRecord{}
	}
	for path, entry := range processed {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		hash, err := HashFile(abs)
		if err != nil {
			continue
		}
		size := int64(0)
		if info, statErr := os.Stat(abs); statErr == nil {
			size = info.Size()
		}
		st.Files[abs] = FileRecord{
			Hash:        hash,
			ProcessedAt: st.ProcessedAt,
			OutputPath:  entry.OutputPath,
			SizeBytes:   size,
		}
	}
}

// ProcessedEntry is the per-file detail Record needs from a completed run.
type ProcessedEntry struct {
	OutputPath string
}
