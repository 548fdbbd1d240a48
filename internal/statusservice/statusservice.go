// Copyright 2025 James Ross
// Package statusservice implements the Status Service: scans an output
// directory for artifacts whose source file no longer exists (orphans),
// classifies per-source sync state against their outputs, and optionally
// cleans orphans up. Grounded on
// original_source/tests/unit/.../test_status_service.py.
package statusservice

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/dataextractd/dataextractd/internal/extract"
	"github.com/dataextractd/dataextractd/internal/incremental"
	"github.com/dataextractd/dataextractd/internal/output"
	"go.uber.org/zap"
)

// SyncState classifies a single source file's relationship to its
// corresponding output artifact.
type SyncState string

const (
	SyncInSync  SyncState = "in_sync"
	SyncStale   SyncState = "stale"
	SyncNew     SyncState = "new"
	SyncOrphan  SyncState = "orphaned"
)

// FileStatus reports one source or orphaned-output file's sync state.
type FileStatus struct {
	SourcePath string    `json:"source_path,omitempty"`
	OutputPath string    `json:"output_path,omitempty"`
	State      SyncState `json:"state"`
}

// Report is the result of GetStatus.
type Report struct {
	SourceDir       string       `json:"source_directory"`
	OutputDir       string       `json:"output_dir"`
	Files           []FileStatus `json:"files"`
	OrphanedOutputs []string     `json:"orphaned_outputs"`
	CleanedUp       []string     `json:"cleaned_up,omitempty"`
}

// Service implements get_status(source_dir, output_dir, cleanup?).
type Service struct {
	registry *extract.Registry
	log      *zap.Logger
}

func NewService(registry *extract.Registry, log *zap.Logger) *Service {
	return &Service{registry: registry, log: log}
}

// GetStatus walks sourceDir for supported source files and outputDir
// for known-extension artifacts, matching
// each output back to a source file by stem-relative-path (reversed:
// strip outputDir, strip the format extension, re-append under
// sourceDir with each registered source extension in turn). Staleness
// is decided by content hash against workDir's incremental-state
// record for this (source_dir, output_dir) pair when one exists;
// files with no recorded baseline fall back to an mtime comparison,
// since there is no hash to compare against.
func (s *Service) GetStatus(ctx context.Context, sourceDir, outputDir string, format output.Format, cleanup bool, workDir string) (Report, error) {
	report := Report{SourceDir: sourceDir, OutputDir: outputDir}

	sources, err := s.collectSources(sourceDir)
	if err != nil {
		return Report{}, err
	}
	outputs, err := s.collectOutputs(outputDir, output.ExtensionFor(format))
	if err != nil {
		return Report{}, err
	}

	sourceAbs, err := filepath.Abs(sourceDir)
	if err != nil {
		sourceAbs = sourceDir
	}
	outputAbs, err := filepath.Abs(outputDir)
	if err != nil {
		outputAbs = outputDir
	}
	state, err := incremental.Load(workDir)
	if err != nil {
		s.log.Warn("statusservice: load incremental state failed, falling back to mtime staleness", zap.Error(err))
		state = nil
	}
	haveBaseline := state != nil && state.SourceDir == sourceAbs && state.OutputDir == outputAbs

	matchedOutputs := make(map[string]bool, len(outputs))
	for rel, srcAbs := range sources {
		outRel := strings.TrimSuffix(rel, filepath.Ext(rel)) + output.ExtensionFor(format)
		outAbs := filepath.Join(outputDir, outRel)
		fs := FileStatus{SourcePath: srcAbs, OutputPath: outAbs}

		outInfo, err := os.Stat(outAbs)
		switch {
		case err != nil:
			fs.State = SyncNew
		default:
			matchedOutputs[outAbs] = true
			srcInfo, serr := os.Stat(srcAbs)
			if serr != nil {
				fs.State = SyncNew
				break
			}
			fs.State = s.syncState(srcAbs, srcInfo, outInfo, state, haveBaseline)
		}
		report.Files = append(report.Files, fs)
	}

	for _, outAbs := range outputs {
		if matchedOutputs[outAbs] {
			continue
		}
		report.OrphanedOutputs = append(report.OrphanedOutputs, outAbs)
		report.Files = append(report.Files, FileStatus{OutputPath: outAbs, State: SyncOrphan})
		if cleanup {
			if err := os.Remove(outAbs); err != nil {
				s.log.Warn("statusservice: cleanup orphan failed", zap.String("path", outAbs), zap.Error(err))
				continue
			}
			report.CleanedUp = append(report.CleanedUp, outAbs)
		}
	}

	return report, nil
}

// syncState decides one source file's sync state against its existing
// output. When a recorded content-hash baseline covers this
// (source_dir, output_dir) pair, a changed hash (or a missing record,
// meaning the file was never processed under this baseline) is
// authoritative for staleness; otherwise mtime is the only signal
// available.
func (s *Service) syncState(srcAbs string, srcInfo, outInfo os.FileInfo, state *incremental.State, haveBaseline bool) SyncState {
	if !haveBaseline {
		if srcInfo.ModTime().After(outInfo.ModTime()) {
			return SyncStale
		}
		return SyncInSync
	}
	abs, err := filepath.Abs(srcAbs)
	if err != nil {
		abs = srcAbs
	}
	rec, ok := state.Files[abs]
	if !ok {
		return SyncStale
	}
	hash, err := incremental.HashFile(abs)
	if err != nil || hash != rec.Hash {
		return SyncStale
	}
	return SyncInSync
}

// collectSources walks sourceDir for every file the extractor registry
// supports, keyed by its slash-normalized path relative to sourceDir.
func (s *Service) collectSources(sourceDir string) (map[string]string, error) {
	out := make(map[string]string)
	err := filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !s.registry.IsSupported(path) {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = path
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	return out, nil
}

// collectOutputs walks outputDir for artifacts carrying the requested
// output extension.
func (s *Service) collectOutputs(outputDir, ext string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(outputDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ext) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	return out, nil
}
