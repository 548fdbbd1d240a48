// Copyright 2025 James Ross
// Package pipeline implements the Pipeline Service: the per-file
// extract -> normalize -> chunk -> semantic -> output pipeline, run
// serially or across a worker pool, with per-stage timing and
// continue-on-error semantics.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dataextractd/dataextractd/internal/extract"
	"github.com/dataextractd/dataextractd/internal/obs"
	"github.com/dataextractd/dataextractd/internal/output"
	"github.com/dataextractd/dataextractd/internal/pathing"
	"go.uber.org/zap"
)

// Stage names, used both as map keys for timings and as Prometheus
// label values.
const (
	StageExtract   = "extract"
	StageNormalize = "normalize"
	StageChunk     = "chunk"
	StageSemantic  = "semantic"
	StageOutput    = "output"
)

// ReasonSemanticIncompatible is recorded when include_semantic is
// requested against a non-JSON output format.
const ReasonSemanticIncompatible = "semantic_output_format_incompatible"

// SemanticResult reports the (no-op) semantic stage's outcome.
type SemanticResult struct {
	Status     string `json:"status"`
	ReasonCode string `json:"reason_code,omitempty"`
}

// FileResult is one file's successful pipeline outcome.
type FileResult struct {
	SourcePath      string            `json:"source_path"`
	OutputPath      string            `json:"output_path"`
	ChunkCount      int               `json:"chunk_count"`
	StageTimingsMS  map[string]int64  `json:"stage_timings_ms"`
	SourceKey       string            `json:"source_key"`
	Semantic        SemanticResult    `json:"semantic"`
}

// FailedFile is one file's pipeline failure.
type FailedFile struct {
	SourcePath   string `json:"source_path"`
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	Stage        string `json:"stage"`
}

// Run is the aggregate result of processing a set of files.
type Run struct {
	Processed     []FileResult
	Failed        []FailedFile
	StageTotalsMS map[string]int64
}

// Options configures a single ProcessFiles invocation.
type Options struct {
	OutputDir       string
	Format          output.Format
	ChunkSize       int
	IncludeSemantic bool
	SourceRoot      string
	Workers         int
	ContinueOnError bool
	Profile         Profile
}

// Service executes the five-stage pipeline.
type Service struct {
	registry *extract.Registry
	log      *zap.Logger
}

func NewService(registry *extract.Registry, log *zap.Logger) *Service {
	return &Service{registry: registry, log: log}
}

// ProcessFile runs all five stages for a single file. tracker assigns
// this file's output path, disambiguating collisions within the
// enclosing ProcessFiles run.
func (s *Service) ProcessFile(path string, opts Options, tracker *placementTracker) (FileResult, error) {
	timings := make(map[string]int64, 5)
	observeStage := func(stage string, ms int64) {
		obs.PipelineStageDuration.WithLabelValues(stage).Observe(float64(ms) / 1000)
	}

	t0 := time.Now()
	extractor, err := s.registry.Get(path)
	if err != nil {
		return FileResult{}, &stageError{stage: StageExtract, errType: "UnsupportedExtension", err: err}
	}
	result, err := extractor.Extract(path)
	timings[StageExtract] = time.Since(t0).Milliseconds()
	observeStage(StageExtract, timings[StageExtract])
	if err != nil {
		errType := "CorruptInput"
		if errors.Is(err, extract.ErrUnsupportedExtension) {
			errType = "UnsupportedExtension"
		}
		return FileResult{}, &stageError{stage: StageExtract, errType: errType, err: err}
	}

	profile := resolveProfile(opts.Profile, result.Format, opts.IncludeSemantic)

	t1 := time.Now()
	normalized := Normalize(profile, result.Text)
	timings[StageNormalize] = time.Since(t1).Milliseconds()
	observeStage(StageNormalize, timings[StageNormalize])

	t2 := time.Now()
	quality := result.Quality["extraction_confidence"]
	documentID, err := pathing.SourceKey(path)
	if err != nil {
		return FileResult{}, &stageError{stage: StageChunk, errType: "Fatal", err: err}
	}
	chunks := Chunk(normalized, opts.ChunkSize, documentID, quality)
	timings[StageChunk] = time.Since(t2).Milliseconds()
	observeStage(StageChunk, timings[StageChunk])

	t3 := time.Now()
	semantic := SemanticResult{Status: "skipped", ReasonCode: ""}
	if opts.IncludeSemantic && opts.Format != output.FormatJSON {
		semantic.ReasonCode = ReasonSemanticIncompatible
	}
	timings[StageSemantic] = time.Since(t3).Milliseconds()
	observeStage(StageSemantic, timings[StageSemantic])

	t4 := time.Now()
	targetPath, err := tracker.outputPathFor(opts.SourceRoot, path, opts.OutputDir, opts.Format)
	if err != nil {
		return FileResult{}, &stageError{stage: StageOutput, errType: "Fatal", err: err}
	}
	writeRes, err := output.Write(chunks, targetPath, opts.Format, false, []string{path}, time.Since(t0))
	timings[StageOutput] = time.Since(t4).Milliseconds()
	observeStage(StageOutput, timings[StageOutput])
	if err != nil {
		return FileResult{}, &stageError{stage: StageOutput, errType: "Fatal", err: err}
	}

	sourceKey, err := pathing.SourceKey(path)
	if err != nil {
		return FileResult{}, &stageError{stage: StageOutput, errType: "Fatal", err: err}
	}

	return FileResult{
		SourcePath:     path,
		OutputPath:     writeRes.OutputPath,
		ChunkCount:     writeRes.ChunkCount,
		StageTimingsMS: timings,
		SourceKey:      sourceKey,
		Semantic:       semantic,
	}, nil
}

// ProcessFiles orchestrates ProcessFile across the file list,
// serially when workers==1, otherwise across a bounded worker pool.
func (s *Service) ProcessFiles(ctx context.Context, files []string, opts Options) Run {
	tracker := newPlacementTracker()
	run := Run{StageTotalsMS: map[string]int64{
		StageExtract: 0, StageNormalize: 0, StageChunk: 0, StageSemantic: 0, StageOutput: 0,
	}}

	if opts.Workers < 1 {
		opts.Workers = 1
	}

	type outcome struct {
		result FileResult
		failed *FailedFile
	}

	var (
		mu        sync.Mutex
		aborted   bool
		results   = make([]outcome, 0, len(files))
	)

	process := func(path string) outcome {
		fr, err := s.ProcessFile(path, opts, tracker)
		if err != nil {
			var se *stageError
			if errors.As(err, &se) {
				return outcome{failed: &FailedFile{SourcePath: path, ErrorType: se.errType, ErrorMessage: se.Error(), Stage: se.stage}}
			}
			return outcome{failed: &FailedFile{SourcePath: path, ErrorType: "Fatal", ErrorMessage: err.Error(), Stage: StageOutput}}
		}
		return outcome{result: fr}
	}

	if opts.Workers == 1 {
		for _, path := range files {
			if !opts.ContinueOnError {
				mu.Lock()
				stop := aborted
				mu.Unlock()
				if stop {
					break
				}
			}
			oc := process(path)
			if oc.failed != nil && !opts.ContinueOnError {
				mu.Lock()
				aborted = true
				mu.Unlock()
			}
			results = append(results, oc)
		}
	} else {
		sem := make(chan struct{}, opts.Workers)
		var wg sync.WaitGroup
		resultCh := make(chan outcome, len(files))
		for _, path := range files {
			mu.Lock()
			stop := aborted
			mu.Unlock()
			if stop && !opts.ContinueOnError {
				break
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(p string) {
				defer wg.Done()
				defer func() { <-sem }()
				oc := process(p)
				if oc.failed != nil && !opts.ContinueOnError {
					mu.Lock()
					aborted = true
					mu.Unlock()
				}
				resultCh <- oc
			}(path)
		}
		wg.Wait()
		close(resultCh)
		for oc := range resultCh {
			results = append(results, oc)
		}
	}

	for _, oc := range results {
		if oc.failed != nil {
			run.Failed = append(run.Failed, *oc.failed)
			continue
		}
		run.Processed = append(run.Processed, oc.result)
		for stage, ms := range oc.result.StageTimingsMS {
			run.StageTotalsMS[stage] += ms
		}
	}

	return run
}

type stageError struct {
	stage   string
	errType string
	err     error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("%s: %v", e.stage, e.err)
}

func (e *stageError) Unwrap() error { return e.err }
