// Copyright 2025 James Ross
// Package output implements the Output Writer: serializes a chunk
// stream to json/txt/csv, always atomic at the file level (temp-file
// + rename), BOM-prefixed UTF-8.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dataextractd/dataextractd/internal/chunk"
)

// Format is the requested output serialization.
type Format string

const (
	FormatJSON Format = "json"
	FormatTXT  Format = "txt"
	FormatCSV  Format = "csv"
)

const utf8BOM = "﻿"

// Result reports what a write produced.
type Result struct {
	ChunkCount  int
	OutputPath  string
	OutputPaths []string // populated for per-chunk TXT mode
}

// jsonEnvelope is the canonical JSON output shape: metadata, combined
// content, and the chunk array.
type jsonEnvelope struct {
	Metadata struct {
		ChunkCount       int      `json:"chunk_count"`
		SourceDocuments  []string `json:"source_documents"`
		DurationSeconds  float64  `json:"duration_seconds"`
	} `json:"metadata"`
	Content string        `json:"content"`
	Chunks  []chunk.Chunk `json:"chunks"`
}

// Write serializes chunks to target in the given format, creating
// parent directories as needed and replacing any existing file
// atomically via temp-file + rename. perChunk only applies to TXT:
// when true, one file per chunk is emitted under target (treated as a
// directory) instead of one combined file.
func Write(chunks []chunk.Chunk, target string, format Format, perChunk bool, sourceDocuments []string, duration time.Duration) (Result, error) {
	switch format {
	case FormatJSON:
		return writeJSON(chunks, target, sourceDocuments, duration)
	case FormatTXT:
		if perChunk {
			return writeTXTPerChunk(chunks, target)
		}
		return writeTXTCombined(chunks, target)
	case FormatCSV:
		return writeCSV(chunks, target)
	default:
		return Result{}, fmt.Errorf("output: unsupported format %q", format)
	}
}

func writeJSON(chunks []chunk.Chunk, target string, sourceDocuments []string, duration time.Duration) (Result, error) {
	env := jsonEnvelope{Chunks: chunks}
	env.Metadata.ChunkCount = len(chunks)
	env.Metadata.SourceDocuments = sourceDocuments
	env.Metadata.DurationSeconds = duration.Seconds()

	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Text)
	}
	env.Content = strings.Join(texts, "\n")

	body, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("output: marshal json: %w", err)
	}
	if err := atomicWrite(target, append([]byte(utf8BOM), body...)); err != nil {
		return Result{}, err
	}
	return Result{ChunkCount: len(chunks), OutputPath: target}, nil
}

func writeTXTCombined(chunks []chunk.Chunk, target string) (Result, error) {
	var sb strings.Builder
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(fmt.Sprintf("━━━ CHUNK %d ━━━\n", i+1))
		sb.WriteString(c.Text)
	}
	if err := atomicWrite(target, []byte(utf8BOM+sb.String())); err != nil {
		return Result{}, err
	}
	return Result{ChunkCount: len(chunks), OutputPath: target}, nil
}

func writeTXTPerChunk(chunks []chunk.Chunk, targetDir string) (Result, error) {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("output: mkdir %s: %w", targetDir, err)
	}
	stem := strings.TrimSuffix(filepath.Base(targetDir), filepath.Ext(targetDir))
	paths := make([]string, 0, len(chunks))
	for i, c := range chunks {
		name := fmt.Sprintf("%s_chunk_%03d.txt", stem, i+1)
		path := filepath.Join(targetDir, name)
		if err := atomicWrite(path, []byte(utf8BOM+c.Text)); err != nil {
			return Result{}, err
		}
		paths = append(paths, path)
	}
	return Result{ChunkCount: len(chunks), OutputPaths: paths}, nil
}

func writeCSV(chunks []chunk.Chunk, target string) (Result, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("output: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".output-*.tmp")
	if err != nil {
		return Result{}, fmt.Errorf("output: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	if _, err := tmp.WriteString(utf8BOM); err != nil {
		return Result{}, fmt.Errorf("output: write bom: %w", err)
	}

	w := csv.NewWriter(tmp)
	header := []string{"chunk_id", "document_id", "position_index", "token_count", "word_count", "section_context", "quality_score", "text"}
	if err := w.Write(header); err != nil {
		return Result{}, fmt.Errorf("output: write csv header: %w", err)
	}
	for _, c := range chunks {
		row := []string{
			c.ID,
			c.DocumentID,
			strconv.Itoa(c.PositionIndex),
			strconv.Itoa(c.TokenCount),
			strconv.Itoa(c.WordCount),
			c.SectionContext,
			strconv.FormatFloat(c.QualityScore, 'f', -1, 64),
			c.Text,
		}
		if err := w.Write(row); err != nil {
			return Result{}, fmt.Errorf("output: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Result{}, fmt.Errorf("output: flush csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fmt.Errorf("output: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return Result{}, fmt.Errorf("output: rename into place: %w", err)
	}
	return Result{ChunkCount: len(chunks), OutputPath: target}, nil
}

// atomicWrite writes body to a sibling temp file then renames it into
// place, so readers never observe a partially written target.
func atomicWrite(target string, body []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".output-*.tmp")
	if err != nil {
		return fmt.Errorf("output: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("output: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("output: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("output: rename into place: %w", err)
	}
	return nil
}

// ExtensionFor returns the canonical file extension (with leading dot)
// for a requested output format, used by the pipeline's deterministic
// output placement.
func ExtensionFor(format Format) string {
	switch format {
	case FormatJSON:
		return ".json"
	case FormatTXT:
		return ".txt"
	case FormatCSV:
		return ".csv"
	default:
		return ""
	}
}

// CountChunksInArtifact parses a previously written artifact and
// returns the number of chunks recoverable from it, used to verify
// the output round-trip invariant in tests.
func CountChunksInArtifact(path string, format Format) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	text := strings.TrimPrefix(string(raw), utf8BOM)
	switch format {
	case FormatJSON:
		var env jsonEnvelope
		if err := json.Unmarshal([]byte(text), &env); err != nil {
			return 0, fmt.Errorf("output: unmarshal json: %w", err)
		}
		return len(env.Chunks), nil
	case FormatCSV:
		r := csv.NewReader(strings.NewReader(text))
		rows, err := r.ReadAll()
		if err != nil {
			return 0, fmt.Errorf("output: parse csv: %w", err)
		}
		if len(rows) == 0 {
			return 0, nil
		}
		return len(rows) - 1, nil
	case FormatTXT:
		if text == "" {
			return 0, nil
		}
		return strings.Count(text, "━━━ CHUNK"), nil
	default:
		return 0, fmt.Errorf("output: unsupported format %q", format)
	}
}
