// Copyright 2025 James Ross
// Package extract implements the extractor registry: a pure map from
// file extension to an extractor that turns a source file into
// (text, structure, quality) without mutating any shared state.
package extract

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrUnsupportedExtension is returned by Get when no extractor is
// registered for the file's extension.
var ErrUnsupportedExtension = errors.New("extract: unsupported extension")

// ErrCorruptInput is returned by an extractor when the payload cannot
// be parsed as its claimed format and no fallback recovery applies.
var ErrCorruptInput = errors.New("extract: corrupt input")

// Result is the output of a single extraction.
type Result struct {
	Text      string
	Structure map[string]any
	Quality   map[string]float64
	Format    string
}

// Extractor turns a file on disk into extracted text plus metadata.
// Implementations must not mutate package-level state.
type Extractor interface {
	// Format is the extractor's format tag, e.g. "txt", "pdf".
	Format() string
	Extract(path string) (Result, error)
}

// Registry maps lowercased file extensions (including the leading dot)
// to their extractor.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry builds the default registry covering every supported
// format: txt/md, csv/tsv, docx/xlsx/pptx, pdf.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	r.register(".txt", textExtractor{})
	r.register(".md", textExtractor{})
	r.register(".csv", csvExtractor{delimiter: ','})
	r.register(".tsv", csvExtractor{delimiter: '\t'})
	r.register(".docx", docxExtractor{})
	r.register(".pptx", pptxExtractor{})
	r.register(".xlsx", xlsxExtractor{})
	r.register(".pdf", pdfExtractor{})
	return r
}

func (r *Registry) register(ext string, e Extractor) {
	r.byExt[ext] = e
}

// IsSupported reports whether path's extension has a registered extractor.
func (r *Registry) IsSupported(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Get returns the extractor registered for path's extension, or
// ErrUnsupportedExtension.
func (r *Registry) Get(path string) (Extractor, error) {
	e, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, ErrUnsupportedExtension
	}
	return e, nil
}

// Extensions returns the set of extensions the registry recognizes, in
// no particular order (map iteration order).
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	return out
}
