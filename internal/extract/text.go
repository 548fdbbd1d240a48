// Copyright 2025 James Ross
package extract

import (
	"os"
	"strings"
)

// textExtractor handles .txt and .md: read as UTF-8 (tolerating a
// leading BOM), no structural parsing beyond a line count.
type textExtractor struct{}

func (textExtractor) Format() string { return "txt" }

func (textExtractor) Extract(path string) (Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	text := strings.TrimPrefix(string(raw), "﻿")
	lineCount := 1
	if text != "" {
		lineCount = strings.Count(text, "\n") + 1
	}
	return Result{
		Text:      text,
		Structure: map[string]any{"line_count": lineCount},
		Quality:   map[string]float64{"extraction_confidence": 1.0},
		Format:    "txt",
	}, nil
}
