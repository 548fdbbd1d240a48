// Copyright 2025 James Ross
package extract

import (
	"encoding/csv"
	"os"
	"strings"
)

// csvExtractor handles .csv and .tsv: each row's cells are joined with
// " | " and rows are joined with newlines, matching the original
// implementation's compatibility text layout.
type csvExtractor struct {
	delimiter rune
}

func (csvExtractor) Format() string { return "csv" }

func (e csvExtractor) Extract(path string) (Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	text := strings.TrimPrefix(string(raw), "﻿")

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = e.delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return Result{}, err
	}
	if len(rows) == 0 {
		return Result{
			Text:      "",
			Structure: map[string]any{"row_count": 0, "column_count": 0},
			Quality:   map[string]float64{"extraction_confidence": 0.0},
			Format:    "csv",
		}, nil
	}

	header := rows[0]
	lines := make([]string, 0, len(rows))
	lines = append(lines, strings.Join(header, " | "))
	for _, row := range rows[1:] {
		lines = append(lines, strings.Join(row, " | "))
	}

	return Result{
		Text: strings.Join(lines, "\n"),
		Structure: map[string]any{
			"row_count":    len(rows),
			"column_count": len(header),
			"delimiter":    string(e.delimiter),
		},
		Quality: map[string]float64{"extraction_confidence": 1.0},
		Format:  "csv",
	}, nil
}
