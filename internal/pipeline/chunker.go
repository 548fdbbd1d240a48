// Copyright 2025 James Ross
package pipeline

import (
	"fmt"
	"strings"

	"github.com/dataextractd/dataextractd/internal/chunk"
)

// Chunk splits normalized text into consecutive word groups of size
// chunkSize. Always emits at least one chunk: an empty input yields a
// single placeholder chunk with token_count=0.
//
// For chunkSize k over n tokens, the emitted chunk count is
// ceil(n/k); the final chunk's word count is n mod k when n mod k != 0,
// else k (or 0 when n=0).
func Chunk(text string, chunkSize int, documentID string, quality float64) []chunk.Chunk {
	if chunkSize < 1 {
		chunkSize = 1
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return []chunk.Chunk{{
			ID:                fmt.Sprintf("%s-0", documentID),
			Text:              "",
			DocumentID:        documentID,
			PositionIndex:     0,
			TokenCount:        0,
			WordCount:         0,
			Entities:          []string{},
			ReadabilityScores: map[string]float64{},
			Metadata:          map[string]any{},
			QualityScore:      quality,
		}}
	}

	var chunks []chunk.Chunk
	for i := 0; i < len(words); i += chunkSize {
		end := i + chunkSize
		if end > len(words) {
			end = len(words)
		}
		group := words[i:end]
		chunks = append(chunks, chunk.Chunk{
			ID:                fmt.Sprintf("%s-%d", documentID, len(chunks)),
			Text:              strings.Join(group, " "),
			DocumentID:        documentID,
			PositionIndex:     len(chunks),
			TokenCount:        len(group),
			WordCount:         len(group),
			Entities:          []string{},
			ReadabilityScores: map[string]float64{},
			Metadata:          map[string]any{},
			QualityScore:      quality,
		})
	}
	return chunks
}
