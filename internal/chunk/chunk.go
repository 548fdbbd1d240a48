// Copyright 2025 James Ross
// Package chunk defines the canonical chunk schema shared by the
// Pipeline Service (producer) and the Output Writer (consumer),
// grounded on the enriched chunk schema in
// original_source/src/data_extract/services/chunk_io.py.
package chunk

// Chunk is one unit of chunked text plus the metadata downstream
// semantic-analysis stages and output formatters expect.
type Chunk struct {
	ID               string             `json:"id"`
	Text             string             `json:"text"`
	DocumentID       string             `json:"document_id"`
	PositionIndex    int                `json:"position_index"`
	TokenCount       int                `json:"token_count"`
	WordCount        int                `json:"word_count"`
	Entities         []string           `json:"entities"`
	SectionContext   string             `json:"section_context"`
	QualityScore     float64            `json:"quality_score"`
	ReadabilityScores map[string]float64 `json:"readability_scores"`
	Metadata         map[string]any     `json:"metadata"`
}
