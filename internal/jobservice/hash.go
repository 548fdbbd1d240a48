// Copyright 2025 James Ross
package jobservice

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// canonicalRequest is the subset of ProcessJobRequest fields that
// participate in the request fingerprint: a sha256 of the canonical
// JSON of normalized request fields. idempotency_key itself is excluded
// since it names the fingerprint rather than contributing to it, and
// source_files is sorted so discovery-equivalent requests fingerprint
// identically regardless of call-site ordering.
type canonicalRequest struct {
	InputPath       string   `json:"input_path"`
	OutputPath      string   `json:"output_path"`
	OutputFormat    string   `json:"output_format"`
	ChunkSize       int      `json:"chunk_size"`
	Recursive       bool     `json:"recursive"`
	IncludeSemantic bool     `json:"include_semantic"`
	ContinueOnError bool     `json:"continue_on_error"`
	SourceFiles     []string `json:"source_files"`
}

// RequestHash computes the sha256 request fingerprint used for
// idempotency matching.
func RequestHash(r ProcessJobRequest) (string, error) {
	files := append([]string(nil), r.SourceFiles...)
	sort.Strings(files)

	canon := canonicalRequest{
		InputPath:       r.InputPath,
		OutputPath:      r.OutputPath,
		OutputFormat:    string(r.OutputFormat),
		ChunkSize:       r.ChunkSize,
		Recursive:       r.Recursive,
		IncludeSemantic: r.IncludeSemantic,
		ContinueOnError: r.ContinueOnError,
		SourceFiles:     files,
	}
	body, err := json.Marshal(canon)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
