// Copyright 2025 James Ross
// Package pathing provides pure, deterministic path and file identity
// helpers shared by discovery, the pipeline, and the persistence layer.
package pathing

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// hashChunkSize is the streaming read size for FileHash; must not load
// a whole file into memory.
const hashChunkSize = 8 * 1024

// Normalize returns an absolute, forward-slash path for p. It expands a
// leading "~" to the user's home directory and resolves symlinks
// permissively: a non-existent path is still normalized rather than
// rejected.
func Normalize(p string) (string, error) {
	expanded, err := expandHome(p)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return filepath.ToSlash(abs), nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if p == "~" {
		return home, nil
	}
	return filepath.Join(home, p[2:]), nil
}

// NormalizedText returns the text form of Normalize(p) used for hashing
// and equality comparisons: lower-cased on case-insensitive filesystems
// (Windows), verbatim elsewhere.
func NormalizedText(p string) (string, error) {
	norm, err := Normalize(p)
	if err != nil {
		return "", err
	}
	if runtime.GOOS == "windows" {
		return strings.ToLower(norm), nil
	}
	return norm, nil
}

// SourceKey returns the short deterministic identity key for a source
// path: sha256(normalized path text), truncated to 16 hex characters.
func SourceKey(p string) (string, error) {
	text, err := NormalizedText(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16], nil
}

// FileHash streams the file at p through sha256 in hashChunkSize
// chunks and returns the full hex digest. It never loads the whole
// file into memory.
func FileHash(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	// Hiding *os.File's WriteTo keeps io.CopyBuffer on buf.
	if _, err := io.CopyBuffer(h, struct{ io.Reader }{f}, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
