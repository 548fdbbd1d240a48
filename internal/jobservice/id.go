// Copyright 2025 James Ross
package jobservice

import (
	"crypto/rand"
	"encoding/hex"
)

// newJobID returns an opaque 12-hex identifier.
func newJobID() (string, error) {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// NewJobID exposes newJobID to callers outside this package that need to
// pre-allocate an id before handing a request to the Local Job Queue
// (internal/runtime.Runtime.EnqueueProcess), so the id returned to the
// caller matches the id the worker later persists.
func NewJobID() (string, error) { return newJobID() }
