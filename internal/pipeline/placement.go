// Copyright 2025 James Ross
package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dataextractd/dataextractd/internal/output"
	"github.com/dataextractd/dataextractd/internal/pathing"
)

// placementTracker assigns deterministic, collision-free output paths
// across a single job's files: the same relative
// path would otherwise be produced for files with duplicate stems
// under different sibling directories is actually the case that stays
// collision-free by construction (the subdirectory is preserved); the
// tracker only disambiguates when two sources produce the identical
// computed path.
type placementTracker struct {
	mu   sync.Mutex
	used map[string]bool
}

func newPlacementTracker() *placementTracker {
	return &placementTracker{used: make(map[string]bool)}
}

// outputPathFor computes the deterministic output path for sourcePath
// relative to sourceRoot, disambiguating collisions with a short
// source-key suffix.
func (t *placementTracker) outputPathFor(sourceRoot, sourcePath, outputDir string, format output.Format) (string, error) {
	rel, err := filepath.Rel(sourceRoot, sourcePath)
	if err != nil {
		rel = filepath.Base(sourcePath)
	}
	ext := output.ExtensionFor(format)
	relNoExt := strings.TrimSuffix(rel, filepath.Ext(rel))
	candidate := filepath.Join(outputDir, relNoExt+ext)

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.used[candidate] {
		t.used[candidate] = true
		return candidate, nil
	}

	key, err := pathing.SourceKey(sourcePath)
	if err != nil {
		return "", err
	}
	disambiguated := filepath.Join(outputDir, relNoExt+"_"+key[:8]+ext)
	if t.used[disambiguated] {
		// the 8-hex-character prefix is taken too: keep extending
		// rather than silently colliding, first with the full key, then
		// with a numeric suffix.
		disambiguated = filepath.Join(outputDir, relNoExt+"_"+key+ext)
	}
	for n := 2; t.used[disambiguated]; n++ {
		disambiguated = filepath.Join(outputDir, fmt.Sprintf("%s_%s_%d%s", relNoExt, key, n, ext))
	}
	t.used[disambiguated] = true
	return disambiguated, nil
}
