// Copyright 2025 James Ross
// Package discovery implements the File Discovery Service: resolves a
// request's input_path (file, directory, or glob) into an ordered
// file list plus the pattern root used for relative output layout.
package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dataextractd/dataextractd/internal/extract"
)

// ErrNoSupportedFiles is returned when discovery resolves to an empty
// file list.
var ErrNoSupportedFiles = errors.New("discovery: no supported files found")

// Result is discovery's output: the ordered file list plus the root
// relative output paths are computed against.
type Result struct {
	Files      []string
	SourceRoot string
}

var globChars = []string{"*", "?", "["}

func isGlob(p string) bool {
	for _, c := range globChars {
		if strings.Contains(p, c) {
			return true
		}
	}
	return false
}

// Discover resolves input into a file list and source root. outputDir
// is excluded from the walk so outputs never feed back in as inputs.
func Discover(registry *extract.Registry, input string, recursive bool, outputDir string) (Result, error) {
	switch {
	case isGlob(input):
		return discoverGlob(registry, input, outputDir)
	default:
		info, err := os.Stat(input)
		if err != nil {
			return Result{}, fmt.Errorf("discovery: stat %s: %w", input, err)
		}
		if info.IsDir() {
			return discoverDirectory(registry, input, recursive, outputDir)
		}
		return discoverSingleFile(registry, input)
	}
}

func discoverSingleFile(registry *extract.Registry, input string) (Result, error) {
	abs, err := filepath.Abs(input)
	if err != nil {
		return Result{}, err
	}
	if !registry.IsSupported(abs) {
		return Result{}, ErrNoSupportedFiles
	}
	return Result{Files: []string{abs}, SourceRoot: filepath.Dir(abs)}, nil
}

func discoverDirectory(registry *extract.Registry, input string, recursive bool, outputDir string) (Result, error) {
	absRoot, err := filepath.Abs(input)
	if err != nil {
		return Result{}, err
	}
	absOutput := absOrEmpty(outputDir)

	var files []string
	entries, err := os.ReadDir(absRoot)
	if err != nil {
		return Result{}, fmt.Errorf("discovery: read dir %s: %w", absRoot, err)
	}
	if recursive {
		err = filepath.WalkDir(absRoot, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				return nil
			}
			if underOutputDir(path, absOutput) {
				return nil
			}
			if registry.IsSupported(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return Result{}, fmt.Errorf("discovery: walk %s: %w", absRoot, err)
		}
	} else {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Join(absRoot, e.Name())
			if underOutputDir(path, absOutput) {
				continue
			}
			if registry.IsSupported(path) {
				files = append(files, path)
			}
		}
	}

	sortCaseInsensitive(files)
	if len(files) == 0 {
		return Result{}, ErrNoSupportedFiles
	}
	return Result{Files: files, SourceRoot: absRoot}, nil
}

func discoverGlob(registry *extract.Registry, pattern string, outputDir string) (Result, error) {
	absOutput := absOrEmpty(outputDir)

	var root string
	var rel string
	if filepath.IsAbs(pattern) {
		root = longestNonGlobPrefix(pattern)
		r, err := filepath.Rel(root, pattern)
		if err != nil {
			return Result{}, err
		}
		rel = filepath.ToSlash(r)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return Result{}, err
		}
		root = cwd
		rel = filepath.ToSlash(pattern)
	}

	matches, err := doublestar.Glob(os.DirFS(root), rel)
	if err != nil {
		return Result{}, fmt.Errorf("discovery: glob %s: %w", pattern, err)
	}

	var files []string
	for _, m := range matches {
		abs := filepath.Join(root, filepath.FromSlash(m))
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}
		if underOutputDir(abs, absOutput) {
			continue
		}
		if registry.IsSupported(abs) {
			files = append(files, abs)
		}
	}

	sortCaseInsensitive(files)
	if len(files) == 0 {
		return Result{}, ErrNoSupportedFiles
	}
	return Result{Files: files, SourceRoot: root}, nil
}

// longestNonGlobPrefix returns the longest directory prefix of an
// absolute glob pattern that contains no glob metacharacters.
func longestNonGlobPrefix(pattern string) string {
	parts := strings.Split(filepath.ToSlash(pattern), "/")
	var safe []string
	for _, p := range parts {
		if isGlob(p) {
			break
		}
		safe = append(safe, p)
	}
	if len(safe) <= 1 {
		return "/"
	}
	return strings.Join(safe, "/")
}

func absOrEmpty(p string) string {
	if p == "" {
		return ""
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return ""
	}
	return abs
}

func underOutputDir(path, absOutputDir string) bool {
	if absOutputDir == "" {
		return false
	}
	rel, err := filepath.Rel(absOutputDir, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "")
}

func sortCaseInsensitive(files []string) {
	sort.Slice(files, func(i, j int) bool {
		return strings.ToLower(files[i]) < strings.ToLower(files[j])
	})
}
