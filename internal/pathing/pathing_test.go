// Copyright 2025 James Ross
package pathing

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeIsAbsolute(t *testing.T) {
	norm, err := Normalize("relative/path.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(norm) {
		t.Fatalf("expected absolute path, got %q", norm)
	}
}

func TestSourceKeyDeterministic(t *testing.T) {
	a, err := SourceKey("/tmp/one/two.txt")
	if err != nil {
		t.Fatal(err)
	}
	b, err := SourceKey("/tmp/one/two.txt")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("expected deterministic source key, got %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("expected 16-char source key, got %d chars", len(a))
	}
}

func TestSourceKeyDiffersByPath(t *testing.T) {
	a, _ := SourceKey("/tmp/a.txt")
	b, _ := SourceKey("/tmp/b.txt")
	if a == b {
		t.Fatal("expected different source keys for different paths")
	}
}

func TestFileHashStreams(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	h1, err := FileHash(path)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := FileHash(path)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("expected stable hash, got %q vs %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected sha256 hex digest length 64, got %d", len(h1))
	}
}

func TestFileHashMissingFile(t *testing.T) {
	if _, err := FileHash(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
