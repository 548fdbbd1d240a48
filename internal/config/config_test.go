// Copyright 2025 James Ross
package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("QUEUE_WORKER_COUNT")
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Queue.WorkerCount != 4 {
		t.Fatalf("expected default queue worker count 4, got %d", cfg.Queue.WorkerCount)
	}
	if cfg.Persistence.DatabasePath == "" {
		t.Fatalf("expected default persistence database path")
	}
}

func TestValidateFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.Queue.WorkerCount = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for queue.worker_count < 1")
	}
	cfg = defaultConfig()
	cfg.Pipeline.ChunkSize = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for pipeline.chunk_size < 1")
	}
	cfg = defaultConfig()
	cfg.Persistence.DatabasePath = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for empty persistence.database_path")
	}
	cfg = defaultConfig()
	cfg.Observability.MetricsPort = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for observability.metrics_port out of range")
	}
}
