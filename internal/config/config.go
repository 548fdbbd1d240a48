// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Queue configures the Local Job Queue: bounded in-process dispatch of
// submitted jobs across N worker goroutines.
type Queue struct {
	WorkerCount   int           `mapstructure:"worker_count"`
	Capacity      int           `mapstructure:"capacity"`
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
}

// Backoff is shared by the dispatch subsystem and the worker-restart
// supervisor.
type Backoff struct {
	Base time.Duration `mapstructure:"base"`
	Max  time.Duration `mapstructure:"max"`
}

// Breaker configures the circuit breaker guarding Local Job Queue worker
// respawns.
type Breaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

// Discovery configures the File Discovery Service's defaults.
// DefaultRecursive is OR'ed with a request's own recursive flag, so when
// it is true every discovery recurses. DefaultIncludeGlobs and
// DefaultExcludeGlobs are loaded but not consulted by discovery.
type Discovery struct {
	DefaultIncludeGlobs []string `mapstructure:"default_include_globs"`
	DefaultExcludeGlobs []string `mapstructure:"default_exclude_globs"`
	DefaultRecursive    bool     `mapstructure:"default_recursive"`
}

// Pipeline configures chunking and stage behavior for the Pipeline Service.
type Pipeline struct {
	ChunkSize        int      `mapstructure:"chunk_size"`
	DefaultFormat    string   `mapstructure:"default_format"`
	DefaultProfile   string   `mapstructure:"default_profile"`
	SemanticFormats  []string `mapstructure:"semantic_formats"`
	MaxParallelFiles int      `mapstructure:"max_parallel_files"`
}

// Persistence configures the embedded relational store and its
// lock-retry budget.
type Persistence struct {
	DatabasePath  string        `mapstructure:"database_path"`
	LockRetries   int           `mapstructure:"lock_retries"`
	LockRetryBase time.Duration `mapstructure:"lock_retry_base"`
	LockRetryMax  time.Duration `mapstructure:"lock_retry_max"`
}

// Dispatch configures the async dispatch subsystem that advances a Job's
// dispatch_state through pending_dispatch -> dispatched|retrying -> failed_dispatch.
type Dispatch struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Backoff      Backoff       `mapstructure:"backoff"`
}

// ObservabilityConfig configures logging, metrics, and the audit log sink.
type ObservabilityConfig struct {
	MetricsPort        int    `mapstructure:"metrics_port"`
	LogLevel           string `mapstructure:"log_level"`
	AuditLogPath       string `mapstructure:"audit_log_path"`
	AuditLogMaxSizeMB  int    `mapstructure:"audit_log_max_size_mb"`
	AuditLogMaxBackups int    `mapstructure:"audit_log_max_backups"`
}

// Observability is a backwards-compatible alias.
type Observability = ObservabilityConfig

// HTTPAPI configures the thin httpapi listener, kept separate from the
// metrics/health port the way an admin API is split from an obs server.
type HTTPAPI struct {
	Addr string `mapstructure:"addr"`
}

type Config struct {
	Queue         Queue         `mapstructure:"queue"`
	Breaker       Breaker       `mapstructure:"breaker"`
	Discovery     Discovery     `mapstructure:"discovery"`
	Pipeline      Pipeline      `mapstructure:"pipeline"`
	Persistence   Persistence   `mapstructure:"persistence"`
	Dispatch      Dispatch      `mapstructure:"dispatch"`
	Observability Observability `mapstructure:"observability"`
	HTTPAPI       HTTPAPI       `mapstructure:"http_api"`
}

func defaultConfig() *Config {
	return &Config{
		Queue: Queue{
			WorkerCount:   4,
			Capacity:      256,
			SubmitTimeout: 5 * time.Second,
		},
		Breaker: Breaker{
			FailureThreshold: 0.5,
			Window:           1 * time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       5,
		},
		Discovery: Discovery{
			DefaultIncludeGlobs: []string{"**/*"},
			DefaultExcludeGlobs: []string{"**/*.tmp", "**/.DS_Store"},
			DefaultRecursive:    false,
		},
		Pipeline: Pipeline{
			ChunkSize:        500,
			DefaultFormat:    "json",
			DefaultProfile:   "auto",
			SemanticFormats:  []string{"json"},
			MaxParallelFiles: 4,
		},
		Persistence: Persistence{
			DatabasePath:  "./dataextractd.db",
			LockRetries:   5,
			LockRetryBase: 20 * time.Millisecond,
			LockRetryMax:  500 * time.Millisecond,
		},
		Dispatch: Dispatch{
			PollInterval: 2 * time.Second,
			MaxAttempts:  5,
			Backoff:      Backoff{Base: 500 * time.Millisecond, Max: 10 * time.Second},
		},
		Observability: Observability{
			MetricsPort:        9090,
			LogLevel:           "info",
			AuditLogPath:       "./dataextractd-audit.log",
			AuditLogMaxSizeMB:  50,
			AuditLogMaxBackups: 5,
		},
		HTTPAPI: HTTPAPI{
			Addr: ":8080",
		},
	}
}

// Load reads configuration from a YAML file plus env-var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("queue.worker_count", def.Queue.WorkerCount)
	v.SetDefault("queue.capacity", def.Queue.Capacity)
	v.SetDefault("queue.submit_timeout", def.Queue.SubmitTimeout)

	v.SetDefault("breaker.failure_threshold", def.Breaker.FailureThreshold)
	v.SetDefault("breaker.window", def.Breaker.Window)
	v.SetDefault("breaker.cooldown_period", def.Breaker.CooldownPeriod)
	v.SetDefault("breaker.min_samples", def.Breaker.MinSamples)

	v.SetDefault("discovery.default_include_globs", def.Discovery.DefaultIncludeGlobs)
	v.SetDefault("discovery.default_exclude_globs", def.Discovery.DefaultExcludeGlobs)
	v.SetDefault("discovery.default_recursive", def.Discovery.DefaultRecursive)

	v.SetDefault("pipeline.chunk_size", def.Pipeline.ChunkSize)
	v.SetDefault("pipeline.default_format", def.Pipeline.DefaultFormat)
	v.SetDefault("pipeline.default_profile", def.Pipeline.DefaultProfile)
	v.SetDefault("pipeline.semantic_formats", def.Pipeline.SemanticFormats)
	v.SetDefault("pipeline.max_parallel_files", def.Pipeline.MaxParallelFiles)

	v.SetDefault("persistence.database_path", def.Persistence.DatabasePath)
	v.SetDefault("persistence.lock_retries", def.Persistence.LockRetries)
	v.SetDefault("persistence.lock_retry_base", def.Persistence.LockRetryBase)
	v.SetDefault("persistence.lock_retry_max", def.Persistence.LockRetryMax)

	v.SetDefault("dispatch.poll_interval", def.Dispatch.PollInterval)
	v.SetDefault("dispatch.max_attempts", def.Dispatch.MaxAttempts)
	v.SetDefault("dispatch.backoff.base", def.Dispatch.Backoff.Base)
	v.SetDefault("dispatch.backoff.max", def.Dispatch.Backoff.Max)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.audit_log_path", def.Observability.AuditLogPath)
	v.SetDefault("observability.audit_log_max_size_mb", def.Observability.AuditLogMaxSizeMB)
	v.SetDefault("observability.audit_log_max_backups", def.Observability.AuditLogMaxBackups)

	v.SetDefault("http_api.addr", def.HTTPAPI.Addr)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Persistence.DatabasePath = resolveAppHomePath(cfg.Persistence.DatabasePath)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveAppHomePath rebases a relative persistence path under
// DATA_EXTRACT_UI_HOME when that environment variable is set. Absolute
// paths and an unset override pass through unchanged.
func resolveAppHomePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	home := os.Getenv("DATA_EXTRACT_UI_HOME")
	if home == "" {
		return path
	}
	return filepath.Join(home, path)
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Queue.WorkerCount < 1 {
		return fmt.Errorf("queue.worker_count must be >= 1")
	}
	if cfg.Queue.Capacity < 1 {
		return fmt.Errorf("queue.capacity must be >= 1")
	}
	if cfg.Queue.SubmitTimeout <= 0 {
		return fmt.Errorf("queue.submit_timeout must be > 0")
	}
	if cfg.Pipeline.ChunkSize < 1 {
		return fmt.Errorf("pipeline.chunk_size must be >= 1")
	}
	if cfg.Pipeline.MaxParallelFiles < 1 {
		return fmt.Errorf("pipeline.max_parallel_files must be >= 1")
	}
	if cfg.Persistence.DatabasePath == "" {
		return fmt.Errorf("persistence.database_path must be set")
	}
	if cfg.Persistence.LockRetries < 0 {
		return fmt.Errorf("persistence.lock_retries must be >= 0")
	}
	if cfg.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.max_attempts must be >= 1")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	return nil
}
