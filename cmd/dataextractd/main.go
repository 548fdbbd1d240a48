// Copyright 2025 James Ross
// dataextractd is the long-running daemon front end: it loads config,
// opens the persistence store, constructs the runtime.Runtime, runs
// startup recovery, starts the Local Job Queue, and serves
// internal/httpapi. Grounded on cmd/job-queue-system/main.go's flag
// parsing, config load, logger/metrics bootstrap, and signal-driven
// graceful shutdown shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dataextractd/dataextractd/internal/config"
	"github.com/dataextractd/dataextractd/internal/extract"
	"github.com/dataextractd/dataextractd/internal/httpapi"
	"github.com/dataextractd/dataextractd/internal/jobservice"
	"github.com/dataextractd/dataextractd/internal/obs"
	"github.com/dataextractd/dataextractd/internal/persistence"
	"github.com/dataextractd/dataextractd/internal/pipeline"
	"github.com/dataextractd/dataextractd/internal/retryservice"
	"github.com/dataextractd/dataextractd/internal/runtime"
	"github.com/dataextractd/dataextractd/internal/statusservice"
)

var version = "dev"

func main() {
	var configPath string
	var workDir string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&workDir, "work-dir", workDirDefault(), "Session work directory (session sidecars, incremental state)")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := persistence.Open(cfg.Persistence.DatabasePath, persistence.LockRetryConfig{
		Retries: cfg.Persistence.LockRetries,
		Base:    cfg.Persistence.LockRetryBase,
		Max:     cfg.Persistence.LockRetryMax,
	})
	if err != nil {
		logger.Fatal("failed to open persistence store", obs.Err(err))
	}
	defer store.Close()

	auditLogger := obs.NewAuditLogger(cfg.Observability.AuditLogPath, cfg.Observability.AuditLogMaxSizeMB, cfg.Observability.AuditLogMaxBackups)
	defer auditLogger.Sync()
	store.SetAuditLogger(auditLogger)

	registry := extract.NewRegistry()
	pipelineSvc := pipeline.NewService(registry, logger)
	jobSvc := jobservice.NewService(store, registry, pipelineSvc, cfg.Pipeline, cfg.Discovery, logger)
	retrySvc := retryservice.NewService(store, jobSvc, logger)
	statusSvc := statusservice.NewService(registry, logger)

	rt := runtime.New(cfg, store, jobSvc, retrySvc, statusSvc, workDir, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stats, err := rt.Recover(ctx)
	if err != nil {
		logger.Error("startup recovery failed", obs.Err(err))
	} else {
		logger.Info("startup recovery complete",
			obs.Int("abandoned", stats.Abandoned),
			obs.Int("requeued", stats.Requeued),
			obs.Int("sessions_rehydrated", stats.SessionsRehydrated))
	}

	rt.Start(ctx)
	defer rt.Stop(10 * time.Second)

	httpSrv := obs.StartHTTPServer(cfg, rt.Readiness.Check)
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	apiSrv := httpapi.NewServer(cfg.HTTPAPI.Addr, rt, logger)
	apiSrv.Start()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = apiSrv.Shutdown(shutdownCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
	cancel()

	select {
	case sig2 := <-sigCh:
		logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
		os.Exit(1)
	case <-time.After(5 * time.Second):
	}
}

func workDirDefault() string {
	if v := os.Getenv("DATA_EXTRACT_WORK_DIR"); v != "" {
		return v
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}
