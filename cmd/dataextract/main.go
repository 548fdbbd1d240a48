// Copyright 2025 James Ross
// dataextract is the thin CLI front end: process/retry/status
// subcommands that talk to jobservice/retryservice/statusservice
// directly in-process, so the CLI and HTTP API front a shared
// processing core. Grounded on cmd/job-queue-system/main.go's
// flag-parsing and config-load shape.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/dataextractd/dataextractd/internal/config"
	"github.com/dataextractd/dataextractd/internal/extract"
	"github.com/dataextractd/dataextractd/internal/jobservice"
	"github.com/dataextractd/dataextractd/internal/obs"
	"github.com/dataextractd/dataextractd/internal/output"
	"github.com/dataextractd/dataextractd/internal/persistence"
	"github.com/dataextractd/dataextractd/internal/pipeline"
	"github.com/dataextractd/dataextractd/internal/retryservice"
	"github.com/dataextractd/dataextractd/internal/statusservice"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(jobservice.ExitConfigurationError)
	}

	switch os.Args[1] {
	case "process":
		os.Exit(runProcess(os.Args[2:]))
	case "retry":
		os.Exit(runRetry(os.Args[2:]))
	case "status":
		os.Exit(runStatus(os.Args[2:]))
	default:
		usage()
		os.Exit(jobservice.ExitConfigurationError)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: dataextract <process|retry|status> [flags]")
}

type commonFlags struct {
	configPath string
	workDir    string
}

func bindCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&c.workDir, "work-dir", workDirDefault(), "Session work directory")
	return c
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

// openServices loads config, opens the persistence store, and wires the
// Job/Retry/Status services the CLI talks to directly — no queue, no
// HTTP round-trip.
func openServices(c *commonFlags) (*jobservice.Service, *retryservice.Service, *statusservice.Service, *persistence.Store, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	store, err := persistence.Open(cfg.Persistence.DatabasePath, persistence.LockRetryConfig{
		Retries: cfg.Persistence.LockRetries,
		Base:    cfg.Persistence.LockRetryBase,
		Max:     cfg.Persistence.LockRetryMax,
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open persistence store: %w", err)
	}

	registry := extract.NewRegistry()
	pipelineSvc := pipeline.NewService(registry, logger)
	jobSvc := jobservice.NewService(store, registry, pipelineSvc, cfg.Pipeline, cfg.Discovery, logger)
	retrySvc := retryservice.NewService(store, jobSvc, logger)
	statusSvc := statusservice.NewService(registry, logger)
	return jobSvc, retrySvc, statusSvc, store, nil
}

func runProcess(args []string) int {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	c := bindCommon(fs)
	var input, outputPath, format, idempotencyKey, resumeSession string
	var chunkSize int
	var recursive, incremental, force, resume, nonInteractive, includeSemantic, continueOnError bool
	fs.StringVar(&input, "input", "", "Input path, directory, or glob (required unless --resume-session is set)")
	fs.StringVar(&outputPath, "output", "", "Output directory")
	fs.StringVar(&format, "format", "json", "Output format: json|txt|csv")
	fs.IntVar(&chunkSize, "chunk-size", 512, "Words per chunk")
	fs.BoolVar(&recursive, "recursive", false, "Recurse into subdirectories")
	fs.BoolVar(&incremental, "incremental", false, "Skip files whose content hash is unchanged")
	fs.BoolVar(&force, "force", false, "Reprocess even if incremental state says unchanged")
	fs.BoolVar(&resume, "resume", false, "Resume a previous session (requires --resume-session)")
	fs.StringVar(&resumeSession, "resume-session", "", "Session id to resume")
	fs.BoolVar(&nonInteractive, "non-interactive", false, "Disable interactive prompts")
	fs.BoolVar(&includeSemantic, "include-semantic", false, "Request the semantic stage (no-op outside json)")
	fs.BoolVar(&continueOnError, "continue-on-error", true, "Keep processing after a per-file failure")
	fs.StringVar(&idempotencyKey, "idempotency-key", "", "Client-supplied idempotency token")
	_ = fs.Parse(args)

	if resume && resumeSession != "" {
		return runResumeAsRetry(c, resumeSession, nonInteractive, idempotencyKey)
	}

	if input == "" {
		fmt.Fprintln(os.Stderr, "process: --input is required")
		return jobservice.ExitConfigurationError
	}

	jobSvc, _, _, store, err := openServices(c)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return jobservice.ExitConfigurationError
	}
	defer store.Close()

	req := jobservice.ProcessJobRequest{
		InputPath:       input,
		OutputPath:      outputPath,
		OutputFormat:    output.Format(format),
		ChunkSize:       chunkSize,
		Recursive:       recursive,
		Incremental:     incremental,
		Force:           force,
		Resume:          resume,
		NonInteractive:  nonInteractive,
		IncludeSemantic: includeSemantic,
		ContinueOnError: continueOnError,
		IdempotencyKey:  idempotencyKey,
	}

	result, err := jobSvc.Run(context.Background(), req, c.workDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "process failed:", err)
		var cfgErr *jobservice.ErrConfigurationError
		if isConfigError(err, &cfgErr) {
			return jobservice.ExitConfigurationError
		}
		return jobservice.ExitFailure
	}
	printSummary(result)
	return result.ExitCode
}

// runResumeAsRetry implements `process --resume --resume-session=...` as
// sugar over the Retry Service: reopening a prior session's failed
// files is already retryservice's whole job.
func runResumeAsRetry(c *commonFlags, session string, nonInteractive bool, idempotencyKey string) int {
	_, retrySvc, _, store, err := openServices(c)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return jobservice.ExitConfigurationError
	}
	defer store.Close()

	result, err := retrySvc.Run(context.Background(), retryservice.Request{
		Session:        session,
		NonInteractive: nonInteractive,
		IdempotencyKey: idempotencyKey,
	}, c.workDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "resume failed:", err)
		return jobservice.ExitFailure
	}
	printSummary(result)
	return result.ExitCode
}

func runRetry(args []string) int {
	fs := flag.NewFlagSet("retry", flag.ExitOnError)
	c := bindCommon(fs)
	var session, file, idempotencyKey string
	var nonInteractive bool
	fs.StringVar(&session, "session", "", "Session id to retry (required)")
	fs.StringVar(&file, "file", "", "Retry only this file, relative to the session's source directory")
	fs.BoolVar(&nonInteractive, "non-interactive", false, "Disable interactive prompts")
	fs.StringVar(&idempotencyKey, "idempotency-key", "", "Client-supplied idempotency token")
	_ = fs.Parse(args)

	if session == "" {
		fmt.Fprintln(os.Stderr, "retry: --session is required")
		return jobservice.ExitConfigurationError
	}

	_, retrySvc, _, store, err := openServices(c)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return jobservice.ExitConfigurationError
	}
	defer store.Close()

	result, err := retrySvc.Run(context.Background(), retryservice.Request{
		Session:        session,
		File:           file,
		NonInteractive: nonInteractive,
		IdempotencyKey: idempotencyKey,
	}, c.workDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "retry failed:", err)
		return jobservice.ExitFailure
	}
	printSummary(result)
	return result.ExitCode
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	c := bindCommon(fs)
	var source, outputDir, format string
	var cleanup bool
	fs.StringVar(&source, "source", "", "Source directory (required)")
	fs.StringVar(&outputDir, "output", "", "Output directory (required)")
	fs.StringVar(&format, "format", "json", "Output format artifacts were written in")
	fs.BoolVar(&cleanup, "cleanup", false, "Delete orphaned outputs")
	_ = fs.Parse(args)

	if source == "" || outputDir == "" {
		fmt.Fprintln(os.Stderr, "status: --source and --output are required")
		return jobservice.ExitConfigurationError
	}

	_, _, statusSvc, store, err := openServices(c)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return jobservice.ExitConfigurationError
	}
	defer store.Close()

	report, err := statusSvc.GetStatus(context.Background(), source, outputDir, output.Format(format), cleanup, c.workDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "status failed:", err)
		return jobservice.ExitFailure
	}
	body, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(body))
	return jobservice.ExitSuccess
}

func printSummary(result jobservice.ProcessJobResult) {
	fmt.Printf("job %s: %s (%d/%d files processed, %d failed)\n",
		result.JobID, result.Status, result.ProcessedCount, result.TotalFiles, result.FailedCount)
	if result.SessionID != "" {
		fmt.Printf("session: %s\n", result.SessionID)
	}
	for _, f := range result.FailedFiles {
		fmt.Printf("  failed: %s (%s: %s)\n", f.Path, f.ErrorType, f.ErrorMessage)
	}
}

func isConfigError(err error, target **jobservice.ErrConfigurationError) bool {
	ce, ok := err.(*jobservice.ErrConfigurationError)
	if ok {
		*target = ce
	}
	return ok
}
