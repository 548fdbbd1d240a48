// Copyright 2025 James Ross
// Package httpapi is the thin, unauthenticated HTTP surface over
// internal/runtime.Runtime. Grounded on
// internal/calendar-view and internal/policy-simulator's handler shape
// (gorilla/mux route registration, writeJSONResponse/writeErrorResponse
// helpers) and internal/admin-api/server.go's graceful shutdown. JWT
// auth, rate limiting, audit logging, and CORS/TLS are left to an
// external collaborator and dropped here; the seam for a future auth
// middleware is marked below.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dataextractd/dataextractd/internal/discovery"
	"github.com/dataextractd/dataextractd/internal/jobservice"
	"github.com/dataextractd/dataextractd/internal/output"
	"github.com/dataextractd/dataextractd/internal/persistence"
	"github.com/dataextractd/dataextractd/internal/queue"
	"github.com/dataextractd/dataextractd/internal/retryservice"
	"github.com/dataextractd/dataextractd/internal/runtime"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server is the HTTP front end over one runtime.Runtime.
type Server struct {
	rt  *runtime.Runtime
	log *zap.Logger
	srv *http.Server
}

// NewServer builds the mux router and wraps it in an *http.Server
// listening on addr. Call Start to begin serving.
func NewServer(addr string, rt *runtime.Runtime, log *zap.Logger) *Server {
	s := &Server{rt: rt, log: log}
	r := mux.NewRouter()
	// TODO: an auth middleware (API key + signed session cookie) would
	// wrap r here; out of scope for this substrate.
	r.HandleFunc("/api/v1/jobs", s.handleCreateJob).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/retry", s.handleRetry).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/status", s.handleStatus).Methods(http.MethodGet)
	s.srv = &http.Server{Addr: addr, Handler: r}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("httpapi: server error", zap.Error(err))
		}
	}()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// createJobRequest is the wire shape for POST /api/v1/jobs, matching
// jobservice.ProcessJobRequest field-for-field.
type createJobRequest struct {
	InputPath       string        `json:"input_path"`
	OutputPath      string        `json:"output_path,omitempty"`
	OutputFormat    output.Format `json:"output_format"`
	ChunkSize       int           `json:"chunk_size"`
	Recursive       bool          `json:"recursive"`
	Incremental     bool          `json:"incremental"`
	Force           bool          `json:"force"`
	Resume          bool          `json:"resume"`
	ResumeSession   string        `json:"resume_session,omitempty"`
	Preset          string        `json:"preset,omitempty"`
	NonInteractive  bool          `json:"non_interactive"`
	IncludeSemantic bool          `json:"include_semantic"`
	ContinueOnError bool          `json:"continue_on_error"`
	SourceFiles     []string      `json:"source_files,omitempty"`
	IdempotencyKey  string        `json:"idempotency_key,omitempty"`
}

func (req createJobRequest) toDomain() jobservice.ProcessJobRequest {
	return jobservice.ProcessJobRequest{
		InputPath:       req.InputPath,
		OutputPath:      req.OutputPath,
		OutputFormat:    req.OutputFormat,
		ChunkSize:       req.ChunkSize,
		Recursive:       req.Recursive,
		Incremental:     req.Incremental,
		Force:           req.Force,
		Resume:          req.Resume,
		ResumeSession:   req.ResumeSession,
		Preset:          req.Preset,
		NonInteractive:  req.NonInteractive,
		IncludeSemantic: req.IncludeSemantic,
		ContinueOnError: req.ContinueOnError,
		SourceFiles:     req.SourceFiles,
		IdempotencyKey:  req.IdempotencyKey,
	}
}

// handleCreateJob implements POST /api/v1/jobs: enqueues a process
// request and returns its job id immediately; callers learn the
// outcome via a status poll rather than blocking on the HTTP response.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var wire createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: decode request: %w", err))
		return
	}

	// resume/resume_session is sugar over the Retry Service: reopening a
	// prior session's failed files is already that service's whole job,
	// so a process request carrying them is translated rather than
	// duplicating session/failed-file resolution here.
	if wire.Resume && wire.ResumeSession != "" {
		jobID, err := s.rt.EnqueueRetry(r.Context(), retryservice.Request{
			Session:        wire.ResumeSession,
			NonInteractive: wire.NonInteractive,
			IdempotencyKey: wire.IdempotencyKey,
		})
		if err != nil {
			if errors.Is(err, queue.ErrQueueFull) {
				s.writeError(w, http.StatusServiceUnavailable, err)
				return
			}
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "queued"})
		return
	}

	req := wire.toDomain()
	req.Normalize()

	jobID, err := s.rt.EnqueueProcess(r.Context(), req)
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			s.writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		var cfgErr *jobservice.ErrConfigurationError
		if errors.As(err, &cfgErr) {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		if errors.Is(err, discovery.ErrNoSupportedFiles) {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "queued"})
}

// handleGetJob implements GET /api/v1/jobs/{id}: a status poll over a
// previously enqueued or synchronously submitted job.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.rt.Store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, persistence.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if job.ResultPayload == "" {
		s.writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID, "status": string(job.Status)})
		return
	}
	var result jobservice.ProcessJobResult
	if err := json.Unmarshal([]byte(job.ResultPayload), &result); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("httpapi: unmarshal result_payload: %w", err))
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type retryRequestWire struct {
	Session        string `json:"session"`
	File           string `json:"file,omitempty"`
	NonInteractive bool   `json:"non_interactive"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// handleRetry implements POST /api/v1/retry.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	var wire retryRequestWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: decode request: %w", err))
		return
	}
	req := retryservice.Request{
		Session:        wire.Session,
		File:           wire.File,
		NonInteractive: wire.NonInteractive,
		IdempotencyKey: wire.IdempotencyKey,
	}
	jobID, err := s.rt.EnqueueRetry(r.Context(), req)
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			s.writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "queued"})
}

// handleStatus implements GET /api/v1/status?source_dir=...&output_dir=...&format=json&cleanup=false.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sourceDir := q.Get("source_dir")
	outputDir := q.Get("output_dir")
	if sourceDir == "" || outputDir == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: source_dir and output_dir are required"))
		return
	}
	format := output.Format(q.Get("format"))
	if format == "" {
		format = output.FormatJSON
	}
	cleanup := q.Get("cleanup") == "true"

	report, err := s.rt.StatusService.GetStatus(r.Context(), sourceDir, outputDir, format, cleanup, s.rt.WorkDir())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
