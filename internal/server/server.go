// Package server exposes the job handler over HTTP in the shape of a
// serverless runsync endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/embano1/transcribe-worker/internal/logging"
	"github.com/embano1/transcribe-worker/internal/pipeline"
	"github.com/embano1/transcribe-worker/internal/types"
)

// Job statuses reported in responses.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

const (
	defaultMaxBodyBytes = 1 << 20
	shutdownTimeout     = 30 * time.Second
)

// JobHandler runs one raw job event.
type JobHandler interface {
	Handle(ctx context.Context, event []byte) types.Response
}

// Options configures a Server.
type Options struct {
	Addr              string
	MaxConcurrentJobs int
	MaxBodyBytes      int64
	Logger            *slog.Logger
}

// JobResponse is the body returned by /runsync.
type JobResponse struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Output types.Response `json:"output"`
}

// Server accepts jobs over HTTP.
type Server struct {
	addr     string
	maxBody  int64
	handler  JobHandler
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	logger   *slog.Logger

	mux      *http.ServeMux
	listener net.Listener
	server   *http.Server
}

// New constructs a server.
func New(handler JobHandler, opts Options) *Server {
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = 1
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	s := &Server{
		addr:    opts.Addr,
		maxBody: opts.MaxBodyBytes,
		handler: handler,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrentJobs)),
		logger:  logging.NewComponentLogger(opts.Logger, "server"),
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("/runsync", s.handleRunSync)
	s.mux.HandleFunc("/health", s.handleHealth)

	// no write timeout: a job may run for many minutes
	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run listens on the configured address and serves until ctx is done, then
// shuts down gracefully, letting running jobs finish.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	s.logger.Info("job server listening", logging.String("address", listener.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down job server", logging.Int64("jobs_in_flight", s.inFlight.Load()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleRunSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := uuid.NewString()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, http.StatusRequestEntityTooLarge, JobResponse{
				ID:     id,
				Status: StatusFailed,
				Output: types.Failure(fmt.Sprintf("Handler error: request body exceeds %d bytes", tooLarge.Limit)),
			})
			return
		}
		s.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	if err := s.sem.Acquire(r.Context(), 1); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "job cancelled while queued")
		return
	}
	s.inFlight.Add(1)
	defer func() {
		s.inFlight.Add(-1)
		s.sem.Release(1)
	}()

	ctx := pipeline.WithJobID(r.Context(), id)
	resp := s.handler.Handle(ctx, body)

	status := StatusCompleted
	if resp.Failed() {
		status = StatusFailed
	}
	s.writeJSON(w, http.StatusOK, JobResponse{ID: id, Status: status, Output: resp})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"jobs_in_flight": s.inFlight.Load(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
