// Package server provides the HTTP transport of the receiver.
//
// Endpoints:
//
//	POST /              check or ingest, selected by the "action" form field
//	POST /receiver.php  alias of POST / for existing clients
//	GET  /healthz       liveness probe
//	GET  /metrics       Prometheus exposition
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tomasbasham/site-receiver/internal/identity"
	"github.com/tomasbasham/site-receiver/internal/logger"
	"github.com/tomasbasham/site-receiver/internal/metrics"
	"github.com/tomasbasham/site-receiver/internal/receiver"
)

// Dispatcher handles decoded receiver requests.
type Dispatcher interface {
	Dispatch(ctx context.Context, req receiver.Request) (*receiver.Outcome, error)
}

// Options configures the transport.
type Options struct {
	// MaxUploadBytes bounds the whole request body.
	MaxUploadBytes int64

	// MaxFileBytes bounds a single file part. Zero means no per-file limit.
	MaxFileBytes int64

	// PrincipalHeader carries the authenticated user when the fronting proxy
	// does not forward basic auth credentials.
	PrincipalHeader string

	// TrustProxy takes the remote party from X-Forwarded-For or X-Real-IP.
	TrustProxy bool

	// TempDir receives in-flight uploads. Defaults to os.TempDir.
	TempDir string

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server holds the dependencies shared across HTTP handlers.
type Server struct {
	dispatcher Dispatcher
	opts       Options
	logger     *slog.Logger
	mux        *http.ServeMux
}

// New creates a Server handing requests to d.
func New(d Dispatcher, opts Options) *Server {
	s := &Server{
		dispatcher: d,
		opts:       opts,
		logger:     opts.Logger,
	}
	if s.logger == nil {
		s.logger = logger.Discard()
	}
	s.logger = s.logger.With(logger.Component("server"))

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST /{$}", s.handleReceive)
	s.mux.HandleFunc("POST /receiver.php", s.handleReceive)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", opts.Metrics.Handler())

	return s
}

// Handler returns the root handler including the request id middleware.
func (s *Server) Handler() http.Handler {
	return requestID(s.mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	// Ingestion runs to completion even if the client goes away.
	ctx := context.WithoutCancel(r.Context())
	log := s.logger.With(logger.RequestID(RequestIDFrom(ctx)))

	var req receiver.Request
	if principal := s.principal(r); principal != "" {
		ctx = identity.WithPrincipal(ctx, principal)

		// The body is only read for callers that passed authentication.
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
		f, err := s.readForm(r)
		defer f.cleanup()
		if err != nil {
			log.WarnContext(ctx, "request body could not be fully read", logger.Error(err))
		}

		req = receiver.Request{
			Action:      f.action,
			RemoteParty: clientIP(r, s.opts.TrustProxy),
			Files:       f.files,
			Batch:       f.batch,
		}
	}

	out, err := s.dispatcher.Dispatch(ctx, req)
	if errors.Is(err, receiver.ErrUnauthenticated) {
		w.Header().Set("WWW-Authenticate", `Basic realm="receiver"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if err != nil {
		log.ErrorContext(ctx, "dispatch failed", logger.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := out.Encode(w); err != nil {
		log.WarnContext(ctx, "failed to write response", logger.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// principal returns the authenticated user: the basic auth user name when the
// proxy forwards credentials, otherwise the configured header.
func (s *Server) principal(r *http.Request) string {
	if user, _, ok := r.BasicAuth(); ok && user != "" {
		return user
	}
	if s.opts.PrincipalHeader == "" {
		return ""
	}
	return r.Header.Get(s.opts.PrincipalHeader)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
