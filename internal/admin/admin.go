// Package admin serves the relay's operational HTTP endpoints: health,
// Prometheus metrics and runtime trace snapshots.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tunnelmesh/pmurelay/internal/metrics"
	"github.com/tunnelmesh/pmurelay/internal/tracing"
)

// Server is the admin HTTP server. It is independent of the relay session
// and never touches its state.
type Server struct {
	mux    *http.ServeMux
	tracer *tracing.Recorder
}

// NewServer creates an admin server. tracer may be nil.
func NewServer(tracer *tracing.Recorder) *Server {
	s := &Server{mux: http.NewServeMux(), tracer: tracer}

	s.mux.HandleFunc("/health", healthHandler)
	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/debug/trace", s.traceHandler)

	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin listen: %w", err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	log.Info().Str("addr", ln.Addr().String()).Msg("admin server listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// traceHandler returns a runtime trace snapshot readable by `go tool trace`.
func (s *Server) traceHandler(w http.ResponseWriter, r *http.Request) {
	if !s.tracer.Enabled() {
		http.Error(w, "tracing not enabled (use --enable-tracing flag)", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=trace.out")

	if err := s.tracer.Snapshot(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
