// Package health serves the ambient /healthz and /metrics endpoints,
// grounded on the teacher's internal/infrastructure/metrics.Server (a
// promhttp.Handler wrapped in a plain http.Server with graceful shutdown).
// This is not the order-domain HTTP façade — that surface is out of scope
// (spec §1) — it only exposes liveness and the Prometheus exporter.
package health

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mockexchange/internal/core"
)

// Server exposes /healthz and /metrics over HTTP.
type Server struct {
	addr    string
	logger  core.Logger
	srv     *http.Server
	isReady func() bool
}

// NewServer builds a health/metrics Server listening on addr. isReady
// reports whether the engine is ready to serve (e.g. storage reachable).
func NewServer(addr string, logger core.Logger, isReady func() bool) *Server {
	return &Server{addr: addr, logger: logger, isReady: isReady}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if s.isReady != nil && !s.isReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "not ready")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	s.srv = &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		if s.logger != nil {
			s.logger.Info("starting health/metrics server", "addr", s.addr)
		}
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("health/metrics server failed", "error", err)
			}
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if s.logger != nil {
		s.logger.Info("stopping health/metrics server")
	}
	return s.srv.Shutdown(ctx)
}
