// Package opsserver exposes the operational HTTP surface every process
// carries: health, readiness and Prometheus metrics.
package opsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/dealscout/dealscout/internal/middleware"
)

// Pinger checks one dependency; readiness fails when any pinger errors.
type Pinger func(ctx context.Context) error

// Server is the ops endpoint listener.
type Server struct {
	srv     *http.Server
	pingers map[string]Pinger
}

// New builds the ops server on addr. pingers keys name the dependency in the
// readiness payload ("postgres", "redis").
func New(addr string, pingers map[string]Pinger) *Server {
	s := &Server{pingers: pingers}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	r.HandleFunc("/readyz", s.readyHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())

	handler := middleware.WithTraceLogger(zap.L())(r)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(handler, "ops"),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then drains for up to 5 seconds.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("opsserver: listen: %w", err)
		}
	}()
	zap.L().Info("ops server running", zap.String("addr", s.srv.Addr))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("opsserver: shutdown: %w", err)
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := map[string]string{}
	ready := true
	for name, ping := range s.pingers {
		if err := ping(ctx); err != nil {
			middleware.LoggerFromRequest(r, zap.L()).Warn("readiness check failed",
				zap.String("dependency", name), zap.Error(err))
			status[name] = err.Error()
			ready = false
			continue
		}
		status[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
