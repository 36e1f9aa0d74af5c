// Package statusapi serves the controller status, health and metrics over HTTP.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/oshokin/carbon-gate/internal/logger"
	"github.com/oshokin/carbon-gate/internal/status"
	"github.com/oshokin/carbon-gate/internal/version"
)

const (
	// readHeaderTimeout guards against slow clients.
	readHeaderTimeout = 5 * time.Second
	// shutdownTimeout bounds graceful shutdown.
	shutdownTimeout = 5 * time.Second
)

// NewRouter builds the HTTP routes:
//
//	GET /status   latest cycle snapshot as JSON (503 before the first cycle)
//	GET /healthz  liveness
//	GET /version  build information
//	GET /metrics  Prometheus metrics, when metricsHandler is not nil
func NewRouter(board *status.Board, metricsHandler http.Handler) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/status", statusHandler(board)).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, version.Get())
	}).Methods(http.MethodGet)

	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	return router
}

// Serve listens on address until ctx is cancelled.
func Serve(ctx context.Context, address string, router http.Handler) error {
	accessLog, err := zap.NewStdLogAt(logger.FromContext(ctx).Desugar().Named("http"), zap.DebugLevel)
	if err != nil {
		return fmt.Errorf("access log: %w", err)
	}

	server := &http.Server{
		Addr:              address,
		Handler:           handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(accessLog.Writer(), router)),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)

	go func() {
		logger.InfoKV(ctx, "Serving HTTP status", "address", address)

		errCh <- server.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err = server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}

		return nil
	}
}

func statusHandler(board *status.Board) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snapshot, ready := board.Latest()
		if !ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no cycle completed yet"})
			return
		}

		writeJSON(w, http.StatusOK, snapshot)
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	_ = json.NewEncoder(w).Encode(body)
}
