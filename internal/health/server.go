// Package health exposes the /healthz endpoint used by container orchestrators.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"llm_relay_bot/internal/logging"
)

const (
	storagePingTimeout = 2 * time.Second
	readHeaderTimeout  = 2 * time.Second
)

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusError    = "error"
)

// StorageChecker is satisfied by every storage backend.
type StorageChecker interface {
	Ping(ctx context.Context) error
}

// Server hosts the health endpoint.
type Server struct {
	server  *http.Server
	logger  *logrus.Entry
	storage StorageChecker
	backend string
}

type response struct {
	Status  string `json:"status"`
	Storage string `json:"storage,omitempty"`
}

// NewServer builds a health server for GET /healthz on port. backend labels
// the storage implementation in logs.
func NewServer(port int, storage StorageChecker, backend string, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		logger:  logger,
		storage: storage,
		backend: backend,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event":           "health_listen",
		"addr":            s.server.Addr,
		"storage_backend": s.backend,
	}).Info("starting health server")

	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server listen: %w", err)
	}

	s.logger.WithField("event", "health_stopped").Info("health server stopped")
	return nil
}

// Shutdown gracefully stops the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	resp := response{Status: statusOK}
	if err := s.checkStorage(r.Context()); err != nil {
		resp.Status = statusDegraded
		resp.Storage = statusError
		s.logger.WithFields(logging.Fields{
			"event":           "health_storage_error",
			"storage_backend": s.backend,
		}).WithError(err).Warn("storage ping failed during health check")
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithField("event", "health_write_error").WithError(err).Error("failed to encode health response")
	}
}

func (s *Server) checkStorage(ctx context.Context) error {
	if s.storage == nil {
		return errors.New("storage checker is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pingCtx, cancel := context.WithTimeout(ctx, storagePingTimeout)
	defer cancel()

	return s.storage.Ping(pingCtx)
}
