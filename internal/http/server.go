package http

import (
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"time"

	"go.uber.org/zap"

	"go-rdm-bridge-ui/internal/config"
	"go-rdm-bridge-ui/internal/connectors/backend"
	"go-rdm-bridge-ui/internal/connectors/platform"
	"go-rdm-bridge-ui/internal/view"
)

// Server wraps an HTTP server, its page sessions and route handlers.
type Server struct {
	httpServer *nethttp.Server
	sessions   *sessionStore
	metrics    *Metrics
	logger     *zap.Logger
}

// NewServer creates a configured HTTP server backed by the gateway clients
// described by cfg.
func NewServer(cfg config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := NewMetrics()

	backendClient := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout).WithRecorder(metrics)
	if !backendClient.Enabled() {
		return nil, errors.New("backend url is required (set APP_BACKEND_URL)")
	}
	platformClient := platform.NewClient(cfg.PlatformURLTemplate, cfg.PlatformTimeout, cfg.MaxArchiveBytes).WithRecorder(metrics)

	viewLogger := logger.Named("view")
	factory := func() *view.Controller {
		return view.New(backendClient, platformClient, cfg.Variant, viewLogger)
	}
	return newServer(cfg, logger, metrics, factory), nil
}

func newServer(cfg config.Config, logger *zap.Logger, metrics *Metrics, factory controllerFactory) *Server {
	sessions := newSessionStore(cfg.SessionLimit, cfg.SessionTTL, factory, metrics, logger.Named("sessions"))

	mux := nethttp.NewServeMux()
	mux.HandleFunc("/", indexHandler(sessions, logger))
	mux.HandleFunc("/favicon.ico", faviconHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/v1/metrics/app", appMetricsSummaryHandler(metrics))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(cfg))
	mux.HandleFunc("/s/", sessionRouter(sessions, cfg.MaxUploadBytes, logger))

	httpServer := &nethttp.Server{
		Addr:         cfg.ListenAddr,
		Handler:      loggingMiddleware(logger, observabilityMiddleware(metrics, mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Server{httpServer: httpServer, sessions: sessions, metrics: metrics, logger: logger}
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() nethttp.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and ends every session.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.sessions.Close()
	return err
}

func faviconHandler(w nethttp.ResponseWriter, _ *nethttp.Request) {
	w.WriteHeader(nethttp.StatusNoContent)
}

func healthHandler(w nethttp.ResponseWriter, _ *nethttp.Request) {
	writeJSON(w, nethttp.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func readyHandler(cfg config.Config) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"status":  "ready",
			"profile": cfg.Profile,
			"backend": cfg.BackendURL,
		})
	}
}

func loggingMiddleware(logger *zap.Logger, next nethttp.Handler) nethttp.Handler {
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: nethttp.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w nethttp.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
