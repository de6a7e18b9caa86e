package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rivalcast/internal/config"
	"rivalcast/internal/control"
	"rivalcast/internal/logging"
	"rivalcast/internal/queue"
	"rivalcast/internal/status"
	"rivalcast/internal/workflow"
)

// StatusReporter exposes dispatcher diagnostics for the health endpoint.
type StatusReporter interface {
	Status(ctx context.Context) workflow.StatusSummary
}

// Deps are the components the HTTP handlers call into.
type Deps struct {
	Config     *config.Config
	Store      *queue.Store
	Control    *control.Controller
	Status     *status.Aggregator
	Dispatcher StatusReporter
	Logger     *slog.Logger
}

type handlers struct {
	store      *queue.Store
	control    *control.Controller
	status     *status.Aggregator
	dispatcher StatusReporter
	logger     *slog.Logger
}

// NewRouter builds the chi router with the full middleware stack.
func NewRouter(deps Deps) http.Handler {
	logger := logging.NewComponentLogger(deps.Logger, "api-server")
	h := &handlers{
		store:      deps.Store,
		control:    deps.Control,
		status:     deps.Status,
		dispatcher: deps.Dispatcher,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestContext)
	r.Use(requestLogger(logger))

	if deps.Config.API.Metrics {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)

		r.Group(func(r chi.Router) {
			r.Use(bearerAuth(deps.Config.Paths.APIToken))

			r.Post("/orders", h.createOrder)
			r.Post("/tasks", h.enqueueTask)
			r.Post("/reconcile", h.reconcile)
			r.Post("/orders/{orderID}/analysis/start", h.startAnalysis)
			r.Post("/orders/{orderID}/analysis/stop", h.stopAnalysis)

			r.Post("/video-files/{fileID}/recording/start", h.startRecording)
			r.Post("/video-files/{fileID}/recording/stop", h.stopRecording)
			r.Post("/video-files/{fileID}/recording/reset", h.resetRecording)
			r.Post("/video-files/{fileID}/recording/heartbeat", h.recordingHeartbeat)

			r.Group(func(r chi.Router) {
				r.Use(pollRateLimit(deps.Config.API.RequestsPerMinute))
				r.Get("/orders/{orderID}/progress", h.orderProgress)
				r.Get("/orders/{orderID}/recording", h.recordingProgress)
			})
		})
	})
	return r
}

// Server owns the HTTP listener.
type Server struct {
	bind   string
	server *http.Server
	logger *slog.Logger
}

// NewServer returns nil when no bind address is configured.
func NewServer(cfg *config.Config, handler http.Handler, logger *slog.Logger) *Server {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	return &Server{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		<-ctx.Done()
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "api_listening"),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	<-errCh
	return nil
}
