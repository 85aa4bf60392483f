package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/jsworker/internal/jsengine"
	"github.com/seantiz/jsworker/internal/runner"
	"github.com/seantiz/jsworker/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Server exposes one runner's worker over HTTP.
type Server struct {
	router   *chi.Mux
	store    store.Store
	registry *jsengine.Registry
	runner   *runner.Runner
	logger   *slog.Logger
	addr     string
}

// NewServer builds the router around run. The registry only feeds the
// engine listing.
func NewServer(addr string, s store.Store, reg *jsengine.Registry, run *runner.Runner, logger *slog.Logger) *Server {
	srv := &Server{
		router:   chi.NewRouter(),
		store:    s,
		registry: reg,
		runner:   run,
		logger:   logger,
		addr:     addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/v1/engines", s.handleListEngines)
	s.router.Get("/v1/stats", s.handleGetStats)
	s.router.Get("/v1/console", s.handleStreamConsole)

	s.router.Post("/v1/eval", s.handleEval)
	s.router.Post("/v1/functions/{name}", s.handleCallGlobalFunction)
	s.router.Get("/v1/values/{name}", s.handleGetGlobalValue)

	s.router.Route("/v1/modules", func(r chi.Router) {
		r.Post("/", s.handleLoadModule)
		r.Get("/", s.handleListModules)
		r.Get("/{id}", s.handleGetModule)
		r.Post("/{id}/entrypoint", s.handleCallEntrypoint)
		r.Post("/{id}/functions/{name}", s.handleCallModuleFunction)
		r.Get("/{id}/values/{name}", s.handleGetModuleValue)
	})

	s.router.Route("/v1/executions", func(r chi.Router) {
		r.Get("/", s.handleListExecutions)
		r.Get("/{id}", s.handleGetExecution)
		r.Get("/{id}/console", s.handleGetConsoleHistory)
	})
}

// Router returns the underlying router, mainly for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP until ctx ends. Request contexts derive from ctx, so ending
// it closes console streams and abandons pending worker calls before
// Shutdown waits for the handlers to return.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", s.addr, "engine", s.runner.Engine(), "worker_id", s.runner.WorkerID())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("api draining", "timeout", shutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}

	s.logger.Info("api stopped")
	return nil
}

// loggingMiddleware logs every request. Probe endpoints log at debug level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
