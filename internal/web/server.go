// Package web provides the HTTP surface of the import/export service:
// dispatch endpoints per entity, task polling and management, and export
// file serving.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/clustr-io/dataexchange/internal/config"
	"github.com/clustr-io/dataexchange/internal/exchange"
	"github.com/clustr-io/dataexchange/internal/task"
	appmw "github.com/clustr-io/dataexchange/internal/web/middleware"
)

// ExternalFiles fetches export files previously uploaded to external
// storage, by external file ID.
type ExternalFiles interface {
	Download(ctx context.Context, id uuid.UUID) ([]byte, error)
}

// ResultFiles serves rendered bytes of memory-located exports, keyed by
// task ID.
type ResultFiles interface {
	Get(id uuid.UUID) ([]byte, bool)
	Delete(id uuid.UUID)
}

// Server is the HTTP server for the import/export service.
type Server struct {
	dispatcher *exchange.Dispatcher
	tasks      task.Repository
	results    ResultFiles
	external   ExternalFiles
	cfg        config.ServerConfig
	exchange   config.ExchangeConfig
	log        *slog.Logger
	router     *chi.Mux
	server     *http.Server
}

// NewServer creates a new Server instance. external may be nil when object
// storage is not configured.
func NewServer(
	dispatcher *exchange.Dispatcher,
	tasks task.Repository,
	results ResultFiles,
	external ExternalFiles,
	cfg config.ServerConfig,
	exchangeCfg config.ExchangeConfig,
	log *slog.Logger,
) *Server {
	s := &Server{
		dispatcher: dispatcher,
		tasks:      tasks,
		results:    results,
		external:   external,
		cfg:        cfg,
		exchange:   exchangeCfg,
		log:        log,
		router:     chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(appmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	// The request timeout must cover the synchronous wait budget plus
	// headroom for reading the upload.
	s.router.Use(middleware.Timeout(s.exchange.SyncWaitBudget + 30*time.Second))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		// Entity operations
		r.Post("/{contentType}/import", s.handleImport)
		r.Post("/{contentType}/export", s.handleExport)
		r.Get("/{contentType}/import-template", s.handleImportTemplate)

		// Entity listing
		r.Get("/entities", s.handleListEntities)

		// Task polling and management
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/imports", s.handleListTasks(task.KindImport))
			r.Get("/imports/{taskID}", s.handleGetTask)
			r.Delete("/imports/{taskID}", s.handleDeleteTask)

			r.Get("/exports", s.handleListTasks(task.KindExport))
			r.Get("/exports/{taskID}", s.handleGetTask)
			r.Delete("/exports/{taskID}", s.handleDeleteTask)
			r.Get("/exports/{taskID}/file", s.handleExportFile)
			r.Post("/exports/{taskID}/notify", s.handleEnableNotify)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.log.Info("starting server", "addr", s.cfg.Addr())
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
