package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/mimir-aip/mimir-insight/pkg/config"
	"github.com/mimir-aip/mimir-insight/pkg/ingest"
	"github.com/mimir-aip/mimir-insight/pkg/logging"
	"github.com/mimir-aip/mimir-insight/pkg/query"
	"github.com/mimir-aip/mimir-insight/pkg/registry"
	"github.com/mimir-aip/mimir-insight/pkg/store"
)

// Server provides HTTP API endpoints
type Server struct {
	router   *mux.Router
	handler  http.Handler
	http     *http.Server
	config   config.ServerConfig
	logger   *logging.Logger
	store    *store.Store
	datasets *DatasetHandler
}

// Services bundles the components the API exposes
type Services struct {
	Store    *store.Store
	Ingest   *ingest.Service
	Registry *registry.Registry
	Query    *query.Engine
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, maxUploadBytes int64, services Services, logger *logging.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		config:   cfg,
		logger:   logging.OrDefault(logger),
		store:    services.Store,
		datasets: NewDatasetHandler(services.Ingest, services.Registry, services.Query, maxUploadBytes, logger),
	}
	s.registerRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	s.handler = c.Handler(s.router)

	s.http = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// registerRoutes sets up the HTTP routes
func (s *Server) registerRoutes() {
	s.router.Use(s.requestIDMiddleware, s.loggingMiddleware, s.recoveryMiddleware)
	if s.config.RequestTimeout > 0 {
		s.router.Use(timeoutMiddleware(s.config.RequestTimeout))
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/datasets").Subrouter()
	api.HandleFunc("", s.datasets.List).Methods(http.MethodGet)
	api.HandleFunc("/upload", s.datasets.Upload).Methods(http.MethodPost)
	api.HandleFunc("/{id:[0-9]+}", s.datasets.Get).Methods(http.MethodGet)
	api.HandleFunc("/{id:[0-9]+}/rows", s.datasets.Rows).Methods(http.MethodGet)
	api.HandleFunc("/{id:[0-9]+}/query", s.datasets.Query).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, http.StatusNotFound, "not_found", "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "validation", "method not allowed")
	})
}

// Handler returns the root handler including CORS
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves HTTP until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Starting API server",
		logging.Component("api"),
		logging.String("port", s.config.Port))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
}
