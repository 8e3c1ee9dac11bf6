// Package api provides the HTTP surface of the research service: the
// research SSE stream, the bus event firehose, the cache admin endpoints,
// health, and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/scout/pkg/bus"
	"github.com/odvcencio/scout/pkg/cache"
	"github.com/odvcencio/scout/pkg/config"
	"github.com/odvcencio/scout/pkg/logging"
	"github.com/odvcencio/scout/pkg/research"
)

// Server is the Scout API server.
type Server struct {
	cfg        *config.Config
	store      *cache.Store
	orch       *research.Orchestrator
	bridge     *research.BusBridge
	eventBus   bus.MessageBus
	logger     *logging.Logger
	httpServer *http.Server
}

// ServerConfig wires the server's collaborators.
type ServerConfig struct {
	// Address to listen on; falls back to the configured bind address.
	Address string

	// Config is the loaded Scout configuration.
	Config *config.Config

	// Store is the cache store; nil when caching is disabled.
	Store *cache.Store

	// Orchestrator runs research jobs.
	Orchestrator *research.Orchestrator

	// EventBus carries progress events to external consumers (optional).
	EventBus bus.MessageBus

	// Logger receives request-level events.
	Logger *logging.Logger
}

// NewServer creates the API server.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		cfg:      cfg.Config,
		store:    cfg.Store,
		orch:     cfg.Orchestrator,
		eventBus: cfg.EventBus,
		logger:   cfg.Logger,
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	if s.eventBus != nil {
		s.bridge = research.NewBusBridge(s.eventBus, s.logger)
	}

	addr := cfg.Address
	if addr == "" && cfg.Config != nil {
		addr = cfg.Config.Server.Bind
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router(),
		ReadTimeout:  30 * time.Second,
		// Streaming responses stay open far longer than any sane write
		// timeout, so the server relies on per-request contexts instead.
		WriteTimeout: 0,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/sse", s.handleResearchStream)
	r.Get("/events", s.handleEventStream)

	r.Route("/api/cache", func(r chi.Router) {
		r.Get("/status", s.handleCacheStatus)
		r.Post("/clear", s.handleCacheClear)
		r.Post("/clear/{namespace}", s.handleCacheClearNamespace)
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info(logging.CategoryServer, "server_starting", "", map[string]any{
		"addr": s.httpServer.Addr,
	})
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if s.store != nil {
		resp["cache"] = s.store.State().String()
	} else {
		resp["cache"] = "disabled"
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
