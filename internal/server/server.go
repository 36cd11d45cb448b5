// Package server exposes a read-only HTTP API over stored items, story
// threads and briefings. The pipeline is the only writer.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"storyline/internal/config"
	"storyline/internal/logger"
	"storyline/internal/persistence"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	store      persistence.Store
	timeline   Timeline
	config     config.Server
	log        *slog.Logger
}

// New creates a server over store. A nil timeline falls back to one built
// from the store's repositories.
func New(store persistence.Store, timeline Timeline, cfg config.Server) *Server {
	if timeline == nil {
		timeline = NewStoreTimeline(store)
	}
	s := &Server{
		router:   chi.NewRouter(),
		store:    store,
		timeline: timeline,
		config:   cfg,
		log:      logger.Get(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 8080
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      s.router,
		ReadTimeout:  config.Duration(cfg.ReadTimeout, 15*time.Second),
		WriteTimeout: config.Duration(cfg.WriteTimeout, 30*time.Second),
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(securityHeaders)

	if len(s.config.CORSOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORSOrigins,
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/items", s.handleListItems)
		r.Get("/items/{id}", s.handleGetItem)
		r.Get("/threads/{id}/timeline", s.handleThreadTimeline)
		r.Get("/domains", s.handleListDomains)

		r.Route("/briefings", func(r chi.Router) {
			r.Use(noCache)
			r.Get("/latest", s.handleLatestBriefing)
			r.Get("/{date}", s.handleGetBriefing)
		})
	})
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.log.Info("Starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router, for tests
func (s *Server) Router() *chi.Mux {
	return s.router
}
