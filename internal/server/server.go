// Package server exposes the operational HTTP API for the simulation
// engine: market status, company and history queries, pending order
// inspection, manual tick triggers, and system health.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/paperbull/engine/internal/config"
	"github.com/paperbull/engine/internal/database"
	"github.com/paperbull/engine/internal/engine"
	"github.com/paperbull/engine/internal/modules/companies"
	"github.com/paperbull/engine/internal/modules/market_hours"
	"github.com/paperbull/engine/internal/modules/orders"
)

// Config carries everything the HTTP server needs.
type Config struct {
	Config      *config.Config
	Log         zerolog.Logger
	Engine      *engine.Engine
	MarketHours *market_hours.Service
	Companies   *companies.Repository
	History     *companies.HistoryRepository
	Orders      *orders.Repository
	MarketDB    *database.DB
	LedgerDB    *database.DB
	CacheDB     *database.DB
}

// Server is the HTTP server for the ops API.
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	engine         *engine.Engine
	marketHours    *market_hours.Service
	companies      *companies.Repository
	history        *companies.HistoryRepository
	orders         *orders.Repository
	marketDB       *database.DB
	ledgerDB       *database.DB
	cacheDB        *database.DB
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		cfg:         cfg.Config,
		engine:      cfg.Engine,
		marketHours: cfg.MarketHours,
		companies:   cfg.Companies,
		history:     cfg.History,
		orders:      cfg.Orders,
		marketDB:    cfg.MarketDB,
		ledgerDB:    cfg.LedgerDB,
		cacheDB:     cfg.CacheDB,
	}

	s.systemHandlers = NewSystemHandlers(cfg.Log, cfg.MarketDB, cfg.LedgerDB, cfg.CacheDB)

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/market", func(r chi.Router) {
			r.Get("/status", s.handleMarketStatus)
			r.Post("/tick", s.handleTriggerTick)
			r.Post("/news-tick", s.handleTriggerNewsTick)
		})

		r.Route("/companies", func(r chi.Router) {
			r.Get("/", s.handleListCompanies)
			r.Get("/{id}/history", s.handleCompanyHistory)
		})

		r.Get("/orders", s.handleListOrders)

		r.Route("/system", func(r chi.Router) {
			r.Get("/health", s.systemHandlers.HandleSystemHealth)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
		})
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
