// Package server exposes the read API over the enriched database.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/velstad/handmill/internal/config"
	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/etl"
	"github.com/velstad/handmill/internal/progress"
	"github.com/velstad/handmill/internal/queries"
)

// Config holds server configuration.
type Config struct {
	Log        zerolog.Logger
	Queries    *queries.Service
	Bus        *progress.Bus
	AnalyticDB *database.DB
	Config     *config.Config
	Port       int

	// Env lets POST /api/materialize rebuild the summary tables in
	// place. Nil disables the endpoint.
	Env *etl.Env
}

// Server is the HTTP read API.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	queries *queries.Service
	bus     *progress.Bus
	db      *database.DB
	cfg     *config.Config
	env     *etl.Env
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log,
		queries: cfg.Queries,
		bus:     cfg.Bus,
		db:      cfg.AnalyticDB,
		cfg:     cfg.Config,
		env:     cfg.Env,
	}
	// Materialize runs publish through the env; point it at the same bus
	// the websocket feed reads.
	if s.env != nil && s.env.Bus == nil {
		s.env.Bus = cfg.Bus
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Api-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/api/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/api/dashboard", s.handleDashboard)
		r.Get("/api/players/top", s.handleTopPlayers)
		r.Get("/api/players/{playerID}/stats", s.handlePlayerStats)
		r.Get("/api/players/{playerID}/hands", s.handlePlayerHands)
		r.Get("/api/hands/search", s.handleHandSearch)
		r.Get("/api/hands/{handID}", s.handleHandDetail)
		r.Get("/api/compare", s.handleCompare)
		r.Get("/api/betting-vs-strength", s.handleBettingVsStrength)
		r.Get("/api/filters", s.handleFilters)
		r.Get("/api/system", s.handleSystemStats)
		r.Post("/api/materialize", s.handleMaterialize)

		r.Get("/ws/progress", s.handleProgressWS)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// lastActivity prefers the in-process bus and falls back to the snapshot
// the writer process mirrors into the analytic database.
func (s *Server) lastActivity() progress.Event {
	if s.bus != nil {
		if ev := s.bus.Last(); ev.Phase != "" {
			return ev
		}
	}
	if s.env != nil && s.env.Analytic != nil {
		if ev, err := s.env.Analytic.LastActivity(); err == nil {
			return ev
		}
	}
	return progress.Event{}
}

// authMiddleware checks the shared API key. An empty configured key
// disables the check entirely.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ""
		if s.cfg != nil {
			key = s.cfg.ReadAPIKey
		}
		if key != "" {
			got := r.Header.Get("X-Api-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
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

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
