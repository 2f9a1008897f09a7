// Package api provides the HTTP API server and handlers for the Podium
// ranking service.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/podiumapp/podium-server/internal/anticheat"
	"github.com/podiumapp/podium-server/internal/auth"
	"github.com/podiumapp/podium-server/internal/broadcast"
	"github.com/podiumapp/podium-server/internal/http/response"
	"github.com/podiumapp/podium-server/internal/ingest"
	"github.com/podiumapp/podium-server/internal/ranking"
	"github.com/podiumapp/podium-server/internal/ratelimit"
	"github.com/podiumapp/podium-server/internal/store"
	"github.com/podiumapp/podium-server/internal/validation"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	store       *store.Store
	gate        *ingest.Gate
	engine      *ranking.Engine
	evaluator   *anticheat.Evaluator
	tokens      *auth.TokenService
	broadcaster *broadcast.Manager
	stream      *broadcast.Handler
	validator   *validation.Validator
	edge        *ratelimit.KeyedRateLimiter
	router      *chi.Mux
	logger      *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(
	st *store.Store,
	gate *ingest.Gate,
	engine *ranking.Engine,
	evaluator *anticheat.Evaluator,
	tokens *auth.TokenService,
	broadcaster *broadcast.Manager,
	stream *broadcast.Handler,
	edge *ratelimit.KeyedRateLimiter,
	logger *slog.Logger,
) *Server {
	s := &Server{
		store:       st,
		gate:        gate,
		engine:      engine,
		evaluator:   evaluator,
		tokens:      tokens,
		broadcaster: broadcaster,
		stream:      stream,
		validator:   validation.New(),
		edge:        edge,
		router:      chi.NewRouter(),
		logger:      logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.edge != nil {
		s.router.Use(s.edgeRateLimit)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Health check.
	s.router.Get("/health", s.handleHealthCheck)

	// API v1.
	s.router.Route("/api/v1", func(r chi.Router) {
		// Auth endpoints (public).
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
		})

		// Action submission (auth).
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/actions", s.handleSubmitAction)
		})

		// Leaderboard queries. The top-N snapshot is public; the
		// around-me query needs an authenticated caller to anchor on.
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/leaderboard/around", s.handleLeaderboardAround)
		})

		// Protected user endpoints.
		r.Route("/users", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/me", s.handleGetCurrentUser)
		})

		// Live ranking delta stream (auth).
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/stream", s.handleStream)
		})

		// Admin endpoints (root only).
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Use(s.requireRoot)
			r.Get("/risk/{userID}", s.handleGetRiskProfile)
			r.Post("/unban/{userID}", s.handleUnban)
		})
	})
}

// handleHealthCheck returns server health status.
func (s *Server) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	response.Success(w, map[string]any{
		"status":       "healthy",
		"participants": s.engine.Participants(),
		"generation":   s.engine.Snapshot().Generation,
		"subscribers":  s.broadcaster.SubscriberCount(),
	}, s.logger)
}

// handleStream upgrades the request to an SSE subscription for the
// authenticated user.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.stream.ServeHTTP(w, r, getUserID(r.Context()))
}
