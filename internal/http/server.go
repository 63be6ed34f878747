// Package http serves the ranking JSON API.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"finrank/internal/core"
	"finrank/internal/log"
	"finrank/internal/metrics"
	"finrank/internal/middleware/ratelimit"
	"finrank/internal/middleware/security"
	"finrank/internal/services"
)

type (
	// Ranking is the part of the ranking service the API exposes.
	Ranking interface {
		ApplyEvent(ctx context.Context, ev core.ScoreEvent) (services.ApplyResult, error)
		RecalculateUserScore(ctx context.Context, userID string) (core.UserRankingState, error)
		GetUserRanking(ctx context.Context, userID string) (services.UserRanking, error)
		GetGlobalLeaderboard(ctx context.Context, page core.PageRequest) ([]core.LeaderboardEntry, error)
		GetFriendsLeaderboard(ctx context.Context, userID string, friendIDs []string) ([]core.LeaderboardEntry, error)
		GetCategoryLeaderboards(ctx context.Context, limit int) ([]services.CategoryLeaderboard, error)
		GetUserBadges(ctx context.Context, userID string) ([]services.UserBadge, error)
		GetUserAchievements(ctx context.Context, userID string) ([]core.Achievement, error)
		GetUserSeasonHistory(ctx context.Context, userID string) ([]core.SeasonStanding, error)
		CurrentSeason() core.Season
	}

	// EventPublisher queues score events for asynchronous scoring.
	EventPublisher interface {
		PublishScoreEvent(ctx context.Context, ev core.ScoreEvent) error
	}

	// Check is a readiness probe of one dependency.
	Check func(ctx context.Context) error
)

type Options struct {
	// Publisher, when set, makes POST /v1/events queue events instead of
	// applying them in the request.
	Publisher EventPublisher

	Metrics *metrics.Metrics
	Logger  *log.Logger

	// WriteRequestsPerMinute limits write endpoints per client IP (default: 120)
	WriteRequestsPerMinute int

	// RequestTimeout bounds every /v1 request (default: 10s)
	RequestTimeout time.Duration

	ReadinessChecks map[string]Check
}

type Server struct {
	http.Server
	ranking   Ranking
	publisher EventPublisher
	metrics   *metrics.Metrics
	limiter   *ratelimit.Limiter
	detector  *security.Detector
	checks    map[string]Check
}

func NewServer(addr string, ranking Ranking, opts Options) *Server {
	if opts.WriteRequestsPerMinute <= 0 {
		opts.WriteRequestsPerMinute = 120
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.FromContext(context.Background()).WithComponent(log.ComponentHTTP)
	}

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		ranking:   ranking,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		limiter:   ratelimit.NewLimiter(ratelimit.Config{Requests: opts.WriteRequestsPerMinute, Window: time.Minute}),
		detector:  security.NewDetector(),
		checks:    opts.ReadinessChecks,
	}
	s.Handler = s.routes(opts)
	return s
}

func (s *Server) routes(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(log.Middleware(opts.Logger, middleware.GetReqID))
	r.Use(log.AccessLog(s.detector.ExtractClientIP, s.observe))
	r.Use(middleware.Recoverer)
	r.Use(security.Headers(security.DefaultHeadersConfig()))
	r.Use(s.detector.Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))

		r.Get("/rankings/{userID}", s.handleGetRanking)
		r.Get("/leaderboard/global", s.handleGlobalLeaderboard)
		r.Get("/leaderboard/friends", s.handleFriendsLeaderboard)
		r.Get("/leaderboard/categories", s.handleCategoryLeaderboards)
		r.Get("/users/{userID}/badges", s.handleUserBadges)
		r.Get("/users/{userID}/achievements", s.handleUserAchievements)
		r.Get("/users/{userID}/seasons", s.handleUserSeasons)
		r.Get("/seasons/current", s.handleCurrentSeason)

		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
				log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
					log.FieldClientIP, s.detector.ExtractClientIP(r), log.FieldPath, r.URL.Path)
				writeMessage(w, r, http.StatusTooManyRequests, "rate limit exceeded, please try again later")
			}))
			r.Post("/events", s.handleIngestEvent)
			r.Post("/users/{userID}/recalculate", s.handleRecalculate)
		})
	})
	return r
}

// observe records request metrics under the matched route pattern.
func (s *Server) observe(r *http.Request, status int, d time.Duration) {
	route := "unmatched"
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			route = p
		}
	}
	s.metrics.HTTPRequest(route, r.Method, status, d)
}

// Shutdown stops the rate limiter and gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	return s.Server.Shutdown(ctx)
}
