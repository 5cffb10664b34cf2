package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/burnroom/internal/api/middleware"
	"github.com/eldtechnologies/burnroom/internal/chat"
	"github.com/eldtechnologies/burnroom/internal/config"
	"github.com/eldtechnologies/burnroom/internal/handlers"
	"github.com/eldtechnologies/burnroom/internal/realtime"
)

// Deps are the services the router wires into its handlers.
type Deps struct {
	Chat  *chat.Service
	Store handlers.Pinger
	Bus   realtime.Broadcaster

	// Redis backs the rate limiter. Rate limiting is off when nil.
	Redis *redis.Client
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, cfg *config.Config, deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024)) // 16KB: a full message with every rune \u-escaped
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	if deps.Redis != nil {
		limiter := middleware.NewRateLimiter(deps.Redis, logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
		r.Use(limiter.Middleware)
	} else {
		logger.Warn().Msg("rate limiting disabled: no redis client")
	}

	// Credentials (the token cookie) only cross origins that are named explicitly
	anyOrigin := allowsAnyOrigin(cfg.AllowedOrigins)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.TokenHeader},
		ExposedHeaders:   []string{middleware.TokenHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: !anyOrigin,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(deps.Chat, deps.Store, deps.Bus, logger, originChecker(cfg.AllowedOrigins))
	auth := middleware.NewAuthMiddleware(deps.Chat, deps.Chat.RoomTTL(), !cfg.IsDevelopment(), logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no membership required)
	r.Get("/api", h.Root)
	r.Get("/health", h.Health)
	r.Post("/room/create", h.CreateRoom)

	// Room-scoped routes; the first request without a token joins the room
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireMember)

		r.Post("/room/join", h.JoinRoom)
		r.Get("/room/ttl", h.RoomTTL)
		r.Delete("/room", h.DestroyRoom)
		r.Post("/messages", h.PostMessage)
		r.Get("/messages", h.GetMessages)
		r.Get("/realtime", h.Stream)
	})

	return r
}

func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// originChecker returns the websocket origin policy for the allowed origins.
// Non-browser clients send no Origin header and are always accepted.
func originChecker(allowed []string) func(r *http.Request) bool {
	if allowsAnyOrigin(allowed) {
		return func(r *http.Request) bool { return true }
	}

	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[origin] || u.Host == r.Host
	}
}
