package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/burnroom/internal/api"
	"github.com/eldtechnologies/burnroom/internal/chat"
	"github.com/eldtechnologies/burnroom/internal/config"
	"github.com/eldtechnologies/burnroom/internal/realtime"
	"github.com/eldtechnologies/burnroom/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
	logger = logger.Level(cfg.LogLevel)

	ctx := context.Background()

	var (
		kv          store.KV
		bus         realtime.Broadcaster
		redisClient *redis.Client
	)

	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")

		redisClient = redisStore.Client()
		kv = redisStore
		bus = realtime.NewRedisBroadcaster(redisClient, cfg.ChannelPrefix, logger)
	} else {
		logger.Warn().Msg("REDIS_URL not set: rooms live in process memory and vanish on restart")
		hub := realtime.NewHub()
		defer hub.Close()
		kv = store.NewMemoryStore()
		bus = hub
	}

	svc := chat.NewService(kv, bus, logger, chat.Options{
		RoomTTL:  cfg.RoomTTL,
		Capacity: cfg.RoomCapacity,
	})

	router := api.NewRouter(logger, cfg, api.Deps{
		Chat:  svc,
		Store: kv,
		Bus:   bus,
		Redis: redisClient,
	})

	// WriteTimeout stays unset: realtime streams are long-lived and
	// manage their own write deadlines.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Dur("room_ttl", cfg.RoomTTL).
			Int("room_capacity", cfg.RoomCapacity).
			Msg("starting burnroom server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
