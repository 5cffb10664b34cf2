package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all configuration for the application.
type Config struct {
	Port     string
	Env      string
	LogLevel zerolog.Level
	RedisURL string

	// Rooms
	RoomTTL       time.Duration // lifetime of a new room
	RoomCapacity  int           // maximum members per room
	ChannelPrefix string        // prefix of the pub/sub channel names

	// HTTP
	AllowedOrigins []string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		LogLevel:         getLevel("LOG_LEVEL", zerolog.InfoLevel),
		RedisURL:         os.Getenv("REDIS_URL"),
		RoomTTL:          getDuration("ROOM_TTL", 30*time.Minute),
		RoomCapacity:     getInt("ROOM_CAPACITY", 2),
		ChannelPrefix:    os.Getenv("CHANNEL_PREFIX"),
		AllowedOrigins:   getList("ALLOWED_ORIGINS", []string{"*"}),
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	cfg.RateLimitWhitelist = getList("RATE_LIMIT_WHITELIST", nil)

	// In production, require redis
	if cfg.Env == "production" && cfg.RedisURL == "" {
		panic("REDIS_URL is required in production")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func getLevel(key string, defaultValue zerolog.Level) zerolog.Level {
	if level, err := zerolog.ParseLevel(os.Getenv(key)); err == nil && os.Getenv(key) != "" {
		return level
	}
	return defaultValue
}

// getList parses a comma-separated list, dropping empty entries.
func getList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
