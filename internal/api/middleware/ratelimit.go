package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/burnroom/internal/metrics"
)

// Violations within an hour before an IP is blocked for a day.
const (
	autoBlockThreshold = 10
	autoBlockDuration  = 24 * time.Hour
)

// RateLimit defines limits for an endpoint.
type RateLimit struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // Block IPs that keep hitting the limits
}

// RateLimiter counts requests per route in fixed Redis-backed windows.
type RateLimiter struct {
	client    *redis.Client
	limits    map[string]RateLimit
	blocker   *IPBlocker
	logger    zerolog.Logger
	whitelist whitelist
	autoBlock bool
}

// NewRateLimiter creates a new rate limiter.
//
// Room creation and joins are limited per IP since callers hold no token
// yet. Destroying is limited per room so rotating tokens or addresses
// cannot hammer one room; the other room routes are limited per token.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		client:    client,
		blocker:   NewIPBlocker(client),
		logger:    logger,
		whitelist: parseWhitelist(cfg.Whitelist, logger),
		autoBlock: cfg.AutoBlockEnabled,
		limits: map[string]RateLimit{
			"POST /room/create": {20, time.Hour, ipKey},
			"POST /room/join":   {30, time.Minute, ipKey},
			"GET /room/ttl":     {120, time.Minute, tokenOrIPKey},
			"DELETE /room":      {10, time.Minute, roomKey},
			"POST /messages":    {60, time.Minute, tokenOrIPKey},
			"GET /messages":     {120, time.Minute, tokenOrIPKey},
			"GET /realtime":     {30, time.Minute, ipKey},
		},
	}
	return rl
}

type whitelist struct {
	ips  map[string]bool
	nets []*net.IPNet
}

func parseWhitelist(entries []string, logger zerolog.Logger) whitelist {
	wl := whitelist{ips: make(map[string]bool)}
	for _, entry := range entries {
		if !strings.Contains(entry, "/") {
			wl.ips[entry] = true
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
			continue
		}
		wl.nets = append(wl.nets, ipNet)
	}
	if len(entries) > 0 {
		logger.Info().Int("ips", len(wl.ips)).Int("cidrs", len(wl.nets)).Msg("rate limit whitelist configured")
	}
	return wl
}

func (wl whitelist) contains(ipStr string) bool {
	if wl.ips[ipStr] {
		return true
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range wl.nets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// ipKey returns rate limit key based on client IP.
func ipKey(r *http.Request) string {
	return "ratelimit:ip:" + RealIP(r)
}

// tokenOrIPKey returns a key per capability token, falling back to the IP
// for callers that have not joined yet.
func tokenOrIPKey(r *http.Request) string {
	if token := TokenFromRequest(r); token != "" {
		return "ratelimit:token:" + token
	}
	return ipKey(r)
}

// roomKey returns a key per target room, falling back to the IP when the
// request names no room (the auth middleware rejects those anyway).
func roomKey(r *http.Request) string {
	if roomID := r.URL.Query().Get("roomId"); roomID != "" {
		return "ratelimit:room:" + roomID
	}
	return ipKey(r)
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// CheckAndIncrement counts a request against key in the current window.
// Returns (allowed, remaining, resetAt). Redis errors allow the request.
func (rl *RateLimiter) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time) {
	now := time.Now()
	secs := int64(window / time.Second)
	bucket := now.Unix() / secs
	resetAt := time.Unix((bucket+1)*secs, 0)
	windowKey := fmt.Sprintf("%s:%d", key, bucket)

	pipe := rl.client.TxPipeline()
	countCmd := pipe.Incr(ctx, windowKey)
	pipe.ExpireAt(ctx, windowKey, resetAt.Add(time.Second))

	if _, err := pipe.Exec(ctx); err != nil {
		// A limiter outage must not take rooms down with it
		rl.logger.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable")
		return true, limit, resetAt
	}

	count := int(countCmd.Val())
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= limit, remaining, resetAt
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		if rl.whitelist.contains(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if rl.blocker.IsBlocked(r.Context(), ip) {
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("blocked IP attempted request")
			jsonError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		endpoint := r.Method + " " + r.URL.Path
		limit, ok := rl.limits[endpoint]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := limit.KeyFunc(r)
		allowed, remaining, resetAt := rl.CheckAndIncrement(r.Context(), key, limit.Requests, limit.Window)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retry := int(time.Until(resetAt).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retry))

			metrics.RateLimitHits.WithLabelValues(endpoint).Inc()
			rl.trackViolation(r.Context(), ip)

			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("endpoint", endpoint).
				Msg("rate limit exceeded")

			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// trackViolation counts limit hits per IP and blocks repeat offenders.
func (rl *RateLimiter) trackViolation(ctx context.Context, ip string) {
	if !rl.autoBlock {
		return
	}

	key := "violations:ip:" + ip
	pipe := rl.client.TxPipeline()
	countCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return
	}

	if count := countCmd.Val(); count >= autoBlockThreshold {
		rl.blocker.Block(ctx, ip, autoBlockDuration, "repeated rate limit violations")
		rl.logger.Warn().
			Str("type", "security").
			Str("event", "ip_auto_blocked").
			Str("ip", ip).
			Int64("violations", count).
			Msg("IP auto-blocked for repeated violations")
	}
}

// IPBlocker manages temporary IP blocks.
type IPBlocker struct {
	client *redis.Client
}

// NewIPBlocker creates a new IP blocker.
func NewIPBlocker(client *redis.Client) *IPBlocker {
	return &IPBlocker{client: client}
}

func blockKey(ip string) string {
	return "blocked:ip:" + ip
}

// IsBlocked checks if an IP is blocked. Redis errors count as not blocked.
func (b *IPBlocker) IsBlocked(ctx context.Context, ip string) bool {
	n, err := b.client.Exists(ctx, blockKey(ip)).Result()
	return err == nil && n > 0
}

// Block blocks an IP for the specified duration.
func (b *IPBlocker) Block(ctx context.Context, ip string, duration time.Duration, reason string) {
	b.client.Set(ctx, blockKey(ip), reason, duration)
}

// Unblock removes an IP block.
func (b *IPBlocker) Unblock(ctx context.Context, ip string) {
	b.client.Del(ctx, blockKey(ip))
}
