package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burnroom_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burnroom_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Room lifecycle metrics
	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "burnroom_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	RoomsDestroyed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "burnroom_rooms_destroyed_total",
			Help: "Total rooms explicitly destroyed",
		},
	)

	JoinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burnroom_joins_total",
			Help: "Room join attempts by outcome",
		},
		[]string{"outcome"}, // "joined", "full", "not_found"
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "burnroom_messages_sent_total",
			Help: "Total messages persisted",
		},
	)

	TTLResyncFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "burnroom_ttl_resync_failures_total",
			Help: "Failed attempts to mirror a room's TTL onto its sibling keys",
		},
	)

	// Realtime metrics
	BroadcastFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burnroom_broadcast_failures_total",
			Help: "Failed event publishes",
		},
		[]string{"event"},
	)

	StreamConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "burnroom_stream_connections",
			Help: "Open realtime websocket connections",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burnroom_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burnroom_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burnroom_store_latency_seconds",
			Help:    "Key-value store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
		[]string{"op"},
	)
)
