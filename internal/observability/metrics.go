package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LocationUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tracking_engine", Name: "location_updates_total", Help: "Accepted actor position updates"})
	StaleDropsTotal      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tracking_engine", Name: "stale_position_drops_total", Help: "Out-of-order position updates dropped"})
	MatchesTotal         = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tracking_engine", Name: "matches_total", Help: "Match queries that returned at least one candidate"})
	MatchLatency         = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "tracking_engine", Name: "match_latency_seconds", Help: "Candidate ranking latency"})
	ActiveSessions       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "tracking_engine", Name: "active_tracking_sessions", Help: "Tracking sessions currently running"})
	FramesEmitted        = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tracking_engine", Name: "tracking_frames_total", Help: "Tracking frames emitted"})

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tracking_engine", Name: "transitions_total", Help: "Lifecycle transitions by resulting state"},
		[]string{"to"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tracking_engine", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tracking_engine",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
