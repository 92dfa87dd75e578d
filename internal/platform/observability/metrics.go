package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EpisodesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_episodes_processed_total",
		Help: "The total number of episodes processed, by outcome",
	}, []string{"status"})

	OracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_oracle_calls_total",
		Help: "The total number of oracle proposals, by outcome",
	}, []string{"outcome"})

	OracleRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_oracle_request_duration_seconds",
		Help:    "Duration of oracle LLM requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	ValidationAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_validation_adjustments_total",
		Help: "The total number of adjustments made while validating proposals, by rule",
	}, []string{"rule"})

	Entities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "market_entities",
		Help: "Number of entities in the market",
	})

	CursorEpisode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "market_cursor_episode",
		Help: "Last committed episode",
	})

	EpisodeDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "market_episode_duration_seconds",
		Help:    "Duration in seconds to process one episode",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
	})

	ConsistencyViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_consistency_violations_total",
		Help: "The total number of entities whose stored value diverged from their history",
	})

	ContentFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_content_fetch_total",
		Help: "The total number of episode content fetches, by status",
	}, []string{"status"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_notifications_total",
		Help: "The total number of operator notifications, by status",
	}, []string{"status"})

	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_api_requests_total",
		Help: "Total number of query API requests",
	}, []string{"route", "status"})

	APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_api_latency_seconds",
		Help:    "Latency of query API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Label values shared by the counters above.
const (
	StatusCommitted        = "committed"
	StatusFailed           = "failed"
	StatusAlreadyProcessed = "already_processed"
	StatusOK               = "ok"
	StatusNotFound         = "not_found"
	StatusError            = "error"
	StatusInsufficient     = "insufficient"

	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeFallback = "fallback"
)
