package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lifelink_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// DonorSearches counts donor searches by caller (search|broadcast).
	DonorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifelink_donor_searches_total",
			Help: "Total number of compatible donor searches",
		},
		[]string{"source"},
	)

	// NotificationsDispatched counts per-donor dispatch outcomes (created|existing|delivered|failed).
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifelink_notifications_dispatched_total",
			Help: "Donor notification dispatch outcomes",
		},
		[]string{"outcome"},
	)

	// DonorResponses counts accepted donor responses by decision.
	DonorResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifelink_donor_responses_total",
			Help: "Donor responses recorded by decision",
		},
		[]string{"response"},
	)

	// DuplicateResponses counts responses rejected by the uniqueness constraint.
	DuplicateResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lifelink_duplicate_responses_total",
			Help: "Donor responses rejected because one already existed",
		},
	)

	// RequisitionsExpired counts rows flipped to EXPIRED by the sweep.
	RequisitionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lifelink_requisitions_expired_total",
			Help: "Requisitions moved to EXPIRED by the background sweep",
		},
	)

	// RateLimited counts requests rejected by the per-user action limiter.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifelink_rate_limited_total",
			Help: "Requests rejected by rate limiting",
		},
		[]string{"action"},
	)

	// BackgroundTasks counts async task outcomes (ok|error|dropped).
	BackgroundTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifelink_background_tasks_total",
			Help: "Fire-and-forget task outcomes",
		},
		[]string{"task", "result"},
	)

	// InFlightRequests is the number of HTTP requests currently being served.
	InFlightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lifelink_api_in_flight_requests",
			Help: "HTTP requests currently being served",
		},
	)

	// RealtimeSubscribers tracks live websocket subscriptions per stream.
	RealtimeSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lifelink_realtime_subscribers",
			Help: "Active websocket subscriptions",
		},
		[]string{"stream"},
	)
)
