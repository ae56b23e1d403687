package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchingTasksActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "trip_dispatch", Name: "matching_tasks_active", Help: "Matching tasks currently running"})
	MatchLatency        = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "trip_dispatch", Name: "match_latency_seconds", Help: "Time from matching start to driver acceptance", Buckets: prometheus.ExponentialBuckets(1, 2, 10)})
	DriversOnline       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "trip_dispatch", Name: "drivers_online", Help: "Driver app sessions currently connected"})

	OffersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "offers_total", Help: "Offers by terminal outcome"},
		[]string{"outcome"},
	)
	TripTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "trip_transitions_total", Help: "Trip status transitions applied"},
		[]string{"to"},
	)
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "events_published_total", Help: "Domain events published"},
		[]string{"event_type"},
	)
	EventPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "event_publish_errors_total", Help: "Domain event publish failures"},
		[]string{"event_type"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trip_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
