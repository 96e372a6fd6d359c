package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the sync engine. Registered on the default registry and
// served from /metrics by cmd/till.
var (
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "till_queue_depth",
		Help: "Number of operations waiting in the request queue",
	})

	QueueInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "till_queue_in_flight",
		Help: "Number of operations currently executing",
	})

	QueueTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "till_queue_timeouts_total",
		Help: "Operations abandoned after exceeding the per-request timeout",
	})

	QueueEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "till_queue_evictions_total",
		Help: "Queued operations rejected for waiting longer than the max queue age",
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "till_cache_hits_total",
		Help: "Fetches served from the TTL cache",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "till_cache_misses_total",
		Help: "Fetches that invoked the underlying operation",
	})

	CacheCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "till_cache_coalesced_total",
		Help: "Fetches merged into an identical in-flight request",
	})

	RemoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "till_remote_requests_total",
		Help: "Calls to the POS service by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	RemoteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "till_remote_request_duration_seconds",
		Help:    "Duration of POS service calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	PollTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "till_poll_ticks_total",
		Help: "Base poller ticks that triggered a refresh",
	})

	PollSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "till_poll_skips_total",
		Help: "Base poller ticks skipped by the minimum-gap gate",
	})
)
