package worker

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for query outcome.
const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsworker_queries_total",
			Help: "Total number of queries processed by worker dispatchers.",
		},
		[]string{"kind", "outcome"},
	)

	queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jsworker_query_duration_seconds",
			Help:    "Time spent executing a query on the engine, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jsworker_active_workers",
			Help: "Number of worker goroutines currently running a dispatcher loop.",
		},
	)

	workerPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jsworker_worker_panics_total",
			Help: "Total number of worker goroutines that terminated by panicking.",
		},
	)

	orphanedResponses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jsworker_orphaned_responses_total",
			Help: "Responses discarded because their caller stopped waiting.",
		},
	)
)

func init() {
	prometheus.MustRegister(queriesTotal)
	prometheus.MustRegister(queryDuration)
	prometheus.MustRegister(activeWorkers)
	prometheus.MustRegister(workerPanics)
	prometheus.MustRegister(orphanedResponses)

	// Pre-initialize label combinations so they appear in /metrics with value
	// 0 from startup.
	for kind := QueryStop; kind <= QueryGetValue; kind++ {
		queriesTotal.WithLabelValues(kind.String(), outcomeOK)
		queriesTotal.WithLabelValues(kind.String(), outcomeError)
	}
}

func observeQuery(kind QueryKind, r Response, seconds float64) {
	outcome := outcomeOK
	if r.Kind == ResponseError {
		outcome = outcomeError
	}
	queriesTotal.WithLabelValues(kind.String(), outcome).Inc()
	queryDuration.WithLabelValues(kind.String()).Observe(seconds)
}
