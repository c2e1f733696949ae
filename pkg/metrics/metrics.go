package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Name server metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quill_nodes_total",
			Help: "Registered storage nodes by status",
		},
		[]string{"status"},
	)

	RoutesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quill_routes_total",
			Help: "Files in the routing table",
		},
	)

	Failovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quill_route_failovers_total",
			Help: "Route lookups answered by a replica",
		},
	)

	ReplicationsShipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_replications_total",
			Help: "Async replication attempts by outcome",
		},
		[]string{"outcome"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_requests_total",
			Help: "Handled requests by server role, op and status",
		},
		[]string{"role", "op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quill_request_duration_seconds",
			Help:    "Request handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"role", "op"},
	)

	// Storage server metrics
	LocksHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quill_sentence_locks_held",
			Help: "Sentence locks currently held across all files",
		},
	)

	FilesCached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quill_files_cached",
			Help: "Tokenized files resident in the cache",
		},
	)

	CommitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quill_commits_total",
			Help: "Write sessions committed",
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(RoutesTotal)
	prometheus.MustRegister(Failovers)
	prometheus.MustRegister(ReplicationsShipped)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(LocksHeld)
	prometheus.MustRegister(FilesCached)
	prometheus.MustRegister(CommitsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
