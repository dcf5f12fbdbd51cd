package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ConnectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pqhost_connection_state",
			Help: "Current connection state (0=Idle 1=Starting 2=AwaitingPort 3=Connecting 4=Connected 5=Disconnecting 6=Retrying 7=Exhausted 8=Disposed)",
		},
	)

	ConnectAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pqhost_connect_attempts_total",
			Help: "Total number of connect attempts by result",
		},
		[]string{"result"},
	)

	TakeoversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pqhost_takeovers_total",
			Help: "Total number of shutdown requests sent to a previously connected worker",
		},
	)

	HeartbeatFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pqhost_heartbeat_failures_total",
			Help: "Total number of failed heartbeat pings",
		},
	)

	// Supervisor metrics
	SupervisionRounds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pqhost_supervision_rounds",
			Help:    "Port polling rounds needed per supervision sequence",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
	)

	WorkerSpawnsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pqhost_worker_spawns_total",
			Help: "Total number of worker processes started",
		},
	)

	// Request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pqhost_requests_total",
			Help: "Total number of worker requests by method and status",
		},
		[]string{"method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pqhost_request_duration_seconds",
			Help:    "Worker request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	PendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pqhost_pending_requests",
			Help: "Number of requests awaiting a response",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ConnectionState)
	prometheus.MustRegister(ConnectAttemptsTotal)
	prometheus.MustRegister(TakeoversTotal)
	prometheus.MustRegister(HeartbeatFailuresTotal)
	prometheus.MustRegister(SupervisionRounds)
	prometheus.MustRegister(WorkerSpawnsTotal)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(PendingRequests)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
