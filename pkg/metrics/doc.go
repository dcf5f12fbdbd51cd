/*
Package metrics defines the Prometheus metrics exported by pqhost and the
small health registry behind the /health and /ready endpoints.

All metrics are package variables registered with the default registry at
init. Components update them directly:

	supervisor  → pqhost_worker_spawns_total, pqhost_supervision_rounds
	controller  → pqhost_connect_attempts_total{result}, pqhost_takeovers_total,
	              pqhost_heartbeat_failures_total
	rpc         → pqhost_requests_total{method,status},
	              pqhost_request_duration_seconds{method}, pqhost_pending_requests
	Collector   → pqhost_connection_state (sampled from the controller)

Handler exposes everything for scraping:

	http.Handle("/metrics", metrics.Handler())

Timer is a convenience for latency histograms:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RequestDuration, method)
*/
package metrics
