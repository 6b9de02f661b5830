package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus metrics for the ChatStream service
type Metrics struct {
	// Pipeline metrics
	EventsIngested *prometheus.CounterVec
	EventsAdmitted *prometheus.CounterVec
	LiveEvents     *prometheus.GaugeVec
	TickDuration   *prometheus.HistogramVec

	// WebSocket hub metrics
	HubConnections    *prometheus.GaugeVec
	HubMessages       *prometheus.CounterVec
	BroadcastFailures *prometheus.CounterVec
}
