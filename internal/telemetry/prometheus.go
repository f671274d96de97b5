package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "matchsync"

// NewRegistry exposes the global Metrics through prometheus collectors.
// Counters and gauges are read on scrape, so nothing is double-booked.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	counters := []struct {
		name, help string
		c          *Counter
	}{
		{"events_logged_total", "Events accepted locally and enqueued", &Metrics.EventsLogged},
		{"events_rejected_total", "Events refused before enqueue", &Metrics.EventsRejected},
		{"events_inbound_total", "Server-originated events received on the realtime channel", &Metrics.EventsInbound},
		{"acks_total", "Acknowledgments received on the realtime channel", &Metrics.AcksReceived},
		{"acks_duplicate_total", "Acknowledgments reporting a duplicate", &Metrics.AcksDuplicate},
		{"ack_timeouts_total", "Acknowledgment waits that timed out", &Metrics.AckTimeouts},
		{"send_retries_total", "Submission retries", &Metrics.SendRetries},
		{"send_failures_total", "Submissions that ended failed", &Metrics.SendFailures},
		{"undos_total", "Undo operations", &Metrics.Undos},
		{"transitions_total", "Period transitions applied", &Metrics.Transitions},
		{"conflicts_total", "Cross-source conflicts raised", &Metrics.ConflictsRaised},
		{"reconnects_total", "Realtime channel reconnects", &Metrics.Reconnects},
		{"inbox_overflows_total", "Session inbox sends that blocked on a full buffer", &Metrics.InboxOverflows},
	}
	for _, c := range counters {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return float64(c.c.Value()) }))
	}

	gauges := []struct {
		name, help string
		g          *Gauge
	}{
		{"queue_depth", "Unacknowledged entries across all matches", &Metrics.QueueDepth},
		{"active_sessions", "Open match sessions", &Metrics.ActiveSessions},
		{"viewer_clients", "Connected viewer clients", &Metrics.ViewerClients},
	}
	for _, g := range gauges {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      g.name,
			Help:      g.help,
		}, func() float64 { return float64(g.g.Value()) }))
	}

	latencies := []struct {
		name, help string
		lt         *LatencyTracker
	}{
		{"ack_latency_p50_seconds", "Median submit-to-ack latency", Metrics.AckLatency},
		{"store_latency_p50_seconds", "Median event store request latency", Metrics.StoreLatency},
	}
	for _, l := range latencies {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      l.name,
			Help:      l.help,
		}, func() float64 { return l.lt.P50().Seconds() }))
	}
	return reg
}

// Handler serves the registry in the prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
