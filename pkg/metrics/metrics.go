package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "octerm"

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// HubMetrics tracks the connection registry. A nil *HubMetrics is valid and
// records nothing.
type HubMetrics struct {
	ActiveConnections prometheus.Gauge
	Evictions         prometheus.Counter
	ProbeFailures     prometheus.Counter
	BroadcastSent     prometheus.Counter
	BroadcastFailures prometheus.Counter
	LogsDropped       prometheus.Counter
}

func NewHubMetrics(reg prometheus.Registerer) *HubMetrics {
	m := &HubMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "active_connections",
			Help:      "Number of registered client connections.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "evictions_total",
			Help:      "Connections evicted for failing a liveness probe.",
		}),
		ProbeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "probe_failures_total",
			Help:      "Liveness probes that could not be sent.",
		}),
		BroadcastSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "sent_total",
			Help:      "Broadcast messages delivered to a connection.",
		}),
		BroadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "failures_total",
			Help:      "Broadcast messages that failed to send to a connection.",
		}),
		LogsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "logsink",
			Name:      "dropped_total",
			Help:      "Client log lines dropped because the persistence queue was full.",
		}),
	}

	reg.MustRegister(m.ActiveConnections, m.Evictions, m.ProbeFailures, m.BroadcastSent, m.BroadcastFailures, m.LogsDropped)
	return m
}

func (m *HubMetrics) ClientInserted(int64) {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *HubMetrics) ClientRemoved(int64) {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *HubMetrics) ObserveEviction() {
	if m == nil {
		return
	}
	m.Evictions.Inc()
}

func (m *HubMetrics) ObserveProbeFailure() {
	if m == nil {
		return
	}
	m.ProbeFailures.Inc()
}

func (m *HubMetrics) ObserveBroadcast(sent, failed int) {
	if m == nil {
		return
	}
	m.BroadcastSent.Add(float64(sent))
	m.BroadcastFailures.Add(float64(failed))
}

func (m *HubMetrics) ObserveLogDropped() {
	if m == nil {
		return
	}
	m.LogsDropped.Inc()
}
