package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons for inbound or outbound envelopes.
const (
	DropMalformed    = "malformed"
	DropNotAddressed = "not_addressed"
	DropStale        = "stale"
	DropBusy         = "busy"
	DropOutboxFull   = "outbox_full"
	DropSendFailed   = "send_failed"
)

// Metrics holds the call core counters. A nil *Metrics is valid and records
// nothing, so components can take it as an optional dependency.
type Metrics struct {
	registry *prometheus.Registry

	envelopesSent     prometheus.Counter
	envelopesReceived prometheus.Counter
	envelopesDropped  *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	resubscribes      prometheus.Counter

	framesRelayed prometheus.Counter
	relayClients  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		envelopesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "yacall",
			Name:      "envelopes_sent_total",
			Help:      "Signal envelopes published to the relay.",
		}),
		envelopesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "yacall",
			Name:      "envelopes_received_total",
			Help:      "Signal envelopes addressed to this party.",
		}),
		envelopesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yacall",
			Name:      "envelopes_dropped_total",
			Help:      "Signal envelopes dropped, by reason.",
		}, []string{"reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yacall",
			Name:      "call_transitions_total",
			Help:      "Call status transitions, by target status.",
		}, []string{"status"}),
		resubscribes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "yacall",
			Name:      "relay_resubscribes_total",
			Help:      "Relay subscriptions re-established after a loss.",
		}),
		framesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "yacall",
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Frames fanned out by the relay hub.",
		}),
		relayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "yacall",
			Subsystem: "relay",
			Name:      "clients",
			Help:      "Websocket clients attached to the relay hub.",
		}),
	}
	m.registry.MustRegister(
		m.envelopesSent,
		m.envelopesReceived,
		m.envelopesDropped,
		m.transitions,
		m.resubscribes,
		m.framesRelayed,
		m.relayClients,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry so binaries can add their own
// collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Sent() {
	if m != nil {
		m.envelopesSent.Inc()
	}
}

func (m *Metrics) Received() {
	if m != nil {
		m.envelopesReceived.Inc()
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.envelopesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Transition(status string) {
	if m != nil {
		m.transitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) Resubscribed() {
	if m != nil {
		m.resubscribes.Inc()
	}
}

func (m *Metrics) Relayed() {
	if m != nil {
		m.framesRelayed.Inc()
	}
}

func (m *Metrics) ClientAttached() {
	if m != nil {
		m.relayClients.Inc()
	}
}

func (m *Metrics) ClientDetached() {
	if m != nil {
		m.relayClients.Dec()
	}
}
