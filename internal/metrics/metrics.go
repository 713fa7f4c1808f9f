package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voice-drive-lab/internal/voice"
)

// Metrics holds the cockpit server's Prometheus collectors. It implements
// voice.Observer so every session reports into the same registry.
type Metrics struct {
	registry *prometheus.Registry

	CommandsAccepted *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	Restarts         *prometheus.CounterVec
	Faults           *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
	SessionsTotal    prometheus.Counter
	InboundDropped   prometheus.Counter
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "drive"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		CommandsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_commands_accepted_total",
			Help:      "Voice commands accepted, by command",
		}, []string{"command"}),
		CommandsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_commands_rejected_total",
			Help:      "Finalized utterances ignored by the classifier, by reason",
		}, []string{"reason"}),
		Restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_restarts_total",
			Help:      "Recognition restarts scheduled, by cause",
		}, []string{"cause"}),
		Faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_faults_total",
			Help:      "Sessions stopped by a recognition fault, by kind",
		}, []string{"kind"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cockpit_sessions_active",
			Help:      "Connected cockpits",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cockpit_sessions_total",
			Help:      "Cockpit connections accepted",
		}),
		InboundDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cockpit_inbound_dropped_total",
			Help:      "Inbound cockpit messages dropped by the rate limiter",
		}),
	}
	registry.MustRegister(
		m.CommandsAccepted,
		m.CommandsRejected,
		m.Restarts,
		m.Faults,
		m.SessionsActive,
		m.SessionsTotal,
		m.InboundDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CommandAccepted(cmd voice.Command) {
	m.CommandsAccepted.WithLabelValues(cmd.String()).Inc()
}

func (m *Metrics) CommandRejected(reason voice.Reason) {
	m.CommandsRejected.WithLabelValues(reason.String()).Inc()
}

func (m *Metrics) RestartScheduled(cause string) { m.Restarts.WithLabelValues(cause).Inc() }

func (m *Metrics) Fault(kind voice.ErrorKind) { m.Faults.WithLabelValues(kind.String()).Inc() }

func (m *Metrics) SessionOpened() {
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

func (m *Metrics) SessionClosed() { m.SessionsActive.Dec() }

func (m *Metrics) MessageDropped() { m.InboundDropped.Inc() }
