package metrics

import (
	"net/http"

	"github.com/dkeye/voiceroom/internal/app/negotiation"
	"github.com/dkeye/voiceroom/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the client's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	SignalMessages         *prometheus.CounterVec
	ProtocolErrors         prometheus.Counter
	UnhandledEvents        *prometheus.CounterVec
	NegotiationTransitions *prometheus.CounterVec
	NegotiationEvents      *prometheus.CounterVec
	MembershipsTotal       *prometheus.CounterVec
	RoomUsers              prometheus.Gauge
	RemoteTracks           prometheus.Gauge
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voiceroom"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SignalMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_messages_total",
			Help:      "Signaling envelopes by direction and type",
		}, []string{"direction", "type"}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Inbound envelopes dropped as malformed",
		}),
		UnhandledEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unhandled_events_total",
			Help:      "Inbound events no consumer routes",
		}, []string{"type"}),
		NegotiationTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negotiation_transitions_total",
			Help:      "Negotiation session state transitions",
		}, []string{"from", "to"}),
		NegotiationEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negotiation_events_total",
			Help:      "Offers, answers, candidates and failures",
		}, []string{"event"}),
		MembershipsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memberships_total",
			Help:      "Room joins and leaves",
		}, []string{"action"}),
		RoomUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_users",
			Help:      "Users in the current room",
		}),
		RemoteTracks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "remote_tracks",
			Help:      "Remote tracks routed to the output mix",
		}),
	}

	registry.MustRegister(
		m.SignalMessages,
		m.ProtocolErrors,
		m.UnhandledEvents,
		m.NegotiationTransitions,
		m.NegotiationEvents,
		m.MembershipsTotal,
		m.RoomUsers,
		m.RemoteTracks,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Message(direction string, kind protocol.Kind) {
	m.SignalMessages.WithLabelValues(direction, string(kind)).Inc()
}

func (m *Metrics) ProtocolError() { m.ProtocolErrors.Inc() }

func (m *Metrics) Unhandled(kind protocol.Kind) {
	m.UnhandledEvents.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) Transition(from, to negotiation.State) {
	m.NegotiationTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) Event(name string) {
	m.NegotiationEvents.WithLabelValues(name).Inc()
}

func (m *Metrics) Joined() { m.MembershipsTotal.WithLabelValues("join").Inc() }
func (m *Metrics) Left()   { m.MembershipsTotal.WithLabelValues("leave").Inc() }

func (m *Metrics) SetRoomUsers(n int)    { m.RoomUsers.Set(float64(n)) }
func (m *Metrics) SetRemoteTracks(n int) { m.RemoteTracks.Set(float64(n)) }
