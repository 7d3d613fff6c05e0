// Package metrics exposes Prometheus instrumentation for the game server.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerMetrics instruments the connection orchestrator.
type ServerMetrics struct {
	// ConnectionsAccepted counts every accepted TCP connection.
	ConnectionsAccepted prometheus.Counter

	// ActiveConnections tracks connections currently open.
	ActiveConnections prometheus.Gauge

	// MessagesReceived counts inbound messages, partitioned by kind.
	MessagesReceived *prometheus.CounterVec

	// MessagesRejected counts inbound messages dropped as malformed or
	// out of order.
	MessagesRejected prometheus.Counter

	// Broadcasts counts outbound fan-outs, partitioned by kind.
	Broadcasts *prometheus.CounterVec

	// RoundsClosed counts rounds that reached a payout.
	RoundsClosed prometheus.Counter

	// RoundsAbandoned counts rounds discarded without a payout.
	RoundsAbandoned prometheus.Counter

	// GamesCompleted counts games that played out their full round count.
	GamesCompleted prometheus.Counter
}

// NewServerMetrics creates and registers the server metric set. Registering
// twice (tests sharing the default registry) reuses the existing collectors.
func NewServerMetrics() *ServerMetrics {
	m := &ServerMetrics{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pirates_connections_accepted_total",
			Help: "Number of TCP connections accepted.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pirates_connections_active",
			Help: "Number of TCP connections currently open.",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pirates_messages_received_total",
			Help: "Number of inbound protocol messages, by message kind.",
		}, []string{"kind"}),
		MessagesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pirates_messages_rejected_total",
			Help: "Number of inbound messages rejected as malformed or invalid.",
		}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pirates_broadcasts_total",
			Help: "Number of broadcast fan-outs sent, by message kind.",
		}, []string{"kind"}),
		RoundsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pirates_rounds_closed_total",
			Help: "Number of rounds that closed with a payout.",
		}),
		RoundsAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pirates_rounds_abandoned_total",
			Help: "Number of rounds abandoned without a payout.",
		}),
		GamesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pirates_games_completed_total",
			Help: "Number of games that reached their final round.",
		}),
	}

	m.ConnectionsAccepted = registerOnce(m.ConnectionsAccepted).(prometheus.Counter)
	m.ActiveConnections = registerOnce(m.ActiveConnections).(prometheus.Gauge)
	m.MessagesReceived = registerOnce(m.MessagesReceived).(*prometheus.CounterVec)
	m.MessagesRejected = registerOnce(m.MessagesRejected).(prometheus.Counter)
	m.Broadcasts = registerOnce(m.Broadcasts).(*prometheus.CounterVec)
	m.RoundsClosed = registerOnce(m.RoundsClosed).(prometheus.Counter)
	m.RoundsAbandoned = registerOnce(m.RoundsAbandoned).(prometheus.Counter)
	m.GamesCompleted = registerOnce(m.GamesCompleted).(prometheus.Counter)
	return m
}

// Handler returns the scrape endpoint for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Registers the collector with Prometheus. If an identical collector is
// already registered, returns the existing collector, otherwise returns the
// provided collector. Panics if the collector cannot be registered.
func registerOnce(collector prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(collector); err != nil {
		are := &prometheus.AlreadyRegisteredError{}
		if errors.As(err, are) {
			// Use the old collector from now on.
			return are.ExistingCollector
		}
		// Something else went wrong.
		panic(err)
	}
	return collector
}
