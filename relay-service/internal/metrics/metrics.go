package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the relay.
type Metrics struct {
	registry          *prometheus.Registry
	connectionsTotal  prometheus.Counter
	activeConnections prometheus.Gauge
	activeRooms       prometheus.Gauge
	eventsRelayed     *prometheus.CounterVec
	eventsRejected    *prometheus.CounterVec
	framesDropped     prometheus.Counter
	clientsEvicted    prometheus.Counter
	authFailures      prometheus.Counter
}

// New creates and registers the relay metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_connections_total",
			Help: "Total number of accepted websocket connections",
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_connections",
			Help: "Number of connections registered with the hub",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_rooms",
			Help: "Number of rooms with at least one member",
		}),
		eventsRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_relayed_total",
			Help: "Events forwarded into a room, by event name",
		}, []string{"event"}),
		eventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_rejected_total",
			Help: "Events refused at the relay, by error code",
		}, []string{"code"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_dropped_total",
			Help: "Frames superseded before delivery to a slow client",
		}),
		clientsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_clients_evicted_total",
			Help: "Clients disconnected because their send queue was full",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_auth_failures_total",
			Help: "Websocket upgrades refused for a missing or invalid token",
		}),
	}

	registry.MustRegister(
		m.connectionsTotal,
		m.activeConnections,
		m.activeRooms,
		m.eventsRelayed,
		m.eventsRejected,
		m.framesDropped,
		m.clientsEvicted,
		m.authFailures,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) IncConnections() { m.connectionsTotal.Inc() }

func (m *Metrics) IncAuthFailures() { m.authFailures.Inc() }

// EventRelayed counts one forwarded event.
func (m *Metrics) EventRelayed(event string) {
	m.eventsRelayed.WithLabelValues(event).Inc()
}

// EventRejected counts one refused event by its wire error code.
func (m *Metrics) EventRejected(code string) {
	m.eventsRejected.WithLabelValues(code).Inc()
}

// FrameDropped implements hub.Recorder.
func (m *Metrics) FrameDropped() { m.framesDropped.Inc() }

// ClientEvicted implements hub.Recorder.
func (m *Metrics) ClientEvicted() { m.clientsEvicted.Inc() }

// SetConnections sets the active connection gauge.
func (m *Metrics) SetConnections(n int) { m.activeConnections.Set(float64(n)) }

// SetRooms sets the active room gauge.
func (m *Metrics) SetRooms(n int) { m.activeRooms.Set(float64(n)) }

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		inner.ServeHTTP(w, r)
	})
}
