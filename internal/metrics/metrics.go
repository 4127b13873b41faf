package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "canvas"

// Metrics holds the server's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	connections   prometheus.Gauge
	rooms         prometheus.Gauge
	events        *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	framesSent    *prometheus.CounterVec
	evictions     prometheus.Counter
	dispatchTimer *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of open client connections",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_retained",
			Help:      "Number of rooms whose history is held in memory",
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events handled, by type",
		}, []string{"type"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Inbound events dropped without broadcast, by reason",
		}, []string{"reason"}),
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Outbound frames queued to connections, by type",
		}, []string{"type"}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_evicted_total",
			Help:      "Idle rooms whose history was evicted",
		}),
		dispatchTimer: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time to handle one inbound event including fan-out",
			Buckets:   []float64{.00005, .0001, .0005, .001, .005, .01, .05},
		}, []string{"type"}),
	}
}

func (m *Metrics) SetConnections(n int) {
	if m != nil {
		m.connections.Set(float64(n))
	}
}

func (m *Metrics) SetRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) Event(eventType string, seconds float64) {
	if m != nil {
		m.events.WithLabelValues(eventType).Inc()
		m.dispatchTimer.WithLabelValues(eventType).Observe(seconds)
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) FramesSent(eventType string, n int) {
	if m != nil {
		m.framesSent.WithLabelValues(eventType).Add(float64(n))
	}
}

func (m *Metrics) Evicted(n int) {
	if m != nil {
		m.evictions.Add(float64(n))
	}
}
