package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/park285/cheese-online/internal/protocol"
)

// Metrics holds the coordinator's Prometheus collectors. A nil *Metrics is valid.
type Metrics struct {
	roomsActive   prometheus.Gauge
	roomsCreated  prometheus.Counter
	gamesEnded    *prometheus.CounterVec
	eventsRelayed *prometheus.CounterVec
	poolSize      prometheus.Gauge
}

// NewMetrics registers collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		roomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chess_rooms_active",
			Help: "Rooms currently in progress.",
		}),
		roomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chess_rooms_created_total",
			Help: "Rooms created by pairing.",
		}),
		gamesEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chess_games_ended_total",
			Help: "Games ended, by terminal status.",
		}, []string{"status"}),
		eventsRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chess_events_relayed_total",
			Help: "Events sent to clients, by event type.",
		}, []string{"event"}),
		poolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chess_pairing_pool_size",
			Help: "Clients waiting for an opponent.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.roomsActive, m.roomsCreated, m.gamesEnded, m.eventsRelayed, m.poolSize)
	}
	return m
}

func (m *Metrics) roomCreated() {
	if m == nil {
		return
	}
	m.roomsCreated.Inc()
	m.roomsActive.Inc()
}

// roomRestored counts a room revived from the store as active without
// counting it as newly created.
func (m *Metrics) roomRestored() {
	if m == nil {
		return
	}
	m.roomsActive.Inc()
}

func (m *Metrics) gameEnded(status protocol.Status) {
	if m == nil {
		return
	}
	m.roomsActive.Dec()
	m.gamesEnded.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) relayed(event string) {
	if m == nil {
		return
	}
	m.eventsRelayed.WithLabelValues(event).Inc()
}

func (m *Metrics) pool(n int) {
	if m == nil {
		return
	}
	m.poolSize.Set(float64(n))
}
