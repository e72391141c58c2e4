package danmaku

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/omochice/live-danmaku/pkg/protocol"
)

// Metrics are the Prometheus collectors updated by sessions and supervisors.
// A nil *Metrics records nothing.
type Metrics struct {
	sessions        *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	timeouts        *prometheus.CounterVec
	transportErrors *prometheus.CounterVec
	decodeErrors    *prometheus.CounterVec
	packets         *prometheus.CounterVec
	online          *prometheus.GaugeVec
}

// NewMetrics registers the collectors with reg. A nil reg selects
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "danmaku",
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &Metrics{
		sessions:        counter("sessions_total", "Sessions created.", "room"),
		reconnects:      counter("reconnects_total", "Sessions created to replace a closed one.", "room"),
		timeouts:        counter("timeouts_total", "Sessions closed for missing the liveness window.", "room"),
		transportErrors: counter("transport_errors_total", "Sessions ended by a transport error.", "room"),
		decodeErrors:    counter("decode_errors_total", "Inbound buffers that failed to decode.", "room"),
		packets:         counter("packets_total", "Decoded packets by kind.", "room", "kind"),
		online: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "danmaku",
			Name:      "online",
			Help:      "Last viewer count reported by the room.",
		}, []string{"room"}),
	}
}

func room(id int64) string { return strconv.FormatInt(id, 10) }

func (m *Metrics) sessionStarted(roomID int64, reconnect bool) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(room(roomID)).Inc()
	if reconnect {
		m.reconnects.WithLabelValues(room(roomID)).Inc()
	}
}

func (m *Metrics) timedOut(roomID int64) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(room(roomID)).Inc()
}

func (m *Metrics) transportFailed(roomID int64) {
	if m == nil {
		return
	}
	m.transportErrors.WithLabelValues(room(roomID)).Inc()
}

func (m *Metrics) decodeFailed(roomID int64) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(room(roomID)).Inc()
}

func (m *Metrics) packet(roomID int64, kind protocol.Kind) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(room(roomID), kind.String()).Inc()
}

func (m *Metrics) setOnline(roomID int64, online int) {
	if m == nil {
		return
	}
	m.online.WithLabelValues(room(roomID)).Set(float64(online))
}
