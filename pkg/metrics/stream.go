package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "whatsub"

// StreamMetrics instruments per-user delivery channels.
type StreamMetrics struct {
	active     prometheus.Gauge
	pushed     prometheus.Counter
	heartbeats prometheus.Counter
	pollErrors prometheus.Counter
}

// NewStreamMetrics registers the stream collectors. A nil registerer yields a
// no-op instance.
func NewStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	if reg == nil {
		return &StreamMetrics{}
	}
	m := &StreamMetrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active_channels",
			Help:      "Open notification delivery channels.",
		}),
		pushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "notifications_pushed_total",
			Help:      "Notifications pushed to subscribers.",
		}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "heartbeats_total",
			Help:      "Heartbeats emitted to subscribers.",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "poll_errors_total",
			Help:      "Store failures observed while polling.",
		}),
	}
	reg.MustRegister(m.active, m.pushed, m.heartbeats, m.pollErrors)
	return m
}

func (m *StreamMetrics) ChannelOpened() {
	if m == nil || m.active == nil {
		return
	}
	m.active.Inc()
}

func (m *StreamMetrics) ChannelClosed() {
	if m == nil || m.active == nil {
		return
	}
	m.active.Dec()
}

func (m *StreamMetrics) IncPushed() {
	if m == nil || m.pushed == nil {
		return
	}
	m.pushed.Inc()
}

func (m *StreamMetrics) IncHeartbeat() {
	if m == nil || m.heartbeats == nil {
		return
	}
	m.heartbeats.Inc()
}

func (m *StreamMetrics) IncPollError() {
	if m == nil || m.pollErrors == nil {
		return
	}
	m.pollErrors.Inc()
}
