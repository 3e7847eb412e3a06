package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 传输层指标，nil 接收者上的方法均为空操作
type Metrics struct {
	dials             *prometheus.CounterVec
	activeConnections prometheus.Gauge
	disconnectsTotal  prometheus.Counter

	heartbeatSent     prometheus.Counter
	heartbeatTimeouts prometheus.Counter

	messagesSent     prometheus.Counter
	messagesReceived prometheus.Counter
	bytesSent        prometheus.Counter
	bytesReceived    prometheus.Counter

	errors *prometheus.CounterVec
}

// NewMetrics 创建并注册传输层指标，registerer 为 nil 时只创建不注册
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	const ns, sub = "csap", "websocket"

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help})
	}

	m := &Metrics{
		dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "dials_total",
			Help:      "Total number of dial attempts by result",
		}, []string{"result"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "active_connections",
			Help:      "Number of open connections",
		}),
		disconnectsTotal:  counter("disconnects_total", "Total number of closed connections"),
		heartbeatSent:     counter("heartbeat_sent_total", "Total number of pings sent"),
		heartbeatTimeouts: counter("heartbeat_timeouts_total", "Total number of heartbeat timeouts"),
		messagesSent:      counter("messages_sent_total", "Total number of messages sent"),
		messagesReceived:  counter("messages_received_total", "Total number of messages received"),
		bytesSent:         counter("bytes_sent_total", "Total bytes sent"),
		bytesReceived:     counter("bytes_received_total", "Total bytes received"),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "errors_total",
			Help:      "Total number of errors by type",
		}, []string{"type"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.dials,
			m.activeConnections,
			m.disconnectsTotal,
			m.heartbeatSent,
			m.heartbeatTimeouts,
			m.messagesSent,
			m.messagesReceived,
			m.bytesSent,
			m.bytesReceived,
			m.errors,
		)
	}
	return m
}

func (m *Metrics) onDial(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.dials.WithLabelValues("success").Inc()
		m.activeConnections.Inc()
		return
	}
	m.dials.WithLabelValues("failure").Inc()
}

func (m *Metrics) onDisconnect() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
	m.disconnectsTotal.Inc()
}

func (m *Metrics) onSent(size int) {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
	m.bytesSent.Add(float64(size))
}

func (m *Metrics) onReceived(size int) {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
	m.bytesReceived.Add(float64(size))
}

func (m *Metrics) onPing() {
	if m == nil {
		return
	}
	m.heartbeatSent.Inc()
}

func (m *Metrics) onHeartbeatTimeout() {
	if m == nil {
		return
	}
	m.heartbeatTimeouts.Inc()
}

func (m *Metrics) onError(errType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errType).Inc()
}
