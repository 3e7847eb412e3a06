// pkg/csap/metrics.go
package csap

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 会话指标，nil 时所有方法为空操作
type Metrics struct {
	// 状态指标
	state prometheus.Gauge

	// 生命周期指标
	opens      *prometheus.CounterVec
	handshakes *prometheus.CounterVec
	closes     prometheus.Counter

	// 帧指标
	framesReceived *prometheus.CounterVec
	bytesReceived  prometheus.Counter
	framesSent     *prometheus.CounterVec
	bytesSent      prometheus.Counter
	envelopesSent  prometheus.Counter

	// 错误指标
	errors *prometheus.CounterVec
}

// NewMetrics 创建会话指标，registerer 为 nil 时不注册
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "csap",
			Subsystem: "session",
			Name:      "state",
			Help:      "Current session state (0=closed, 1=handshake, 2=ctl, 3=usrctl, 4=data)",
		}),
		opens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csap",
			Subsystem: "session",
			Name:      "opens_total",
			Help:      "Total number of open attempts by result",
		}, []string{"result"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csap",
			Subsystem: "session",
			Name:      "handshakes_total",
			Help:      "Total number of handshake replies by result",
		}, []string{"result"}),
		closes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "csap",
			Subsystem: "session",
			Name:      "transport_closes_total",
			Help:      "Total number of transport close events",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csap",
			Subsystem: "session",
			Name:      "frames_received_total",
			Help:      "Total number of frames received by phase",
		}, []string{"phase"}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "csap",
			Subsystem: "session",
			Name:      "bytes_received_total",
			Help:      "Total bytes received",
		}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csap",
			Subsystem: "session",
			Name:      "frames_sent_total",
			Help:      "Total number of frames sent by part",
		}, []string{"part"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "csap",
			Subsystem: "session",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent",
		}),
		envelopesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "csap",
			Subsystem: "session",
			Name:      "envelopes_sent_total",
			Help:      "Total number of Send calls that transmitted a control frame",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csap",
			Subsystem: "session",
			Name:      "errors_total",
			Help:      "Total number of errors by type",
		}, []string{"type"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.state,
			m.opens,
			m.handshakes,
			m.closes,
			m.framesReceived,
			m.bytesReceived,
			m.framesSent,
			m.bytesSent,
			m.envelopesSent,
			m.errors,
		)
	}

	return m
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// OnState 状态变化
func (m *Metrics) OnState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

// OnOpen 连接结果
func (m *Metrics) OnOpen(ok bool) {
	if m == nil {
		return
	}
	m.opens.WithLabelValues(resultLabel(ok)).Inc()
}

// OnHandshake 握手结果
func (m *Metrics) OnHandshake(ok bool) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(resultLabel(ok)).Inc()
}

// OnClose 传输层关闭
func (m *Metrics) OnClose() {
	if m == nil {
		return
	}
	m.closes.Inc()
}

// OnFrameReceived 收到帧
func (m *Metrics) OnFrameReceived(phase Phase, size int) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(string(phase)).Inc()
	m.bytesReceived.Add(float64(size))
}

// OnFrameSent 发送帧
func (m *Metrics) OnFrameSent(part Phase, size int) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(string(part)).Inc()
	m.bytesSent.Add(float64(size))
}

// OnEnvelopeSent 完成一次发送
func (m *Metrics) OnEnvelopeSent() {
	if m == nil {
		return
	}
	m.envelopesSent.Inc()
}

// OnError 错误
func (m *Metrics) OnError(errType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errType).Inc()
}
