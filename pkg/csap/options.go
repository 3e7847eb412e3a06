package csap

import (
	"github.com/lk2023060901/csap/pkg/logger"
	"github.com/lk2023060901/csap/pkg/pool/bytebuff"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Option 会话选项
type Option func(*Session)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCodec 指定编解码器，优先于 Config.Codec
func WithCodec(c Codec) Option {
	return func(s *Session) {
		s.codec = c
	}
}

// WithIDGenerator 设置定长控制帧的关联 ID 生成器
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *Session) {
		s.newID = gen
	}
}

// WithMetrics 使用已创建的指标
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithMetricsRegisterer 创建指标并注册到 registerer
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(s *Session) {
		s.metricsRegisterer = r
	}
}

// WithTracerProvider 设置追踪提供者
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Session) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithErrorReporter 设置错误上报
func WithErrorReporter(r ErrorReporter) Option {
	return func(s *Session) {
		s.reporter = r
	}
}

// WithHandler 注册事件处理器
func WithHandler(h Handler) Option {
	return func(s *Session) {
		s.cbs.setHandler(h)
	}
}

// WithBufferPool 设置发送缓冲池
func WithBufferPool(p *bytebuff.ValyalaPool) Option {
	return func(s *Session) {
		if p != nil {
			s.pool = p
		}
	}
}
