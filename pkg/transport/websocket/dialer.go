package websocket

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/lk2023060901/csap/pkg/config"
	"github.com/lk2023060901/csap/pkg/csap"
	"github.com/lk2023060901/csap/pkg/logger"
	"github.com/panjf2000/ants/v2"
)

var _ csap.Transport = (*Dialer)(nil)

// Dialer 基于 gorilla/websocket 的 csap.Transport 实现
type Dialer struct {
	config  *Config
	dialer  *websocket.Dialer
	header  http.Header
	pool    *ants.Pool
	logger  logger.Logger
	metrics *Metrics
}

// Option Dialer 选项
type Option func(*Dialer)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(d *Dialer) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics 设置指标
func WithMetrics(m *Metrics) Option {
	return func(d *Dialer) {
		d.metrics = m
	}
}

// NewDialer 创建 Dialer，cfg 为 nil 时使用默认配置
func NewDialer(cfg *Config, opts ...Option) (*Dialer, error) {
	merged, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, err
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	tlsConfig, err := merged.TLS.BuildTLSConfig()
	if err != nil {
		return nil, err
	}

	// 读循环常驻，池满时直接报错而不是阻塞调用方
	pool, err := ants.NewPool(merged.WorkerPoolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("%w: worker pool: %v", ErrInvalidConfig, err)
	}

	header := make(http.Header, len(merged.Headers))
	for k, v := range merged.Headers {
		header.Set(k, v)
	}

	d := &Dialer{
		config: merged,
		dialer: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  merged.DialTimeout,
			ReadBufferSize:    merged.ReadBufferSize,
			WriteBufferSize:   merged.WriteBufferSize,
			EnableCompression: merged.EnableCompression,
			TLSClientConfig:   tlsConfig,
		},
		header: header,
		pool:   pool,
		logger: logger.NewNoop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("websocket")
	return d, nil
}

// Dial 建立连接，握手失败或 panic 均以 error 返回
func (d *Dialer) Dial(ctx context.Context, ep csap.Endpoint) (conn csap.Conn, err error) {
	defer func() {
		if r := recover(); r != nil {
			conn = nil
			err = fmt.Errorf("%w: panic: %v", ErrDialFailed, r)
		}
		if err != nil {
			d.metrics.onDial(false)
		}
	}()

	if err := ep.Validate(); err != nil {
		return nil, err
	}

	url := ep.URL()
	ws, resp, err := d.dialer.DialContext(ctx, url, d.header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%w: %s: %v (http %d)", ErrDialFailed, url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDialFailed, url, err)
	}
	if d.config.MaxMessageSize > 0 {
		ws.SetReadLimit(d.config.MaxMessageSize)
	}

	c := newConnection(d, ws)
	d.metrics.onDial(true)
	d.logger.Debug("连接已建立", "conn_id", c.ID(), "url", url)
	return c, nil
}

// Running 正在运行的读循环和心跳协程数
func (d *Dialer) Running() int {
	return d.pool.Running()
}

// Close 释放协程池，已建立的连接需各自关闭
func (d *Dialer) Close() {
	d.pool.Release()
}
