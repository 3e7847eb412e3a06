package prometheus

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lk2023060901/csap/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Client 独立的指标注册表，可选通过 HTTP 暴露
type Client struct {
	config     *Config
	registry   *prometheus.Registry
	httpServer *http.Server
	listenAddr atomic.Value // string
	closed     atomic.Bool
}

// New 创建客户端，cfg 为 nil 时使用默认配置
func New(cfg *Config) (*Client, error) {
	merged, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, err
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:   merged,
		registry: prometheus.NewRegistry(),
	}
	if merged.EnableGoCollector {
		c.registry.MustRegister(collectors.NewGoCollector())
	}
	if merged.EnableProcessCollector {
		c.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return c, nil
}

// Registerer 供 csap.WithMetricsRegisterer 和 websocket.NewMetrics 使用
func (c *Client) Registerer() prometheus.Registerer {
	return c.registry
}

// Registry 获取底层 Registry
func (c *Client) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回指标 HTTP Handler
func (c *Client) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Addr 实际监听地址，Run 开始监听前为空
func (c *Client) Addr() string {
	v, _ := c.listenAddr.Load().(string)
	return v
}

// Run 在 Addr 上暴露指标直到 ctx 取消，Addr 为空时直接等待 ctx
func (c *Client) Run(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.config.Addr == "" {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())
	c.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  c.config.Timeout,
		WriteTimeout: c.config.Timeout,
	}

	ln, err := net.Listen("tcp", c.config.Addr)
	if err != nil {
		return err
	}
	c.listenAddr.Store(ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return c.httpServer.Shutdown(shutdownCtx)
	}
}

// Close 标记关闭，正在运行的 Run 随 ctx 退出
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClientClosed
	}
	return nil
}
