package sentry

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lk2023060901/csap/pkg/config"
	"github.com/lk2023060901/csap/pkg/csap"
)

var _ csap.ErrorReporter = (*Reporter)(nil)

// Stats 上报统计
type Stats struct {
	EventsTotal    uint64
	EventsCaptured uint64
	EventsDropped  uint64
}

// Reporter 将会话错误上报到 Sentry，使用独立 Hub 不影响全局
type Reporter struct {
	hub    *sentry.Hub
	config *Config
	closed atomic.Bool

	eventsTotal    atomic.Uint64
	eventsCaptured atomic.Uint64
	eventsDropped  atomic.Uint64
}

// Option Reporter 选项
type Option func(*sentry.ClientOptions)

// WithBeforeSend 事件发送前回调，返回 nil 丢弃事件
func WithBeforeSend(fn func(*sentry.Event, *sentry.EventHint) *sentry.Event) Option {
	return func(o *sentry.ClientOptions) {
		o.BeforeSend = fn
	}
}

// New 创建 Reporter
func New(cfg *Config, opts ...Option) (*Reporter, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	merged, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, err
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	clientOpts := merged.toClientOptions()
	for _, opt := range opts {
		opt(&clientOpts)
	}
	client, err := sentry.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDSN, err)
	}

	hub := sentry.NewHub(client, sentry.NewScope())
	hub.ConfigureScope(func(scope *sentry.Scope) {
		for k, v := range merged.Tags {
			scope.SetTag(k, v)
		}
	})

	return &Reporter{hub: hub, config: merged}, nil
}

// CaptureError 上报错误，tags 只作用于本次事件
func (r *Reporter) CaptureError(err error, tags map[string]string) {
	if err == nil || r.closed.Load() {
		return
	}
	r.eventsTotal.Add(1)

	var id *sentry.EventID
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		if code := csap.StatusCode(err); code != csap.StatusOK {
			scope.SetFingerprint([]string{"csap", fmt.Sprint(code), tags["csap.event"]})
		}
		id = r.hub.CaptureException(err)
	})

	if id != nil && *id != "" {
		r.eventsCaptured.Add(1)
	} else {
		r.eventsDropped.Add(1)
	}
}

// Flush 等待事件上报完成
func (r *Reporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

// Close 刷新后关闭，之后的 CaptureError 被忽略
func (r *Reporter) Close() error {
	if r.closed.Swap(true) {
		return ErrClientClosed
	}
	r.hub.Flush(r.config.ShutdownTimeout)
	return nil
}

// Stats 返回统计信息
func (r *Reporter) Stats() Stats {
	return Stats{
		EventsTotal:    r.eventsTotal.Load(),
		EventsCaptured: r.eventsCaptured.Load(),
		EventsDropped:  r.eventsDropped.Load(),
	}
}
