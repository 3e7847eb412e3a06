package app

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lk2023060901/csap/pkg/logger"
	"golang.org/x/sync/errgroup"
)

var ErrAppAlreadyRunning = errors.New("application is already running")

// Runner 长期运行的组件（会话、指标服务等），ctx 取消时应尽快返回
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc 函数式 Runner
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Closer 资源清理接口（Tracer、Sentry、Dialer 等）
type Closer interface {
	Close() error
}

// CloserFunc 函数式 Closer
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }

// BaseApp 运行一组 Runner，收到 SIGINT/SIGTERM 或任一 Runner 返回时整体退出
type BaseApp struct {
	opts    Options
	logger  logger.Logger
	mu      sync.Mutex
	runners []Runner
	closers []Closer

	started atomic.Bool
	closed  atomic.Bool
}

// New 创建 BaseApp
func New(opts ...Option) *BaseApp {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &BaseApp{
		opts:   o,
		logger: o.Logger.Named(o.Name),
	}
}

// Logger 应用主日志对象
func (a *BaseApp) Logger() logger.Logger {
	return a.logger
}

// Append 添加 Runner
func (a *BaseApp) Append(r ...Runner) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runners = append(a.runners, r...)
}

// AppendCloser 添加资源清理组件，退出时逆序关闭
func (a *BaseApp) AppendCloser(c ...Closer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, c...)
}

// Run 启动所有 Runner 并阻塞，返回第一个非取消类错误
// 任一 Runner 返回后其余 Runner 的 ctx 被取消
func (a *BaseApp) Run(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAppAlreadyRunning
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	info := GetInfo()
	a.logger.Info("应用启动",
		"name", info.AppName,
		"version", info.Version,
		"commit", info.GitCommit,
		"go_version", info.GoVersion,
		"id", a.opts.ID,
	)

	a.mu.Lock()
	runners := append([]Runner(nil), a.runners...)
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		r := r
		g.Go(func() error {
			err := r.Run(gctx)
			// 正常结束同样通知其他 Runner 退出，出错时由 errgroup 取消
			if err == nil {
				cancel()
			}
			return err
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		a.logger.Error("应用异常退出", "error", err)
	}

	a.Shutdown()
	return err
}

// Shutdown 逆序关闭所有 Closer，超过 StopTimeout 后放弃等待
func (a *BaseApp) Shutdown() {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}

	a.mu.Lock()
	closers := append([]Closer(nil), a.closers...)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				a.logger.Error("资源关闭失败", "error", err)
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(a.opts.StopTimeout):
		a.logger.Warn("关闭超时，强制退出")
	}

	a.logger.Info("应用已退出")
	_ = a.logger.Sync()
}
