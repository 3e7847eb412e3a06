package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lk2023060901/csap/app/csapctl/internal/client"
	"github.com/lk2023060901/csap/app/csapctl/internal/conf"
	"github.com/lk2023060901/csap/pkg/app"
	"github.com/lk2023060901/csap/pkg/csap"
	"github.com/lk2023060901/csap/pkg/logger"
	"github.com/lk2023060901/csap/pkg/prometheus"
	"github.com/lk2023060901/csap/pkg/sentry"
	"github.com/lk2023060901/csap/pkg/tracing"
	"github.com/lk2023060901/csap/pkg/transport/websocket"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "csapctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg conf.Config

	// 1. 加载配置
	conf.RegisterFlags(pflag.CommandLine)
	if err := app.LoadConfig(&cfg, app.WithDefaults(conf.Defaults())); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// 2. 初始化日志
	l, err := logger.New(&cfg.Log, logger.WithName("csapctl"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	application := app.New(
		app.WithName("csapctl"),
		app.WithLogger(l),
	)

	// 3. 初始化追踪
	tp, err := tracing.New(&cfg.Tracing)
	if err != nil {
		l.Error("failed to create tracer provider", "error", err)
		return err
	}
	application.AppendCloser(tp)

	// 4. 初始化指标
	metrics, err := prometheus.New(&cfg.Metrics)
	if err != nil {
		l.Error("failed to create metrics registry", "error", err)
		return err
	}
	application.Append(metrics)
	application.AppendCloser(metrics)

	// 5. 初始化传输层
	dialer, err := websocket.NewDialer(&cfg.Transport,
		websocket.WithLogger(l),
		websocket.WithMetrics(websocket.NewMetrics(metrics.Registerer())),
	)
	if err != nil {
		l.Error("failed to create dialer", "error", err)
		return err
	}
	application.AppendCloser(app.CloserFunc(func() error {
		dialer.Close()
		return nil
	}))

	// 6. 创建会话
	opts := []csap.Option{
		csap.WithLogger(l),
		csap.WithMetricsRegisterer(metrics.Registerer()),
		csap.WithTracerProvider(tp.TracerProvider()),
	}
	// Sentry 仅在配置了 DSN 时启用
	if cfg.Sentry.DSN != "" {
		reporter, err := sentry.New(&cfg.Sentry)
		if err != nil {
			l.Error("failed to create sentry reporter", "error", err)
			return err
		}
		application.AppendCloser(reporter)
		opts = append(opts, csap.WithErrorReporter(reporter))
	}
	session, err := csap.New(dialer, &cfg.Session, opts...)
	if err != nil {
		l.Error("failed to create session", "error", err)
		return err
	}

	// 7. 注册会话客户端
	cli := client.New(session, cfg.Target, cfg.Send, client.WithLogger(l))
	application.Append(cli)
	application.AppendCloser(session)

	// 8. 运行
	if err := application.Run(context.Background()); err != nil {
		return err
	}
	return nil
}
