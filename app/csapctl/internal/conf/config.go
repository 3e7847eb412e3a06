package conf

import (
	"fmt"

	"github.com/lk2023060901/csap/pkg/config"
	"github.com/lk2023060901/csap/pkg/csap"
	"github.com/lk2023060901/csap/pkg/logger"
	"github.com/lk2023060901/csap/pkg/prometheus"
	"github.com/lk2023060901/csap/pkg/sentry"
	"github.com/lk2023060901/csap/pkg/tracing"
	"github.com/lk2023060901/csap/pkg/transport/websocket"
	"github.com/spf13/pflag"
)

// Config csapctl 配置
type Config struct {
	Log logger.Config `mapstructure:"log"`

	// 连接目标
	Target Target `mapstructure:"target"`

	// 会话与传输层
	Session   csap.Config      `mapstructure:"session"`
	Transport websocket.Config `mapstructure:"transport"`

	// 握手完成后发送的内容
	Send Send `mapstructure:"send"`

	Tracing tracing.Config    `mapstructure:"tracing"`
	Sentry  sentry.Config     `mapstructure:"sentry"`
	Metrics prometheus.Config `mapstructure:"metrics"`
}

// Target 连接目标，凭据为空时握手中以 null 发送
type Target struct {
	Host     string    `mapstructure:"host" validate:"required"`
	Port     int       `mapstructure:"port" validate:"required,min=1,max=65535"`
	Mode     csap.Mode `mapstructure:"mode" validate:"omitempty,oneof=ws wss"`
	Path     string    `mapstructure:"path"`
	Service  string    `mapstructure:"service" validate:"required"`
	Username string    `mapstructure:"username"`
	Password string    `mapstructure:"password"`
}

// Send 发送配置
type Send struct {
	Data   string `mapstructure:"data"`
	UsrCtl string `mapstructure:"usrctl"`
	// Replies 收到多少个完整 envelope 后退出，0 表示一直运行
	Replies int `mapstructure:"replies" validate:"gte=0"`
}

// Empty 是否没有需要发送的内容
func (s Send) Empty() bool {
	return s.Data == "" && s.UsrCtl == ""
}

// OpenRequest 转换为会话的连接参数
func (t Target) OpenRequest() csap.OpenRequest {
	return csap.OpenRequest{
		Host:     t.Host,
		Port:     t.Port,
		Service:  t.Service,
		Mode:     t.Mode,
		Path:     t.Path,
		Username: optional(t.Username),
		Password: optional(t.Password),
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// Defaults 最低优先级的默认值
func Defaults() map[string]any {
	session := csap.DefaultConfig()
	transport := websocket.DefaultConfig()
	return map[string]any{
		"target.mode":                string(csap.ModePlain),
		"session.codec":              string(session.Codec),
		"session.mode":               string(session.Mode),
		"session.handshake_timeout":  "10s",
		"session.max_segment_size":   session.MaxSegmentSize,
		"session.send_burst":         session.SendBurst,
		"transport.dial_timeout":     transport.DialTimeout.String(),
		"transport.write_timeout":    transport.WriteTimeout.String(),
		"transport.max_message_size": transport.MaxMessageSize,
		"transport.message_type":     string(transport.MessageType),
		"transport.worker_pool_size": 8,
		"tracing.enabled":            false,
		"metrics.path":               "/metrics",
	}
}

// RegisterFlags 注册命令行参数，"-" 按层级映射到配置键，如 --target-host 对应 target.host
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("target-host", "", "CSAP server host")
	fs.Int("target-port", 0, "CSAP server port")
	fs.String("target-mode", "", "transport mode: ws or wss")
	fs.String("target-path", "", "websocket path")
	fs.String("target-service", "", "service name sent in the handshake")
	fs.String("target-username", "", "handshake username")
	fs.String("target-password", "", "handshake password")
	fs.String("send-data", "", "data payload sent after the handshake")
	fs.String("send-usrctl", "", "user control payload sent after the handshake")
	fs.Int("send-replies", 0, "exit after this many complete replies (0 keeps running)")
	fs.String("session-codec", "", "control frame codec: json or fixed")
	fs.String("metrics-addr", "", "serve prometheus metrics on this address")
}

// Validate 验证配置
func (c *Config) Validate() error {
	if err := config.NewValidator().Validate(c); err != nil {
		return err
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}
