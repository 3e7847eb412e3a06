package websocket

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// MessageType 出站消息的帧类型
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageBinary MessageType = "binary"
)

func (t MessageType) wsType() int {
	if t == MessageBinary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// TLSConfig wss 连接的 TLS 配置
type TLSConfig struct {
	// CAFile 额外信任的 CA 证书
	CAFile string `mapstructure:"ca_file" json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
	// CertFile/KeyFile 客户端证书（双向认证时使用）
	CertFile string `mapstructure:"cert_file" json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `mapstructure:"key_file" json:"key_file,omitempty" yaml:"key_file,omitempty"`
	// ServerName 覆盖 SNI 主机名
	ServerName string `mapstructure:"server_name" json:"server_name,omitempty" yaml:"server_name,omitempty"`
	// InsecureSkipVerify 跳过证书验证（仅用于测试）
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	// MinVersion TLS 最低版本 ("1.2" 或 "1.3")
	MinVersion string `mapstructure:"min_version" json:"min_version" yaml:"min_version"`
}

// BuildTLSConfig 构建 tls.Config，nil 接收者返回 nil
func (c *TLSConfig) BuildTLSConfig() (*tls.Config, error) {
	if c == nil {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}

	switch c.MinVersion {
	case "1.3":
		tlsConfig.MinVersion = tls.VersionTLS13
	case "1.2", "":
		tlsConfig.MinVersion = tls.VersionTLS12
	default:
		return nil, fmt.Errorf("%w: invalid min_version %s", ErrTLSConfigInvalid, c.MinVersion)
	}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read ca_file: %v", ErrTLSConfigInvalid, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in ca_file", ErrTLSConfigInvalid)
		}
		tlsConfig.RootCAs = pool
	}

	if (c.CertFile == "") != (c.KeyFile == "") {
		return nil, fmt.Errorf("%w: cert_file and key_file must be set together", ErrTLSConfigInvalid)
	}
	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load certificate: %v", ErrTLSConfigInvalid, err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// HeartbeatConfig ping 心跳配置
type HeartbeatConfig struct {
	Enable bool `mapstructure:"enable" json:"enable" yaml:"enable"`
	// Interval ping 间隔
	Interval time.Duration `mapstructure:"interval" json:"interval" yaml:"interval"`
	// Timeout 超过该时长未收到 pong 视为连接失效，0 表示只发送不检测
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

// Config 传输层配置
type Config struct {
	DialTimeout  time.Duration `mapstructure:"dial_timeout" json:"dial_timeout" yaml:"dial_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout" yaml:"write_timeout"`

	ReadBufferSize  int `mapstructure:"read_buffer_size" json:"read_buffer_size" yaml:"read_buffer_size"`
	WriteBufferSize int `mapstructure:"write_buffer_size" json:"write_buffer_size" yaml:"write_buffer_size"`
	// MaxMessageSize 单条入站消息上限，0 表示不限制
	MaxMessageSize int64 `mapstructure:"max_message_size" json:"max_message_size" yaml:"max_message_size"`

	EnableCompression bool        `mapstructure:"enable_compression" json:"enable_compression" yaml:"enable_compression"`
	MessageType       MessageType `mapstructure:"message_type" json:"message_type" yaml:"message_type" validate:"omitempty,oneof=text binary"`

	Headers map[string]string `mapstructure:"headers" json:"headers,omitempty" yaml:"headers,omitempty"`
	TLS     *TLSConfig        `mapstructure:"tls" json:"tls,omitempty" yaml:"tls,omitempty"`

	Heartbeat HeartbeatConfig `mapstructure:"heartbeat" json:"heartbeat" yaml:"heartbeat"`

	// WorkerPoolSize 读循环和心跳协程池大小，每条连接占用 1~2 个 worker
	WorkerPoolSize int `mapstructure:"worker_pool_size" json:"worker_pool_size" yaml:"worker_pool_size"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MaxMessageSize:  4 << 20,
		MessageType:     MessageText,
		Heartbeat: HeartbeatConfig{
			Interval: 30 * time.Second,
			Timeout:  90 * time.Second,
		},
		WorkerPoolSize: 64,
	}
}

// Validate 验证配置并补齐缺省值
func (c *Config) Validate() error {
	if c.DialTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	if c.ReadBufferSize < 0 || c.WriteBufferSize < 0 || c.MaxMessageSize < 0 {
		return fmt.Errorf("%w: negative size", ErrInvalidConfig)
	}
	switch c.MessageType {
	case "":
		c.MessageType = MessageText
	case MessageText, MessageBinary:
	default:
		return fmt.Errorf("%w: message_type %q", ErrInvalidConfig, c.MessageType)
	}
	if c.Heartbeat.Enable {
		if c.Heartbeat.Interval <= 0 {
			return fmt.Errorf("%w: heartbeat interval must be positive", ErrInvalidConfig)
		}
		if c.Heartbeat.Timeout != 0 && c.Heartbeat.Timeout < c.Heartbeat.Interval {
			return fmt.Errorf("%w: heartbeat timeout shorter than interval", ErrInvalidConfig)
		}
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = DefaultConfig().WorkerPoolSize
	}
	return nil
}
