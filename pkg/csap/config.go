// pkg/csap/config.go
package csap

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Config 会话配置
type Config struct {
	// Codec 控制帧编码: json 或 fixed
	Codec CodecType `mapstructure:"codec" json:"codec" yaml:"codec" validate:"omitempty,oneof=json fixed"`
	// Mode 默认传输模式: ws 或 wss（OpenRequest.Mode 可覆盖）
	Mode Mode `mapstructure:"mode" json:"mode" yaml:"mode" validate:"omitempty,oneof=ws wss"`
	// Path 连接路径（可选）
	Path string `mapstructure:"path" json:"path,omitempty" yaml:"path,omitempty"`

	// HandshakeTimeout 握手超时，0 表示不限
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" json:"handshake_timeout" yaml:"handshake_timeout"`

	// MaxSegmentSize 单次发送的数据上限 (字节)，0 表示不限
	MaxSegmentSize int `mapstructure:"max_segment_size" json:"max_segment_size" yaml:"max_segment_size" validate:"gte=0"`

	// VerifySizes 校验收到的用户控制帧/数据帧长度与控制帧声明一致
	VerifySizes bool `mapstructure:"verify_sizes" json:"verify_sizes" yaml:"verify_sizes"`

	// 发送限速（每秒 envelope 数），0 表示不限
	SendRateLimit float64 `mapstructure:"send_rate_limit" json:"send_rate_limit" yaml:"send_rate_limit" validate:"gte=0"`
	SendBurst     int     `mapstructure:"send_burst" json:"send_burst" yaml:"send_burst" validate:"gte=0"`
}

// DefaultConfig 返回默认会话配置
func DefaultConfig() *Config {
	return &Config{
		Codec:          CodecJSON,
		Mode:           ModePlain,
		MaxSegmentSize: MaxSegmentSize,
		SendBurst:      1,
	}
}

// Validate 验证配置并填充默认值
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}
	if c.Codec == "" {
		c.Codec = CodecJSON
	}
	if c.Codec != CodecJSON && c.Codec != CodecFixedWidth {
		return errors.Wrapf(ErrInvalidConfig, "unknown codec %q", c.Codec)
	}
	if c.Mode == "" {
		c.Mode = ModePlain
	}
	if !c.Mode.Valid() {
		return errors.Wrapf(ErrInvalidConfig, "unknown mode %q", c.Mode)
	}
	if c.HandshakeTimeout < 0 {
		return errors.Wrap(ErrInvalidConfig, "handshake_timeout must not be negative")
	}
	if c.MaxSegmentSize < 0 {
		return errors.Wrap(ErrInvalidConfig, "max_segment_size must not be negative")
	}
	if c.SendRateLimit < 0 {
		return errors.Wrap(ErrInvalidConfig, "send_rate_limit must not be negative")
	}
	if c.SendBurst <= 0 {
		c.SendBurst = 1
	}
	return nil
}
