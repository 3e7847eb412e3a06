// pkg/csap/codec.go
package csap

import (
	"github.com/cockroachdb/errors"
)

// Codec 控制帧编解码策略
type Codec interface {
	// Name 编解码器名称（用于日志）
	Name() string
	// EncodeControl 根据用户控制帧和待发送数据生成控制帧
	EncodeControl(usrCtl, data []byte) ([]byte, error)
	// DecodeControl 解析控制帧
	DecodeControl(msg []byte) (Control, error)
}

// CodecType 编解码器类型
type CodecType string

const (
	CodecJSON       CodecType = "json"
	CodecFixedWidth CodecType = "fixed"
)

// NewCodec 根据类型创建编解码器
func NewCodec(t CodecType, gen IDGenerator) (Codec, error) {
	switch t {
	case CodecJSON, "":
		return NewJSONCodec(), nil
	case CodecFixedWidth:
		return NewFixedWidthCodec(gen), nil
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown codec %q", t)
	}
}
