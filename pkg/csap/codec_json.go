package csap

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// 确保 JSONCodec 实现了 Codec 接口
var _ Codec = (*JSONCodec)(nil)

type jsonControl struct {
	Ctl *jsonControlBody `json:"ctl"`
}

// 字段顺序即输出顺序
type jsonControlBody struct {
	UsrCtlSize int64  `json:"usrCtlSize"`
	DataSize   int64  `json:"dataSize"`
	Fmt        string `json:"fmt"`
}

// JSONCodec JSON 控制帧编解码器
type JSONCodec struct{}

// NewJSONCodec 创建 JSON 编解码器
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Name 返回编解码器名称
func (c *JSONCodec) Name() string {
	return string(CodecJSON)
}

// EncodeControl 生成 {"ctl":{"usrCtlSize":N,"dataSize":M,"fmt":"text"}}
// N、M 为字节数
func (c *JSONCodec) EncodeControl(usrCtl, data []byte) ([]byte, error) {
	return json.Marshal(jsonControl{
		Ctl: &jsonControlBody{
			UsrCtlSize: int64(len(usrCtl)),
			DataSize:   int64(len(data)),
			Fmt:        strings.ToLower(string(FormatText)),
		},
	})
}

// DecodeControl 解析 JSON 控制帧
func (c *JSONCodec) DecodeControl(msg []byte) (Control, error) {
	var v jsonControl
	if err := json.Unmarshal(msg, &v); err != nil {
		return Control{}, errors.Wrap(ErrInvalidControl, err.Error())
	}
	if v.Ctl == nil {
		return Control{}, errors.Wrap(ErrInvalidControl, "missing ctl object")
	}
	if v.Ctl.UsrCtlSize < 0 || v.Ctl.DataSize < 0 {
		return Control{}, errors.Wrapf(ErrInvalidControl, "negative size usrCtlSize=%d dataSize=%d",
			v.Ctl.UsrCtlSize, v.Ctl.DataSize)
	}

	format := Format(strings.ToUpper(v.Ctl.Fmt))
	if format == "" {
		format = FormatText
	}

	return Control{
		Op:         "ctl",
		UsrCtlSize: v.Ctl.UsrCtlSize,
		DataSize:   v.Ctl.DataSize,
		Format:     format,
		Raw:        cloneBytes(msg),
	}, nil
}
