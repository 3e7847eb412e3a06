package csap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// 确保 FixedWidthCodec 实现了 Codec 接口
var _ Codec = (*FixedWidthCodec)(nil)

// 定长控制帧字段偏移
const (
	fixedTagEnd    = 14
	fixedIDEnd     = fixedTagEnd + CorrelationIDSize // 50
	fixedFormatEnd = fixedIDEnd + 10                 // 60
	fixedUsrCtlEnd = fixedFormatEnd + 10             // 70
	fixedDataEnd   = fixedUsrCtlEnd + 10             // 80
)

// FixedWidthCodec 80 字符定长控制帧编解码器
//
//	0-13  CSAP0700000000
//	14-49 关联 ID
//	50-59 格式标记，右侧补空格
//	60-69 用户控制帧长度，10 位补零
//	70-79 数据长度，10 位补零
type FixedWidthCodec struct {
	newID IDGenerator
}

// NewFixedWidthCodec 创建定长编解码器，gen 为 nil 时使用 NewCorrelationID
func NewFixedWidthCodec(gen IDGenerator) *FixedWidthCodec {
	if gen == nil {
		gen = NewCorrelationID
	}
	return &FixedWidthCodec{newID: gen}
}

// Name 返回编解码器名称
func (c *FixedWidthCodec) Name() string {
	return string(CodecFixedWidth)
}

// EncodeControl 生成 80 字符控制帧
func (c *FixedWidthCodec) EncodeControl(usrCtl, data []byte) ([]byte, error) {
	usrCtlSize := int64(len(usrCtl))
	dataSize := int64(len(data))
	if usrCtlSize > MaxFixedWidthSize || dataSize > MaxFixedWidthSize {
		return nil, errors.Wrapf(ErrSizeOverflow, "usrCtlSize=%d dataSize=%d", usrCtlSize, dataSize)
	}

	id := c.newID()
	if len(id) != CorrelationIDSize {
		return nil, errors.Wrapf(ErrInvalidControl, "correlation id must be %d chars, got %d",
			CorrelationIDSize, len(id))
	}

	var sb strings.Builder
	sb.Grow(ControlFrameSize)
	sb.WriteString(ControlTag)
	sb.WriteString(id)
	fmt.Fprintf(&sb, "%-10s", FormatText)
	fmt.Fprintf(&sb, "%010d%010d", usrCtlSize, dataSize)

	return []byte(sb.String()), nil
}

// DecodeControl 解析定长控制帧，长度字段必须全为十进制数字
func (c *FixedWidthCodec) DecodeControl(msg []byte) (Control, error) {
	if len(msg) < ControlFrameSize {
		return Control{}, errors.Wrapf(ErrInvalidControl, "control frame too short: %d < %d",
			len(msg), ControlFrameSize)
	}

	usrCtlSize, err := parseFixedSize(msg[fixedFormatEnd:fixedUsrCtlEnd])
	if err != nil {
		return Control{}, errors.Wrap(err, "usrCtlSize")
	}
	dataSize, err := parseFixedSize(msg[fixedUsrCtlEnd:fixedDataEnd])
	if err != nil {
		return Control{}, errors.Wrap(err, "dataSize")
	}

	return Control{
		Op:            string(msg[:fixedTagEnd]),
		UsrCtlSize:    usrCtlSize,
		DataSize:      dataSize,
		Format:        Format(strings.TrimRight(string(msg[fixedIDEnd:fixedFormatEnd]), " ")),
		CorrelationID: string(msg[fixedTagEnd:fixedIDEnd]),
		Raw:           cloneBytes(msg[:ControlFrameSize]),
	}, nil
}

// parseFixedSize 解析 10 位十进制长度
func parseFixedSize(field []byte) (int64, error) {
	for _, b := range field {
		if b < '0' || b > '9' {
			return 0, errors.Wrapf(ErrInvalidControl, "non-digit size field %q", field)
		}
	}
	n, err := strconv.ParseInt(string(field), 10, 64)
	if err != nil {
		return 0, errors.Wrap(ErrInvalidControl, err.Error())
	}
	return n, nil
}
