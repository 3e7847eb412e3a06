// pkg/csap/errors.go
package csap

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// 会话错误
	ErrNotOpen         = errors.New("csap: session not open")
	ErrInvalidEndpoint = errors.New("csap: invalid endpoint")
	ErrNilTransport    = errors.New("csap: transport is nil")
	ErrInvalidConfig   = errors.New("csap: invalid config")

	// 数据错误
	ErrEmptyData       = errors.New("csap: empty data")
	ErrSegmentTooLarge = errors.New("csap: segment too large")
	ErrSizeOverflow    = errors.New("csap: size exceeds control frame capacity")

	// 帧错误
	ErrInvalidControl = errors.New("csap: invalid control frame")
	ErrSizeMismatch   = errors.New("csap: frame size mismatch")
	ErrCallbackPanic  = errors.New("csap: callback panicked")

	// 握手错误
	ErrInvalidHandshake  = errors.New("csap: invalid handshake reply")
	ErrHandshakeRejected = errors.New("csap: handshake rejected")
	ErrHandshakeTimeout  = errors.New("csap: handshake timeout")
)

// 状态码
const (
	StatusOK       = 0
	StatusProtocol = 850 // 协议错误（握手拒绝、帧格式错误）
	StatusReceive  = 802 // 接收错误
	StatusSend     = 803 // 发送错误
	StatusConnect  = 804 // 连接错误
)

// StatusError 带状态码的错误
type StatusError struct {
	Code int
	Op   string
	Err  error
}

// Error 实现 error 接口
func (e *StatusError) Error() string {
	return fmt.Sprintf("csap: %s failed (status %d): %v", e.Op, e.Code, e.Err)
}

// Unwrap 返回底层错误
func (e *StatusError) Unwrap() error {
	return e.Err
}

func withStatus(code int, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StatusError{Code: code, Op: op, Err: err}
}

// StatusCode 提取错误中的状态码，没有状态码时返回 StatusOK
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return StatusOK
}
