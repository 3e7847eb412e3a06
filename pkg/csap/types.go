// pkg/csap/types.go
package csap

import "fmt"

// State 会话状态
type State int

const (
	// StateClosed 未连接（初始状态）
	StateClosed State = iota
	// StateHandshake 已发送握手请求，等待握手应答
	StateHandshake
	// StateCTL 等待控制帧
	StateCTL
	// StateUSRCTL 等待用户控制帧
	StateUSRCTL
	// StateDATA 等待数据帧
	StateDATA
)

// String 返回会话状态的字符串表示
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHandshake:
		return "HANDSHAKE"
	case StateCTL:
		return "CTL"
	case StateUSRCTL:
		return "USRCTL"
	case StateDATA:
		return "DATA"
	default:
		return "UNKNOWN"
	}
}

// Phase 数据回调的阶段标识
type Phase string

const (
	PhaseNone   Phase = ""
	PhaseCTL    Phase = "CTL"
	PhaseUSRCTL Phase = "USRCTL"
	PhaseDATA   Phase = "DATA"
)

// Mode 传输安全模式
type Mode string

const (
	// ModePlain 明文 ws://
	ModePlain Mode = "ws"
	// ModeSecure 加密 wss://
	ModeSecure Mode = "wss"
)

// Scheme 返回 URL scheme，未知模式按明文处理
func (m Mode) Scheme() string {
	if m == ModeSecure {
		return "wss"
	}
	return "ws"
}

// Valid 检查模式是否合法（空值视为明文）
func (m Mode) Valid() bool {
	return m == "" || m == ModePlain || m == ModeSecure
}

// Format 控制帧中的数据格式标记
type Format string

const (
	FormatText   Format = "TEXT"
	FormatBinary Format = "BINARY"
)

// 协议常量
const (
	// ControlTag 定长控制帧的前缀
	ControlTag = "CSAP0700000000"
	// ControlFrameSize 定长控制帧长度
	ControlFrameSize = 80
	// CorrelationIDSize 关联 ID 长度（8-4-4-4-12）
	CorrelationIDSize = 36
	// NullSession 空会话 ID
	NullSession = "000000000000000000000000000000000000"
	// UsrCtlSlabSize 用户控制帧的建议容量
	UsrCtlSlabSize = 1024
	// MaxSegmentSize 默认的单次发送数据上限 (2MB)
	MaxSegmentSize = 2097152
	// MaxFixedWidthSize 定长控制帧 10 位十进制所能表示的最大长度
	MaxFixedWidthSize int64 = 9999999999
	// HandshakeStatusOK 握手成功状态码
	HandshakeStatusOK = "000"
)

// Endpoint 连接目标
type Endpoint struct {
	Host string
	Port int
	Mode Mode
	Path string
}

// URL 构建连接地址
func (e Endpoint) URL() string {
	path := e.Path
	if path != "" && path[0] != '/' {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s:%d%s", e.Mode.Scheme(), e.Host, e.Port, path)
}

// Validate 验证连接目标
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return ErrInvalidEndpoint
	}
	if e.Port <= 0 || e.Port > 65535 {
		return ErrInvalidEndpoint
	}
	if !e.Mode.Valid() {
		return ErrInvalidEndpoint
	}
	return nil
}
