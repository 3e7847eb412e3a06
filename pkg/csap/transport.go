package csap

import "context"

// Transport 传输层，负责建立持久连接
type Transport interface {
	Dial(ctx context.Context, ep Endpoint) (Conn, error)
}

// Conn 一条持久连接
type Conn interface {
	// ID 连接 ID
	ID() string
	// Start 开始投递入站事件，同一连接的事件按顺序投递
	Start(sink EventSink) error
	// Send 发送一条消息
	Send(ctx context.Context, data []byte) error
	// Close 关闭连接，不等待读循环退出
	Close() error
}

// EventSink 入站事件接收者
type EventSink interface {
	OnMessage(conn Conn, data []byte)
	// OnClose err 为 nil 表示对端正常关闭
	OnClose(conn Conn, err error)
	OnError(conn Conn, err error)
}

// ErrorReporter 错误上报
type ErrorReporter interface {
	CaptureError(err error, tags map[string]string)
}

// connSink 绑定到某一代连接的事件接收者，过期连接的事件会被丢弃
type connSink struct {
	s   *Session
	gen uint64
}

func (k *connSink) OnMessage(conn Conn, data []byte) {
	k.s.handleMessage(k.gen, data)
}

func (k *connSink) OnClose(conn Conn, err error) {
	k.s.handleClose(k.gen, err)
}

func (k *connSink) OnError(conn Conn, err error) {
	k.s.handleTransportError(k.gen, err)
}
