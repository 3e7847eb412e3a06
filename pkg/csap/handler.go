// pkg/csap/handler.go
package csap

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Event 生命周期事件
type Event int

const (
	// EventOpen 连接建立（或失败）
	EventOpen Event = iota
	// EventHandshake 握手完成（或失败）
	EventHandshake
	// EventData 收到控制帧/用户控制帧/数据帧
	EventData
	// EventClose 连接关闭，本地 Close 或传输层关闭
	EventClose
	// EventError 帧错误、回调异常等连接级错误
	EventError

	eventCount
)

// String 返回事件名称
func (e Event) String() string {
	switch e {
	case EventOpen:
		return "open"
	case EventHandshake:
		return "handshake"
	case EventData:
		return "data"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Result 事件结果，Err 为 nil 表示成功
type Result struct {
	Event Event
	Phase Phase // 仅 EventData 有效
	Err   error
}

// OK 是否成功
func (r Result) OK() bool {
	return r.Err == nil
}

// Callback 事件回调
type Callback func(s *Session, r Result)

// Handler 事件处理器接口
type Handler interface {
	OnOpen(s *Session, r Result)
	OnHandshake(s *Session, r Result)
	OnData(s *Session, r Result)
	OnClose(s *Session, r Result)
	OnError(s *Session, r Result)
}

// BaseHandler 基础处理器（提供空实现，可嵌入使用）
type BaseHandler struct{}

func (h *BaseHandler) OnOpen(s *Session, r Result)      {}
func (h *BaseHandler) OnHandshake(s *Session, r Result) {}
func (h *BaseHandler) OnData(s *Session, r Result)      {}
func (h *BaseHandler) OnClose(s *Session, r Result)     {}
func (h *BaseHandler) OnError(s *Session, r Result)     {}

// callbacks 以事件为键的回调表，每个事件只保留最后一次注册
type callbacks [eventCount]Callback

func (c *callbacks) set(ev Event, cb Callback) {
	if ev < 0 || ev >= eventCount {
		return
	}
	c[ev] = cb
}

func (c *callbacks) get(ev Event) Callback {
	if ev < 0 || ev >= eventCount {
		return nil
	}
	return c[ev]
}

func (c *callbacks) setHandler(h Handler) {
	if h == nil {
		*c = callbacks{}
		return
	}
	c[EventOpen] = h.OnOpen
	c[EventHandshake] = h.OnHandshake
	c[EventData] = h.OnData
	c[EventClose] = h.OnClose
	c[EventError] = h.OnError
}

// invokeCallback 调用回调并捕获 panic
func invokeCallback(cb Callback, s *Session, r Result) (err error) {
	if cb == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Wrap(ErrCallbackPanic, fmt.Sprintf("%s callback: %v", r.Event, rec))
		}
	}()
	cb(s, r)
	return nil
}
