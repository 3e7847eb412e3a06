package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lk2023060901/csap/pkg/csap"
	"github.com/lk2023060901/csap/pkg/logger"
)

var _ csap.Conn = (*Connection)(nil)

const closeGracePeriod = time.Second

// Connection 一条 websocket 连接，入站事件由单个读协程顺序投递
type Connection struct {
	id     string
	conn   *websocket.Conn
	dialer *Dialer
	logger logger.Logger

	msgType int

	writeMu   sync.Mutex
	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func newConnection(d *Dialer, ws *websocket.Conn) *Connection {
	id := uuid.New().String()
	return &Connection{
		id:      id,
		conn:    ws,
		dialer:  d,
		logger:  d.logger.WithFields("conn_id", id),
		msgType: d.config.MessageType.wsType(),
		done:    make(chan struct{}),
	}
}

// ID 返回连接 ID
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr 返回远程地址
func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Start 启动读循环，心跳开启时同时启动 ping 协程
func (c *Connection) Start(sink csap.EventSink) error {
	if sink == nil {
		return ErrNilSink
	}
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	hb := c.dialer.config.Heartbeat
	if hb.Enable && hb.Timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(hb.Timeout))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(hb.Timeout))
		})
	}

	if err := c.dialer.pool.Submit(func() { c.readLoop(sink) }); err != nil {
		c.dialer.metrics.onError("pool")
		return fmt.Errorf("websocket: submit read loop: %w", err)
	}

	if hb.Enable {
		if err := c.dialer.pool.Submit(func() { c.heartbeatLoop(sink, hb.Interval) }); err != nil {
			c.dialer.metrics.onError("pool")
			c.logger.Warn("心跳协程启动失败", "error", err)
		}
	}
	return nil
}

func (c *Connection) readLoop(sink csap.EventSink) {
	defer c.shutdown(false)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			sink.OnClose(c, c.classifyReadError(err))
			return
		}
		c.dialer.metrics.onReceived(len(data))
		sink.OnMessage(c, data)
	}
}

// classifyReadError 对端正常关闭或本地主动关闭返回 nil
func (c *Connection) classifyReadError(err error) error {
	if c.closed.Load() {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Debug("对端关闭连接")
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.dialer.metrics.onHeartbeatTimeout()
		return fmt.Errorf("%w: %v", ErrHeartbeatTimeout, err)
	}

	c.dialer.metrics.onError("read")
	return err
}

func (c *Connection) heartbeatLoop(sink csap.EventSink, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.dialer.config.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if c.closed.Load() {
					return
				}
				c.dialer.metrics.onError("ping")
				sink.OnError(c, fmt.Errorf("websocket: ping: %w", err))
				continue
			}
			c.dialer.metrics.onPing()
		}
	}
}

// Send 同步发送一条消息，写超时取 WriteTimeout 与 ctx deadline 中较早者
func (c *Connection) Send(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var deadline time.Time
	if wt := c.dialer.config.WriteTimeout; wt > 0 {
		deadline = time.Now().Add(wt)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	if err := c.conn.WriteMessage(c.msgType, data); err != nil {
		c.dialer.metrics.onError("write")
		if c.closed.Load() {
			return ErrConnectionClosed
		}
		return err
	}
	c.dialer.metrics.onSent(len(data))
	return nil
}

// Close 发送关闭帧并关闭底层连接，不等待读协程退出
func (c *Connection) Close() error {
	return c.shutdown(true)
}

func (c *Connection) shutdown(sendClose bool) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		if sendClose {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		}
		err = c.conn.Close()
		c.dialer.metrics.onDisconnect()
		c.logger.Debug("连接已关闭", "local", sendClose)
	})
	return err
}
