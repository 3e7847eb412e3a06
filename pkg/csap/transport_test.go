package csap

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// fakeConn 记录发送内容，由测试主动投递入站事件
type fakeConn struct {
	id string

	mu      sync.Mutex
	sink    EventSink
	sent    [][]byte
	failOn  map[int]error // 第 n 次 Send 返回的错误
	sends   int
	closed  int
	startFn func() error
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Start(sink EventSink) error {
	if c.startFn != nil {
		if err := c.startFn(); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
	return nil
}

func (c *fakeConn) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.sends
	c.sends++
	if err := c.failOn[n]; err != nil {
		return err
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) failSend(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOn == nil {
		c.failOn = make(map[int]error)
	}
	c.failOn[n] = err
}

func (c *fakeConn) currentSink() EventSink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink
}

func (c *fakeConn) deliver(msg string) {
	c.currentSink().OnMessage(c, []byte(msg))
}

func (c *fakeConn) remoteClose(err error) {
	c.currentSink().OnClose(c, err)
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, m := range c.sent {
		out[i] = string(m)
	}
	return out
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeTransport 每次 Dial 返回一条新的 fakeConn
type fakeTransport struct {
	mu      sync.Mutex
	conns   []*fakeConn
	dialErr error
	panicOn bool
	prepare func(c *fakeConn)
	eps     []Endpoint

	dials atomic.Int32
}

func (t *fakeTransport) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	t.dials.Add(1)
	if t.panicOn {
		panic("dial exploded")
	}
	if t.dialErr != nil {
		return nil, t.dialErr
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.eps = append(t.eps, ep)
	c := &fakeConn{id: fmt.Sprintf("conn-%d", len(t.conns)+1)}
	if t.prepare != nil {
		t.prepare(c)
	}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) last() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

// fakeReporter 记录上报的错误
type fakeReporter struct {
	mu   sync.Mutex
	errs []error
	tags []map[string]string
}

func (r *fakeReporter) CaptureError(err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}

func (r *fakeReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}
