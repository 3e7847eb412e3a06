package csap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/multierr"
)

const (
	ackReply = `{"op":"open-ack"}`
	ctlEmpty = `{"ctl":{"usrCtlSize":0,"dataSize":0,"fmt":"text"}}`
)

// recorder 按顺序记录所有回调
type recorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *recorder) record(s *Session, res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) all() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

func (r *recorder) of(ev Event) []Result {
	var out []Result
	for _, res := range r.all() {
		if res.Event == ev {
			out = append(out, res)
		}
	}
	return out
}

func (r *recorder) phases() []Phase {
	var out []Phase
	for _, res := range r.of(EventData) {
		out = append(out, res.Phase)
	}
	return out
}

func newSession(t *testing.T, cfg *Config, opts ...Option) (*Session, *fakeTransport, *recorder) {
	t.Helper()
	tr := &fakeTransport{}
	s, err := New(tr, cfg, opts...)
	require.NoError(t, err)

	rec := &recorder{}
	for ev := EventOpen; ev < eventCount; ev++ {
		s.On(ev, rec.record)
	}
	return s, tr, rec
}

func openRequest() OpenRequest {
	return OpenRequest{Host: "localhost", Port: 8080, Service: "svc"}
}

// handshaken 打开会话并完成握手
func handshaken(t *testing.T, s *Session, tr *fakeTransport) *fakeConn {
	t.Helper()
	require.NoError(t, s.Open(context.Background(), openRequest()))
	c := tr.last()
	require.NotNil(t, c)
	c.deliver(ackReply)
	require.Equal(t, StateCTL, s.State())
	return c
}

func TestNew(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrNilTransport)

	_, err = New(&fakeTransport{}, &Config{Codec: "xml"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(&fakeTransport{}, &Config{HandshakeTimeout: -time.Second})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	s, err := New(&fakeTransport{}, nil)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, s.State())
	assert.Nil(t, s.Handshake())
	assert.Equal(t, PhaseNone, s.Phase())
}

func TestSession_OpenHandshake(t *testing.T) {
	s, tr, rec := newSession(t, nil)

	require.NoError(t, s.Open(context.Background(), openRequest()))
	assert.Equal(t, StateHandshake, s.State())
	assert.Equal(t, "svc", s.Service())

	c := tr.last()
	assert.Equal(t, []string{`{"op":"open","service":"svc","u":null,"p":null}`}, c.messages())
	require.Len(t, rec.of(EventOpen), 1)
	assert.True(t, rec.of(EventOpen)[0].OK())

	c.deliver(ackReply)
	assert.Equal(t, StateCTL, s.State())
	require.Len(t, rec.of(EventHandshake), 1)
	assert.True(t, rec.of(EventHandshake)[0].OK())

	hs := s.Handshake()
	require.NotNil(t, hs)
	assert.Equal(t, ackReply, string(hs.Raw))
	v, _ := hs.Get("op")
	assert.Equal(t, "open-ack", v)
	assert.Equal(t, NullSession, hs.SessionID)
}

func TestSession_OpenUsesConfigDefaults(t *testing.T) {
	s, tr, _ := newSession(t, &Config{Mode: ModeSecure, Path: "csap"})

	require.NoError(t, s.Open(context.Background(), openRequest()))
	require.Len(t, tr.eps, 1)
	assert.Equal(t, ModeSecure, tr.eps[0].Mode)
	assert.Equal(t, "wss://localhost:8080/csap", tr.eps[0].URL())

	req := openRequest()
	req.Mode = ModePlain
	req.Path = "/other"
	require.NoError(t, s.Open(context.Background(), req))
	assert.Equal(t, "ws://localhost:8080/other", tr.eps[1].URL())
}

func TestSession_ZeroSizeControl(t *testing.T) {
	s, tr, rec := newSession(t, nil)
	c := handshaken(t, s, tr)

	c.deliver(ctlEmpty)

	assert.Equal(t, StateCTL, s.State())
	assert.Equal(t, []Phase{PhaseCTL}, rec.phases())
	assert.Equal(t, PhaseCTL, s.Phase())
	assert.Equal(t, int64(0), s.LastControl().DataSize)
}

func TestSession_ControlCycle(t *testing.T) {
	s, tr, rec := newSession(t, nil)
	c := handshaken(t, s, tr)

	// 回调内 State() 为下一状态，Phase() 为刚收到的部分
	var (
		states []State
		phases []Phase
	)
	s.On(EventData, func(s *Session, r Result) {
		rec.record(s, r)
		states = append(states, s.State())
		phases = append(phases, s.Phase())
	})

	c.deliver(`{"ctl":{"usrCtlSize":5,"dataSize":10,"fmt":"text"}}`)
	c.deliver("hello")
	c.deliver("0123456789")

	assert.Equal(t, []Phase{PhaseCTL, PhaseUSRCTL, PhaseDATA}, rec.phases())
	assert.Equal(t, []State{StateUSRCTL, StateDATA, StateCTL}, states)
	assert.Equal(t, rec.phases(), phases)
	assert.Equal(t, StateCTL, s.State())

	assert.Equal(t, int64(5), s.LastControl().UsrCtlSize)
	assert.Equal(t, int64(10), s.LastControl().DataSize)
	assert.Equal(t, "hello", string(s.LastUserControl().Payload))
	assert.Equal(t, int64(5), s.LastUserControl().Size)
	assert.Equal(t, "0123456789", s.LastData().String())
}

func TestSession_DataOnlyControl(t *testing.T) {
	s, tr, rec := newSession(t, nil)
	c := handshaken(t, s, tr)

	c.deliver(`{"ctl":{"usrCtlSize":0,"dataSize":3,"fmt":"text"}}`)
	assert.Equal(t, StateDATA, s.State())
	c.deliver("abc")

	assert.Equal(t, []Phase{PhaseCTL, PhaseDATA}, rec.phases())
	assert.Equal(t, StateCTL, s.State())
}

func TestSession_UserControlAlwaysMovesToData(t *testing.T) {
	s, tr, _ := newSession(t, nil)
	c := handshaken(t, s, tr)

	c.deliver(`{"ctl":{"usrCtlSize":2,"dataSize":0,"fmt":"text"}}`)
	c.deliver("uc")
	assert.Equal(t, StateDATA, s.State())
}

func TestSession_NewControlResetsPreviousParts(t *testing.T) {
	s, tr, _ := newSession(t, nil)
	c := handshaken(t, s, tr)

	c.deliver(`{"ctl":{"usrCtlSize":2,"dataSize":2,"fmt":"text"}}`)
	c.deliver("uc")
	c.deliver("dd")
	c.deliver(ctlEmpty)

	assert.Empty(t, s.LastUserControl().Payload)
	assert.Empty(t, s.LastData().Payload)
}

func TestSession_FixedWidthCodec(t *testing.T) {
	s, tr, rec := newSession(t, &Config{Codec: CodecFixedWidth}, WithIDGenerator(fixedID))
	c := handshaken(t, s, tr)

	require.NoError(t, s.PutString("payload"))
	require.NoError(t, s.Send(context.Background(), []byte("uc")))

	msgs := c.messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, ControlTag+testCorrelationID+"TEXT      "+"0000000002"+"0000000007", msgs[1])
	assert.Equal(t, "uc", msgs[2])
	assert.Equal(t, "payload", msgs[3])
	assert.Equal(t, testCorrelationID, s.LastRequestControl().CorrelationID)

	c.deliver(msgs[1])
	assert.Equal(t, StateUSRCTL, s.State())
	assert.Equal(t, []Phase{PhaseCTL}, rec.phases())
}

func TestSession_Send(t *testing.T) {
	t.Run("data only", func(t *testing.T) {
		s, tr, _ := newSession(t, nil)
		c := handshaken(t, s, tr)

		require.NoError(t, s.PutData([]byte("payload")))
		assert.Equal(t, 7, s.Pending())
		require.NoError(t, s.Send(context.Background(), nil))

		assert.Equal(t, []string{
			`{"ctl":{"usrCtlSize":0,"dataSize":7,"fmt":"text"}}`,
			"payload",
		}, c.messages()[1:])
		assert.Equal(t, 0, s.Pending())
		assert.Equal(t, int64(7), s.LastRequestControl().DataSize)
	})

	t.Run("empty envelope", func(t *testing.T) {
		s, tr, _ := newSession(t, nil)
		c := handshaken(t, s, tr)

		require.NoError(t, s.Send(context.Background(), nil))
		assert.Equal(t, []string{ctlEmpty}, c.messages()[1:])
		assert.Equal(t, 0, s.Pending())
	})

	t.Run("ordering", func(t *testing.T) {
		s, tr, _ := newSession(t, nil)
		c := handshaken(t, s, tr)

		require.NoError(t, s.PutString("da"))
		require.NoError(t, s.PutString("ta"))
		require.NoError(t, s.Send(context.Background(), []byte("usr")))

		assert.Equal(t, []string{
			`{"ctl":{"usrCtlSize":3,"dataSize":4,"fmt":"text"}}`,
			"usr",
			"data",
		}, c.messages()[1:])
	})

	t.Run("not open", func(t *testing.T) {
		s, _, _ := newSession(t, nil)
		require.NoError(t, s.PutString("payload"))

		err := s.Send(context.Background(), nil)
		assert.ErrorIs(t, err, ErrNotOpen)
		assert.Equal(t, 0, s.Pending())
	})
}

func TestSession_SendPartialFailure(t *testing.T) {
	t.Run("single part", func(t *testing.T) {
		reporter := &fakeReporter{}
		s, tr, _ := newSession(t, nil, WithErrorReporter(reporter))
		c := handshaken(t, s, tr)

		boom := errors.New("write failed")
		c.failSend(2, boom) // 0 为握手，1 为控制帧，2 为用户控制帧
		require.NoError(t, s.PutString("data"))

		err := s.Send(context.Background(), []byte("usr"))
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, StatusSend, StatusCode(err))
		assert.Equal(t, []string{`{"ctl":{"usrCtlSize":3,"dataSize":4,"fmt":"text"}}`, "data"}, c.messages()[1:])
		assert.Equal(t, 0, s.Pending())
		assert.Equal(t, StateCTL, s.State())
		assert.Equal(t, 1, reporter.count())
	})

	t.Run("aggregated", func(t *testing.T) {
		s, tr, _ := newSession(t, nil)
		c := handshaken(t, s, tr)

		errCtl, errData := errors.New("ctl failed"), errors.New("data failed")
		c.failSend(1, errCtl)
		c.failSend(3, errData)
		require.NoError(t, s.PutString("data"))

		err := s.Send(context.Background(), []byte("usr"))
		require.Error(t, err)
		assert.Len(t, multierr.Errors(err), 2)
		assert.ErrorIs(t, err, errCtl)
		assert.ErrorIs(t, err, errData)
		assert.Equal(t, []string{"usr"}, c.messages()[1:])
	})
}

func TestSession_SendRateLimit(t *testing.T) {
	s, tr, _ := newSession(t, &Config{SendRateLimit: 100, SendBurst: 1})
	c := handshaken(t, s, tr)

	require.NoError(t, s.Send(context.Background(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.PutString("dropped"))
	err := s.Send(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusSend, StatusCode(err))
	assert.Equal(t, 0, s.Pending())
	assert.Len(t, c.messages(), 2)
}

func TestSession_PutData(t *testing.T) {
	s, _, _ := newSession(t, &Config{MaxSegmentSize: 8})

	assert.ErrorIs(t, s.PutData(nil), ErrEmptyData)
	assert.ErrorIs(t, s.PutString(""), ErrEmptyData)

	require.NoError(t, s.PutString("12345"))
	assert.ErrorIs(t, s.PutString("6789"), ErrSegmentTooLarge)
	assert.Equal(t, 5, s.Pending())
	require.NoError(t, s.PutString("678"))
	assert.Equal(t, 8, s.Pending())

	s.Clear()
	assert.Equal(t, 0, s.Pending())
}

func TestSession_Clear(t *testing.T) {
	s, tr, _ := newSession(t, nil)
	c := handshaken(t, s, tr)

	c.deliver(`{"ctl":{"usrCtlSize":0,"dataSize":2,"fmt":"text"}}`)
	c.deliver("ok")
	require.NoError(t, s.PutString("pending"))

	s.Clear()
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, Control{}, s.LastControl())
	assert.Equal(t, Data{}, s.LastData())
	assert.Equal(t, PhaseNone, s.Phase())
	assert.Equal(t, StateCTL, s.State())
}

func TestSession_Close(t *testing.T) {
	t.Run("never opened", func(t *testing.T) {
		s, _, rec := newSession(t, nil)
		assert.NoError(t, s.Close())
		assert.NoError(t, s.Close())
		assert.Equal(t, StateClosed, s.State())
		assert.Empty(t, rec.all())
	})

	t.Run("twice after open", func(t *testing.T) {
		s, tr, rec := newSession(t, nil)
		c := handshaken(t, s, tr)

		assert.NoError(t, s.Close())
		assert.NoError(t, s.Close())
		assert.Equal(t, StateClosed, s.State())
		assert.Equal(t, 1, c.closeCount())
		closes := rec.of(EventClose)
		require.Len(t, closes, 1)
		assert.True(t, closes[0].OK())

		// 关闭后的入站事件被丢弃
		c.deliver(ctlEmpty)
		c.remoteClose(nil)
		assert.Empty(t, rec.of(EventData))
		assert.Len(t, rec.of(EventClose), 1)
	})

	t.Run("during handshake", func(t *testing.T) {
		s, tr, rec := newSession(t, nil)
		require.NoError(t, s.Open(context.Background(), openRequest()))
		c := tr.last()

		assert.NoError(t, s.Close())
		c.remoteClose(nil)
		assert.Equal(t, StateClosed, s.State())
		assert.Len(t, rec.of(EventClose), 1)
		assert.Empty(t, rec.of(EventHandshake))
	})

	t.Run("callback panic", func(t *testing.T) {
		s, tr, rec := newSession(t, nil)
		handshaken(t, s, tr)
		s.SetCloseCallback(func(s *Session, r Result) { panic("close") })

		assert.NoError(t, s.Close())
		assert.Equal(t, StateClosed, s.State())
		assert.Empty(t, rec.of(EventError))
	})
}

func TestSession_OpenFailures(t *testing.T) {
	t.Run("dial error", func(t *testing.T) {
		refused := errors.New("connection refused")
		tr := &fakeTransport{dialErr: refused}
		s, err := New(tr, nil)
		require.NoError(t, err)
		rec := &recorder{}
		s.SetOpenCallback(rec.record)

		err = s.Open(context.Background(), openRequest())
		assert.ErrorIs(t, err, refused)
		assert.Equal(t, StatusConnect, StatusCode(err))
		assert.Equal(t, StateClosed, s.State())

		require.Len(t, rec.all(), 1)
		assert.ErrorIs(t, rec.all()[0].Err, refused)
	})

	t.Run("dial panic", func(t *testing.T) {
		s, err := New(&fakeTransport{panicOn: true}, nil)
		require.NoError(t, err)

		err = s.Open(context.Background(), openRequest())
		require.Error(t, err)
		assert.Equal(t, StatusConnect, StatusCode(err))
		assert.Equal(t, StateClosed, s.State())
	})

	t.Run("invalid endpoint", func(t *testing.T) {
		s, tr, rec := newSession(t, nil)
		err := s.Open(context.Background(), OpenRequest{Host: "localhost", Service: "svc"})
		assert.ErrorIs(t, err, ErrInvalidEndpoint)
		assert.Equal(t, StatusConnect, StatusCode(err))
		assert.Equal(t, int32(0), tr.dials.Load())
		require.Len(t, rec.of(EventOpen), 1)
		assert.False(t, rec.of(EventOpen)[0].OK())
	})

	t.Run("handshake send error", func(t *testing.T) {
		boom := errors.New("broken pipe")
		s, tr, rec := newSession(t, nil)
		tr.prepare = func(c *fakeConn) { c.failSend(0, boom) }

		err := s.Open(context.Background(), openRequest())
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, StatusSend, StatusCode(err))
		assert.Equal(t, StateClosed, s.State())
		assert.Equal(t, 1, tr.last().closeCount())
		require.Len(t, rec.of(EventOpen), 1)
		assert.ErrorIs(t, rec.of(EventOpen)[0].Err, boom)
	})

	t.Run("start error", func(t *testing.T) {
		boom := errors.New("pool exhausted")
		s, tr, rec := newSession(t, nil)
		tr.prepare = func(c *fakeConn) { c.startFn = func() error { return boom } }

		err := s.Open(context.Background(), openRequest())
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, StateClosed, s.State())
		assert.Equal(t, 1, tr.last().closeCount())
		require.Len(t, rec.of(EventError), 1)
	})
}

func TestSession_ReopenClosesPrevious(t *testing.T) {
	s, tr, rec := newSession(t, nil)
	first := handshaken(t, s, tr)
	first.deliver(`{"ctl":{"usrCtlSize":0,"dataSize":2,"fmt":"text"}}`)
	first.deliver("ok")
	staleSink := first.currentSink()

	require.NoError(t, s.Open(context.Background(), openRequest()))
	second := tr.last()
	assert.NotSame(t, first, second)
	assert.Equal(t, 1, first.closeCount())
	assert.Equal(t, StateHandshake, s.State())
	assert.Nil(t, s.Handshake())
	assert.Empty(t, s.LastData().Payload)

	// 旧连接的事件被丢弃
	staleSink.OnMessage(first, []byte(ackReply))
	staleSink.OnClose(first, errors.New("late close"))
	staleSink.OnError(first, errors.New("late error"))
	assert.Equal(t, StateHandshake, s.State())
	assert.Empty(t, rec.of(EventClose))
	assert.Len(t, rec.of(EventHandshake), 1)

	second.deliver(ackReply)
	assert.Equal(t, StateCTL, s.State())
	assert.Len(t, rec.of(EventHandshake), 2)
}

func TestSession_HandshakeFailure(t *testing.T) {
	t.Run("unparsable", func(t *testing.T) {
		s, tr, rec := newSession(t, nil)
		require.NoError(t, s.Open(context.Background(), openRequest()))
		c := tr.last()

		c.deliver("not json")

		assert.Equal(t, StateClosed, s.State())
		assert.Equal(t, 1, c.closeCount())
		hs := rec.of(EventHandshake)
		require.Len(t, hs, 1)
		assert.ErrorIs(t, hs[0].Err, ErrInvalidHandshake)
		assert.Equal(t, StatusProtocol, StatusCode(hs[0].Err))
	})

	t.Run("rejected status", func(t *testing.T) {
		s, tr, rec := newSession(t, nil)
		require.NoError(t, s.Open(context.Background(), openRequest()))

		tr.last().deliver(`{"handshake":{"status":"403","reason":"forbidden"}}`)

		assert.Equal(t, StateClosed, s.State())
		hs := rec.of(EventHandshake)
		require.Len(t, hs, 1)
		assert.ErrorIs(t, hs[0].Err, ErrHandshakeRejected)
		assert.Nil(t, s.Handshake())
	})

	t.Run("accepted status", func(t *testing.T) {
		s, tr, _ := newSession(t, nil)
		require.NoError(t, s.Open(context.Background(), openRequest()))

		tr.last().deliver(`{"handshake":{"status":"000","sid":"s-1"}}`)

		assert.Equal(t, StateCTL, s.State())
		assert.Equal(t, "s-1", s.Handshake().SessionID)
	})
}

func TestSession_HandshakeTimeout(t *testing.T) {
	t.Run("expires", func(t *testing.T) {
		s, tr, rec := newSession(t, &Config{HandshakeTimeout: 20 * time.Millisecond})
		require.NoError(t, s.Open(context.Background(), openRequest()))

		require.Eventually(t, func() bool { return s.State() == StateClosed }, time.Second, 5*time.Millisecond)
		require.Eventually(t, func() bool { return len(rec.of(EventHandshake)) == 1 }, time.Second, 5*time.Millisecond)
		err := rec.of(EventHandshake)[0].Err
		assert.ErrorIs(t, err, ErrHandshakeTimeout)
		assert.Equal(t, StatusProtocol, StatusCode(err))
		assert.Equal(t, 1, tr.last().closeCount())
	})

	t.Run("stopped by reply", func(t *testing.T) {
		s, tr, rec := newSession(t, &Config{HandshakeTimeout: 30 * time.Millisecond})
		handshaken(t, s, tr)

		time.Sleep(80 * time.Millisecond)
		assert.Equal(t, StateCTL, s.State())
		require.Len(t, rec.of(EventHandshake), 1)
		assert.True(t, rec.of(EventHandshake)[0].OK())
	})
}

func TestSession_DecodeFailure(t *testing.T) {
	s, tr, rec := newSession(t, nil)
	c := handshaken(t, s, tr)

	c.deliver(`{"nope":true}`)

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, c.closeCount())
	errs := rec.of(EventError)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, ErrInvalidControl)
	assert.Equal(t, StatusProtocol, StatusCode(errs[0].Err))
	assert.Empty(t, rec.of(EventData))
}

func TestSession_VerifySizes(t *testing.T) {
	t.Run("mismatch", func(t *testing.T) {
		s, tr, rec := newSession(t, &Config{VerifySizes: true})
		c := handshaken(t, s, tr)

		c.deliver(`{"ctl":{"usrCtlSize":3,"dataSize":0,"fmt":"text"}}`)
		c.deliver("too long")

		assert.Equal(t, StateClosed, s.State())
		errs := rec.of(EventError)
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0].Err, ErrSizeMismatch)
		assert.Equal(t, StatusReceive, StatusCode(errs[0].Err))
	})

	t.Run("match", func(t *testing.T) {
		s, tr, rec := newSession(t, &Config{VerifySizes: true})
		c := handshaken(t, s, tr)

		c.deliver(`{"ctl":{"usrCtlSize":3,"dataSize":2,"fmt":"text"}}`)
		c.deliver("abc")
		c.deliver("de")

		assert.Equal(t, StateCTL, s.State())
		assert.Empty(t, rec.of(EventError))
	})

	t.Run("disabled", func(t *testing.T) {
		s, tr, rec := newSession(t, nil)
		c := handshaken(t, s, tr)

		c.deliver(`{"ctl":{"usrCtlSize":3,"dataSize":0,"fmt":"text"}}`)
		c.deliver("too long")

		assert.Equal(t, StateDATA, s.State())
		assert.Empty(t, rec.of(EventError))
	})
}

func TestSession_CallbackPanic(t *testing.T) {
	s, tr, rec := newSession(t, nil)
	c := handshaken(t, s, tr)

	s.SetDataCallback(func(s *Session, r Result) {
		panic("boom")
	})
	c.deliver(ctlEmpty)

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, c.closeCount())
	errs := rec.of(EventError)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, ErrCallbackPanic)
	assert.Equal(t, StatusReceive, StatusCode(errs[0].Err))
}

func TestSession_OpenCallbackPanic(t *testing.T) {
	s, tr, rec := newSession(t, nil)
	s.SetOpenCallback(func(s *Session, r Result) { panic("open") })

	err := s.Open(context.Background(), openRequest())
	assert.ErrorIs(t, err, ErrCallbackPanic)
	assert.Equal(t, StateClosed, s.State())
	assert.Nil(t, tr.last().currentSink())
	assert.Len(t, rec.of(EventError), 1)
}

func TestSession_CallbacksMayReenter(t *testing.T) {
	s, tr, rec := newSession(t, nil)
	c := handshaken(t, s, tr)

	s.SetDataCallback(func(s *Session, r Result) {
		rec.record(s, r)
		_ = s.PutString("echo")
		_ = s.Send(context.Background(), nil)
		_ = s.Close()
	})
	c.deliver(ctlEmpty)

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, []string{
		`{"ctl":{"usrCtlSize":0,"dataSize":4,"fmt":"text"}}`,
		"echo",
	}, c.messages()[1:])
	assert.Len(t, rec.of(EventClose), 1)
	assert.Empty(t, rec.of(EventError))
}

func TestSession_RemoteClose(t *testing.T) {
	t.Run("normal", func(t *testing.T) {
		s, tr, rec := newSession(t, nil)
		c := handshaken(t, s, tr)

		c.remoteClose(nil)

		assert.Equal(t, StateClosed, s.State())
		closes := rec.of(EventClose)
		require.Len(t, closes, 1)
		assert.True(t, closes[0].OK())

		err := s.Send(context.Background(), nil)
		assert.ErrorIs(t, err, ErrNotOpen)
	})

	t.Run("with error", func(t *testing.T) {
		s, tr, rec := newSession(t, nil)
		c := handshaken(t, s, tr)

		reset := errors.New("connection reset")
		c.remoteClose(reset)

		closes := rec.of(EventClose)
		require.Len(t, closes, 1)
		assert.ErrorIs(t, closes[0].Err, reset)
		assert.Equal(t, StatusReceive, StatusCode(closes[0].Err))
	})
}

func TestSession_TransportError(t *testing.T) {
	reporter := &fakeReporter{}
	s, tr, rec := newSession(t, nil, WithErrorReporter(reporter))
	c := handshaken(t, s, tr)

	c.currentSink().OnError(c, errors.New("ping failed"))

	assert.Equal(t, StateCTL, s.State())
	assert.Empty(t, rec.of(EventError))
	require.Equal(t, 1, reporter.count())
	assert.Equal(t, "error", reporter.tags[0]["csap.event"])
	assert.Equal(t, "svc", reporter.tags[0]["csap.service"])
}

func TestSession_CallbackRegistry(t *testing.T) {
	s, tr, _ := newSession(t, nil)

	var first, second int
	s.On(EventData, func(*Session, Result) { first++ })
	s.On(EventData, func(*Session, Result) { second++ })
	s.On(Event(99), func(*Session, Result) {})

	c := handshaken(t, s, tr)
	c.deliver(ctlEmpty)
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)

	s.On(EventData, nil)
	c.deliver(ctlEmpty)
	assert.Equal(t, 1, second)
}

type countingHandler struct {
	BaseHandler
	mu   sync.Mutex
	data []Phase
}

func (h *countingHandler) OnData(s *Session, r Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = append(h.data, r.Phase)
}

func TestSession_Handler(t *testing.T) {
	h := &countingHandler{}
	tr := &fakeTransport{}
	s, err := New(tr, nil, WithHandler(h))
	require.NoError(t, err)

	c := handshaken(t, s, tr)
	c.deliver(`{"ctl":{"usrCtlSize":1,"dataSize":1,"fmt":"text"}}`)
	c.deliver("u")
	c.deliver("d")
	assert.Equal(t, []Phase{PhaseCTL, PhaseUSRCTL, PhaseDATA}, h.data)

	s.SetHandler(nil)
	c.deliver(ctlEmpty)
	assert.Len(t, h.data, 3)
}

func TestSession_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, tr, _ := newSession(t, nil, WithMetricsRegisterer(reg))
	c := handshaken(t, s, tr)

	c.deliver(`{"ctl":{"usrCtlSize":0,"dataSize":2,"fmt":"text"}}`)
	c.deliver("ok")
	require.NoError(t, s.PutString("hi"))
	require.NoError(t, s.Send(context.Background(), nil))

	m := s.metrics
	assert.Equal(t, float64(1), testutil.ToFloat64(m.opens.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.handshakes.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.framesReceived.WithLabelValues("CTL")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.framesReceived.WithLabelValues("DATA")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.envelopesSent))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.framesSent.WithLabelValues("CTL"))+testutil.ToFloat64(m.framesSent.WithLabelValues("DATA")))
	assert.Equal(t, float64(StateCTL), testutil.ToFloat64(m.state))

	c.deliver("garbage")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.errors.WithLabelValues("error")))
	assert.Equal(t, float64(StateClosed), testutil.ToFloat64(m.state))
}

func TestSession_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	s, tr, _ := newSession(t, nil, WithTracerProvider(tp))
	c := handshaken(t, s, tr)
	c.deliver(ctlEmpty)
	require.NoError(t, s.Send(context.Background(), nil))

	var names []string
	for _, span := range sr.Ended() {
		names = append(names, span.Name())
	}
	assert.Equal(t, []string{"csap.Open", "csap.Receive", "csap.Send"}, names)
}

func TestSession_String(t *testing.T) {
	s, tr, _ := newSession(t, nil)
	handshaken(t, s, tr)
	assert.Equal(t, "csap.Session{service=svc state=CTL}", s.String())
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "ws://h:1", Endpoint{Host: "h", Port: 1}.URL())
	assert.Equal(t, "wss://h:443/ws", Endpoint{Host: "h", Port: 443, Mode: ModeSecure, Path: "ws"}.URL())

	assert.NoError(t, Endpoint{Host: "h", Port: 1}.Validate())
	assert.ErrorIs(t, Endpoint{Port: 1}.Validate(), ErrInvalidEndpoint)
	assert.ErrorIs(t, Endpoint{Host: "h", Port: 70000}.Validate(), ErrInvalidEndpoint)
	assert.ErrorIs(t, Endpoint{Host: "h", Port: 1, Mode: "tcp"}.Validate(), ErrInvalidEndpoint)
}
