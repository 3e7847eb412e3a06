// pkg/csap/session.go
package csap

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/csap/pkg/logger"
	"github.com/lk2023060901/csap/pkg/pool/bytebuff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/bytebufferpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/lk2023060901/csap/pkg/csap"

// OpenRequest 连接参数
type OpenRequest struct {
	Host     string
	Port     int
	Service  string
	Mode     Mode   // 为空时使用 Config.Mode
	Path     string // 为空时使用 Config.Path
	Username *string
	Password *string
}

// Session CSAP 会话
// 同一时刻最多持有一条连接，所有失败路径都会回到 StateClosed 并释放连接
type Session struct {
	config    *Config
	transport Transport
	codec     Codec
	newID     IDGenerator
	logger    logger.Logger
	tracer    trace.Tracer
	reporter  ErrorReporter
	limiter   *rate.Limiter
	pool      *bytebuff.ValyalaPool

	metrics           *Metrics
	metricsRegisterer prometheus.Registerer

	mu       sync.Mutex
	state    State
	conn     Conn
	gen      uint64 // 每次建立或释放连接时递增
	hsTimer  *time.Timer
	cbs      callbacks
	service  string
	username *string
	password *string

	// 发送缓冲
	out *bytebufferpool.ByteBuffer

	// 最近收到的各部分
	handshake  *Handshake
	lastCtl    Control
	lastUsrCtl UserControl
	lastData   Data
	lastReqCtl Control
	phase      Phase
}

// New 创建会话
func New(transport Transport, cfg *Config, opts ...Option) (*Session, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		config:    cfg,
		transport: transport,
		logger:    logger.NewNoop(),
		tracer:    otel.GetTracerProvider().Tracer(tracerName),
		pool:      bytebuff.NewValyalaPool(),
		state:     StateClosed,
	}

	// 应用选项
	for _, opt := range opts {
		opt(s)
	}

	if s.codec == nil {
		codec, err := NewCodec(cfg.Codec, s.newID)
		if err != nil {
			return nil, err
		}
		s.codec = codec
	}

	if s.metrics == nil && s.metricsRegisterer != nil {
		s.metrics = NewMetrics(s.metricsRegisterer)
	}

	if cfg.SendRateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.SendRateLimit), cfg.SendBurst)
	}

	s.logger = s.logger.Named("csap").WithFields("codec", s.codec.Name())
	s.metrics.OnState(StateClosed)

	return s, nil
}

// Open 建立连接并发送握手请求
// 已有连接时先关闭旧连接；失败时触发 open 错误回调并返回错误
func (s *Session) Open(ctx context.Context, req OpenRequest) error {
	ep := Endpoint{
		Host: req.Host,
		Port: req.Port,
		Mode: req.Mode,
		Path: req.Path,
	}
	if ep.Mode == "" {
		ep.Mode = s.config.Mode
	}
	if ep.Path == "" {
		ep.Path = s.config.Path
	}

	ctx, span := s.tracer.Start(ctx, "csap.Open", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("csap.service", req.Service),
			attribute.String("csap.url", ep.URL()),
		))
	defer span.End()

	// 释放旧连接
	s.mu.Lock()
	prev := s.detachLocked()
	s.service = req.Service
	s.username = req.Username
	s.password = req.Password
	s.resetReceivedLocked()
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	if err := ep.Validate(); err != nil {
		err = withStatus(StatusConnect, "open", errors.Wrapf(err, "%s:%d", ep.Host, ep.Port))
		return s.openFailed(span, err)
	}

	conn, err := s.dial(ctx, ep)
	if err != nil {
		return s.openFailed(span, withStatus(StatusConnect, "open", err))
	}

	payload, err := json.Marshal(newHandshakeRequest(req.Service, req.Username, req.Password))
	if err == nil {
		err = conn.Send(ctx, payload)
	}
	if err != nil {
		_ = conn.Close()
		return s.openFailed(span, withStatus(StatusSend, "handshake", err))
	}

	s.mu.Lock()
	stale := s.detachLocked()
	s.gen++
	gen := s.gen
	s.conn = conn
	s.setStateLocked(StateHandshake)
	if timeout := s.config.HandshakeTimeout; timeout > 0 {
		s.hsTimer = time.AfterFunc(timeout, func() {
			s.failIn(gen, StateHandshake, EventHandshake,
				withStatus(StatusProtocol, "handshake", ErrHandshakeTimeout))
		})
	}
	cb := s.cbs.get(EventOpen)
	s.mu.Unlock()
	if stale != nil {
		_ = stale.Close()
	}

	s.metrics.OnOpen(true)
	s.logger.Info("csap session opened",
		"url", ep.URL(),
		"service", req.Service,
		"conn_id", conn.ID(),
	)

	if err := invokeCallback(cb, s, Result{Event: EventOpen}); err != nil {
		err = withStatus(StatusProtocol, "open callback", err)
		s.fail(gen, EventError, err)
		return err
	}

	// 回调中可能已经关闭或重新打开会话
	if !s.isCurrent(gen) {
		return nil
	}

	if err := conn.Start(&connSink{s: s, gen: gen}); err != nil {
		err = withStatus(StatusConnect, "open", err)
		s.fail(gen, EventError, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

// dial 调用传输层建立连接，传输层 panic 转为错误
func (s *Session) dial(ctx context.Context, ep Endpoint) (conn Conn, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			conn = nil
			err = errors.Newf("transport dial panicked: %v", rec)
		}
	}()
	conn, err = s.transport.Dial(ctx, ep)
	if err == nil && conn == nil {
		err = errors.New("transport returned nil connection")
	}
	return conn, err
}

// openFailed 处理连接失败
func (s *Session) openFailed(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	s.mu.Lock()
	conn := s.detachLocked()
	cb := s.cbs.get(EventOpen)
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	s.metrics.OnOpen(false)
	s.metrics.OnError(EventOpen.String())
	s.logger.Error("csap open failed", "error", err, "status", StatusCode(err))
	s.report(err, EventOpen)

	if cbErr := invokeCallback(cb, s, Result{Event: EventOpen, Err: err}); cbErr != nil {
		s.logger.Error("csap open callback failed", "error", cbErr)
	}
	return err
}

// Close 关闭连接，可重复调用
// 持有连接时触发一次成功的 close 回调，未打开或已关闭时不触发
func (s *Session) Close() error {
	s.mu.Lock()
	from := s.state
	conn := s.detachLocked()
	cb := s.cbs.get(EventClose)
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()

	s.metrics.OnClose()
	s.logger.Info("csap session closed", "conn_id", conn.ID(), "state", from.String())
	if cbErr := invokeCallback(cb, s, Result{Event: EventClose}); cbErr != nil {
		s.logger.Error("csap close callback failed", "error", cbErr)
	}
	return err
}

// fail 在连接仍为 gen 时释放连接并触发 ev 的错误回调
func (s *Session) fail(gen uint64, ev Event, err error) {
	s.failWhen(gen, nil, ev, err)
}

// failIn 仅当会话仍处于 want 状态时才执行 fail
func (s *Session) failIn(gen uint64, want State, ev Event, err error) {
	s.failWhen(gen, func(st State) bool { return st == want }, ev, err)
}

func (s *Session) failWhen(gen uint64, check func(State) bool, ev Event, err error) {
	s.mu.Lock()
	if gen != s.gen || s.conn == nil || (check != nil && !check(s.state)) {
		s.mu.Unlock()
		return
	}
	from := s.state
	conn := s.detachLocked()
	cb := s.cbs.get(ev)
	s.mu.Unlock()

	_ = conn.Close()

	if ev == EventHandshake {
		s.metrics.OnHandshake(false)
	}
	s.metrics.OnError(ev.String())
	s.logger.Error("csap session failed",
		"event", ev.String(),
		"state", from.String(),
		"status", StatusCode(err),
		"error", err,
	)
	s.report(err, ev)

	if cbErr := invokeCallback(cb, s, Result{Event: ev, Err: err}); cbErr != nil {
		s.logger.Error("csap error callback failed", "event", ev.String(), "error", cbErr)
	}
}

// detachLocked 释放当前连接并回到 StateClosed，返回需要关闭的连接
func (s *Session) detachLocked() Conn {
	conn := s.conn
	s.conn = nil
	if conn != nil {
		s.gen++
	}
	if s.hsTimer != nil {
		s.hsTimer.Stop()
		s.hsTimer = nil
	}
	s.setStateLocked(StateClosed)
	return conn
}

func (s *Session) setStateLocked(st State) {
	s.state = st
	s.metrics.OnState(st)
}

func (s *Session) resetReceivedLocked() {
	s.handshake = nil
	s.lastCtl = Control{}
	s.lastUsrCtl = UserControl{}
	s.lastData = Data{}
	s.lastReqCtl = Control{}
	s.phase = PhaseNone
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen && s.conn != nil
}

func (s *Session) report(err error, ev Event) {
	if s.reporter == nil || err == nil {
		return
	}
	s.reporter.CaptureError(err, map[string]string{
		"csap.event":   ev.String(),
		"csap.status":  strconv.Itoa(StatusCode(err)),
		"csap.service": s.Service(),
	})
}

// ================================
// 回调注册
// ================================

// On 注册事件回调，同一事件只保留最后一次注册，cb 为 nil 表示移除
func (s *Session) On(ev Event, cb Callback) {
	s.mu.Lock()
	s.cbs.set(ev, cb)
	s.mu.Unlock()
}

// SetHandler 用 Handler 替换全部回调
func (s *Session) SetHandler(h Handler) {
	s.mu.Lock()
	s.cbs.setHandler(h)
	s.mu.Unlock()
}

// SetOpenCallback 设置 open 回调
func (s *Session) SetOpenCallback(cb Callback) { s.On(EventOpen, cb) }

// SetHandshakeCallback 设置 handshake 回调
func (s *Session) SetHandshakeCallback(cb Callback) { s.On(EventHandshake, cb) }

// SetDataCallback 设置 data 回调，Result.Phase 标识收到的是哪一部分
// 回调执行时 State() 已经是下一个状态
func (s *Session) SetDataCallback(cb Callback) { s.On(EventData, cb) }

// SetCloseCallback 设置 close 回调
func (s *Session) SetCloseCallback(cb Callback) { s.On(EventClose, cb) }

// SetErrorCallback 设置连接级错误回调
func (s *Session) SetErrorCallback(cb Callback) { s.On(EventError, cb) }

// ================================
// 访问器
// ================================

// State 当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Phase 最近一次数据回调的阶段
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Service 服务名
func (s *Session) Service() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.service
}

// Handshake 握手应答，未完成握手时为 nil
func (s *Session) Handshake() *Handshake {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshake
}

// LastControl 最近收到的控制帧
func (s *Session) LastControl() Control {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCtl
}

// LastUserControl 最近收到的用户控制帧
func (s *Session) LastUserControl() UserControl {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsrCtl
}

// LastData 最近收到的数据帧
func (s *Session) LastData() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastData
}

// LastRequestControl 最近发送的控制帧
func (s *Session) LastRequestControl() Control {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReqCtl
}

// String 返回会话描述
func (s *Session) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("csap.Session{service=%s state=%s}", s.service, s.state)
}
