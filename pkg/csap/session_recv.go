package csap

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// handleMessage 处理入站消息，按当前状态解释
func (s *Session) handleMessage(gen uint64, msg []byte) {
	s.mu.Lock()
	if gen != s.gen || s.conn == nil {
		s.mu.Unlock()
		return
	}

	switch s.state {
	case StateHandshake:
		s.recvHandshakeLocked(gen, msg)
	case StateCTL:
		s.recvControlLocked(gen, msg)
	case StateUSRCTL:
		s.recvUserControlLocked(gen, msg)
	case StateDATA:
		s.recvDataLocked(gen, msg)
	default:
		s.mu.Unlock()
	}
}

// recvHandshakeLocked HANDSHAKE -> CTL，调用前持有锁，返回前释放
func (s *Session) recvHandshakeLocked(gen uint64, msg []byte) {
	hs, err := parseHandshake(msg)
	if err != nil {
		s.mu.Unlock()
		s.fail(gen, EventHandshake, withStatus(StatusProtocol, "handshake", err))
		return
	}

	s.handshake = hs
	if s.hsTimer != nil {
		s.hsTimer.Stop()
		s.hsTimer = nil
	}
	s.setStateLocked(StateCTL)
	cb := s.cbs.get(EventHandshake)
	s.mu.Unlock()

	s.metrics.OnHandshake(true)
	s.logger.Info("csap handshake completed", "sid", hs.SessionID, "status", hs.Status)

	if err := invokeCallback(cb, s, Result{Event: EventHandshake}); err != nil {
		s.fail(gen, EventError, withStatus(StatusProtocol, "handshake callback", err))
	}
}

// recvControlLocked CTL -> USRCTL | DATA | CTL
func (s *Session) recvControlLocked(gen uint64, msg []byte) {
	ctl, err := s.codec.DecodeControl(msg)
	if err != nil {
		s.mu.Unlock()
		s.fail(gen, EventError, withStatus(StatusProtocol, "decode control", err))
		return
	}

	s.lastCtl = ctl
	s.lastUsrCtl = UserControl{}
	s.lastData = Data{}
	s.setStateLocked(ctl.Next())
	s.dispatchLocked(gen, PhaseCTL, msg,
		attribute.Int64("csap.usrctl_size", ctl.UsrCtlSize),
		attribute.Int64("csap.data_size", ctl.DataSize),
	)
}

// recvUserControlLocked USRCTL -> DATA
func (s *Session) recvUserControlLocked(gen uint64, msg []byte) {
	if err := s.verifySizeLocked(s.lastCtl.UsrCtlSize, msg); err != nil {
		s.mu.Unlock()
		s.fail(gen, EventError, withStatus(StatusReceive, "receive user control", err))
		return
	}

	s.lastUsrCtl = UserControl{Size: int64(len(msg)), Payload: cloneBytes(msg)}
	s.setStateLocked(StateDATA)
	s.dispatchLocked(gen, PhaseUSRCTL, msg)
}

// recvDataLocked DATA -> CTL
func (s *Session) recvDataLocked(gen uint64, msg []byte) {
	if err := s.verifySizeLocked(s.lastCtl.DataSize, msg); err != nil {
		s.mu.Unlock()
		s.fail(gen, EventError, withStatus(StatusReceive, "receive data", err))
		return
	}

	s.lastData = Data{Size: int64(len(msg)), Payload: cloneBytes(msg)}
	s.setStateLocked(StateCTL)
	s.dispatchLocked(gen, PhaseDATA, msg)
}

func (s *Session) verifySizeLocked(declared int64, msg []byte) error {
	if !s.config.VerifySizes || declared == int64(len(msg)) {
		return nil
	}
	return errors.Wrapf(ErrSizeMismatch, "declared %d, received %d", declared, len(msg))
}

// dispatchLocked 释放锁后调用 data 回调，回调 panic 时关闭会话
func (s *Session) dispatchLocked(gen uint64, phase Phase, msg []byte, attrs ...attribute.KeyValue) {
	s.phase = phase
	next := s.state
	cb := s.cbs.get(EventData)
	s.mu.Unlock()

	s.metrics.OnFrameReceived(phase, len(msg))
	s.logger.Debug("csap frame received",
		"phase", string(phase),
		"size", len(msg),
		"digest", Digest(msg),
		"next", next.String(),
	)

	attrs = append(attrs,
		attribute.String("csap.phase", string(phase)),
		attribute.Int("csap.size", len(msg)),
	)
	_, span := s.tracer.Start(context.Background(), "csap.Receive",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	if err := invokeCallback(cb, s, Result{Event: EventData, Phase: phase}); err != nil {
		span.RecordError(err)
		s.fail(gen, EventError, withStatus(StatusReceive, "data callback", err))
	}
}

// handleClose 传输层关闭
func (s *Session) handleClose(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.conn == nil {
		s.mu.Unlock()
		return
	}
	from := s.state
	conn := s.detachLocked()
	cb := s.cbs.get(EventClose)
	s.mu.Unlock()

	s.metrics.OnClose()
	if err != nil {
		s.logger.Warn("csap transport closed with error",
			"conn_id", conn.ID(), "state", from.String(), "error", err)
		err = withStatus(StatusReceive, "transport", err)
	} else {
		s.logger.Info("csap transport closed", "conn_id", conn.ID(), "state", from.String())
	}

	if cbErr := invokeCallback(cb, s, Result{Event: EventClose, Err: err}); cbErr != nil {
		s.logger.Error("csap close callback failed", "error", cbErr)
	}
}

// handleTransportError 传输层错误只记录，不改变状态
func (s *Session) handleTransportError(gen uint64, err error) {
	if !s.isCurrent(gen) || err == nil {
		return
	}
	s.metrics.OnError("transport")
	s.logger.Warn("csap transport error", "error", err)
	s.report(err, EventError)
}
