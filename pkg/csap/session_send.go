package csap

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
)

// PutData 追加待发送数据，多次调用累积到下一次 Send
func (s *Session) PutData(p []byte) error {
	if len(p) == 0 {
		return ErrEmptyData
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending := 0
	if s.out != nil {
		pending = s.out.Len()
	}
	if limit := s.config.MaxSegmentSize; limit > 0 && pending+len(p) > limit {
		return errors.Wrapf(ErrSegmentTooLarge, "%d + %d > %d", pending, len(p), limit)
	}

	if s.out == nil {
		s.out = s.pool.Get()
	}
	_, _ = s.out.Write(p)
	return nil
}

// PutString 追加文本数据
func (s *Session) PutString(str string) error {
	return s.PutData([]byte(str))
}

// Pending 待发送数据长度
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return 0
	}
	return s.out.Len()
}

// Clear 清空待发送数据和最近收到的各部分
func (s *Session) Clear() {
	s.mu.Lock()
	out := s.out
	s.out = nil
	s.lastCtl = Control{}
	s.lastUsrCtl = UserControl{}
	s.lastData = Data{}
	s.phase = PhaseNone
	s.mu.Unlock()

	if out != nil {
		s.pool.Put(out)
	}
}

// Send 发送一个 envelope：控制帧、用户控制帧（非空时）、数据帧（非空时）
// 每一部分独立发送，前一部分失败不影响后续部分；发送缓冲总会被清空
func (s *Session) Send(ctx context.Context, usrCtl []byte) error {
	s.mu.Lock()
	conn := s.conn
	out := s.out
	s.out = nil
	s.mu.Unlock()

	if out != nil {
		defer s.pool.Put(out)
	}
	if conn == nil {
		return ErrNotOpen
	}

	var data []byte
	if out != nil {
		data = out.B
	}

	ctx, span := s.tracer.Start(ctx, "csap.Send", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("csap.usrctl_size", len(usrCtl)),
			attribute.Int("csap.data_size", len(data)),
		))
	defer span.End()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			err = withStatus(StatusSend, "send", err)
			span.RecordError(err)
			return err
		}
	}

	ctl, err := s.codec.EncodeControl(usrCtl, data)
	if err != nil {
		err = withStatus(StatusSend, "encode control", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.OnError("send")
		return err
	}

	var errs error
	errs = multierr.Append(errs, s.transmit(ctx, conn, PhaseCTL, ctl))
	if reqCtl, err := s.codec.DecodeControl(ctl); err == nil {
		s.mu.Lock()
		s.lastReqCtl = reqCtl
		s.mu.Unlock()
	}
	if len(usrCtl) > 0 {
		errs = multierr.Append(errs, s.transmit(ctx, conn, PhaseUSRCTL, usrCtl))
	}
	if len(data) > 0 {
		errs = multierr.Append(errs, s.transmit(ctx, conn, PhaseDATA, data))
	}

	s.metrics.OnEnvelopeSent()
	if errs != nil {
		span.RecordError(errs)
		span.SetStatus(codes.Error, errs.Error())
		s.logger.Warn("csap send incomplete",
			"failed_parts", len(multierr.Errors(errs)),
			"error", errs,
		)
		s.report(errs, EventData)
		return errs
	}

	s.logger.Debug("csap envelope sent",
		"usrctl_size", len(usrCtl),
		"data_size", len(data),
		"digest", Digest(data),
	)
	return nil
}

// transmit 发送 envelope 中的一部分
func (s *Session) transmit(ctx context.Context, conn Conn, part Phase, payload []byte) error {
	if err := conn.Send(ctx, payload); err != nil {
		s.metrics.OnError("send")
		return withStatus(StatusSend, "send "+string(part), err)
	}
	s.metrics.OnFrameSent(part, len(payload))
	return nil
}
