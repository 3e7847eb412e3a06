package csap

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// HandshakeRequest 握手请求，凭据原样透传
type HandshakeRequest struct {
	Op      string  `json:"op"`
	Service string  `json:"service"`
	U       *string `json:"u"`
	P       *string `json:"p"`
}

// Handshake 握手应答
type Handshake struct {
	Fields    map[string]any // 应答 JSON 对象
	Status    string         // handshake.status，未提供时为 "000"
	Reason    string         // handshake.reason
	SessionID string         // handshake.sid，未提供时为 NullSession
	Raw       []byte
}

// Get 返回应答中的顶层字段
func (h *Handshake) Get(key string) (any, bool) {
	if h == nil {
		return nil, false
	}
	v, ok := h.Fields[key]
	return v, ok
}

func newHandshakeRequest(service string, username, password *string) HandshakeRequest {
	return HandshakeRequest{
		Op:      "open",
		Service: service,
		U:       username,
		P:       password,
	}
}

// parseHandshake 解析握手应答
// 应答必须是 JSON 对象；若带有 handshake.status 且不为 "000" 则视为拒绝
func parseHandshake(msg []byte) (*Handshake, error) {
	var fields map[string]any
	if err := json.Unmarshal(msg, &fields); err != nil {
		return nil, errors.Wrap(ErrInvalidHandshake, err.Error())
	}
	if fields == nil {
		return nil, errors.Wrap(ErrInvalidHandshake, "reply is not an object")
	}

	hs := &Handshake{
		Fields:    fields,
		Status:    HandshakeStatusOK,
		SessionID: NullSession,
		Raw:       cloneBytes(msg),
	}

	raw, ok := fields["handshake"]
	if !ok {
		return hs, nil
	}
	status, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.Wrap(ErrInvalidHandshake, "handshake is not an object")
	}
	code, ok := status["status"].(string)
	if !ok {
		return nil, errors.Wrap(ErrInvalidHandshake, "missing handshake status")
	}
	hs.Status = code
	if reason, ok := status["reason"].(string); ok {
		hs.Reason = reason
	}
	if sid, ok := status["sid"].(string); ok && sid != "" {
		hs.SessionID = sid
	}

	if hs.Status != HandshakeStatusOK {
		return hs, errors.Wrapf(ErrHandshakeRejected, "status %s: %s", hs.Status, hs.Reason)
	}
	return hs, nil
}
