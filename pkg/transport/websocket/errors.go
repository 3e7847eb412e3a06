package websocket

import "errors"

var (
	// 配置错误
	ErrInvalidConfig    = errors.New("websocket: invalid config")
	ErrTLSConfigInvalid = errors.New("websocket: tls config invalid")

	// 连接错误
	ErrConnectionClosed = errors.New("websocket: connection closed")
	ErrDialFailed       = errors.New("websocket: dial failed")
	ErrAlreadyStarted   = errors.New("websocket: read loop already started")
	ErrNilSink          = errors.New("websocket: nil event sink")

	// 心跳错误
	ErrHeartbeatTimeout = errors.New("websocket: heartbeat timeout")
)
