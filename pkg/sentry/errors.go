package sentry

import "errors"

var (
	ErrInvalidConfig = errors.New("sentry: invalid config")
	ErrInvalidDSN    = errors.New("sentry: invalid DSN")
	ErrClientClosed  = errors.New("sentry: client closed")
	ErrNilConfig     = errors.New("sentry: nil config")
)
