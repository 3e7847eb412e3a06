package tracing

import "errors"

var (
	ErrInvalidServiceName  = errors.New("tracing: invalid service name")
	ErrInvalidSamplerRatio = errors.New("tracing: sampler ratio must be between 0 and 1")
	ErrProviderClosed      = errors.New("tracing: provider is closed")
	ErrExporterFailed      = errors.New("tracing: failed to create exporter")
	ErrUnsupportedExporter = errors.New("tracing: unsupported exporter type")
)
