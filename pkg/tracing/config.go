package tracing

import (
	"fmt"
	"time"
)

// ExporterType 导出器类型
type ExporterType string

const (
	ExporterOTLPHTTP ExporterType = "otlp-http"
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	// ExporterStdout 输出到标准输出，调试用
	ExporterStdout ExporterType = "stdout"
	ExporterNoop   ExporterType = "noop"
)

// SamplerType 采样类型
type SamplerType string

const (
	SamplerAlways SamplerType = "always"
	SamplerNever  SamplerType = "never"
	SamplerRatio  SamplerType = "ratio"
	// SamplerParent 跟随父 Span 的采样决策
	SamplerParent SamplerType = "parent"
)

// Config TracerProvider 配置
type Config struct {
	// Enabled 是否启用追踪，显式传入 false 时返回空实现
	Enabled     bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" json:"service_name" yaml:"service_name"`

	// Endpoint OTLP HTTP 默认 localhost:4318，gRPC 默认 localhost:4317
	Endpoint     string       `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint"`
	ExporterType ExporterType `mapstructure:"exporter_type" json:"exporter_type" yaml:"exporter_type"`
	Insecure     bool         `mapstructure:"insecure" json:"insecure" yaml:"insecure"`

	Sampler     SamplerConfig     `mapstructure:"sampler" json:"sampler" yaml:"sampler"`
	BatchExport BatchExportConfig `mapstructure:"batch_export" json:"batch_export" yaml:"batch_export"`

	// Attributes 附加的资源属性
	Attributes map[string]string `mapstructure:"attributes" json:"attributes" yaml:"attributes"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SamplerConfig 采样配置
type SamplerConfig struct {
	Type SamplerType `mapstructure:"type" json:"type" yaml:"type"`
	// Ratio 仅当 Type 为 ratio 时有效
	Ratio float64 `mapstructure:"ratio" json:"ratio" yaml:"ratio"`
}

// BatchExportConfig 批量导出配置
type BatchExportConfig struct {
	BatchSize     int           `mapstructure:"batch_size" json:"batch_size" yaml:"batch_size"`
	ExportTimeout time.Duration `mapstructure:"export_timeout" json:"export_timeout" yaml:"export_timeout"`
	MaxQueueSize  int           `mapstructure:"max_queue_size" json:"max_queue_size" yaml:"max_queue_size"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout" json:"batch_timeout" yaml:"batch_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		ServiceName:  "csap",
		Endpoint:     "localhost:4318",
		ExporterType: ExporterOTLPHTTP,
		Insecure:     true,
		Sampler: SamplerConfig{
			Type:  SamplerParent,
			Ratio: 1.0,
		},
		BatchExport: BatchExportConfig{
			BatchSize:     512,
			ExportTimeout: 30 * time.Second,
			MaxQueueSize:  2048,
			BatchTimeout:  5 * time.Second,
		},
		Attributes:      make(map[string]string),
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ServiceName == "" {
		return ErrInvalidServiceName
	}
	if c.Sampler.Type == SamplerRatio && (c.Sampler.Ratio < 0 || c.Sampler.Ratio > 1) {
		return ErrInvalidSamplerRatio
	}
	switch c.ExporterType {
	case ExporterOTLPHTTP, ExporterOTLPGRPC, ExporterStdout, ExporterNoop:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedExporter, c.ExporterType)
	}
	return nil
}
