package trace

import (
	"time"

	"github.com/ceyewan/fabric/xerrors"
)

// 导出器类型
const (
	ExporterLog  = "log"  // 结构化日志导出
	ExporterOTLP = "otlp" // OTLP gRPC 导出
	ExporterNone = "none" // 不导出（仅传播上下文）
)

// Config 追踪器配置
type Config struct {
	// ServiceName 服务名称，写入每个 Span [必填]
	ServiceName string `mapstructure:"service_name" json:"service_name" yaml:"service_name"`

	// SampleRate 根 Span 采样率 [0,1]，默认 1.0
	// 配置为 0 时视为未设置，使用默认值；完全关闭采样请使用 WithSampler(NeverSample())
	SampleRate float64 `mapstructure:"sample_rate" json:"sample_rate" yaml:"sample_rate"`

	// Exporter 导出器类型 (log|otlp|none)，默认 log
	Exporter string `mapstructure:"exporter" json:"exporter" yaml:"exporter"`

	// OTLPEndpoint OTLP gRPC 端点，默认 "127.0.0.1:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint" yaml:"otlp_endpoint"`

	// BatchSize 单批导出的最大 Span 数，默认 64
	BatchSize int `mapstructure:"batch_size" json:"batch_size" yaml:"batch_size"`

	// FlushInterval 批量导出的最大等待时间，默认 5s
	FlushInterval time.Duration `mapstructure:"flush_interval" json:"flush_interval" yaml:"flush_interval"`

	// QueueSize 待导出 Span 队列长度，默认 1024
	// 队列满时新结束的 Span 被丢弃，保证 End() 永不阻塞
	QueueSize int `mapstructure:"queue_size" json:"queue_size" yaml:"queue_size"`
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.Exporter == "" {
		c.Exporter = ExporterLog
	}
	if c.OTLPEndpoint == "" {
		c.OTLPEndpoint = "127.0.0.1:4317"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 64
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.QueueSize == 0 {
		c.QueueSize = 1024
	}
}

// validate 验证配置
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "trace: service_name is required")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "trace: sample_rate must be in [0,1]")
	}
	switch c.Exporter {
	case ExporterLog, ExporterOTLP, ExporterNone:
	default:
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "trace: unknown exporter %q", c.Exporter)
	}
	return nil
}
