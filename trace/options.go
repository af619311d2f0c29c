package trace

import (
	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

// options 选项结构
type options struct {
	logger   clog.Logger
	meter    metrics.Meter
	sampler  Sampler
	exporter Exporter
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Disabled(),
	}
}

// WithLogger 注入日志记录器
// 组件内部会自动追加 "trace" namespace
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("trace")
		}
	}
}

// WithMeter 注入指标 Meter
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithSampler 覆盖配置中的比例采样器
func WithSampler(s Sampler) Option {
	return func(o *options) {
		o.sampler = s
	}
}

// WithExporter 使用自定义导出器，优先于配置中的 Exporter 类型
func WithExporter(e Exporter) Option {
	return func(o *options) {
		o.exporter = e
	}
}
