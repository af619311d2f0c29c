package connector

import (
	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/metrics"
)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Disabled(),
	}
}

// Option 配置连接器的选项
type Option func(*options)

// WithLogger 设置日志记录器
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("connector")
		}
	}
}

// WithMeter 设置指标收集器
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}
