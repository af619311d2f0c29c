package bus

import (
	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/metrics"
	"github.com/ceyewan/fabric/trace"
)

// Option Bus 组件选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	tracer trace.Tracer
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Disabled(),
	}
}

// WithLogger 设置日志器
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.With(clog.String("component", "bus"))
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

// WithTracer 设置追踪器
// 发布时把当前追踪上下文注入消息头，消费时提取并续接链路
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// PublishOption 单次发布选项
type PublishOption func(*publishOptions)

type publishOptions struct {
	correlationID string
	headers       map[string]string
}

// WithPublishCorrelationID 覆盖事件的关联 ID
func WithPublishCorrelationID(id string) PublishOption {
	return func(o *publishOptions) {
		o.correlationID = id
	}
}

// WithPublishHeader 追加自定义消息头
func WithPublishHeader(key, value string) PublishOption {
	return func(o *publishOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}
