package cache

import (
	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/metrics"
)

// Option Call 缓存选项
type Option[K comparable] func(*options[K])

type options[K comparable] struct {
	logger clog.Logger
	meter  metrics.Meter
	keyFn  KeyFunc[K]
}

func defaultOptions[K comparable]() *options[K] {
	return &options[K]{
		logger: clog.Discard(),
		meter:  metrics.Disabled(),
		keyFn:  defaultKey[K],
	}
}

// WithLogger 设置日志器
func WithLogger[K comparable](logger clog.Logger) Option[K] {
	return func(o *options[K]) {
		if logger != nil {
			o.logger = logger.With(clog.String("component", "cache"))
		}
	}
}

// WithMeter 设置指标收集器
func WithMeter[K comparable](meter metrics.Meter) Option[K] {
	return func(o *options[K]) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithKeyFunc 自定义缓存键构造
func WithKeyFunc[K comparable](fn KeyFunc[K]) Option[K] {
	return func(o *options[K]) {
		if fn != nil {
			o.keyFn = fn
		}
	}
}
