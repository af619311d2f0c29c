package discovery

import (
	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

// options 选项结构
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

// WithLogger 注入日志记录器
// 组件内部会自动追加 "discovery" namespace
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("discovery")
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

// DiscoverOption 单次发现查询选项
type DiscoverOption func(*discoverOptions)

type discoverOptions struct {
	version string
}

// WithVersion 只返回指定版本的实例，不同版本各自独立缓存
func WithVersion(version string) DiscoverOption {
	return func(o *discoverOptions) {
		o.version = version
	}
}
