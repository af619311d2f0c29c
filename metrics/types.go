// Package metrics 为 Fabric 提供统一的指标收集能力。
// 基于 OpenTelemetry 标准构建，提供简洁的 Counter、Gauge、Histogram 指标接口。
//
// 架构说明：
//   - 基于 OpenTelemetry 标准，确保与云原生生态兼容
//   - 内置 Prometheus HTTP 服务器，支持指标自动暴露
//   - Enabled=false 时返回 noop Meter，调用方无需判空
//
// 快速开始：
//
//	meter, err := metrics.New(&metrics.Config{
//	    Enabled:     true,
//	    ServiceName: "visitor-service",
//	    Port:        9090,
//	    Path:        "/metrics",
//	})
//	defer meter.Shutdown(ctx)
//
//	counter, _ := meter.Counter("fabric_client_requests_total", "出站请求总数")
//	counter.Inc(ctx, metrics.L("service", "billing-service"))
package metrics

import "context"

// Counter 计数器接口
// 用于记录只能增加的累计值，例如请求数、错误次数等
type Counter interface {
	// Inc 将计数器增加 1
	Inc(ctx context.Context, labels ...Label)

	// Add 将计数器增加给定的值
	// 注意：如果传入负数，大部分监控系统会忽略或报错
	Add(ctx context.Context, val float64, labels ...Label)
}

// Gauge 仪表盘接口
// 用于记录可以任意增减的瞬时值，例如在途消息数、缓存实例数等
type Gauge interface {
	// Set 将 gauge 设置为给定的值
	Set(ctx context.Context, val float64, labels ...Label)

	// Inc 将 gauge 增加 1
	Inc(ctx context.Context, labels ...Label)

	// Dec 将 gauge 减少 1
	Dec(ctx context.Context, labels ...Label)
}

// Histogram 直方图接口
// 用于记录值的分布情况，例如请求耗时、消息处理延迟等
type Histogram interface {
	// Record 记录一个观测值
	Record(ctx context.Context, val float64, labels ...Label)
}

// Meter 指标工厂接口
//
// 同名指标重复创建会复用底层 Instrument（OTel 语义保证）。
type Meter interface {
	// Counter 创建累加器
	Counter(name string, desc string, opts ...MetricOption) (Counter, error)

	// Gauge 创建仪表盘
	Gauge(name string, desc string, opts ...MetricOption) (Gauge, error)

	// Histogram 创建直方图
	Histogram(name string, desc string, opts ...MetricOption) (Histogram, error)

	// Shutdown 关闭 Meter，刷新所有指标
	Shutdown(ctx context.Context) error
}

// MetricOption 指标创建选项
type MetricOption func(*MetricOptions)

// MetricOptions 指标创建选项集合
type MetricOptions struct {
	// Unit 指标单位，如 "s"、"bytes"
	Unit string
}

// WithUnit 设置指标单位
func WithUnit(unit string) MetricOption {
	return func(o *MetricOptions) {
		o.Unit = unit
	}
}
