// Package breaker 提供了熔断器组件，用于下游服务的故障隔离与自动恢复。
//
// breaker 是 Fabric 治理层的核心组件，它提供了：
// - 基于 gobreaker 的熔断器实现
// - 键级粒度的熔断管理（按目标服务名独立熔断）
// - 连续失败计数触发熔断，半开状态探测自动恢复
// - 操作级超时控制（超时计为失败）
// - 状态变更事件流，供监控和告警消费
// - gRPC Unary Interceptor 无侵入集成
//
// ## 基本使用
//
//	brk, _ := breaker.New(&breaker.Config{
//		FailureThreshold: 5,
//		SuccessThreshold: 2,
//		ResetTimeout:     60 * time.Second,
//		OperationTimeout: 10 * time.Second,
//	}, breaker.WithLogger(logger))
//	defer brk.Close()
//
//	result, err := brk.Execute(ctx, "billing-service", func(ctx context.Context) (any, error) {
//		return doCall(ctx)
//	})
//
// ## 状态监控
//
//	go func() {
//		for ev := range brk.Events() {
//			logger.Warn("breaker state changed",
//				clog.String("key", ev.Key),
//				clog.String("from", ev.From.String()),
//				clog.String("to", ev.To.String()))
//		}
//	}()
package breaker

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

// Breaker 熔断器核心接口
type Breaker interface {
	// Execute 执行受熔断保护的函数
	// key: 熔断键（通常是目标服务名）
	// fn: 要执行的函数，其 ctx 带有操作超时
	//
	// 熔断打开时立即返回 ErrOpenState，不执行 fn。
	// fn 执行超过 OperationTimeout 时返回超时错误，并计为一次失败。
	Execute(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error)

	// State 获取指定键的熔断器状态
	// 键不存在时返回 StateClosed（尚无失败历史等价于正常）
	State(key string) State

	// Events 返回状态变更事件流
	// 通道带缓冲，消费不及时的事件会被丢弃，不会阻塞熔断器
	Events() <-chan StateChange

	// UnaryClientInterceptor 返回 gRPC 一元调用客户端拦截器
	UnaryClientInterceptor(opts ...InterceptorOption) grpc.UnaryClientInterceptor

	// Close 停止后台状态巡检并关闭事件流
	Close() error
}

// State 熔断器状态
type State int

const (
	// StateClosed 闭合状态（正常）
	StateClosed State = iota
	// StateHalfOpen 半开状态（探测恢复）
	StateHalfOpen
	// StateOpen 打开状态（熔断中）
	StateOpen
)

// String 返回状态的字符串表示
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// StateChange 状态变更事件
type StateChange struct {
	Key  string    // 熔断键
	From State     // 源状态
	To   State     // 目标状态
	At   time.Time // 变更时间
}

// Config 熔断器配置
type Config struct {
	// FailureThreshold 触发熔断的连续失败次数（默认：5）
	// 闭合状态下连续失败达到该值时进入打开状态
	FailureThreshold uint32 `mapstructure:"failure_threshold" json:"failure_threshold" yaml:"failure_threshold"`

	// SuccessThreshold 半开状态下恢复闭合所需的连续成功次数（默认：2）
	// 同时作为半开状态允许通过的探测请求数
	SuccessThreshold uint32 `mapstructure:"success_threshold" json:"success_threshold" yaml:"success_threshold"`

	// ResetTimeout 打开状态持续时间（默认：60s）
	// 超时后进入半开状态进行探测
	ResetTimeout time.Duration `mapstructure:"reset_timeout" json:"reset_timeout" yaml:"reset_timeout"`

	// OperationTimeout 单次操作超时（默认：10s）
	// 操作超时计为一次失败
	OperationTimeout time.Duration `mapstructure:"operation_timeout" json:"operation_timeout" yaml:"operation_timeout"`

	// ProbeInterval 后台状态巡检间隔（默认：1s）
	// 巡检保证打开状态在无流量时也能按时转入半开并发出事件
	ProbeInterval time.Duration `mapstructure:"probe_interval" json:"probe_interval" yaml:"probe_interval"`
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 2
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = 60 * time.Second
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = 10 * time.Second
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = time.Second
	}
}

// New 创建熔断器实例
//
// 参数:
//   - cfg: 熔断器配置，nil 时报错
//   - opts: 可选参数 (Logger, Meter, Fallback)
func New(cfg *Config, opts ...Option) (Breaker, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()

	opt := defaultOptions()
	for _, o := range opts {
		o(&opt)
	}

	return newBreaker(cfg, opt)
}
