package breaker

import (
	"context"

	"google.golang.org/grpc"

	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/metrics"
)

// InterceptorOption 拦截器选项函数类型
type InterceptorOption func(*interceptorConfig)

// interceptorConfig 拦截器内部配置（非导出）
type interceptorConfig struct {
	keyFunc KeyFunc
}

// WithKeyFunc 设置键生成函数
func WithKeyFunc(fn KeyFunc) InterceptorOption {
	return func(cfg *interceptorConfig) {
		cfg.keyFunc = fn
	}
}

// WithMethodLevelKey 使用方法级别键
func WithMethodLevelKey() InterceptorOption {
	return WithKeyFunc(MethodLevelKey())
}

// WithBackendLevelKey 使用后端级别键
// 推荐用于负载均衡场景，实现后端级别的熔断隔离
func WithBackendLevelKey() InterceptorOption {
	return WithKeyFunc(BackendLevelKey())
}

// UnaryClientInterceptor 返回 gRPC 一元调用客户端拦截器
// 为每个 gRPC 调用提供熔断保护
//
// 使用示例:
//
//	brk, _ := breaker.New(cfg, breaker.WithLogger(logger))
//	conn, _ := grpc.NewClient(
//		"localhost:9001",
//		grpc.WithUnaryInterceptor(brk.UnaryClientInterceptor()),
//	)
func (cb *circuitBreaker) UnaryClientInterceptor(opts ...InterceptorOption) grpc.UnaryClientInterceptor {
	cfg := &interceptorConfig{keyFunc: ServiceLevelKey()}
	for _, o := range opts {
		o(cfg)
	}

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
		key := cfg.keyFunc(ctx, method, cc)

		cb.logger.Debug("unary call with circuit breaker",
			clog.String("key", key),
			clog.String("method", method))

		_, err := cb.Execute(ctx, key, func(ctx context.Context) (any, error) {
			return nil, invoker(ctx, method, req, reply, cc, callOpts...)
		})

		result := "success"
		if err != nil {
			result = "failure"
		}
		if counter, e := cb.meter.Counter(MetricRequestsTotal, "Total requests"); e == nil {
			counter.Inc(ctx,
				metrics.L(LabelKey, key),
				metrics.L(LabelMethod, method),
				metrics.L(LabelResult, result))
		}

		return err
	}
}
