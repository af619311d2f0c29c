package breaker

import "github.com/ceyewan/fabric/xerrors"

// 错误定义
var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("breaker: config is nil")

	// ErrKeyEmpty 熔断键为空
	ErrKeyEmpty = xerrors.New("breaker: key is empty")

	// ErrOpenState 熔断器处于打开状态，请求被拒绝
	ErrOpenState = xerrors.New("breaker: circuit breaker is open")

	// ErrTooManyRequests 半开状态下探测请求数已满
	ErrTooManyRequests = xerrors.New("breaker: too many requests in half-open state")
)

// IsOpen 检查错误是否由熔断拒绝引起
// 熔断拒绝不应触发上层重试，重试只会在打开状态下空转
func IsOpen(err error) bool {
	return xerrors.Is(err, ErrOpenState) || xerrors.Is(err, ErrTooManyRequests)
}
