package client

import (
	"fmt"
	"net/http"

	"github.com/ceyewan/fabric/xerrors"
)

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("client: config is nil")

	// ErrDiscoveryNil 未提供服务发现
	ErrDiscoveryNil = xerrors.New("client: discovery is nil")

	// ErrServiceEmpty 服务名为空
	ErrServiceEmpty = xerrors.New("client: service name is empty")

	// ErrBodyEncode 请求体序列化失败
	ErrBodyEncode = xerrors.New("client: encode request body")
)

// StatusError 服务端返回的非 2xx 状态
//
// retryable 取决于组件配置的 RetryableStatuses：
// 可重试的状态触发退避重试，其余状态立即返回给调用方。
type StatusError struct {
	Service    string
	StatusCode int
	Body       []byte

	retryable bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client: %s returned %d %s", e.Service, e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable 返回该状态是否可重试
func (e *StatusError) Retryable() bool {
	return e.retryable
}

// StatusCodeOf 从错误链中提取 HTTP 状态码，非状态错误返回 0
func StatusCodeOf(err error) int {
	var se *StatusError
	if xerrors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
