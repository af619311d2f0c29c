// Package client 提供面向服务名的弹性 HTTP 客户端。
//
// Client 把服务发现、熔断、重试和身份传播组合成一次调用：
// 调用方只关心"调用哪个服务的哪个接口"，不关心实例地址、
// 故障恢复和上下文传播的细节。
//
// 一次请求的完整链路：
//  1. 通过 Discovery 把服务名解析为健康实例地址（解析失败不重试）
//  2. 请求整体被熔断器包裹，熔断打开时快速失败
//  3. 注入身份头（Bearer 令牌、服务指纹、关联 ID）和追踪头
//  4. 按指数退避重试可重试的失败（网络错误和约定的状态码）
//
// 快速开始：
//
//	cli, err := client.New(disc, &client.Config{},
//	    client.WithBreaker(cb),
//	    client.WithIdentity(idp),
//	    client.WithTracer(tracer),
//	)
//	resp, err := cli.Request(ctx, "billing-service", http.MethodGet, "/invoices/42")
package client

import (
	"context"
	"encoding/json"
	"net/http"
)

// Client 弹性服务客户端接口
type Client interface {
	// Request 向目标服务发起一次 HTTP 请求
	//
	// service 是注册中心里的服务名，path 是服务内路径。
	// 重试和熔断策略按组件配置执行，可通过 RequestOption 逐请求覆盖。
	Request(ctx context.Context, service, method, path string, opts ...RequestOption) (*Response, error)

	// Get Request 的 GET 快捷方式
	Get(ctx context.Context, service, path string, opts ...RequestOption) (*Response, error)

	// Post Request 的 POST 快捷方式
	Post(ctx context.Context, service, path string, body any, opts ...RequestOption) (*Response, error)

	// Close 释放客户端持有的空闲连接
	Close() error
}

// Response 一次服务调用的响应
//
// Body 已被完整读取，调用方无需关心连接释放。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON 将响应体反序列化到 v
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}
