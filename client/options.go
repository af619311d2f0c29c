package client

import (
	"net/http"
	"net/url"
	"time"

	"github.com/ceyewan/fabric/breaker"
	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/identity"
	"github.com/ceyewan/fabric/metrics"
	"github.com/ceyewan/fabric/trace"
)

// Option Client 组件选项
type Option func(*options)

type options struct {
	logger     clog.Logger
	meter      metrics.Meter
	breaker    breaker.Breaker
	identity   identity.Provider
	tracer     trace.Tracer
	httpClient *http.Client
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
			o.logger = logger.With(clog.String("component", "client"))
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

// WithBreaker 设置熔断器，每个服务名一个独立的熔断实例
// 不设置时请求不经过熔断
func WithBreaker(cb breaker.Breaker) Option {
	return func(o *options) {
		o.breaker = cb
	}
}

// WithIdentity 设置身份提供者，出站请求自动携带服务身份头
func WithIdentity(provider identity.Provider) Option {
	return func(o *options) {
		o.identity = provider
	}
}

// WithTracer 设置追踪器，出站请求自动注入追踪头
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// WithHTTPClient 替换底层 HTTP 客户端，主要用于测试和定制传输层
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		if hc != nil {
			o.httpClient = hc
		}
	}
}

// RequestOption 单次请求选项
type RequestOption func(*requestOptions)

type requestOptions struct {
	body          any
	header        http.Header
	query         url.Values
	correlationID string
	version       string
	timeout       time.Duration
	skipRetry     bool
	skipBreaker   bool
}

// WithBody 设置请求体，发送前按 JSON 序列化
func WithBody(body any) RequestOption {
	return func(o *requestOptions) {
		o.body = body
	}
}

// WithHeader 追加请求头
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.header == nil {
			o.header = http.Header{}
		}
		o.header.Add(key, value)
	}
}

// WithQuery 追加查询参数
func WithQuery(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.query == nil {
			o.query = url.Values{}
		}
		o.query.Add(key, value)
	}
}

// WithVersion 只路由到指定版本的服务实例
func WithVersion(version string) RequestOption {
	return func(o *requestOptions) {
		o.version = version
	}
}

// WithCorrelationID 指定关联 ID，不指定时自动生成
func WithCorrelationID(id string) RequestOption {
	return func(o *requestOptions) {
		o.correlationID = id
	}
}

// WithRequestTimeout 覆盖本次请求的超时时间
func WithRequestTimeout(timeout time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.timeout = timeout
	}
}

// WithSkipRetry 本次请求失败后不重试
func WithSkipRetry() RequestOption {
	return func(o *requestOptions) {
		o.skipRetry = true
	}
}

// WithSkipBreaker 本次请求绕过熔断器
func WithSkipBreaker() RequestOption {
	return func(o *requestOptions) {
		o.skipBreaker = true
	}
}
