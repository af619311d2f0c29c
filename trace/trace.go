// Package trace 提供了轻量级分布式追踪组件，通过自定义请求头跨服务传播追踪上下文。
//
// trace 是 Fabric 可观测性层的核心组件，它提供了：
// - TraceID/SpanID 生成与父子关系维护（与 OTLP 的 16/8 字节 ID 格式兼容）
// - 通过 x-trace-* 请求头的上下文传播，支持任意键值 Baggage
// - 头部采样决策，未采样的链路零开销（nil Span 安全）
// - 批量导出，Span 结束永不阻塞业务调用
// - 可插拔导出器：结构化日志、OTLP gRPC
// - Gin 中间件无侵入集成
//
// ## 基本使用
//
//	tracer, _ := trace.New(&trace.Config{
//		ServiceName: "visitor-service",
//		SampleRate:  1.0,
//	}, trace.WithLogger(logger))
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.StartSpan(ctx, "handle-checkin")
//	defer span.End()
//	span.SetAttribute("visitor.badge", badgeID)
//
//	// 出站传播
//	tracer.Inject(ctx, trace.HeaderCarrier(req.Header))
package trace

import (
	"context"
	"net/http"
	"strings"
)

// 追踪上下文传播使用的请求头
const (
	// HeaderTraceID 整条链路的唯一 ID（32 位十六进制）
	HeaderTraceID = "x-trace-id"

	// HeaderSpanID 当前 Span 的 ID（16 位十六进制）
	HeaderSpanID = "x-span-id"

	// HeaderParentSpanID 当前 Span 的父 Span ID
	HeaderParentSpanID = "x-parent-span-id"

	// HeaderFlags 追踪标志位（十进制整数，bit0 为采样位）
	HeaderFlags = "x-trace-flags"

	// BaggagePrefix Baggage 键值对的头部前缀
	// 每个 Baggage 键单独占一个头，如 x-trace-baggage-tenant: acme
	BaggagePrefix = "x-trace-baggage-"
)

// FlagSampled 采样标志位
const FlagSampled = byte(0x01)

// TraceContext 跨服务传播的追踪上下文
type TraceContext struct {
	TraceID      string            // 32 位十六进制
	SpanID       string            // 16 位十六进制
	ParentSpanID string            // 父 Span ID，根 Span 为空
	Flags        byte              // bit0 为采样位
	Baggage      map[string]string // 跨服务透传的键值对
}

// Sampled 返回该链路是否被采样
func (tc TraceContext) Sampled() bool {
	return tc.Flags&FlagSampled != 0
}

// Valid 返回上下文是否携带合法的 TraceID 和 SpanID
func (tc TraceContext) Valid() bool {
	return isHexID(tc.TraceID, 32) && isHexID(tc.SpanID, 16)
}

// Tracer 追踪器接口
type Tracer interface {
	// StartSpan 开启一个 Span
	// 上下文中已有 Span 时创建子 Span，否则创建根 Span 并做采样决策。
	// 未采样时返回 nil Span，其全部方法都可安全调用。
	StartSpan(ctx context.Context, name string) (context.Context, *Span)

	// Inject 将当前追踪上下文写入载体（出站传播）
	Inject(ctx context.Context, carrier Carrier)

	// Extract 从载体中读取追踪上下文（入站传播）
	// 载体中没有合法上下文时返回零值
	Extract(carrier Carrier) TraceContext

	// Shutdown 冲刷未导出的 Span 并停止后台导出
	Shutdown(ctx context.Context) error
}

// Carrier 追踪上下文的传播载体
type Carrier interface {
	Get(key string) string
	Set(key, value string)
	Keys() []string
}

// HeaderCarrier 将 http.Header 适配为 Carrier
//
// 直接读写底层映射而不做 MIME 规范化，保留 Baggage 键的原始大小写；
// 键匹配不区分大小写。经过真实 HTTP 传输后，键的大小写以对端解析为准。
type HeaderCarrier http.Header

func (c HeaderCarrier) Get(key string) string {
	for k, values := range c {
		if len(values) > 0 && strings.EqualFold(k, key) {
			return values[0]
		}
	}
	return ""
}

func (c HeaderCarrier) Set(key, value string) {
	for k := range c {
		if strings.EqualFold(k, key) {
			delete(c, k)
		}
	}
	c[key] = []string{value}
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// MapCarrier 将普通字符串映射适配为 Carrier，键匹配不区分大小写
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string {
	for k, v := range c {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func (c MapCarrier) Set(key, value string) { c[key] = value }

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// isHexID 检查 s 是否为指定长度的十六进制串
func isHexID(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') && (r < 'A' || r > 'F') {
			return false
		}
	}
	// 全零 ID 无效
	return strings.Trim(s, "0") != ""
}
