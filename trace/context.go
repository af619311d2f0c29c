package trace

import "context"

type spanContextKey struct{}

// ContextWithSpan 将 Span 存入 context
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanContextKey{}, span)
}

// FromContext 从 context 中取出当前 Span
// 没有 Span 或链路未采样时返回 nil，nil Span 可安全使用
func FromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanContextKey{}).(*Span)
	return span
}

type remoteContextKey struct{}

// contextWithRemote 保存入站提取的远端追踪上下文
// 用于未采样链路上的透传（Span 为 nil 时仍需传播 TraceID 和 Baggage）
func contextWithRemote(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, remoteContextKey{}, tc)
}

func remoteFromContext(ctx context.Context) (TraceContext, bool) {
	tc, ok := ctx.Value(remoteContextKey{}).(TraceContext)
	return tc, ok
}
