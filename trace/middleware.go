package trace

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// GinMiddleware 返回追踪中间件
//
// 从入站请求头提取追踪上下文，为每个请求开启一个 Span，
// 并把 Span 挂到请求的 context 上供下游使用。
// 未采样的请求只透传上下文，不记录 Span。
func GinMiddleware(tracer Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if tc := tracer.Extract(HeaderCarrier(c.Request.Header)); tc.Valid() {
			ctx = ContextWithRemote(ctx, tc)
		}

		ctx, span := tracer.StartSpan(ctx, c.Request.Method+" "+c.FullPath())
		span.SetAttribute("http.method", c.Request.Method)
		span.SetAttribute("http.path", c.Request.URL.Path)

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		span.SetAttribute("http.status_code", strconv.Itoa(c.Writer.Status()))
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		span.End()
	}
}
