// Package identity 提供服务间调用的身份凭证能力。
//
// 遵循 Fabric 治理层规范，支持：
//   - 服务级 JWT 令牌的签发、缓存与验证
//   - 服务指纹计算，用于快速识别调用方
//   - 出站请求头注入（Authorization, X-Service-Name 等）
//   - Gin 中间件集成，验证入站服务令牌
//
// 基本使用：
//
//	provider, _ := identity.New(&identity.Config{
//	    ServiceName: "visitor-service",
//	    SecretKey:   "...",
//	})
//	token, _ := provider.Token(ctx)
//
//	// 为出站请求注入身份头
//	provider.ApplyHeaders(ctx, req.Header, correlationID)
package identity

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// 服务身份相关的标准请求头
const (
	// HeaderAuthorization 携带 Bearer 服务令牌
	HeaderAuthorization = "Authorization"

	// HeaderServiceName 调用方服务名
	HeaderServiceName = "X-Service-Name"

	// HeaderFingerprint 调用方服务指纹
	HeaderFingerprint = "X-Service-Fingerprint"

	// HeaderCorrelationID 请求关联 ID，跨服务透传
	HeaderCorrelationID = "X-Correlation-ID"
)

// BearerPrefix Authorization 头的令牌前缀
const BearerPrefix = "Bearer"

// ClaimsKey Gin Context 中存放已验证 Claims 的键
const ClaimsKey = "identity:claims"

// Provider 服务身份提供者接口
type Provider interface {
	// ServiceName 返回本服务名称
	ServiceName() string

	// Fingerprint 返回本服务指纹
	// 指纹由服务名和密钥派生，同一服务的所有实例一致
	Fingerprint() string

	// Token 返回当前有效的服务令牌
	// 令牌在内部缓存，临近过期时自动重新签发
	Token(ctx context.Context) (string, error)

	// Validate 验证服务令牌，返回 Claims
	Validate(ctx context.Context, token string) (*Claims, error)

	// ApplyHeaders 为出站请求注入身份头
	// correlationID 为空时不设置 X-Correlation-ID
	ApplyHeaders(ctx context.Context, h http.Header, correlationID string) error

	// GinMiddleware 返回验证入站服务令牌的 Gin 中间件
	GinMiddleware() gin.HandlerFunc
}
