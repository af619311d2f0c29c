package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/fabric/clog"
)

// GinMiddleware 返回验证入站服务令牌的 Gin 中间件
//
// 验证通过后，Claims 存入 gin.Context，可通过 ClaimsFromGin 获取。
// 验证失败时返回 401。
func (p *jwtProvider) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractBearer(c.GetHeader(HeaderAuthorization))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims, err := p.Validate(c.Request.Context(), token)
		if err != nil {
			p.opts.logger.Warn("service token rejected",
				clog.String("caller", c.GetHeader(HeaderServiceName)),
				clog.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// ClaimsFromGin 从 gin.Context 中取出已验证的 Claims
func ClaimsFromGin(c *gin.Context) (*Claims, bool) {
	val, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := val.(*Claims)
	return claims, ok
}

// extractBearer 从 Authorization 头中提取 Bearer 令牌
func extractBearer(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != BearerPrefix {
		return "", ErrInvalidToken
	}
	return parts[1], nil
}
