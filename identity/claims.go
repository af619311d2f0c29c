package identity

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims 定义服务令牌的 JWT 载荷结构。
//
// 内嵌 jwt.RegisteredClaims 以支持标准声明（exp, sub, iss 等），
// Subject 为服务名。
type Claims struct {
	jwt.RegisteredClaims

	// Fingerprint 服务指纹 (对应 fp)
	Fingerprint string `json:"fp,omitempty"`
}

// Service 返回令牌所属的服务名
func (c *Claims) Service() string {
	return c.Subject
}
