package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ceyewan/fabric/xerrors"
)

// Config 服务身份配置
type Config struct {
	// ServiceName 本服务名称 [必填]
	ServiceName string `mapstructure:"service_name" json:"service_name" yaml:"service_name"`

	// SecretKey 签名密钥（至少 32 字符）[必填]
	SecretKey string `mapstructure:"secret_key" json:"secret_key" yaml:"secret_key"`

	// SigningMethod 签名方法，目前只支持 HS256
	SigningMethod string `mapstructure:"signing_method" json:"signing_method" yaml:"signing_method"`

	// Issuer 签发者，默认 "fabric"
	Issuer string `mapstructure:"issuer" json:"issuer" yaml:"issuer"`

	// TokenTTL 服务令牌有效期，默认 15m
	TokenTTL time.Duration `mapstructure:"token_ttl" json:"token_ttl" yaml:"token_ttl"`

	// RefreshSkew 临近过期多久时重新签发，默认 1m
	RefreshSkew time.Duration `mapstructure:"refresh_skew" json:"refresh_skew" yaml:"refresh_skew"`
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.SigningMethod == "" {
		c.SigningMethod = "HS256"
	}
	if c.Issuer == "" {
		c.Issuer = "fabric"
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = 15 * time.Minute
	}
	if c.RefreshSkew == 0 {
		c.RefreshSkew = time.Minute
	}
}

// validate 验证配置
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return xerrors.Wrapf(ErrInvalidConfig, "service_name is required")
	}
	if c.SecretKey == "" {
		return xerrors.Wrapf(ErrInvalidConfig, "secret_key is required")
	}
	if len(c.SecretKey) < 32 {
		return xerrors.Wrapf(ErrInvalidConfig, "secret_key must be at least 32 characters")
	}
	if c.SigningMethod != jwt.SigningMethodHS256.Alg() {
		return xerrors.Wrapf(ErrInvalidConfig, "unsupported signing_method: %s", c.SigningMethod)
	}
	if c.RefreshSkew >= c.TokenTTL {
		return xerrors.Wrapf(ErrInvalidConfig, "refresh_skew must be less than token_ttl")
	}
	return nil
}
