package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/metrics"
	"github.com/ceyewan/fabric/xerrors"
)

// jwtProvider 基于 JWT 的服务身份实现
type jwtProvider struct {
	cfg         *Config
	opts        *options
	fingerprint string

	mu          sync.Mutex
	cachedToken string
	expiresAt   time.Time
}

// New 创建服务身份提供者
func New(cfg *Config, opts ...Option) (Provider, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &jwtProvider{
		cfg:         cfg,
		opts:        o,
		fingerprint: computeFingerprint(cfg.ServiceName, cfg.SecretKey),
	}, nil
}

// computeFingerprint 由服务名和密钥派生服务指纹
// 同一服务的所有实例得到相同指纹，密钥轮换后指纹随之变化
func computeFingerprint(serviceName, secretKey string) string {
	sum := sha256.Sum256([]byte(serviceName + ":" + secretKey))
	return hex.EncodeToString(sum[:16])
}

// ServiceName 返回本服务名称
func (p *jwtProvider) ServiceName() string {
	return p.cfg.ServiceName
}

// Fingerprint 返回本服务指纹
func (p *jwtProvider) Fingerprint() string {
	return p.fingerprint
}

// Token 返回当前有效的服务令牌，临近过期时重新签发
func (p *jwtProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cachedToken != "" && time.Until(p.expiresAt) > p.cfg.RefreshSkew {
		return p.cachedToken, nil
	}

	now := time.Now()
	expiresAt := now.Add(p.cfg.TokenTTL)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.cfg.ServiceName,
			Issuer:    p.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Fingerprint: p.fingerprint,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(p.cfg.SecretKey))
	if err != nil {
		return "", xerrors.Wrap(err, "failed to sign service token")
	}

	p.cachedToken = tokenString
	p.expiresAt = expiresAt

	p.opts.logger.Debug("service token minted",
		clog.String("service", p.cfg.ServiceName),
		clog.Time("expires_at", expiresAt))

	if counter, e := p.opts.meter.Counter(MetricTokensMinted, "Total service tokens minted"); e == nil {
		counter.Inc(ctx, metrics.L("service", p.cfg.ServiceName))
	}

	return tokenString, nil
}

// Validate 验证服务令牌
func (p *jwtProvider) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return []byte(p.cfg.SecretKey), nil
	})

	if err != nil {
		var errType string
		switch {
		case xerrors.Is(err, jwt.ErrTokenExpired):
			errType = "expired"
			err = ErrExpiredToken
		case xerrors.Is(err, jwt.ErrTokenSignatureInvalid):
			errType = "invalid_signature"
			err = ErrInvalidSignature
		default:
			errType = "invalid_token"
			err = ErrInvalidToken
		}
		if counter, e := p.opts.meter.Counter(MetricTokensValidated, "Total service tokens validated"); e == nil {
			counter.Inc(ctx, metrics.L("status", "error"), metrics.L("error_type", errType))
		}
		return nil, err
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if counter, e := p.opts.meter.Counter(MetricTokensValidated, "Total service tokens validated"); e == nil {
		counter.Inc(ctx, metrics.L("status", "success"))
	}

	return claims, nil
}

// ApplyHeaders 为出站请求注入身份头
func (p *jwtProvider) ApplyHeaders(ctx context.Context, h http.Header, correlationID string) error {
	token, err := p.Token(ctx)
	if err != nil {
		return err
	}

	h.Set(HeaderAuthorization, BearerPrefix+" "+token)
	h.Set(HeaderServiceName, p.cfg.ServiceName)
	h.Set(HeaderFingerprint, p.fingerprint)
	if correlationID != "" {
		h.Set(HeaderCorrelationID, correlationID)
	}
	return nil
}
