package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestProvider(t *testing.T) Provider {
	t.Helper()
	p, err := New(&Config{
		ServiceName: "visitor-service",
		SecretKey:   testSecret,
	})
	require.NoError(t, err)
	return p
}

// TestNewInvalidConfig 测试无效配置
func TestNewInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil 配置", nil},
		{"缺少服务名", &Config{SecretKey: testSecret}},
		{"缺少密钥", &Config{ServiceName: "svc"}},
		{"密钥过短", &Config{ServiceName: "svc", SecretKey: "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

// TestTokenRoundTrip 测试令牌签发和验证
func TestTokenRoundTrip(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	token, err := p.Token(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := p.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "visitor-service", claims.Service())
	assert.Equal(t, p.Fingerprint(), claims.Fingerprint)
}

// TestTokenCached 测试令牌缓存，未临近过期时返回同一令牌
func TestTokenCached(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	first, err := p.Token(ctx)
	require.NoError(t, err)
	second, err := p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// TestValidateExpired 测试过期令牌被拒绝
func TestValidateExpired(t *testing.T) {
	p, err := New(&Config{
		ServiceName: "visitor-service",
		SecretKey:   testSecret,
		TokenTTL:    100 * time.Millisecond,
		RefreshSkew: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx := context.Background()
	token, err := p.Token(ctx)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	_, err = p.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

// TestValidateWrongKey 测试不同密钥签发的令牌被拒绝
func TestValidateWrongKey(t *testing.T) {
	p1 := newTestProvider(t)
	p2, err := New(&Config{
		ServiceName: "visitor-service",
		SecretKey:   "another-secret-key-of-32-chars!!",
	})
	require.NoError(t, err)

	ctx := context.Background()
	token, err := p2.Token(ctx)
	require.NoError(t, err)

	_, err = p1.Validate(ctx, token)
	assert.Error(t, err)
}

// TestFingerprintDeterministic 测试指纹派生的确定性
func TestFingerprintDeterministic(t *testing.T) {
	p1 := newTestProvider(t)
	p2 := newTestProvider(t)
	assert.Equal(t, p1.Fingerprint(), p2.Fingerprint())

	other, err := New(&Config{ServiceName: "billing-service", SecretKey: testSecret})
	require.NoError(t, err)
	assert.NotEqual(t, p1.Fingerprint(), other.Fingerprint())
}

// TestApplyHeaders 测试出站身份头注入
func TestApplyHeaders(t *testing.T) {
	p := newTestProvider(t)
	h := http.Header{}

	require.NoError(t, p.ApplyHeaders(context.Background(), h, "corr-123"))

	assert.Contains(t, h.Get(HeaderAuthorization), BearerPrefix+" ")
	assert.Equal(t, "visitor-service", h.Get(HeaderServiceName))
	assert.Equal(t, p.Fingerprint(), h.Get(HeaderFingerprint))
	assert.Equal(t, "corr-123", h.Get(HeaderCorrelationID))
}

// TestGinMiddleware 测试入站令牌验证中间件
func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := newTestProvider(t)

	router := gin.New()
	router.Use(p.GinMiddleware())
	router.GET("/ping", func(c *gin.Context) {
		claims, ok := ClaimsFromGin(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.Service())
	})

	t.Run("有效令牌", func(t *testing.T) {
		token, err := p.Token(context.Background())
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(HeaderAuthorization, BearerPrefix+" "+token)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "visitor-service", w.Body.String())
	})

	t.Run("缺少令牌", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("格式错误", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(HeaderAuthorization, "Basic abc")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
