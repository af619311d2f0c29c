package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/fabric/breaker"
	"github.com/ceyewan/fabric/discovery"
	"github.com/ceyewan/fabric/identity"
	"github.com/ceyewan/fabric/trace"
)

// stubDiscovery 固定返回一个地址的服务发现桩
type stubDiscovery struct {
	url      string
	err      error
	resolves atomic.Int32
}

func (d *stubDiscovery) Register(ctx context.Context, instance *discovery.ServiceInstance) error {
	return nil
}
func (d *stubDiscovery) Deregister(ctx context.Context) error { return nil }
func (d *stubDiscovery) Discover(ctx context.Context, serviceName string, opts ...discovery.DiscoverOption) ([]*discovery.ServiceInstance, error) {
	return nil, d.err
}
func (d *stubDiscovery) ServiceURL(ctx context.Context, serviceName string, opts ...discovery.DiscoverOption) (string, error) {
	d.resolves.Add(1)
	if d.err != nil {
		return "", d.err
	}
	return d.url, nil
}
func (d *stubDiscovery) Close() error { return nil }

// versionBackend 记录版本参数的服务发现后端桩
type versionBackend struct {
	host        string
	port        int
	lastVersion atomic.Value
}

func (b *versionBackend) Register(ctx context.Context, instance *discovery.ServiceInstance) error {
	return nil
}
func (b *versionBackend) Deregister(ctx context.Context, instanceID string) error { return nil }
func (b *versionBackend) Heartbeat(ctx context.Context, instanceID string) error { return nil }
func (b *versionBackend) Fetch(ctx context.Context, serviceName, version string) ([]*discovery.ServiceInstance, error) {
	b.lastVersion.Store(version)
	return []*discovery.ServiceInstance{{
		ID:       "i-1",
		Name:     serviceName,
		Host:     b.host,
		Port:     b.port,
		Protocol: "http",
		Version:  "2.0.0",
		Status:   discovery.StatusUp,
	}}, nil
}
func (b *versionBackend) Close() error { return nil }

// fastConfig 退避间隔压缩到毫秒级，避免拖慢测试
func fastConfig() *Config {
	return &Config{
		Timeout:        time.Second,
		MaxRetries:     3,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	}
}

func newTestClient(t *testing.T, serverURL string, cfg *Config, opts ...Option) Client {
	t.Helper()
	if cfg == nil {
		cfg = fastConfig()
	}
	cli, err := New(&stubDiscovery{url: serverURL}, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })
	return cli
}

// TestNewValidation 测试构造参数校验
func TestNewValidation(t *testing.T) {
	_, err := New(&stubDiscovery{}, nil)
	assert.ErrorIs(t, err, ErrConfigNil)

	_, err = New(nil, &Config{})
	assert.ErrorIs(t, err, ErrDiscoveryNil)

	cli := newTestClient(t, "http://127.0.0.1:1", nil)
	_, err = cli.Request(context.Background(), "", http.MethodGet, "/")
	assert.ErrorIs(t, err, ErrServiceEmpty)
}

// TestRetryThenSuccess 测试可重试状态触发重试并最终成功
func TestRetryThenSuccess(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	cli := newTestClient(t, server.URL, nil)
	resp, err := cli.Get(context.Background(), "billing-service", "/invoices/42")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), hits.Load())

	var payload struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, resp.JSON(&payload))
	assert.True(t, payload.OK)
}

// TestRetriesExhausted 测试重试耗尽后返回最后一次错误
func TestRetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cli := newTestClient(t, server.URL, nil)
	_, err := cli.Get(context.Background(), "billing-service", "/invoices")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, StatusCodeOf(err))
	// 首次请求 + 3 次重试
	assert.Equal(t, int32(4), hits.Load())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Retryable())
}

// TestNoRetryOnClientError 测试业务语义错误不重试
func TestNoRetryOnClientError(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cli := newTestClient(t, server.URL, nil)
	_, err := cli.Get(context.Background(), "billing-service", "/invoices/missing")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusCodeOf(err))
	assert.Equal(t, int32(1), hits.Load())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Retryable())
}

// TestNoRetryOnResolutionFailure 测试服务解析失败立即返回
func TestNoRetryOnResolutionFailure(t *testing.T) {
	disc := &stubDiscovery{err: discovery.ErrServiceNotFound}
	cli, err := New(disc, fastConfig())
	require.NoError(t, err)
	defer cli.Close()

	_, err = cli.Get(context.Background(), "ghost-service", "/")
	assert.ErrorIs(t, err, discovery.ErrServiceNotFound)
	assert.Equal(t, int32(1), disc.resolves.Load())
}

// TestVersionRouting 测试版本选项透传到服务发现
func TestVersionRouting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	backend := &versionBackend{host: u.Hostname(), port: port}
	disc, err := discovery.NewWithBackend(backend, &discovery.Config{})
	require.NoError(t, err)
	defer disc.Close()

	cli, err := New(disc, fastConfig())
	require.NoError(t, err)
	defer cli.Close()

	_, err = cli.Get(context.Background(), "billing-service", "/", WithVersion("2.0.0"))
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", backend.lastVersion.Load())
}

// TestSkipRetry 测试逐请求禁用重试
func TestSkipRetry(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cli := newTestClient(t, server.URL, nil)
	_, err := cli.Get(context.Background(), "billing-service", "/", WithSkipRetry())
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

// TestBreakerOpenFastFail 测试熔断打开后快速失败且不触达后端
func TestBreakerOpenFastFail(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cb, err := breaker.New(&breaker.Config{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
	})
	require.NoError(t, err)
	defer cb.Close()

	cli := newTestClient(t, server.URL, fastConfig(), WithBreaker(cb))

	// 两次失败（各含重试）足以打开熔断
	for i := 0; i < 2; i++ {
		_, err = cli.Get(context.Background(), "billing-service", "/", WithSkipRetry())
		require.Error(t, err)
	}
	require.Equal(t, breaker.StateOpen, cb.State("billing-service"))

	before := hits.Load()
	_, err = cli.Get(context.Background(), "billing-service", "/")
	assert.True(t, breaker.IsOpen(err))
	assert.Equal(t, before, hits.Load())
}

// TestHeadersPropagated 测试身份头和追踪头注入
func TestHeadersPropagated(t *testing.T) {
	var mu sync.Mutex
	var captured http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		captured = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	idp, err := identity.New(&identity.Config{
		ServiceName: "visitor-service",
		SecretKey:   "0123456789abcdef0123456789abcdef",
	})
	require.NoError(t, err)

	tracer, err := trace.New(&trace.Config{
		ServiceName: "visitor-service",
		Exporter:    trace.ExporterNone,
	})
	require.NoError(t, err)
	defer tracer.Shutdown(context.Background())

	cli := newTestClient(t, server.URL, nil, WithIdentity(idp), WithTracer(tracer))

	ctx, span := tracer.StartSpan(context.Background(), "test-call")
	defer span.End()

	_, err = cli.Get(ctx, "billing-service", "/", WithCorrelationID("corr-123"))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(captured.Get("Authorization"), identity.BearerPrefix+" "))
	assert.Equal(t, "visitor-service", captured.Get(identity.HeaderServiceName))
	assert.Equal(t, idp.Fingerprint(), captured.Get(identity.HeaderFingerprint))
	assert.Equal(t, "corr-123", captured.Get(identity.HeaderCorrelationID))
	assert.Equal(t, span.Context().TraceID, captured.Get(trace.HeaderTraceID))
	assert.Equal(t, span.Context().SpanID, captured.Get(trace.HeaderSpanID))
}

// TestCorrelationIDGenerated 测试未指定关联 ID 时自动生成
func TestCorrelationIDGenerated(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.Header.Get(identity.HeaderCorrelationID)] = true
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cli := newTestClient(t, server.URL, nil)
	for i := 0; i < 2; i++ {
		_, err := cli.Get(context.Background(), "billing-service", "/")
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 2)
	assert.False(t, seen[""])
}

// TestQueryAndBody 测试查询参数和 JSON 请求体
func TestQueryAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "B-42", r.URL.Query().Get("badge"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var payload struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Ada", payload.Name)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	cli := newTestClient(t, server.URL, nil)
	resp, err := cli.Post(context.Background(), "billing-service", "/visitors",
		map[string]string{"name": "Ada"}, WithQuery("badge", "B-42"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

// TestBackoffDelays 测试指数退避的间隔序列
func TestBackoffDelays(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := &Config{
		Timeout:        time.Second,
		MaxRetries:     3,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     80 * time.Millisecond,
	}
	cli := newTestClient(t, server.URL, cfg)
	_, err := cli.Get(context.Background(), "billing-service", "/")
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 4)
	// 无抖动时间隔应接近 20ms、40ms、80ms，只校验下限避免抖动误报
	expected := []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, 80 * time.Millisecond}
	for i, want := range expected {
		gap := stamps[i+1].Sub(stamps[i])
		assert.GreaterOrEqual(t, gap, want, "gap %d", i)
		assert.Less(t, gap, want+500*time.Millisecond, "gap %d", i)
	}
}
