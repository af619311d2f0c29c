package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewDisabled 测试禁用状态返回 noop Meter
func TestNewDisabled(t *testing.T) {
	meter, err := New(&Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, meter)

	ctx := context.Background()

	counter, err := meter.Counter("test_total", "test counter")
	require.NoError(t, err)
	counter.Inc(ctx)
	counter.Add(ctx, 5, L("k", "v"))

	gauge, err := meter.Gauge("test_gauge", "test gauge")
	require.NoError(t, err)
	gauge.Set(ctx, 1.5)

	histogram, err := meter.Histogram("test_seconds", "test histogram", WithUnit("s"))
	require.NoError(t, err)
	histogram.Record(ctx, 0.1)

	assert.NoError(t, meter.Shutdown(ctx))
}

// TestNewNilConfig 测试 nil 配置
func TestNewNilConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

// TestNewEnabled 测试启用状态创建真实 Meter（不启动 HTTP 服务器）
func TestNewEnabled(t *testing.T) {
	meter, err := New(&Config{
		Enabled:     true,
		ServiceName: "fabric-test",
		Version:     "v0.0.1",
	})
	require.NoError(t, err)

	ctx := context.Background()

	counter, err := meter.Counter("fabric_test_total", "total")
	require.NoError(t, err)
	counter.Inc(ctx, L("outcome", "success"))

	gauge, err := meter.Gauge("fabric_test_gauge", "gauge")
	require.NoError(t, err)
	gauge.Inc(ctx, L("queue", "q1"))
	gauge.Dec(ctx, L("queue", "q1"))

	require.NoError(t, meter.Shutdown(ctx))
}

// TestLabelKey 测试标签 key 顺序无关
func TestLabelKey(t *testing.T) {
	a := labelKey([]Label{L("a", "1"), L("b", "2")})
	b := labelKey([]Label{L("b", "2"), L("a", "1")})
	assert.Equal(t, a, b)
	assert.Equal(t, "", labelKey(nil))
}
