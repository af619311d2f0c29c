package breaker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/fabric/xerrors"
)

var errBoom = xerrors.New("boom")

// newTestBreaker 创建测试用熔断器，使用短超时便于测试
func newTestBreaker(t *testing.T, opts ...Option) Breaker {
	t.Helper()
	brk, err := New(&Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     200 * time.Millisecond,
		OperationTimeout: 100 * time.Millisecond,
		ProbeInterval:    20 * time.Millisecond,
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { brk.Close() })
	return brk
}

func failN(brk Breaker, key string, n int) {
	for i := 0; i < n; i++ {
		brk.Execute(context.Background(), key, func(ctx context.Context) (any, error) {
			return nil, errBoom
		})
	}
}

// TestNewNilConfig 测试 nil 配置报错
func TestNewNilConfig(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrConfigNil)
}

// TestExecuteEmptyKey 测试空键报错
func TestExecuteEmptyKey(t *testing.T) {
	brk := newTestBreaker(t)
	_, err := brk.Execute(context.Background(), "", func(ctx context.Context) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrKeyEmpty)
}

// TestClosedBelowThreshold 测试连续失败未达阈值时保持闭合
func TestClosedBelowThreshold(t *testing.T) {
	brk := newTestBreaker(t)

	failN(brk, "svc", 4)
	assert.Equal(t, StateClosed, brk.State("svc"))

	// 仍然放行请求
	result, err := brk.Execute(context.Background(), "svc", func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

// TestSuccessResetsFailureCount 测试成功会重置连续失败计数
func TestSuccessResetsFailureCount(t *testing.T) {
	brk := newTestBreaker(t)

	failN(brk, "svc", 4)
	brk.Execute(context.Background(), "svc", func(ctx context.Context) (any, error) {
		return nil, nil
	})
	failN(brk, "svc", 4)

	assert.Equal(t, StateClosed, brk.State("svc"))
}

// TestOpensAfterThreshold 测试连续失败达到阈值后熔断打开
func TestOpensAfterThreshold(t *testing.T) {
	brk := newTestBreaker(t)

	failN(brk, "svc", 5)
	assert.Equal(t, StateOpen, brk.State("svc"))

	// 打开状态下请求被拒绝，fn 不执行
	var called atomic.Bool
	_, err := brk.Execute(context.Background(), "svc", func(ctx context.Context) (any, error) {
		called.Store(true)
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrOpenState)
	assert.True(t, IsOpen(err))
	assert.False(t, called.Load())
}

// TestTimeoutCountsAsFailure 测试操作超时计为失败
func TestTimeoutCountsAsFailure(t *testing.T) {
	brk := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		_, err := brk.Execute(context.Background(), "slow-svc", func(ctx context.Context) (any, error) {
			select {
			case <-time.After(time.Second):
				return "never", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
		assert.ErrorIs(t, err, xerrors.ErrTimeout)
	}

	assert.Equal(t, StateOpen, brk.State("slow-svc"))
}

// TestHalfOpenRecovery 测试半开状态下连续成功后恢复闭合
func TestHalfOpenRecovery(t *testing.T) {
	brk := newTestBreaker(t)

	failN(brk, "svc", 5)
	require.Equal(t, StateOpen, brk.State("svc"))

	// 等待重置超时，巡检会驱动转入半开
	assert.Eventually(t, func() bool {
		return brk.State("svc") == StateHalfOpen
	}, time.Second, 10*time.Millisecond)

	// 连续两次成功后恢复闭合
	for i := 0; i < 2; i++ {
		_, err := brk.Execute(context.Background(), "svc", func(ctx context.Context) (any, error) {
			return nil, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, StateClosed, brk.State("svc"))
}

// TestHalfOpenFailureReopens 测试半开状态下失败重新打开
func TestHalfOpenFailureReopens(t *testing.T) {
	brk := newTestBreaker(t)

	failN(brk, "svc", 5)
	assert.Eventually(t, func() bool {
		return brk.State("svc") == StateHalfOpen
	}, time.Second, 10*time.Millisecond)

	_, err := brk.Execute(context.Background(), "svc", func(ctx context.Context) (any, error) {
		return nil, errBoom
	})
	assert.Error(t, err)
	assert.Equal(t, StateOpen, brk.State("svc"))
}

// TestKeysAreIndependent 测试不同键的熔断器相互独立
func TestKeysAreIndependent(t *testing.T) {
	brk := newTestBreaker(t)

	failN(brk, "svc-a", 5)
	assert.Equal(t, StateOpen, brk.State("svc-a"))
	assert.Equal(t, StateClosed, brk.State("svc-b"))

	result, err := brk.Execute(context.Background(), "svc-b", func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

// TestStateUnknownKey 测试未知键返回闭合状态
func TestStateUnknownKey(t *testing.T) {
	brk := newTestBreaker(t)
	assert.Equal(t, StateClosed, brk.State("never-seen"))
}

// TestEvents 测试状态变更事件流
func TestEvents(t *testing.T) {
	brk := newTestBreaker(t)

	failN(brk, "svc", 5)

	select {
	case ev := <-brk.Events():
		assert.Equal(t, "svc", ev.Key)
		assert.Equal(t, StateClosed, ev.From)
		assert.Equal(t, StateOpen, ev.To)
		assert.False(t, ev.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected state change event")
	}
}

// TestFallback 测试熔断打开时执行降级逻辑
func TestFallback(t *testing.T) {
	var fallbackCalls atomic.Int32
	brk := newTestBreaker(t, WithFallback(func(ctx context.Context, key string, err error) error {
		fallbackCalls.Add(1)
		return nil
	}))

	failN(brk, "svc", 5)

	result, err := brk.Execute(context.Background(), "svc", func(ctx context.Context) (any, error) {
		return nil, errBoom
	})
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, int32(1), fallbackCalls.Load())
}

// TestCloseIdempotent 测试 Close 可重复调用
func TestCloseIdempotent(t *testing.T) {
	brk, err := New(&Config{})
	require.NoError(t, err)
	assert.NoError(t, brk.Close())
	assert.NoError(t, brk.Close())
}
