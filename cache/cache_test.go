package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/fabric/xerrors"
)

type visitor struct {
	BadgeID string
	Name    string
}

// TestNewValidation 测试构造参数校验
func TestNewValidation(t *testing.T) {
	_, err := NewCall[string, *visitor](nil, func(ctx context.Context, key string) (*visitor, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrConfigNil)

	_, err = NewCall[string, *visitor](&Config{}, nil)
	assert.ErrorIs(t, err, ErrLoaderNil)
}

// TestDoCachesWithinTTL 测试 TTL 内命中缓存
func TestDoCachesWithinTTL(t *testing.T) {
	var loads atomic.Int32
	call, err := NewCall(&Config{TTL: time.Minute}, func(ctx context.Context, badgeID string) (*visitor, error) {
		loads.Add(1)
		return &visitor{BadgeID: badgeID, Name: "Ada"}, nil
	})
	require.NoError(t, err)
	defer call.Close()

	for i := 0; i < 5; i++ {
		v, err := call.Do(context.Background(), "V-1001")
		require.NoError(t, err)
		assert.Equal(t, "Ada", v.Name)
	}
	assert.Equal(t, int32(1), loads.Load())
}

// TestKeysAreIndependent 测试不同键各自加载
func TestKeysAreIndependent(t *testing.T) {
	var loads atomic.Int32
	call, err := NewCall(&Config{}, func(ctx context.Context, badgeID string) (*visitor, error) {
		loads.Add(1)
		return &visitor{BadgeID: badgeID}, nil
	})
	require.NoError(t, err)
	defer call.Close()

	v1, err := call.Do(context.Background(), "V-1")
	require.NoError(t, err)
	v2, err := call.Do(context.Background(), "V-2")
	require.NoError(t, err)

	assert.Equal(t, "V-1", v1.BadgeID)
	assert.Equal(t, "V-2", v2.BadgeID)
	assert.Equal(t, int32(2), loads.Load())
}

// TestLoadErrorNotCached 测试加载失败不缓存
func TestLoadErrorNotCached(t *testing.T) {
	var loads atomic.Int32
	failing := xerrors.New("store unavailable")
	call, err := NewCall(&Config{}, func(ctx context.Context, badgeID string) (*visitor, error) {
		if loads.Add(1) == 1 {
			return nil, failing
		}
		return &visitor{BadgeID: badgeID}, nil
	})
	require.NoError(t, err)
	defer call.Close()

	_, err = call.Do(context.Background(), "V-1001")
	assert.ErrorIs(t, err, failing)

	v, err := call.Do(context.Background(), "V-1001")
	require.NoError(t, err)
	assert.Equal(t, "V-1001", v.BadgeID)
	assert.Equal(t, int32(2), loads.Load())
}

// TestForget 测试单键失效后重新加载
func TestForget(t *testing.T) {
	var loads atomic.Int32
	call, err := NewCall(&Config{}, func(ctx context.Context, badgeID string) (*visitor, error) {
		loads.Add(1)
		return &visitor{BadgeID: badgeID}, nil
	})
	require.NoError(t, err)
	defer call.Close()

	_, err = call.Do(context.Background(), "V-1001")
	require.NoError(t, err)

	call.Forget("V-1001")

	_, err = call.Do(context.Background(), "V-1001")
	require.NoError(t, err)
	assert.Equal(t, int32(2), loads.Load())
}

// TestPurge 测试清空后全部重新加载
func TestPurge(t *testing.T) {
	var loads atomic.Int32
	call, err := NewCall(&Config{}, func(ctx context.Context, badgeID string) (*visitor, error) {
		loads.Add(1)
		return &visitor{BadgeID: badgeID}, nil
	})
	require.NoError(t, err)
	defer call.Close()

	_, _ = call.Do(context.Background(), "V-1")
	_, _ = call.Do(context.Background(), "V-2")
	call.Purge()
	_, _ = call.Do(context.Background(), "V-1")
	_, _ = call.Do(context.Background(), "V-2")

	assert.Equal(t, int32(4), loads.Load())
}

// TestCustomKeyFunc 测试自定义键构造
func TestCustomKeyFunc(t *testing.T) {
	type query struct {
		Building string
		Floor    int
	}
	var loads atomic.Int32
	call, err := NewCall(&Config{}, func(ctx context.Context, q query) (int, error) {
		loads.Add(1)
		return 7, nil
	}, WithKeyFunc[query](func(q query) string {
		return q.Building
	}))
	require.NoError(t, err)
	defer call.Close()

	// 键只看 Building，Floor 不同也命中
	_, err = call.Do(context.Background(), query{Building: "HQ", Floor: 1})
	require.NoError(t, err)
	_, err = call.Do(context.Background(), query{Building: "HQ", Floor: 2})
	require.NoError(t, err)
	assert.Equal(t, int32(1), loads.Load())
}
