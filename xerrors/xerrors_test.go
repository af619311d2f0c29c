package xerrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWrap 测试错误包装保留错误链
func TestWrap(t *testing.T) {
	base := New("base failure")

	wrapped := Wrap(base, "doing something")
	require.Error(t, wrapped)
	assert.True(t, Is(wrapped, base))
	assert.Contains(t, wrapped.Error(), "doing something")

	assert.Nil(t, Wrap(nil, "ignored"))
}

// TestWrapf 测试格式化包装
func TestWrapf(t *testing.T) {
	base := New("base failure")

	wrapped := Wrapf(base, "attempt %d", 3)
	require.Error(t, wrapped)
	assert.True(t, Is(wrapped, base))
	assert.Contains(t, wrapped.Error(), "attempt 3")
}

// TestWithCode 测试错误码包装与提取
func TestWithCode(t *testing.T) {
	base := New("boom")

	coded := WithCode(base, "FABRIC_BUS_001")
	require.Error(t, coded)
	assert.Equal(t, "FABRIC_BUS_001", GetCode(coded))
	assert.True(t, Is(coded, base))

	// 多层包装后依然能提取
	outer := Wrap(coded, "outer")
	assert.Equal(t, "FABRIC_BUS_001", GetCode(outer))

	// 无错误码返回空
	assert.Equal(t, "", GetCode(base))
	assert.Nil(t, WithCode(nil, "X"))
}

// TestCombine 测试错误合并
func TestCombine(t *testing.T) {
	e1 := New("first")
	e2 := New("second")

	assert.Nil(t, Combine(nil, nil))
	assert.Equal(t, e1, Combine(nil, e1))

	combined := Combine(e1, nil, e2)
	require.Error(t, combined)
	assert.True(t, Is(combined, e1))
	assert.True(t, Is(combined, e2))
	assert.Contains(t, combined.Error(), "1 more")
}
