package clog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNew 测试 Logger 创建
func TestNew(t *testing.T) {
	logger, err := New(&Config{Level: "debug", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	// nil 配置使用默认值
	logger, err = New(nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
}

// TestNewInvalidConfig 测试非法配置
func TestNewInvalidConfig(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)

	_, err = New(&Config{Format: "xml"})
	assert.Error(t, err)
}

// TestParseLevel 测试级别解析
func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warn":    WarnLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"fatal":   FatalLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

// TestWithNamespace 测试命名空间叠加
func TestWithNamespace(t *testing.T) {
	logger, err := New(&Config{Level: "debug"})
	require.NoError(t, err)

	child := logger.WithNamespace("bus").WithNamespace("amqp")
	impl, ok := child.(*loggerImpl)
	require.True(t, ok)
	assert.Equal(t, "bus.amqp", impl.namespace)

	// 子 Logger 不影响父 Logger
	parent := logger.(*loggerImpl)
	assert.Equal(t, "", parent.namespace)
}

// TestDiscard 测试静默 Logger
func TestDiscard(t *testing.T) {
	logger := Discard()
	require.NotNil(t, logger)

	// 所有操作都不会 panic
	logger.Info("ignored", String("k", "v"))
	logger.Error("ignored", Error(nil))
	assert.NoError(t, logger.SetLevel(DebugLevel))
	assert.Equal(t, logger, logger.With(Int("n", 1)))
}

// TestSetLevel 测试动态级别调整
func TestSetLevel(t *testing.T) {
	logger, err := New(&Config{Level: "error"})
	require.NoError(t, err)
	require.NoError(t, logger.SetLevel(DebugLevel))
}
