package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfigFile 在临时目录写入一个 YAML 配置文件
func writeConfigFile(t *testing.T, dir, name, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
	require.NoError(t, err)
}

// TestLoadYAML 测试从 YAML 文件加载配置
func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "fabric.yaml", `
app:
  name: "visitor-service"
  port: 8080
client:
  timeout: "10s"
`)

	loader, err := New(&Config{Paths: []string{dir}})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	assert.Equal(t, "visitor-service", loader.Get("app.name"))
	assert.NoError(t, loader.Validate())

	var app struct {
		Name string `mapstructure:"name"`
		Port int    `mapstructure:"port"`
	}
	require.NoError(t, loader.UnmarshalKey("app", &app))
	assert.Equal(t, "visitor-service", app.Name)
	assert.Equal(t, 8080, app.Port)
}

// TestEnvOverride 测试环境变量优先于配置文件
func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "fabric.yaml", `
app:
  name: "from-file"
`)

	t.Setenv("FABRIC_APP_NAME", "from-env")

	loader, err := New(&Config{Paths: []string{dir}})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	assert.Equal(t, "from-env", loader.Get("app.name"))
}

// TestLoadMissingFile 测试配置文件不存在时不报错（仅靠环境变量运行）
func TestLoadMissingFile(t *testing.T) {
	loader, err := New(&Config{Paths: []string{t.TempDir()}})
	require.NoError(t, err)
	assert.NoError(t, loader.Load(context.Background()))
}

// TestNewDefaults 测试 nil 配置使用默认值
func TestNewDefaults(t *testing.T) {
	loader, err := New(nil)
	require.NoError(t, err)
	assert.NotNil(t, loader)
}

// TestWatchCancel 测试取消监听后通道被关闭
func TestWatchCancel(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "fabric.yaml", `app: {name: "x"}`)

	loader, err := New(&Config{Paths: []string{dir}})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := loader.Watch(ctx, "app.name")
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("watch channel was not closed")
	}
}
