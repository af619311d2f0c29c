// Package clog 为 Fabric 提供基于 slog 的结构化日志组件。
//
// 特性：
//   - 抽象接口，不暴露底层实现（slog）
//   - 支持层级命名空间，适配微服务架构
//   - 零外部依赖（仅依赖 Go 标准库）
//   - 采用函数式选项模式，符合 Fabric 组件标准
//
// 基本使用：
//
//	logger, _ := clog.New(&clog.Config{
//	    Level:  "info",
//	    Format: "console",
//	    Output: "stdout",
//	})
//	logger.Info("Hello, World!", clog.String("key", "value"))
//
// 组件内部使用：
//
//	busLogger := logger.WithNamespace("bus")
//	busLogger.Warn("reconnecting", clog.Duration("after", delay))
package clog

import "context"

// Logger 日志接口，提供结构化日志记录功能
//
// 支持五个日志级别：Debug、Info、Warn、Error、Fatal。
// 每个级别都有带 Context 和不带 Context 的版本。
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	// 带 Context 的日志级别方法，Context 会透传给底层 Handler
	DebugContext(ctx context.Context, msg string, fields ...Field)
	InfoContext(ctx context.Context, msg string, fields ...Field)
	WarnContext(ctx context.Context, msg string, fields ...Field)
	ErrorContext(ctx context.Context, msg string, fields ...Field)
	FatalContext(ctx context.Context, msg string, fields ...Field)

	// With 创建一个带有预设字段的子 Logger
	With(fields ...Field) Logger

	// WithNamespace 创建一个扩展命名空间的子 Logger
	//
	// 命名空间会追加到现有的命名空间后面，以 "." 连接：
	//
	//	logger := base.WithNamespace("discovery")
	//	// 日志带有 namespace=discovery
	WithNamespace(parts ...string) Logger

	// SetLevel 动态调整日志级别
	SetLevel(level Level) error
}

// New 创建 Logger 实例
//
// 如果 cfg 为 nil，使用默认配置（info 级别、console 格式、stdout 输出）。
func New(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return newLogger(cfg)
}
