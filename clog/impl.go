package clog

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// loggerImpl 是 Logger 接口的具体实现
type loggerImpl struct {
	slogger   *slog.Logger
	levelVar  *slog.LevelVar
	namespace string
}

// newLogger 创建 Logger 实例（内部使用）
func newLogger(cfg *Config) (Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(level.toSlogLevel())

	var out *os.File
	switch cfg.Output {
	case "stdout", "":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		out = f
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     levelVar,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	return &loggerImpl{
		slogger:  slog.New(handler),
		levelVar: levelVar,
	}, nil
}

func (l *loggerImpl) Debug(msg string, fields ...Field) {
	l.log(context.Background(), DebugLevel, msg, fields...)
}

func (l *loggerImpl) Info(msg string, fields ...Field) {
	l.log(context.Background(), InfoLevel, msg, fields...)
}

func (l *loggerImpl) Warn(msg string, fields ...Field) {
	l.log(context.Background(), WarnLevel, msg, fields...)
}

func (l *loggerImpl) Error(msg string, fields ...Field) {
	l.log(context.Background(), ErrorLevel, msg, fields...)
}

func (l *loggerImpl) Fatal(msg string, fields ...Field) {
	l.log(context.Background(), FatalLevel, msg, fields...)
	os.Exit(1)
}

func (l *loggerImpl) DebugContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, DebugLevel, msg, fields...)
}

func (l *loggerImpl) InfoContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, InfoLevel, msg, fields...)
}

func (l *loggerImpl) WarnContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, WarnLevel, msg, fields...)
}

func (l *loggerImpl) ErrorContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, ErrorLevel, msg, fields...)
}

func (l *loggerImpl) FatalContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, FatalLevel, msg, fields...)
	os.Exit(1)
}

func (l *loggerImpl) With(fields ...Field) Logger {
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, f)
	}
	return &loggerImpl{
		slogger:   l.slogger.With(args...),
		levelVar:  l.levelVar,
		namespace: l.namespace,
	}
}

func (l *loggerImpl) WithNamespace(parts ...string) Logger {
	joined := strings.Join(parts, ".")
	ns := l.namespace
	if ns == "" {
		ns = joined
	} else if joined != "" {
		ns = ns + "." + joined
	}
	return &loggerImpl{
		slogger:   l.slogger,
		levelVar:  l.levelVar,
		namespace: ns,
	}
}

func (l *loggerImpl) SetLevel(level Level) error {
	l.levelVar.Set(level.toSlogLevel())
	return nil
}

func (l *loggerImpl) log(ctx context.Context, level Level, msg string, fields ...Field) {
	attrs := make([]slog.Attr, 0, len(fields)+1)
	if l.namespace != "" {
		attrs = append(attrs, slog.String("namespace", l.namespace))
	}
	attrs = append(attrs, fields...)
	l.slogger.LogAttrs(ctx, level.toSlogLevel(), msg, attrs...)
}
