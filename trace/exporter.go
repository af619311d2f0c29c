package trace

import (
	"context"

	"github.com/ceyewan/fabric/clog"
)

// Exporter Span 导出器接口
type Exporter interface {
	// Export 导出一批已结束的 Span
	Export(ctx context.Context, spans []SpanData) error

	// Shutdown 释放导出器资源
	Shutdown(ctx context.Context) error
}

// logExporter 将 Span 写入结构化日志
type logExporter struct {
	logger clog.Logger
}

// NewLogExporter 创建日志导出器
func NewLogExporter(logger clog.Logger) Exporter {
	if logger == nil {
		logger = clog.Discard()
	}
	return &logExporter{logger: logger}
}

func (e *logExporter) Export(ctx context.Context, spans []SpanData) error {
	for _, span := range spans {
		fields := []clog.Field{
			clog.String("trace_id", span.TraceID),
			clog.String("span_id", span.SpanID),
			clog.String("span_name", span.Name),
			clog.String("service", span.Service),
			clog.Duration("duration", span.Duration()),
		}
		if span.ParentSpanID != "" {
			fields = append(fields, clog.String("parent_span_id", span.ParentSpanID))
		}
		for key, value := range span.Attributes {
			fields = append(fields, clog.String("attr."+key, value))
		}
		if span.Error != "" {
			fields = append(fields, clog.String("span_error", span.Error))
			e.logger.Warn("span", fields...)
			continue
		}
		e.logger.Info("span", fields...)
	}
	return nil
}

func (e *logExporter) Shutdown(ctx context.Context) error { return nil }

// noopExporter 丢弃所有 Span
type noopExporter struct{}

func (noopExporter) Export(ctx context.Context, spans []SpanData) error { return nil }
func (noopExporter) Shutdown(ctx context.Context) error                 { return nil }
