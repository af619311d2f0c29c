package trace

// Metrics 指标常量定义
const (
	// MetricSpansEnded 结束的 Span 数 (Counter)
	MetricSpansEnded = "trace_spans_ended_total"

	// MetricSpansDropped 因队列满被丢弃的 Span 数 (Counter)
	MetricSpansDropped = "trace_spans_dropped_total"

	// MetricSpansExported 成功导出的 Span 数 (Counter)
	MetricSpansExported = "trace_spans_exported_total"

	// MetricExportFailures 导出失败次数 (Counter)
	MetricExportFailures = "trace_export_failures_total"
)
