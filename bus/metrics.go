package bus

// 指标名称
const (
	// MetricPublishedTotal 发布的事件总数
	MetricPublishedTotal = "fabric_bus_published_total"

	// MetricConsumedTotal 投递给处理函数的事件总数（含重试）
	MetricConsumedTotal = "fabric_bus_consumed_total"

	// MetricHandlerFailures 处理函数返回错误的次数
	MetricHandlerFailures = "fabric_bus_handler_failures_total"

	// MetricRetriesTotal 进程内重试次数
	MetricRetriesTotal = "fabric_bus_retries_total"

	// MetricDeadLettered 进入死信队列的事件数
	MetricDeadLettered = "fabric_bus_dead_lettered_total"

	// MetricRequestsTotal 请求应答调用总数
	MetricRequestsTotal = "fabric_bus_requests_total"

	// MetricRequestTimeouts 请求超时次数
	MetricRequestTimeouts = "fabric_bus_request_timeouts_total"

	// MetricHandleDuration 事件处理耗时
	MetricHandleDuration = "fabric_bus_handle_duration_seconds"
)

// 指标标签键
const (
	LabelEventType = "event_type"
	LabelQueue     = "queue"
	LabelResult    = "result"
)
