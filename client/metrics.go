package client

// 指标名称
const (
	// MetricRequestsTotal 出站请求总数（按最终结果计，不含重试尝试）
	MetricRequestsTotal = "fabric_client_requests_total"

	// MetricAttemptsTotal 出站请求尝试总数（含重试）
	MetricAttemptsTotal = "fabric_client_attempts_total"

	// MetricRetriesTotal 重试次数
	MetricRetriesTotal = "fabric_client_retries_total"

	// MetricResolutionFailures 服务解析失败次数
	MetricResolutionFailures = "fabric_client_resolution_failures_total"

	// MetricRequestDuration 请求耗时（含全部重试）
	MetricRequestDuration = "fabric_client_request_duration_seconds"
)

// 指标标签键
const (
	LabelService = "service"
	LabelMethod  = "method"
	LabelStatus  = "status"
	LabelResult  = "result"
)
