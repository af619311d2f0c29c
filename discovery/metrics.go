package discovery

// Metrics 指标常量定义
const (
	// MetricHeartbeatsTotal 心跳发送次数 (Counter)
	MetricHeartbeatsTotal = "discovery_heartbeats_total"

	// MetricHeartbeatFailures 心跳失败次数 (Counter)
	MetricHeartbeatFailures = "discovery_heartbeat_failures_total"

	// MetricReregistrations 心跳丢失后的重新注册次数 (Counter)
	MetricReregistrations = "discovery_reregistrations_total"

	// MetricCacheRefreshes 缓存刷新次数 (Counter)
	MetricCacheRefreshes = "discovery_cache_refreshes_total"

	// MetricStaleCacheHits 注册中心不可达时使用过期缓存的次数 (Counter)
	MetricStaleCacheHits = "discovery_stale_cache_hits_total"

	// MetricInstancesDiscovered 发现的健康实例数 (Gauge)
	MetricInstancesDiscovered = "discovery_instances_discovered"

	// LabelService 服务名标签
	LabelService = "service"

	// LabelResult 结果标签
	LabelResult = "result"
)
