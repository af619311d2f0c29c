package cache

// 指标名称
const (
	// MetricHitsTotal 缓存命中次数
	MetricHitsTotal = "fabric_cache_hits_total"

	// MetricMissesTotal 缓存未命中次数
	MetricMissesTotal = "fabric_cache_misses_total"
)
