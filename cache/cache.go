// Package cache 提供显式的调用结果缓存。
//
// Call 把一个昂贵的加载函数包装成带 TTL 的缓存调用：
// 缓存命中直接返回，未命中时执行加载并写入缓存。
// 缓存是调用点的显式组合，而不是隐式的装饰器，
// 调用方能清楚看到哪些路径走缓存、哪些路径直达。
//
// 快速开始：
//
//	lookup := cache.NewCall(&cache.Config{TTL: time.Minute},
//	    func(ctx context.Context, badgeID string) (*Visitor, error) {
//	        return store.FindVisitor(ctx, badgeID)
//	    })
//	visitor, err := lookup.Do(ctx, "V-1001")
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"

	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/metrics"
	"github.com/ceyewan/fabric/xerrors"
)

// LoaderFunc 缓存未命中时的加载函数
type LoaderFunc[K comparable, T any] func(ctx context.Context, key K) (T, error)

// KeyFunc 把调用参数转为缓存键
type KeyFunc[K comparable] func(key K) string

// Call 带 TTL 的调用结果缓存
//
// 加载失败不缓存，下一次调用会重新加载。
type Call[K comparable, T any] struct {
	cache  *otter.Cache[string, T]
	load   LoaderFunc[K, T]
	keyFn  KeyFunc[K]
	ttl    time.Duration
	logger clog.Logger

	hits   metrics.Counter
	misses metrics.Counter
}

// NewCall 创建调用缓存
func NewCall[K comparable, T any](cfg *Config, load LoaderFunc[K, T], opts ...Option[K]) (*Call[K, T], error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if load == nil {
		return nil, ErrLoaderNil
	}
	cfg.setDefaults()

	o := defaultOptions[K]()
	for _, opt := range opts {
		opt(o)
	}

	store, err := otter.New(&otter.Options[string, T]{
		MaximumSize: cfg.Capacity,
		// 写入过期语义：TTL 从写入开始计算，读取不续期
		ExpiryCalculator: otter.ExpiryWriting[string, T](cfg.TTL),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "build otter cache")
	}

	c := &Call[K, T]{
		cache:  store,
		load:   load,
		keyFn:  o.keyFn,
		ttl:    cfg.TTL,
		logger: o.logger,
	}
	c.hits, _ = o.meter.Counter(MetricHitsTotal, "缓存命中次数")
	c.misses, _ = o.meter.Counter(MetricMissesTotal, "缓存未命中次数")
	return c, nil
}

// Do 返回键对应的缓存值，未命中时加载并缓存
func (c *Call[K, T]) Do(ctx context.Context, key K) (T, error) {
	cacheKey := c.keyFn(key)
	if value, ok := c.cache.GetIfPresent(cacheKey); ok {
		c.hits.Inc(ctx)
		return value, nil
	}
	c.misses.Inc(ctx)

	value, err := c.load(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}
	c.cache.Set(cacheKey, value)
	return value, nil
}

// Forget 使单个键失效
func (c *Call[K, T]) Forget(key K) {
	c.cache.Invalidate(c.keyFn(key))
}

// Purge 清空全部缓存
func (c *Call[K, T]) Purge() {
	c.cache.InvalidateAll()
}

// Close 停止缓存的后台任务
func (c *Call[K, T]) Close() error {
	c.cache.StopAllGoroutines()
	return nil
}

// defaultKey 默认键构造，用 fmt 把参数转为字符串
func defaultKey[K comparable](key K) string {
	return fmt.Sprint(key)
}
