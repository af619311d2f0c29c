package discovery

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/metrics"
	"github.com/ceyewan/fabric/xerrors"
)

// discoveryImpl Discovery 实现（非导出）
type discoveryImpl struct {
	backend Backend
	cfg     *Config
	logger  clog.Logger
	meter   metrics.Meter

	// 本地缓存
	cacheMu sync.RWMutex
	cache   map[string]*cacheEntry

	// 已注册实例与心跳控制
	regMu         sync.Mutex
	registered    *ServiceInstance
	stopHeartbeat context.CancelFunc

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	closeOnce sync.Once
}

type cacheEntry struct {
	name      string
	version   string
	instances []*ServiceInstance
	fetchedAt time.Time
}

// cacheKey 服务名加可选版本构成缓存键，不同版本各自独立缓存
func cacheKey(serviceName, version string) string {
	if version == "" {
		return serviceName
	}
	return serviceName + "@" + version
}

func newDiscovery(backend Backend, cfg *Config, opt *options) (Discovery, error) {
	rootCtx, cancel := context.WithCancel(context.Background())
	d := &discoveryImpl{
		backend: backend,
		cfg:     cfg,
		logger:  opt.logger,
		meter:   opt.meter,
		cache:   make(map[string]*cacheEntry),
		rootCtx: rootCtx,
		cancel:  cancel,
	}

	d.wg.Add(1)
	go d.refreshLoop()

	return d, nil
}

// Register 注册服务实例并启动周期心跳
func (d *discoveryImpl) Register(ctx context.Context, instance *ServiceInstance) error {
	if instance == nil {
		return ErrInvalidInstance
	}
	if err := instance.validate(); err != nil {
		return err
	}

	if instance.ID == "" {
		instance.ID = uuid.NewString()
	}
	if instance.Protocol == "" {
		instance.Protocol = "http"
	}
	instance.Status = StatusUp
	instance.LastHeartbeat = time.Now()

	if err := d.backend.Register(ctx, instance); err != nil {
		return err
	}

	d.regMu.Lock()
	defer d.regMu.Unlock()

	// 重复注册时先停掉旧的心跳
	if d.stopHeartbeat != nil {
		d.stopHeartbeat()
	}

	hbCtx, stop := context.WithCancel(d.rootCtx)
	d.registered = instance
	d.stopHeartbeat = stop

	d.wg.Add(1)
	go d.heartbeatLoop(hbCtx, instance)

	d.logger.Info("service instance registered",
		clog.String("service", instance.Name),
		clog.String("instance_id", instance.ID),
		clog.String("url", instance.URL()))
	return nil
}

// Deregister 停止心跳并注销当前实例
func (d *discoveryImpl) Deregister(ctx context.Context) error {
	d.regMu.Lock()
	instance := d.registered
	stop := d.stopHeartbeat
	d.registered = nil
	d.stopHeartbeat = nil
	d.regMu.Unlock()

	if instance == nil {
		return ErrNotRegistered
	}
	if stop != nil {
		stop()
	}

	if err := d.backend.Deregister(ctx, instance.ID); err != nil {
		return err
	}

	d.logger.Info("service instance deregistered",
		clog.String("service", instance.Name),
		clog.String("instance_id", instance.ID))
	return nil
}

// Discover 返回服务的健康实例列表
func (d *discoveryImpl) Discover(ctx context.Context, serviceName string, opts ...DiscoverOption) ([]*ServiceInstance, error) {
	if serviceName == "" {
		return nil, xerrors.Wrapf(ErrServiceNotFound, "empty service name")
	}

	do := &discoverOptions{}
	for _, opt := range opts {
		opt(do)
	}
	key := cacheKey(serviceName, do.version)

	d.cacheMu.RLock()
	entry, ok := d.cache[key]
	d.cacheMu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < d.cfg.CacheRefreshInterval {
		return filterUp(entry.instances), nil
	}

	instances, err := d.fetchAndCache(ctx, serviceName, do.version)
	if err != nil {
		// 注册中心不可达时回退到过期缓存
		if ok {
			d.logger.Warn("registry unreachable, serving stale cache",
				clog.String("service", serviceName),
				clog.Error(err))
			if counter, e := d.meter.Counter(MetricStaleCacheHits, "Stale cache fallbacks"); e == nil {
				counter.Inc(ctx, metrics.L(LabelService, serviceName))
			}
			return filterUp(entry.instances), nil
		}
		// 注册中心故障对调用方不是硬错误，按当前无可用实例处理
		d.logger.Warn("registry unreachable and no cached instances",
			clog.String("service", serviceName),
			clog.Error(err))
		return []*ServiceInstance{}, nil
	}

	return filterUp(instances), nil
}

// ServiceURL 随机选择一个健康实例并返回其基础地址
func (d *discoveryImpl) ServiceURL(ctx context.Context, serviceName string, opts ...DiscoverOption) (string, error) {
	instances, err := d.Discover(ctx, serviceName, opts...)
	if err != nil {
		return "", err
	}
	if len(instances) == 0 {
		return "", xerrors.Wrapf(ErrServiceNotFound, "no healthy instance of %s", serviceName)
	}
	return instances[rand.Intn(len(instances))].URL(), nil
}

// Close 停止所有后台任务并注销实例
func (d *discoveryImpl) Close() error {
	var err error
	d.closeOnce.Do(func() {
		// 先注销再取消后台任务，注销请求需要一个独立的超时上下文
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.RequestTimeout)
		defer cancel()
		if derr := d.Deregister(ctx); derr != nil && !xerrors.Is(derr, ErrNotRegistered) {
			err = derr
		}

		d.cancel()
		d.wg.Wait()
		err = xerrors.Combine(err, d.backend.Close())
	})
	return err
}

// fetchAndCache 从注册中心拉取实例并更新缓存
func (d *discoveryImpl) fetchAndCache(ctx context.Context, serviceName, version string) ([]*ServiceInstance, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	instances, err := d.backend.Fetch(fetchCtx, serviceName, version)
	if err != nil {
		if counter, e := d.meter.Counter(MetricCacheRefreshes, "Cache refreshes"); e == nil {
			counter.Inc(ctx, metrics.L(LabelService, serviceName), metrics.L(LabelResult, "failure"))
		}
		return nil, err
	}

	d.cacheMu.Lock()
	d.cache[cacheKey(serviceName, version)] = &cacheEntry{
		name:      serviceName,
		version:   version,
		instances: instances,
		fetchedAt: time.Now(),
	}
	d.cacheMu.Unlock()

	if counter, e := d.meter.Counter(MetricCacheRefreshes, "Cache refreshes"); e == nil {
		counter.Inc(ctx, metrics.L(LabelService, serviceName), metrics.L(LabelResult, "success"))
	}
	if gauge, e := d.meter.Gauge(MetricInstancesDiscovered, "Healthy instances discovered"); e == nil {
		gauge.Set(ctx, float64(len(filterUp(instances))), metrics.L(LabelService, serviceName))
	}

	return instances, nil
}

// refreshLoop 定期刷新所有已缓存服务的实例列表
func (d *discoveryImpl) refreshLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.CacheRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.rootCtx.Done():
			return
		case <-ticker.C:
			type target struct{ name, version string }
			d.cacheMu.RLock()
			targets := make([]target, 0, len(d.cache))
			for _, entry := range d.cache {
				targets = append(targets, target{name: entry.name, version: entry.version})
			}
			d.cacheMu.RUnlock()

			for _, tgt := range targets {
				if _, err := d.fetchAndCache(d.rootCtx, tgt.name, tgt.version); err != nil {
					d.logger.Warn("cache refresh failed, keeping stale entries",
						clog.String("service", tgt.name),
						clog.Error(err))
				}
			}
		}
	}
}

// heartbeatLoop 周期发送心跳；心跳丢失时限速重新注册，不设尝试上限
func (d *discoveryImpl) heartbeatLoop(ctx context.Context, instance *ServiceInstance) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.HeartbeatInterval)
	defer ticker.Stop()

	// 重注册限速器，防止注册中心故障时的风暴
	limiter := rate.NewLimiter(rate.Every(d.cfg.RecoveryInterval), 1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
			err := d.backend.Heartbeat(hbCtx, instance.ID)
			cancel()

			if counter, e := d.meter.Counter(MetricHeartbeatsTotal, "Heartbeats sent"); e == nil {
				counter.Inc(ctx, metrics.L(LabelService, instance.Name))
			}

			switch {
			case err == nil:
				d.regMu.Lock()
				instance.LastHeartbeat = time.Now()
				d.regMu.Unlock()

			case xerrors.Is(err, ErrInstanceUnknown):
				d.logger.Warn("registration lost, attempting re-register",
					clog.String("service", instance.Name),
					clog.String("instance_id", instance.ID))
				d.recover(ctx, instance, limiter)

			default:
				d.logger.Warn("heartbeat failed",
					clog.String("service", instance.Name),
					clog.Error(err))
				if counter, e := d.meter.Counter(MetricHeartbeatFailures, "Heartbeat failures"); e == nil {
					counter.Inc(ctx, metrics.L(LabelService, instance.Name))
				}
			}
		}
	}
}

// recover 重新注册实例，受限速器约束
func (d *discoveryImpl) recover(ctx context.Context, instance *ServiceInstance, limiter *rate.Limiter) {
	if !limiter.Allow() {
		return
	}

	regCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	if err := d.backend.Register(regCtx, instance); err != nil {
		d.logger.Error("re-registration failed",
			clog.String("service", instance.Name),
			clog.Error(err))
		return
	}

	d.regMu.Lock()
	instance.LastHeartbeat = time.Now()
	d.regMu.Unlock()

	if counter, e := d.meter.Counter(MetricReregistrations, "Re-registrations after lost heartbeat"); e == nil {
		counter.Inc(ctx, metrics.L(LabelService, instance.Name))
	}
	d.logger.Info("instance re-registered",
		clog.String("service", instance.Name),
		clog.String("instance_id", instance.ID))
}

// filterUp 过滤出 UP 状态的实例
func filterUp(instances []*ServiceInstance) []*ServiceInstance {
	healthy := make([]*ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		if inst.Status == StatusUp {
			healthy = append(healthy, inst)
		}
	}
	return healthy
}
