// Package discovery 提供了服务注册与发现组件，支持 HTTP 注册中心和 Etcd 两种后端。
//
// discovery 是 Fabric 治理层的核心组件，它提供了：
// - 服务实例的注册、注销与周期心跳
// - 本地缓存加定期刷新，注册中心不可达时回退到过期缓存
// - 健康实例过滤（只返回 UP 状态）与随机负载均衡
// - 心跳丢失后的限速自动重注册
//
// ## 基本使用
//
//	disc, _ := discovery.New(&discovery.Config{
//		RegistryURL: "http://registry:8761",
//	}, discovery.WithLogger(logger))
//	defer disc.Close()
//
//	// 注册本服务
//	disc.Register(ctx, &discovery.ServiceInstance{
//		Name: "visitor-service",
//		Host: "10.0.0.5",
//		Port: 8080,
//	})
//
//	// 解析目标服务地址
//	url, err := disc.ServiceURL(ctx, "billing-service")
//
// ## Etcd 后端
//
//	etcdConn, _ := connector.NewEtcd(&etcdCfg, connector.WithLogger(logger))
//	etcdConn.Connect(ctx)
//	disc, _ := discovery.NewEtcd(etcdConn, &discovery.Config{}, discovery.WithLogger(logger))
package discovery

import (
	"context"
	"time"
)

// Discovery 服务注册与发现接口
type Discovery interface {
	// Register 注册服务实例并启动周期心跳
	// instance.ID 为空时自动生成 UUID；注册成功后实例状态为 UP
	Register(ctx context.Context, instance *ServiceInstance) error

	// Deregister 停止心跳并注销当前实例
	Deregister(ctx context.Context) error

	// Discover 返回服务的健康实例列表（仅 UP 状态）
	// 优先读取本地缓存；缓存过期时查询注册中心，
	// 注册中心不可达时回退到过期缓存，从未成功拉取过时返回空列表而不报错
	Discover(ctx context.Context, serviceName string, opts ...DiscoverOption) ([]*ServiceInstance, error)

	// ServiceURL 随机选择一个健康实例并返回其基础地址
	// 没有可用实例时返回 ErrServiceNotFound
	ServiceURL(ctx context.Context, serviceName string, opts ...DiscoverOption) (string, error)

	// Close 停止所有后台任务并注销实例
	Close() error
}

// Config Discovery 组件配置
type Config struct {
	// RegistryURL HTTP 注册中心基础地址，如 "http://registry:8761"
	// 使用 New 创建 HTTP 后端时必填
	RegistryURL string `mapstructure:"registry_url" json:"registry_url" yaml:"registry_url"`

	// Namespace Etcd Key 前缀，默认 "/fabric/services"（仅 Etcd 后端）
	Namespace string `mapstructure:"namespace" json:"namespace" yaml:"namespace"`

	// HeartbeatInterval 心跳间隔，默认 30s
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" json:"heartbeat_interval" yaml:"heartbeat_interval"`

	// CacheRefreshInterval 本地缓存刷新间隔，默认 60s
	CacheRefreshInterval time.Duration `mapstructure:"cache_refresh_interval" json:"cache_refresh_interval" yaml:"cache_refresh_interval"`

	// LeaseTTL 注册租约时长，默认 90s（应大于心跳间隔的两倍）
	LeaseTTL time.Duration `mapstructure:"lease_ttl" json:"lease_ttl" yaml:"lease_ttl"`

	// RequestTimeout 单次注册中心请求超时，默认 5s
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout" yaml:"request_timeout"`

	// RecoveryInterval 心跳丢失后重新注册的最小间隔，默认 5s
	// 重注册尝试不设上限，但受此间隔限速
	RecoveryInterval time.Duration `mapstructure:"recovery_interval" json:"recovery_interval" yaml:"recovery_interval"`
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.Namespace == "" {
		c.Namespace = "/fabric/services"
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.CacheRefreshInterval == 0 {
		c.CacheRefreshInterval = 60 * time.Second
	}
	if c.LeaseTTL == 0 {
		c.LeaseTTL = 90 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.RecoveryInterval == 0 {
		c.RecoveryInterval = 5 * time.Second
	}
}

// New 创建基于 HTTP 注册中心的 Discovery 实例
func New(cfg *Config, opts ...Option) (Discovery, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()

	if cfg.RegistryURL == "" {
		return nil, ErrRegistryUnavailable
	}

	opt := defaultOptions()
	for _, o := range opts {
		o(opt)
	}

	backend := newHTTPBackend(cfg, opt.logger)
	return newDiscovery(backend, cfg, opt)
}

// NewWithBackend 使用自定义后端创建 Discovery 实例
// 主要用于测试和扩展其他注册中心
func NewWithBackend(backend Backend, cfg *Config, opts ...Option) (Discovery, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()

	opt := defaultOptions()
	for _, o := range opts {
		o(opt)
	}

	return newDiscovery(backend, cfg, opt)
}
