package discovery

import "context"

// Backend 注册中心后端接口
//
// Discovery 的缓存、心跳和恢复逻辑与具体注册中心解耦，
// 后端只需实现最小的注册中心原语。
type Backend interface {
	// Register 注册服务实例
	Register(ctx context.Context, instance *ServiceInstance) error

	// Deregister 注销服务实例
	Deregister(ctx context.Context, instanceID string) error

	// Heartbeat 为实例续约
	// 注册中心不认识该实例时返回 ErrInstanceUnknown
	Heartbeat(ctx context.Context, instanceID string) error

	// Fetch 拉取服务的全部实例（不过滤状态）
	// version 非空时只返回该版本的实例
	Fetch(ctx context.Context, serviceName, version string) ([]*ServiceInstance, error)

	// Close 释放后端资源
	Close() error
}
