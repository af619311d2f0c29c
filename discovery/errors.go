package discovery

import "github.com/ceyewan/fabric/xerrors"

var (
	// ErrServiceNotFound 没有可用的服务实例
	// 解析失败属于配置或部署问题，调用方不应对其重试
	ErrServiceNotFound = xerrors.New("discovery: service not found")

	// ErrInvalidInstance 无效的服务实例
	ErrInvalidInstance = xerrors.New("discovery: invalid service instance")

	// ErrNotRegistered 尚未注册任何实例
	ErrNotRegistered = xerrors.New("discovery: no instance registered")

	// ErrInstanceUnknown 注册中心不认识该实例（通常意味着注册已丢失）
	ErrInstanceUnknown = xerrors.New("discovery: instance unknown to registry")

	// ErrClosed Discovery 已关闭
	ErrClosed = xerrors.New("discovery: closed")

	// ErrRegistryUnavailable 注册中心不可达
	ErrRegistryUnavailable = xerrors.New("discovery: registry unavailable")
)
