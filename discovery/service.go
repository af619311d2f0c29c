package discovery

import (
	"fmt"
	"time"
)

// Status 服务实例状态
type Status string

const (
	// StatusUp 实例健康，可以接收流量
	StatusUp Status = "UP"
	// StatusDown 实例不可用
	StatusDown Status = "DOWN"
	// StatusStarting 实例正在启动，尚未就绪
	StatusStarting Status = "STARTING"
	// StatusStopping 实例正在下线
	StatusStopping Status = "STOPPING"
)

// ServiceInstance 代表一个服务实例
type ServiceInstance struct {
	ID            string            `json:"id"`             // 唯一实例 ID (通常是 UUID)
	Name          string            `json:"name"`           // 服务名称 (如 visitor-service)
	Version       string            `json:"version"`        // 版本号
	Host          string            `json:"host"`           // 主机地址
	Port          int               `json:"port"`           // 端口
	Protocol      string            `json:"protocol"`       // 协议 (http/https/grpc)，默认 http
	Status        Status            `json:"status"`         // 实例状态
	LastHeartbeat time.Time         `json:"last_heartbeat"` // 最近一次心跳时间
	Metadata      map[string]string `json:"metadata"`       // 元数据 (Region, Zone, Weight 等)
}

// URL 返回实例的基础地址，如 "http://10.0.0.1:8080"
func (s *ServiceInstance) URL() string {
	protocol := s.Protocol
	if protocol == "" {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s:%d", protocol, s.Host, s.Port)
}

// validate 检查注册所需的必填字段
func (s *ServiceInstance) validate() error {
	if s.Name == "" {
		return ErrInvalidInstance
	}
	if s.Host == "" || s.Port <= 0 {
		return ErrInvalidInstance
	}
	return nil
}
