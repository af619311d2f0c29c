package connector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/xerrors"
)

type etcdConnector struct {
	cfg     *EtcdConfig
	client  *clientv3.Client
	logger  clog.Logger
	metrics *connMetrics
	healthy atomic.Bool
	mu      sync.RWMutex
}

// NewEtcd 创建 Etcd 连接器
func NewEtcd(cfg *EtcdConfig, opts ...Option) (EtcdConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrapf(ErrConfig, "etcd config is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Wrapf(ErrConfig, "%v", err)
	}

	opt := defaultOptions()
	for _, o := range opts {
		o(opt)
	}

	m, err := newConnMetrics(opt.meter, "etcd", cfg.Name)
	if err != nil {
		return nil, err
	}

	return &etcdConnector{
		cfg:     cfg,
		logger:  opt.logger.With(clog.String("connector", "etcd"), clog.String("name", cfg.Name)),
		metrics: m,
	}, nil
}

// MustNewEtcd 创建 Etcd 连接器，失败时 panic
func MustNewEtcd(cfg *EtcdConfig, opts ...Option) EtcdConnector {
	conn, err := NewEtcd(cfg, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create etcd connector: %v", err))
	}
	return conn
}

// Connect 建立连接，幂等
func (c *etcdConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	c.metrics.attempt(ctx)
	c.logger.Info("connecting to etcd", clog.Any("endpoints", c.cfg.Endpoints))

	clientConfig := clientv3.Config{
		Endpoints:            c.cfg.Endpoints,
		DialTimeout:          c.cfg.DialTimeout,
		DialKeepAliveTime:    c.cfg.KeepAliveTime,
		DialKeepAliveTimeout: c.cfg.KeepAliveTimeout,
		Username:             c.cfg.Username,
		Password:             c.cfg.Password,
	}

	client, err := clientv3.New(clientConfig)
	if err != nil {
		c.metrics.failure(ctx)
		c.logger.Error("failed to connect to etcd", clog.Error(err))
		return xerrors.Wrapf(ErrConnection, "etcd[%s]: %v", c.cfg.Name, err)
	}

	c.client = client
	c.healthy.Store(true)
	c.metrics.success(ctx)
	c.logger.Info("connected to etcd")

	return nil
}

// Close 关闭连接，幂等
func (c *etcdConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.healthy.Store(false)
	c.metrics.closed(context.Background())

	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		c.logger.Info("etcd connection closed")
		return err
	}
	return nil
}

// HealthCheck 通过获取集群状态检查连接健康
func (c *etcdConnector) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		c.healthy.Store(false)
		return xerrors.Wrapf(ErrNotConnected, "etcd[%s]", c.cfg.Name)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	if _, err := client.Status(timeoutCtx, c.cfg.Endpoints[0]); err != nil {
		c.healthy.Store(false)
		return xerrors.Wrapf(ErrHealthCheck, "etcd[%s]: %v", c.cfg.Name, err)
	}

	c.healthy.Store(true)
	return nil
}

// IsHealthy 返回缓存的健康状态
func (c *etcdConnector) IsHealthy() bool {
	return c.healthy.Load()
}

// Name 返回连接器名称
func (c *etcdConnector) Name() string {
	return c.cfg.Name
}

// GetClient 返回 Etcd 客户端
func (c *etcdConnector) GetClient() *clientv3.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}
