package connector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/xerrors"
)

type natsConnector struct {
	cfg     *NATSConfig
	conn    *nats.Conn
	logger  clog.Logger
	metrics *connMetrics
	healthy atomic.Bool
	mu      sync.RWMutex
}

// NewNATS 创建 NATS 连接器
func NewNATS(cfg *NATSConfig, opts ...Option) (NATSConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrapf(ErrConfig, "nats config is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Wrapf(ErrConfig, "%v", err)
	}

	opt := defaultOptions()
	for _, o := range opts {
		o(opt)
	}

	m, err := newConnMetrics(opt.meter, "nats", cfg.Name)
	if err != nil {
		return nil, err
	}

	return &natsConnector{
		cfg:     cfg,
		logger:  opt.logger.With(clog.String("connector", "nats"), clog.String("name", cfg.Name)),
		metrics: m,
	}, nil
}

// MustNewNATS 创建 NATS 连接器，失败时 panic
func MustNewNATS(cfg *NATSConfig, opts ...Option) NATSConnector {
	conn, err := NewNATS(cfg, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create nats connector: %v", err))
	}
	return conn
}

// Connect 建立连接，幂等
func (c *natsConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.IsConnected() {
		return nil
	}

	c.metrics.attempt(ctx)
	c.logger.Info("connecting to nats", clog.String("url", c.cfg.URL))

	natsOpts := []nats.Option{
		nats.Name(c.cfg.Name),
		nats.Timeout(c.cfg.ConnectTimeout),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.PingInterval(c.cfg.PingInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.healthy.Store(false)
			if err != nil {
				c.logger.Warn("nats disconnected", clog.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.healthy.Store(true)
			c.logger.Info("nats reconnected", clog.String("url", nc.ConnectedUrl()))
		}),
	}

	if c.cfg.Username != "" && c.cfg.Password != "" {
		natsOpts = append(natsOpts, nats.UserInfo(c.cfg.Username, c.cfg.Password))
	}
	if c.cfg.Token != "" {
		natsOpts = append(natsOpts, nats.Token(c.cfg.Token))
	}

	conn, err := nats.Connect(c.cfg.URL, natsOpts...)
	if err != nil {
		c.metrics.failure(ctx)
		c.logger.Error("failed to connect to nats", clog.Error(err), clog.String("url", c.cfg.URL))
		return xerrors.Wrapf(ErrConnection, "nats[%s]: %v", c.cfg.Name, err)
	}

	c.conn = conn
	c.healthy.Store(true)
	c.metrics.success(ctx)
	c.logger.Info("connected to nats", clog.String("url", c.cfg.URL))

	return nil
}

// Close 关闭连接，幂等
func (c *natsConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.healthy.Store(false)
	c.metrics.closed(context.Background())

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.logger.Info("nats connection closed")
	}
	return nil
}

// HealthCheck 检查连接健康状态
func (c *natsConnector) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		c.healthy.Store(false)
		return xerrors.Wrapf(ErrNotConnected, "nats[%s]", c.cfg.Name)
	}

	status := conn.Status()
	if status != nats.CONNECTED {
		c.healthy.Store(false)
		return xerrors.Wrapf(ErrHealthCheck, "nats[%s]: status %s", c.cfg.Name, status.String())
	}

	c.healthy.Store(true)
	return nil
}

// IsHealthy 返回缓存的健康状态
func (c *natsConnector) IsHealthy() bool {
	return c.healthy.Load()
}

// Name 返回连接器名称
func (c *natsConnector) Name() string {
	return c.cfg.Name
}

// GetClient 返回 NATS 连接
func (c *natsConnector) GetClient() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}
