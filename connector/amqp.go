package connector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/xerrors"
)

type amqpConnector struct {
	cfg     *AMQPConfig
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  clog.Logger
	metrics *connMetrics
	healthy atomic.Bool
	mu      sync.RWMutex
}

// NewAMQP 创建 RabbitMQ 连接器
func NewAMQP(cfg *AMQPConfig, opts ...Option) (AMQPConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrapf(ErrConfig, "amqp config is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Wrapf(ErrConfig, "%v", err)
	}

	opt := defaultOptions()
	for _, o := range opts {
		o(opt)
	}

	m, err := newConnMetrics(opt.meter, "amqp", cfg.Name)
	if err != nil {
		return nil, err
	}

	return &amqpConnector{
		cfg:     cfg,
		logger:  opt.logger.With(clog.String("connector", "amqp"), clog.String("name", cfg.Name)),
		metrics: m,
	}, nil
}

// MustNewAMQP 创建 RabbitMQ 连接器，失败时 panic
func MustNewAMQP(cfg *AMQPConfig, opts ...Option) AMQPConnector {
	conn, err := NewAMQP(cfg, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create amqp connector: %v", err))
	}
	return conn
}

// Connect 建立连接并打开默认 Channel，幂等
func (c *amqpConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}

	c.metrics.attempt(ctx)
	c.logger.Info("connecting to rabbitmq", clog.String("url", c.cfg.URL))

	conn, err := amqp.DialConfig(c.cfg.URL, amqp.Config{
		Heartbeat:  c.cfg.Heartbeat,
		ChannelMax: uint16(c.cfg.ChannelMax),
		Dial:       amqp.DefaultDial(c.cfg.ConnectTimeout),
	})
	if err != nil {
		c.metrics.failure(ctx)
		c.logger.Error("failed to connect to rabbitmq", clog.Error(err))
		return xerrors.Wrapf(ErrConnection, "amqp[%s]: %v", c.cfg.Name, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		c.metrics.failure(ctx)
		return xerrors.Wrapf(ErrConnection, "amqp[%s]: open channel: %v", c.cfg.Name, err)
	}

	c.conn = conn
	c.channel = channel
	c.healthy.Store(true)
	c.metrics.success(ctx)
	c.logger.Info("connected to rabbitmq")

	return nil
}

// Close 关闭连接，幂等
func (c *amqpConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.healthy.Store(false)
	c.metrics.closed(context.Background())

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !xerrors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
		c.channel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !xerrors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
		c.conn = nil
		c.logger.Info("rabbitmq connection closed")
	}
	return xerrors.Combine(errs...)
}

// HealthCheck 检查连接健康状态
func (c *amqpConnector) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		c.healthy.Store(false)
		return xerrors.Wrapf(ErrNotConnected, "amqp[%s]", c.cfg.Name)
	}
	if conn.IsClosed() {
		c.healthy.Store(false)
		return xerrors.Wrapf(ErrHealthCheck, "amqp[%s]: connection closed", c.cfg.Name)
	}

	c.healthy.Store(true)
	return nil
}

// IsHealthy 返回缓存的健康状态
func (c *amqpConnector) IsHealthy() bool {
	return c.healthy.Load()
}

// Name 返回连接器名称
func (c *amqpConnector) Name() string {
	return c.cfg.Name
}

// GetClient 返回底层 AMQP 连接
func (c *amqpConnector) GetClient() *amqp.Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// Channel 返回默认 Channel
func (c *amqpConnector) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// NotifyClose 注册连接关闭通知
func (c *amqpConnector) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		close(receiver)
		return receiver
	}
	return c.conn.NotifyClose(receiver)
}
