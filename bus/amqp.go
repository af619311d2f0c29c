package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/connector"
	"github.com/ceyewan/fabric/xerrors"
)

// amqpTransport RabbitMQ 传输层
//
// 拓扑：一个持久化的主题交换承载全部事件，路由键为事件类型；
// 每个订阅队列声明时挂上死信交换，nack 且不重投的消息由
// 死信交换路由到统一的死信队列。发布走 confirm 模式，
// Publish 在 Broker 确认后才返回。
type amqpTransport struct {
	conn   connector.AMQPConnector
	cfg    Config
	logger clog.Logger

	mu        sync.Mutex
	ch        *amqp.Channel
	consumers map[string]consumer
	closed    bool

	down chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

type consumer struct {
	tag     string
	deliver DeliverFunc
}

func newAMQPTransport(conn connector.AMQPConnector, cfg *Config, logger clog.Logger) (*amqpTransport, error) {
	if conn == nil {
		return nil, ErrConnectorNil
	}
	t := &amqpTransport{
		conn:      conn,
		cfg:       *cfg,
		logger:    logger,
		consumers: make(map[string]consumer),
		down:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	if err := t.setup(); err != nil {
		return nil, err
	}
	t.wg.Add(1)
	go t.watchLoop()
	return t, nil
}

// setup 获取信道并声明拓扑，重连后会再次执行
func (t *amqpTransport) setup() error {
	ch := t.conn.Channel()
	if ch == nil {
		return connector.ErrNotConnected
	}
	if err := ch.Confirm(false); err != nil {
		return xerrors.Wrap(err, "enable confirm mode")
	}
	if err := ch.ExchangeDeclare(t.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return xerrors.Wrap(err, "declare exchange")
	}
	if err := ch.ExchangeDeclare(t.cfg.DeadLetterExchange, "topic", true, false, false, false, nil); err != nil {
		return xerrors.Wrap(err, "declare dead letter exchange")
	}
	if _, err := ch.QueueDeclare(t.cfg.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return xerrors.Wrap(err, "declare dead letter queue")
	}
	if err := ch.QueueBind(t.cfg.DeadLetterQueue, "#", t.cfg.DeadLetterExchange, false, nil); err != nil {
		return xerrors.Wrap(err, "bind dead letter queue")
	}
	if err := ch.Qos(t.cfg.Prefetch, 0, false); err != nil {
		return xerrors.Wrap(err, "set qos")
	}
	t.mu.Lock()
	t.ch = ch
	t.mu.Unlock()
	return nil
}

func (t *amqpTransport) Publish(ctx context.Context, eventType string, body []byte, headers map[string]string) error {
	t.mu.Lock()
	ch := t.ch
	t.mu.Unlock()
	if ch == nil {
		return connector.ErrNotConnected
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		t.cfg.Exchange, eventType, false, false, t.publishing(body, headers, ""))
	if err != nil {
		return xerrors.Wrap(err, "publish")
	}
	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return xerrors.Wrap(err, "wait publish confirm")
	}
	if !acked {
		return xerrors.New("bus: publish nacked by broker")
	}
	return nil
}

func (t *amqpTransport) Consume(ctx context.Context, queue, eventType string, deliver DeliverFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ch == nil {
		return connector.ErrNotConnected
	}

	args := amqp.Table{"x-dead-letter-exchange": t.cfg.DeadLetterExchange}
	if _, err := t.ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return xerrors.Wrapf(err, "declare queue %s", queue)
	}
	if err := t.ch.QueueBind(queue, eventType, t.cfg.Exchange, false, nil); err != nil {
		return xerrors.Wrapf(err, "bind queue %s", queue)
	}

	tag := fmt.Sprintf("%s.%d", queue, time.Now().UnixNano())
	deliveries, err := t.ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrapf(err, "consume queue %s", queue)
	}
	t.consumers[queue] = consumer{tag: tag, deliver: deliver}

	t.wg.Add(1)
	go t.consumeLoop(deliveries, deliver)
	return nil
}

func (t *amqpTransport) consumeLoop(deliveries <-chan amqp.Delivery, deliver DeliverFunc) {
	defer t.wg.Done()
	for d := range deliveries {
		deliver(t.toDelivery(d))
	}
}

func (t *amqpTransport) toDelivery(d amqp.Delivery) Delivery {
	headers := make(map[string]string, len(d.Headers))
	for key, value := range d.Headers {
		if s, ok := value.(string); ok {
			headers[key] = s
		}
	}
	if d.CorrelationId != "" {
		headers[HeaderCorrelationID] = d.CorrelationId
	}
	return Delivery{
		Body:    d.Body,
		Headers: headers,
		ReplyTo: d.ReplyTo,
		Ack:     func() error { return d.Ack(false) },
		Nack:    func() error { return d.Nack(false, false) },
	}
}

func (t *amqpTransport) CancelConsume(queue string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, exists := t.consumers[queue]
	if !exists {
		return nil
	}
	delete(t.consumers, queue)
	if t.ch == nil {
		return nil
	}
	return t.ch.Cancel(c.tag, false)
}

func (t *amqpTransport) Request(ctx context.Context, eventType string, body []byte, headers map[string]string, timeout time.Duration) (Delivery, error) {
	t.mu.Lock()
	ch := t.ch
	t.mu.Unlock()
	if ch == nil {
		return Delivery{}, connector.ErrNotConnected
	}

	// 独占自动删除的应答队列，生命周期只覆盖本次请求
	replyQueue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return Delivery{}, xerrors.Wrap(err, "declare reply queue")
	}
	replies, err := ch.Consume(replyQueue.Name, "", true, true, false, false, nil)
	if err != nil {
		return Delivery{}, xerrors.Wrap(err, "consume reply queue")
	}
	defer func() { _, _ = ch.QueueDelete(replyQueue.Name, false, false, true) }()

	correlationID := headers[HeaderEventID]
	publishing := t.publishing(body, headers, replyQueue.Name)
	publishing.CorrelationId = correlationID
	if err := ch.PublishWithContext(ctx, t.cfg.Exchange, eventType, false, false, publishing); err != nil {
		return Delivery{}, xerrors.Wrap(err, "publish request")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-timer.C:
			return Delivery{}, ErrRequestTimeout
		case d, ok := <-replies:
			if !ok {
				return Delivery{}, connector.ErrNotConnected
			}
			if d.CorrelationId != "" && d.CorrelationId != correlationID {
				continue
			}
			return t.toDelivery(d), nil
		}
	}
}

func (t *amqpTransport) Reply(ctx context.Context, replyTo string, body []byte, headers map[string]string) error {
	t.mu.Lock()
	ch := t.ch
	t.mu.Unlock()
	if ch == nil {
		return connector.ErrNotConnected
	}
	publishing := t.publishing(body, headers, "")
	publishing.CorrelationId = headers[HeaderCorrelationID]
	// 应答走默认交换直达应答队列
	return ch.PublishWithContext(ctx, "", replyTo, false, false, publishing)
}

func (t *amqpTransport) publishing(body []byte, headers map[string]string, replyTo string) amqp.Publishing {
	table := make(amqp.Table, len(headers))
	for key, value := range headers {
		table[key] = value
	}
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     headers[HeaderEventID],
		CorrelationId: headers[HeaderCorrelationID],
		ReplyTo:       replyTo,
		Headers:       table,
		Body:          body,
	}
}

func (t *amqpTransport) NotifyDown() <-chan struct{} {
	return t.down
}

// watchLoop 监听连接关闭，重连并重建拓扑后通知上层重放订阅
func (t *amqpTransport) watchLoop() {
	defer t.wg.Done()
	for {
		closeCh := t.conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-t.stop:
			return
		case _, ok := <-closeCh:
			if !ok && t.isClosed() {
				return
			}
		}

		t.logger.Warn("amqp connection lost, reconnecting")
		for {
			select {
			case <-t.stop:
				return
			case <-time.After(t.cfg.ReconnectWait):
			}
			ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ReconnectWait*2)
			err := t.conn.Connect(ctx)
			cancel()
			if err != nil {
				t.logger.Warn("amqp reconnect failed", clog.Error(err))
				continue
			}
			if err := t.setup(); err != nil {
				t.logger.Warn("amqp topology rebuild failed", clog.Error(err))
				continue
			}
			break
		}

		t.mu.Lock()
		t.consumers = make(map[string]consumer)
		t.mu.Unlock()
		t.logger.Info("amqp reconnected, topology rebuilt")

		select {
		case t.down <- struct{}{}:
		default:
		}
	}
}

func (t *amqpTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *amqpTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ch := t.ch
	consumers := t.consumers
	t.consumers = make(map[string]consumer)
	t.mu.Unlock()

	close(t.stop)
	if ch != nil {
		for _, c := range consumers {
			_ = ch.Cancel(c.tag, false)
		}
	}
	t.wg.Wait()
	return nil
}
