package bus

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/connector"
	"github.com/ceyewan/fabric/xerrors"
)

// jetStreamTransport NATS JetStream 传输层
//
// 一个流承载全部事件主题（<前缀>.>），事件类型映射为主题
// <前缀>.<类型>。每个队列对应一个 durable consumer，同名
// consumer 的多个实例竞争消费。死信没有原生交换概念，
// 重试耗尽的消息发布到 <前缀>.dlq.<类型> 后 Term 掉。
// 断线重连和订阅恢复由 nats.go 客户端自己完成。
type jetStreamTransport struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	cfg    Config
	logger clog.Logger

	mu        sync.Mutex
	consumers map[string]jetstream.ConsumeContext
	closed    bool

	down chan struct{}
}

func newJetStreamTransport(conn connector.NATSConnector, cfg *Config, logger clog.Logger) (*jetStreamTransport, error) {
	if conn == nil {
		return nil, ErrConnectorNil
	}
	nc := conn.GetClient()
	if nc == nil {
		return nil, connector.ErrNotConnected
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, xerrors.Wrap(err, "create jetstream context")
	}

	t := &jetStreamTransport{
		nc:        nc,
		js:        js,
		cfg:       *cfg,
		logger:    logger,
		consumers: make(map[string]jetstream.ConsumeContext),
		down:      make(chan struct{}),
	}
	if err := t.ensureStream(context.Background()); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *jetStreamTransport) ensureStream(ctx context.Context) error {
	_, err := t.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      t.cfg.StreamName,
		Subjects:  []string{t.cfg.SubjectPrefix + ".>"},
		Retention: jetstream.LimitsPolicy,
	})
	if err != nil {
		return xerrors.Wrapf(err, "ensure stream %s", t.cfg.StreamName)
	}
	return nil
}

// subject 把事件类型映射为 NATS 主题，顺带转换通配符
func (t *jetStreamTransport) subject(eventType string) string {
	translated := strings.ReplaceAll(eventType, "#", ">")
	return t.cfg.SubjectPrefix + "." + translated
}

func (t *jetStreamTransport) Publish(ctx context.Context, eventType string, body []byte, headers map[string]string) error {
	msg := &nats.Msg{
		Subject: t.subject(eventType),
		Data:    body,
		Header:  toNATSHeader(headers),
	}
	if _, err := t.js.PublishMsg(ctx, msg); err != nil {
		return xerrors.Wrapf(err, "publish %s", eventType)
	}
	return nil
}

func (t *jetStreamTransport) Consume(ctx context.Context, queue, eventType string, deliver DeliverFunc) error {
	consumerCfg := jetstream.ConsumerConfig{
		Durable:       sanitizeDurable(queue),
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: t.subject(eventType),
		MaxAckPending: t.cfg.Prefetch,
	}
	cons, err := t.js.CreateOrUpdateConsumer(ctx, t.cfg.StreamName, consumerCfg)
	if err != nil {
		return xerrors.Wrapf(err, "create consumer for %s", queue)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		deliver(t.toDelivery(msg, eventType))
	})
	if err != nil {
		return xerrors.Wrapf(err, "start consuming %s", queue)
	}

	t.mu.Lock()
	if old, exists := t.consumers[queue]; exists {
		old.Stop()
	}
	t.consumers[queue] = cc
	t.mu.Unlock()
	return nil
}

func (t *jetStreamTransport) toDelivery(msg jetstream.Msg, eventType string) Delivery {
	headers := fromNATSHeader(msg.Headers())
	return Delivery{
		Body:    msg.Data(),
		Headers: headers,
		ReplyTo: headers[HeaderReplyTo],
		Ack:     msg.Ack,
		Nack: func() error {
			// 无原生死信交换：先把消息留底到死信主题，再终止投递
			dlq := &nats.Msg{
				Subject: t.cfg.SubjectPrefix + ".dlq." + eventType,
				Data:    msg.Data(),
				Header:  msg.Headers(),
			}
			if _, err := t.js.PublishMsg(context.Background(), dlq); err != nil {
				return xerrors.Wrap(err, "publish to dead letter subject")
			}
			return msg.Term()
		},
	}
}

func (t *jetStreamTransport) CancelConsume(queue string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cc, exists := t.consumers[queue]; exists {
		cc.Stop()
		delete(t.consumers, queue)
	}
	return nil
}

func (t *jetStreamTransport) Request(ctx context.Context, eventType string, body []byte, headers map[string]string, timeout time.Duration) (Delivery, error) {
	inbox := nats.NewInbox()
	sub, err := t.nc.SubscribeSync(inbox)
	if err != nil {
		return Delivery{}, xerrors.Wrap(err, "subscribe reply inbox")
	}
	defer func() { _ = sub.Unsubscribe() }()

	withReply := make(map[string]string, len(headers)+1)
	for key, value := range headers {
		withReply[key] = value
	}
	withReply[HeaderReplyTo] = inbox

	if err := t.Publish(ctx, eventType, body, withReply); err != nil {
		return Delivery{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	reply, err := sub.NextMsgWithContext(waitCtx)
	if err != nil {
		if xerrors.Is(err, context.DeadlineExceeded) || xerrors.Is(err, nats.ErrTimeout) {
			return Delivery{}, ErrRequestTimeout
		}
		return Delivery{}, xerrors.Wrap(err, "await reply")
	}
	return Delivery{
		Body:    reply.Data,
		Headers: fromNATSHeader(reply.Header),
	}, nil
}

func (t *jetStreamTransport) Reply(ctx context.Context, replyTo string, body []byte, headers map[string]string) error {
	msg := &nats.Msg{
		Subject: replyTo,
		Data:    body,
		Header:  toNATSHeader(headers),
	}
	return t.nc.PublishMsg(msg)
}

// NotifyDown 永不触发：nats.go 客户端自动重连并恢复订阅
func (t *jetStreamTransport) NotifyDown() <-chan struct{} {
	return t.down
}

func (t *jetStreamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for queue, cc := range t.consumers {
		cc.Stop()
		delete(t.consumers, queue)
	}
	return nil
}

func toNATSHeader(headers map[string]string) nats.Header {
	h := nats.Header{}
	for key, value := range headers {
		h.Set(key, value)
	}
	return h
}

func fromNATSHeader(h nats.Header) map[string]string {
	headers := make(map[string]string, len(h))
	for key := range h {
		headers[key] = h.Get(key)
	}
	return headers
}

// sanitizeDurable JetStream durable 名不允许 '.'、'*'、'>'
func sanitizeDurable(name string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(name)
}
