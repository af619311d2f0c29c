package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/connector"
	"github.com/ceyewan/fabric/metrics"
	"github.com/ceyewan/fabric/trace"
	"github.com/ceyewan/fabric/xerrors"
)

// eventBus Bus 的默认实现
//
// 编解码、进程内重试、订阅登记和追踪传播在这一层完成，
// 字节传输交给 Transport。
type eventBus struct {
	cfg       Config
	transport Transport
	logger    clog.Logger
	tracer    trace.Tracer

	mu   sync.Mutex
	subs map[string]Subscription

	rootCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	published    metrics.Counter
	consumed     metrics.Counter
	failures     metrics.Counter
	retries      metrics.Counter
	deadLettered metrics.Counter
	requests     metrics.Counter
	reqTimeouts  metrics.Counter
	duration     metrics.Histogram
}

// New 在给定传输层上创建事件总线
// 多数调用方应使用 NewAMQP 或 NewJetStream
func New(transport Transport, cfg *Config, opts ...Option) (Bus, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if transport == nil {
		return nil, xerrors.New("bus: transport is nil")
	}
	cfg.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &eventBus{
		cfg:       *cfg,
		transport: transport,
		logger:    o.logger,
		tracer:    o.tracer,
		subs:      make(map[string]Subscription),
		rootCtx:   ctx,
		cancel:    cancel,
	}
	b.published, _ = o.meter.Counter(MetricPublishedTotal, "发布的事件总数")
	b.consumed, _ = o.meter.Counter(MetricConsumedTotal, "投递给处理函数的事件总数")
	b.failures, _ = o.meter.Counter(MetricHandlerFailures, "处理函数失败次数")
	b.retries, _ = o.meter.Counter(MetricRetriesTotal, "进程内重试次数")
	b.deadLettered, _ = o.meter.Counter(MetricDeadLettered, "进入死信队列的事件数")
	b.requests, _ = o.meter.Counter(MetricRequestsTotal, "请求应答调用总数")
	b.reqTimeouts, _ = o.meter.Counter(MetricRequestTimeouts, "请求超时次数")
	b.duration, _ = o.meter.Histogram(MetricHandleDuration, "事件处理耗时", metrics.WithUnit("s"))

	b.wg.Add(1)
	go b.replayLoop()
	return b, nil
}

// NewAMQP 创建基于 RabbitMQ 的事件总线
func NewAMQP(conn connector.AMQPConnector, cfg *Config, opts ...Option) (Bus, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	transport, err := newAMQPTransport(conn, cfg, o.logger)
	if err != nil {
		return nil, err
	}
	return New(transport, cfg, opts...)
}

// NewJetStream 创建基于 NATS JetStream 的事件总线
func NewJetStream(conn connector.NATSConnector, cfg *Config, opts ...Option) (Bus, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	transport, err := newJetStreamTransport(conn, cfg, o.logger)
	if err != nil {
		return nil, err
	}
	return New(transport, cfg, opts...)
}

func (b *eventBus) Publish(ctx context.Context, event *Event, opts ...PublishOption) error {
	if err := b.checkClosed(); err != nil {
		return err
	}
	if event == nil {
		return ErrEventNil
	}
	if event.Type == "" {
		return ErrEventTypeEmpty
	}

	po := &publishOptions{}
	for _, opt := range opts {
		opt(po)
	}
	if po.correlationID != "" {
		event.CorrelationID = po.correlationID
	}

	body, headers, err := b.encode(ctx, event)
	if err != nil {
		return err
	}
	for key, value := range po.headers {
		headers[key] = value
	}

	if err := b.transport.Publish(ctx, event.Type, body, headers); err != nil {
		return xerrors.Wrapf(err, "publish %s", event.Type)
	}
	b.published.Inc(ctx, metrics.L(LabelEventType, event.Type))
	return nil
}

func (b *eventBus) Subscribe(ctx context.Context, sub Subscription) error {
	if err := b.checkClosed(); err != nil {
		return err
	}
	if sub.EventType == "" {
		return ErrEventTypeEmpty
	}
	if sub.Queue == "" {
		return ErrQueueEmpty
	}
	if sub.Handler == nil && sub.Responder == nil {
		return ErrHandlerNil
	}
	if sub.MaxRetries < 0 {
		sub.MaxRetries = 0
	} else if sub.MaxRetries == 0 {
		sub.MaxRetries = 3
	}
	if sub.RetryDelay <= 0 {
		sub.RetryDelay = time.Second
	}

	b.mu.Lock()
	if _, exists := b.subs[sub.EventType]; exists {
		b.mu.Unlock()
		return xerrors.Wrapf(ErrAlreadySubscribed, "%s", sub.EventType)
	}
	b.subs[sub.EventType] = sub
	b.mu.Unlock()

	if err := b.consume(sub); err != nil {
		b.mu.Lock()
		delete(b.subs, sub.EventType)
		b.mu.Unlock()
		return err
	}
	b.logger.Info("subscribed",
		clog.String("event_type", sub.EventType),
		clog.String("queue", sub.Queue))
	return nil
}

func (b *eventBus) Unsubscribe(eventType string) error {
	b.mu.Lock()
	sub, exists := b.subs[eventType]
	if exists {
		delete(b.subs, eventType)
	}
	b.mu.Unlock()
	if !exists {
		return xerrors.Wrapf(ErrNotSubscribed, "%s", eventType)
	}
	return b.transport.CancelConsume(sub.Queue)
}

func (b *eventBus) Request(ctx context.Context, event *Event, timeout time.Duration) (*Event, error) {
	if err := b.checkClosed(); err != nil {
		return nil, err
	}
	if event == nil {
		return nil, ErrEventNil
	}
	if event.Type == "" {
		return nil, ErrEventTypeEmpty
	}

	body, headers, err := b.encode(ctx, event)
	if err != nil {
		return nil, err
	}

	b.requests.Inc(ctx, metrics.L(LabelEventType, event.Type))
	delivery, err := b.transport.Request(ctx, event.Type, body, headers, timeout)
	if err != nil {
		if xerrors.Is(err, ErrRequestTimeout) {
			b.reqTimeouts.Inc(ctx, metrics.L(LabelEventType, event.Type))
		}
		return nil, err
	}

	var reply Event
	if err := json.Unmarshal(delivery.Body, &reply); err != nil {
		return nil, xerrors.Wrap(err, "decode reply")
	}
	return &reply, nil
}

func (b *eventBus) Close() error {
	b.closeOnce.Do(func() {
		b.cancel()
		b.mu.Lock()
		b.subs = make(map[string]Subscription)
		b.mu.Unlock()
		b.closeErr = b.transport.Close()
		b.wg.Wait()
	})
	return b.closeErr
}

// encode 序列化事件并构造统一消息头
func (b *eventBus) encode(ctx context.Context, event *Event) ([]byte, map[string]string, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, nil, xerrors.Wrap(err, "encode event")
	}
	headers := map[string]string{
		HeaderEventID:   event.ID,
		HeaderEventType: event.Type,
		HeaderSource:    event.Source,
	}
	if event.CorrelationID != "" {
		headers[HeaderCorrelationID] = event.CorrelationID
	}
	if b.tracer != nil {
		b.tracer.Inject(ctx, trace.MapCarrier(headers))
	}
	return body, headers, nil
}

// consume 把订阅接到传输层
func (b *eventBus) consume(sub Subscription) error {
	return b.transport.Consume(b.rootCtx, sub.Queue, sub.EventType, func(d Delivery) {
		b.dispatch(sub, d)
	})
}

// dispatch 投递一条消息：解码、重试、确认或死信
func (b *eventBus) dispatch(sub Subscription, d Delivery) {
	start := time.Now()
	labels := []metrics.Label{
		metrics.L(LabelEventType, sub.EventType),
		metrics.L(LabelQueue, sub.Queue),
	}

	var event Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		// 无法解码的消息重试没有意义，直接死信
		b.logger.Error("undecodable message, dead-lettering",
			clog.String("queue", sub.Queue),
			clog.Error(err))
		b.deadLettered.Inc(b.rootCtx, labels...)
		b.nack(d)
		return
	}

	ctx := b.rootCtx
	var span *trace.Span
	if b.tracer != nil {
		if tc := b.tracer.Extract(trace.MapCarrier(d.Headers)); tc.Valid() {
			ctx = trace.ContextWithRemote(ctx, tc)
		}
		ctx, span = b.tracer.StartSpan(ctx, "bus.consume "+sub.EventType)
		span.SetAttribute("event_type", sub.EventType)
		span.SetAttribute("queue", sub.Queue)
		span.SetAttribute("event_id", event.ID)
		defer span.End()
	}

	var err error
	for attempt := 1; attempt <= sub.MaxRetries+1; attempt++ {
		b.consumed.Inc(ctx, labels...)
		err = b.handle(ctx, sub, &event, d)
		if err == nil {
			b.ack(d)
			b.duration.Record(ctx, time.Since(start).Seconds(), labels...)
			return
		}
		b.failures.Inc(ctx, labels...)

		if attempt > sub.MaxRetries {
			break
		}
		b.retries.Inc(ctx, labels...)
		b.logger.Warn("handler failed, retrying in-process",
			clog.String("event_type", sub.EventType),
			clog.String("event_id", event.ID),
			clog.Int("attempt", attempt),
			clog.Error(err))

		// 线性退避：第 n 次重试前等待 n 倍基础间隔
		select {
		case <-b.rootCtx.Done():
			b.nack(d)
			return
		case <-time.After(sub.RetryDelay * time.Duration(attempt)):
		}
	}

	b.logger.Error("retries exhausted, dead-lettering",
		clog.String("event_type", sub.EventType),
		clog.String("event_id", event.ID),
		clog.Error(err))
	if span != nil {
		span.SetError(err)
	}
	b.deadLettered.Inc(ctx, labels...)
	b.nack(d)
	b.duration.Record(ctx, time.Since(start).Seconds(), labels...)
}

// handle 执行一次处理尝试，请求应答订阅在成功后发回应答
func (b *eventBus) handle(ctx context.Context, sub Subscription, event *Event, d Delivery) error {
	if sub.Responder != nil && d.ReplyTo != "" {
		reply, err := sub.Responder(ctx, event)
		if err != nil {
			return err
		}
		if reply == nil {
			return nil
		}
		if reply.CorrelationID == "" {
			reply.CorrelationID = event.ID
		}
		body, headers, err := b.encode(ctx, reply)
		if err != nil {
			return err
		}
		return b.transport.Reply(ctx, d.ReplyTo, body, headers)
	}
	if sub.Handler != nil {
		return sub.Handler(ctx, event)
	}
	// 没有 ReplyTo 的消息落到只有 Responder 的订阅上，按普通事件处理
	_, err := sub.Responder(ctx, event)
	return err
}

// replayLoop 连接重建后重放已登记的订阅
func (b *eventBus) replayLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.rootCtx.Done():
			return
		case _, ok := <-b.transport.NotifyDown():
			if !ok {
				return
			}
			b.mu.Lock()
			subs := make([]Subscription, 0, len(b.subs))
			for _, sub := range b.subs {
				subs = append(subs, sub)
			}
			b.mu.Unlock()

			for _, sub := range subs {
				if err := b.consume(sub); err != nil {
					b.logger.Error("replay subscription failed",
						clog.String("event_type", sub.EventType),
						clog.String("queue", sub.Queue),
						clog.Error(err))
					continue
				}
				b.logger.Info("subscription replayed",
					clog.String("event_type", sub.EventType),
					clog.String("queue", sub.Queue))
			}
		}
	}
}

func (b *eventBus) checkClosed() error {
	select {
	case <-b.rootCtx.Done():
		return ErrClosed
	default:
		return nil
	}
}

func (b *eventBus) ack(d Delivery) {
	if d.Ack == nil {
		return
	}
	if err := d.Ack(); err != nil {
		b.logger.Warn("ack failed", clog.Error(err))
	}
}

func (b *eventBus) nack(d Delivery) {
	if d.Nack == nil {
		return
	}
	if err := d.Nack(); err != nil {
		b.logger.Warn("nack failed", clog.Error(err))
	}
}
