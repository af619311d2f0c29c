package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/fabric/trace"
	"github.com/ceyewan/fabric/xerrors"
)

func newTestBus(t *testing.T, opts ...Option) (Bus, *MemoryTransport) {
	t.Helper()
	transport := NewMemoryTransport()
	b, err := New(transport, &Config{}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, transport
}

// fastSub 重试间隔压缩到毫秒级的订阅
func fastSub(eventType, queue string, handler Handler) Subscription {
	return Subscription{
		EventType:  eventType,
		Queue:      queue,
		Handler:    handler,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}
}

// TestNewEvent 测试事件构造
func TestNewEvent(t *testing.T) {
	evt, err := NewEvent("visitor.checked_in", "access-service", map[string]string{"badge": "V-1001"})
	require.NoError(t, err)
	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, "visitor.checked_in", evt.Type)
	assert.Equal(t, "access-service", evt.Source)
	assert.False(t, evt.Timestamp.IsZero())
	assert.JSONEq(t, `{"badge":"V-1001"}`, string(evt.Payload))

	_, err = NewEvent("", "access-service", nil)
	assert.ErrorIs(t, err, ErrEventTypeEmpty)
}

// TestPublishValidation 测试发布参数校验
func TestPublishValidation(t *testing.T) {
	b, _ := newTestBus(t)
	assert.ErrorIs(t, b.Publish(context.Background(), nil), ErrEventNil)
	assert.ErrorIs(t, b.Publish(context.Background(), &Event{}), ErrEventTypeEmpty)
}

// TestSubscribeValidation 测试订阅参数校验
func TestSubscribeValidation(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	err := b.Subscribe(ctx, Subscription{Queue: "q", Handler: func(context.Context, *Event) error { return nil }})
	assert.ErrorIs(t, err, ErrEventTypeEmpty)

	err = b.Subscribe(ctx, Subscription{EventType: "e", Handler: func(context.Context, *Event) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueEmpty)

	err = b.Subscribe(ctx, Subscription{EventType: "e", Queue: "q"})
	assert.ErrorIs(t, err, ErrHandlerNil)
}

// TestPublishSubscribe 测试基本的发布订阅
func TestPublishSubscribe(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	var received atomic.Int32
	var gotPayload atomic.Value
	err := b.Subscribe(ctx, fastSub("visitor.checked_in", "notify.checkins", func(ctx context.Context, evt *Event) error {
		gotPayload.Store(string(evt.Payload))
		received.Add(1)
		return nil
	}))
	require.NoError(t, err)

	evt, _ := NewEvent("visitor.checked_in", "access-service", map[string]string{"badge": "V-1"})
	require.NoError(t, b.Publish(ctx, evt))

	require.Eventually(t, func() bool { return received.Load() == 1 }, time.Second, time.Millisecond)
	assert.JSONEq(t, `{"badge":"V-1"}`, gotPayload.Load().(string))
}

// TestDuplicateSubscribe 测试重复订阅同一事件类型
func TestDuplicateSubscribe(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()
	handler := func(context.Context, *Event) error { return nil }

	require.NoError(t, b.Subscribe(ctx, fastSub("e.one", "q1", handler)))
	err := b.Subscribe(ctx, fastSub("e.one", "q2", handler))
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
}

// TestPoisonMessageDeadLettered 测试重试耗尽后消息进入死信队列
func TestPoisonMessageDeadLettered(t *testing.T) {
	b, transport := newTestBus(t)
	ctx := context.Background()

	var invocations atomic.Int32
	poison := xerrors.New("cannot process")
	require.NoError(t, b.Subscribe(ctx, fastSub("billing.failed", "billing.dlq-test", func(ctx context.Context, evt *Event) error {
		invocations.Add(1)
		return poison
	})))

	evt, _ := NewEvent("billing.failed", "billing-service", nil)
	require.NoError(t, b.Publish(ctx, evt))

	require.Eventually(t, func() bool { return len(transport.DeadLetters()) == 1 }, time.Second, time.Millisecond)
	// 首次投递 + 3 次进程内重试，恰好 4 次调用
	assert.Equal(t, int32(4), invocations.Load())
	// 死信恰好一份
	assert.Len(t, transport.DeadLetters(), 1)
}

// TestRetryDisabled 测试负值 MaxRetries 关闭重试，首次失败即死信
func TestRetryDisabled(t *testing.T) {
	b, transport := newTestBus(t)
	ctx := context.Background()

	var invocations atomic.Int32
	sub := fastSub("billing.failed", "billing.no-retry", func(ctx context.Context, evt *Event) error {
		invocations.Add(1)
		return xerrors.New("cannot process")
	})
	sub.MaxRetries = -1
	require.NoError(t, b.Subscribe(ctx, sub))

	evt, _ := NewEvent("billing.failed", "billing-service", nil)
	require.NoError(t, b.Publish(ctx, evt))

	require.Eventually(t, func() bool { return len(transport.DeadLetters()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), invocations.Load())
}

// TestTransientFailureRecovers 测试前两次失败第三次成功的消息被确认
func TestTransientFailureRecovers(t *testing.T) {
	b, transport := newTestBus(t)
	ctx := context.Background()

	var invocations atomic.Int32
	require.NoError(t, b.Subscribe(ctx, fastSub("billing.flaky", "billing.flaky-test", func(ctx context.Context, evt *Event) error {
		if invocations.Add(1) <= 2 {
			return xerrors.New("temporarily unavailable")
		}
		return nil
	})))

	evt, _ := NewEvent("billing.flaky", "billing-service", nil)
	require.NoError(t, b.Publish(ctx, evt))

	require.Eventually(t, func() bool { return invocations.Load() == 3 }, time.Second, time.Millisecond)
	// 成功后不再调用，也不进死信
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), invocations.Load())
	assert.Empty(t, transport.DeadLetters())
}

// TestFanOut 测试不同队列各自收到一份
func TestFanOut(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	var notify, audit atomic.Int32
	require.NoError(t, b.Subscribe(ctx, fastSub("visitor.checked_in", "notify.fanout", func(context.Context, *Event) error {
		notify.Add(1)
		return nil
	})))

	// 第二个队列通过共享传输层的另一个总线实例订阅（模拟另一个服务）
	transport := busTransport(b)
	b2, err := New(transport, &Config{})
	require.NoError(t, err)
	defer b2.Close()
	require.NoError(t, b2.Subscribe(ctx, fastSub("visitor.checked_in", "audit.fanout", func(context.Context, *Event) error {
		audit.Add(1)
		return nil
	})))

	evt, _ := NewEvent("visitor.checked_in", "access-service", nil)
	require.NoError(t, b.Publish(ctx, evt))

	require.Eventually(t, func() bool {
		return notify.Load() == 1 && audit.Load() == 1
	}, time.Second, time.Millisecond)
}

// TestCompetingConsumers 测试同一队列的消费者分摊消息
func TestCompetingConsumers(t *testing.T) {
	transport := NewMemoryTransport()
	ctx := context.Background()

	var first, second atomic.Int32
	b1, err := New(transport, &Config{})
	require.NoError(t, err)
	require.NoError(t, b1.Subscribe(ctx, fastSub("task.created", "workers.tasks", func(context.Context, *Event) error {
		first.Add(1)
		return nil
	})))

	b2, err := New(transport, &Config{})
	require.NoError(t, err)
	defer b2.Close()
	require.NoError(t, b2.Subscribe(ctx, fastSub("task.created", "workers.tasks", func(context.Context, *Event) error {
		second.Add(1)
		return nil
	})))
	defer b1.Close()

	const total = 10
	for i := 0; i < total; i++ {
		evt, _ := NewEvent("task.created", "scheduler", nil)
		require.NoError(t, b1.Publish(ctx, evt))
	}

	require.Eventually(t, func() bool {
		return first.Load()+second.Load() == total
	}, time.Second, time.Millisecond)
	// 轮询分摊，两边都有份
	assert.Positive(t, first.Load())
	assert.Positive(t, second.Load())
}

// TestRequestReply 测试请求应答
func TestRequestReply(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, b.Subscribe(ctx, Subscription{
		EventType:  "visitor.lookup",
		Queue:      "directory.lookups",
		RetryDelay: time.Millisecond,
		Responder: func(ctx context.Context, evt *Event) (*Event, error) {
			return NewEvent("visitor.lookup.result", "directory-service", map[string]string{"name": "Ada"})
		},
	}))

	req, _ := NewEvent("visitor.lookup", "reception-service", map[string]string{"badge": "V-1"})
	reply, err := b.Request(ctx, req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "visitor.lookup.result", reply.Type)
	assert.Equal(t, req.ID, reply.CorrelationID)
	assert.JSONEq(t, `{"name":"Ada"}`, string(reply.Payload))
}

// TestRequestTimeout 测试无人应答时请求超时
func TestRequestTimeout(t *testing.T) {
	b, _ := newTestBus(t)

	req, _ := NewEvent("nobody.home", "reception-service", nil)
	_, err := b.Request(context.Background(), req, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrRequestTimeout)
}

// TestUnsubscribe 测试退订后不再投递
func TestUnsubscribe(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	var received atomic.Int32
	require.NoError(t, b.Subscribe(ctx, fastSub("visitor.left", "notify.departures", func(context.Context, *Event) error {
		received.Add(1)
		return nil
	})))
	require.NoError(t, b.Unsubscribe("visitor.left"))

	evt, _ := NewEvent("visitor.left", "access-service", nil)
	require.NoError(t, b.Publish(ctx, evt))

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, received.Load())

	assert.ErrorIs(t, b.Unsubscribe("visitor.left"), ErrNotSubscribed)
}

// TestTopicWildcard 测试主题通配订阅
func TestTopicWildcard(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	var received atomic.Int32
	require.NoError(t, b.Subscribe(ctx, fastSub("visitor.*", "audit.visitors", func(context.Context, *Event) error {
		received.Add(1)
		return nil
	})))

	for _, eventType := range []string{"visitor.checked_in", "visitor.left"} {
		evt, _ := NewEvent(eventType, "access-service", nil)
		require.NoError(t, b.Publish(ctx, evt))
	}
	evt, _ := NewEvent("billing.created", "billing-service", nil)
	require.NoError(t, b.Publish(ctx, evt))

	require.Eventually(t, func() bool { return received.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), received.Load())
}

// TestReplayAfterReconnect 测试连接重建后订阅自动恢复
func TestReplayAfterReconnect(t *testing.T) {
	b, transport := newTestBus(t)
	ctx := context.Background()

	var received atomic.Int32
	require.NoError(t, b.Subscribe(ctx, fastSub("visitor.checked_in", "notify.replay", func(context.Context, *Event) error {
		received.Add(1)
		return nil
	})))

	transport.SimulateDisconnect()

	// 重放是异步的，轮询到订阅恢复为止
	require.Eventually(t, func() bool {
		evt, _ := NewEvent("visitor.checked_in", "access-service", nil)
		_ = b.Publish(ctx, evt)
		return received.Load() > 0
	}, time.Second, 10*time.Millisecond)
}

// TestTracePropagation 测试追踪上下文随消息传播
func TestTracePropagation(t *testing.T) {
	tracer, err := trace.New(&trace.Config{
		ServiceName: "bus-test",
		Exporter:    trace.ExporterNone,
	})
	require.NoError(t, err)
	defer tracer.Shutdown(context.Background())

	b, _ := newTestBus(t, WithTracer(tracer))

	ctx, span := tracer.StartSpan(context.Background(), "publish-side")
	defer span.End()

	var gotTraceID atomic.Value
	require.NoError(t, b.Subscribe(ctx, fastSub("visitor.checked_in", "notify.traced", func(ctx context.Context, evt *Event) error {
		if consumeSpan := trace.FromContext(ctx); consumeSpan != nil {
			gotTraceID.Store(consumeSpan.Context().TraceID)
		}
		return nil
	})))

	evt, _ := NewEvent("visitor.checked_in", "access-service", nil)
	require.NoError(t, b.Publish(ctx, evt))

	require.Eventually(t, func() bool { return gotTraceID.Load() != nil }, time.Second, time.Millisecond)
	assert.Equal(t, span.Context().TraceID, gotTraceID.Load().(string))
}

// TestClose 测试关闭后的行为
func TestClose(t *testing.T) {
	transport := NewMemoryTransport()
	b, err := New(transport, &Config{})
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	evt, _ := NewEvent("e.one", "s", nil)
	assert.ErrorIs(t, b.Publish(context.Background(), evt), ErrClosed)
	assert.ErrorIs(t, b.Subscribe(context.Background(), fastSub("e.one", "q", func(context.Context, *Event) error { return nil })), ErrClosed)
}

// busTransport 取出测试总线底下的共享传输层
func busTransport(b Bus) Transport {
	return b.(*eventBus).transport
}
