// Package bus 提供跨服务的事件总线。
//
// Bus 在一个持久化的主题交换之上实现发布订阅、竞争消费、
// 请求应答和死信三种投递语义的组合：
//   - 发布订阅：不同队列订阅同一事件类型，各自收到一份
//   - 竞争消费：同一队列的多个订阅者分摊消息
//   - 死信：处理失败重试耗尽后，消息进入死信队列等待人工处理
//
// 处理失败在进程内按线性退避重试（RetryDelay × 尝试次数），
// 重试期间不经过 Broker 重投；耗尽后 nack 且不重新入队，
// 由死信交换接管。投递语义是至少一次，处理函数应当幂等。
//
// 快速开始：
//
//	conn, _ := connector.NewAMQP(amqpCfg)
//	eventBus, _ := bus.NewAMQP(conn, &bus.Config{}, bus.WithLogger(logger))
//
//	evt, _ := bus.NewEvent("visitor.checked_in", "access-service", payload)
//	_ = eventBus.Publish(ctx, evt)
//
//	_ = eventBus.Subscribe(ctx, bus.Subscription{
//	    EventType: "visitor.checked_in",
//	    Queue:     "notify-service.checkins",
//	    Handler:   onCheckIn,
//	})
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/fabric/xerrors"
)

// 消息头键名，跨传输实现统一
const (
	HeaderEventID       = "x-event-id"
	HeaderEventType     = "x-event-type"
	HeaderSource        = "x-source"
	HeaderCorrelationID = "x-correlation-id"
	HeaderReplyTo       = "x-reply-to"
)

// Event 总线上流转的事件
//
// Payload 保持原始 JSON，由订阅方按事件类型自行反序列化。
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewEvent 创建事件，自动填充 ID 和时间戳
// payload 按 JSON 序列化
func NewEvent(eventType, source string, payload any) (*Event, error) {
	if eventType == "" {
		return nil, ErrEventTypeEmpty
	}
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, xerrors.Wrap(err, "encode event payload")
		}
		raw = encoded
	}
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Payload:   raw,
	}, nil
}

// Handler 事件处理函数
// 返回 nil 表示处理成功并确认；返回错误触发进程内重试
type Handler func(ctx context.Context, event *Event) error

// Responder 请求应答处理函数
// 返回的事件作为应答发回请求方
type Responder func(ctx context.Context, event *Event) (*Event, error)

// Subscription 一个订阅的完整描述
//
// 同一 Queue 的多个订阅者竞争消费；不同 Queue 订阅同一
// EventType 时各自收到一份（扇出）。
type Subscription struct {
	// EventType 订阅的事件类型，作为路由键，支持主题通配
	EventType string

	// Queue 队列名，建议 "<服务名>.<用途>" 形式
	Queue string

	// Handler 事件处理函数，与 Responder 二选一
	Handler Handler

	// Responder 请求应答处理函数，处理 Request 发来的事件
	Responder Responder

	// MaxRetries 处理失败后的最大进程内重试次数
	// 0 表示使用默认值 3，负值表示不重试，首次失败即进入死信
	MaxRetries int

	// RetryDelay 线性退避的基础间隔，第 n 次重试前等待 n×RetryDelay，默认 1s
	RetryDelay time.Duration
}

// Bus 事件总线接口
type Bus interface {
	// Publish 发布事件，传输层确认后返回
	Publish(ctx context.Context, event *Event, opts ...PublishOption) error

	// Subscribe 注册订阅并开始消费
	// 连接断开重建后订阅自动恢复
	Subscribe(ctx context.Context, sub Subscription) error

	// Unsubscribe 停止指定事件类型的订阅
	Unsubscribe(eventType string) error

	// Request 发布事件并等待应答
	// 超时返回 ErrRequestTimeout
	Request(ctx context.Context, event *Event, timeout time.Duration) (*Event, error)

	// Close 停止全部订阅并释放传输层资源
	Close() error
}
