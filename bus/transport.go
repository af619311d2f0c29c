package bus

import (
	"context"
	"time"
)

// Delivery 传输层交给总线的一条消息
//
// Ack 和 Nack 最多调用其一；Nack 不触发 Broker 重投，
// 消息直接进入死信队列。
type Delivery struct {
	Body    []byte
	Headers map[string]string

	// ReplyTo 应答地址，请求应答消息携带，普通事件为空
	ReplyTo string

	Ack  func() error
	Nack func() error
}

// DeliverFunc 传输层的投递回调
type DeliverFunc func(d Delivery)

// Transport 底层消息传输接口
//
// Bus 负责编解码、重试和订阅登记；Transport 只关心
// 字节在 Broker 上怎么流动。投递回调在传输层自己的
// goroutine 中执行，实现方保证单队列内串行投递。
type Transport interface {
	// Publish 发布消息，路由键为事件类型，Broker 确认后返回
	Publish(ctx context.Context, eventType string, body []byte, headers map[string]string) error

	// Consume 声明队列、绑定事件类型并开始消费
	Consume(ctx context.Context, queue, eventType string, deliver DeliverFunc) error

	// CancelConsume 停止队列消费，队列本身保留
	CancelConsume(queue string) error

	// Request 发布消息并等待应答，超时返回 ErrRequestTimeout
	Request(ctx context.Context, eventType string, body []byte, headers map[string]string, timeout time.Duration) (Delivery, error)

	// Reply 向应答地址发送应答
	Reply(ctx context.Context, replyTo string, body []byte, headers map[string]string) error

	// NotifyDown 连接断开并重建完成后收到一次通知
	// 总线据此重放已登记的订阅
	NotifyDown() <-chan struct{}

	// Close 释放传输层资源，底层连接由 Connector 管理
	Close() error
}
