package bus

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryTransport 进程内传输层
//
// 复刻 Broker 的队列语义：绑定同一事件类型的多个队列扇出，
// 同一队列的多个消费者轮询竞争，nack 的消息进入死信列表。
// 没有持久化和重投，供单元测试和单进程开发使用。
type MemoryTransport struct {
	mu      sync.Mutex
	queues  map[string]*memQueue
	pending map[string]chan Delivery
	dead    []Delivery
	closed  bool
	wg      sync.WaitGroup

	down chan struct{}
}

type memQueue struct {
	binding   string
	consumers []DeliverFunc
	next      int
	inbox     chan Delivery
}

// NewMemoryTransport 创建进程内传输层
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		queues:  make(map[string]*memQueue),
		pending: make(map[string]chan Delivery),
		down:    make(chan struct{}, 1),
	}
}

func (t *MemoryTransport) Publish(ctx context.Context, eventType string, body []byte, headers map[string]string) error {
	return t.deliver(eventType, Delivery{Body: body, Headers: headers})
}

func (t *MemoryTransport) deliver(eventType string, d Delivery) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if d.Nack == nil {
		t.attachDeadLetter(&d)
	}
	if d.Ack == nil {
		d.Ack = func() error { return nil }
	}
	for _, q := range t.queues {
		if topicMatch(q.binding, eventType) {
			select {
			case q.inbox <- d:
			default:
				// 队列积压时丢到死信，测试里不应出现
				t.dead = append(t.dead, d)
			}
		}
	}
	return nil
}

func (t *MemoryTransport) attachDeadLetter(d *Delivery) {
	d.Nack = func() error {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.dead = append(t.dead, *d)
		return nil
	}
}

func (t *MemoryTransport) Consume(ctx context.Context, queue, eventType string, deliver DeliverFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	q, exists := t.queues[queue]
	if !exists {
		q = &memQueue{binding: eventType, inbox: make(chan Delivery, 128)}
		t.queues[queue] = q
		t.wg.Add(1)
		go t.queueLoop(q)
	}
	q.consumers = append(q.consumers, deliver)
	return nil
}

// queueLoop 单队列串行投递，消费者之间轮询
func (t *MemoryTransport) queueLoop(q *memQueue) {
	defer t.wg.Done()
	for d := range q.inbox {
		t.mu.Lock()
		if len(q.consumers) == 0 {
			t.mu.Unlock()
			continue
		}
		deliver := q.consumers[q.next%len(q.consumers)]
		q.next++
		t.mu.Unlock()
		deliver(d)
	}
}

func (t *MemoryTransport) CancelConsume(queue string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if q, exists := t.queues[queue]; exists {
		q.consumers = nil
	}
	return nil
}

func (t *MemoryTransport) Request(ctx context.Context, eventType string, body []byte, headers map[string]string, timeout time.Duration) (Delivery, error) {
	token := uuid.NewString()
	replyCh := make(chan Delivery, 1)
	t.mu.Lock()
	t.pending[token] = replyCh
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, token)
		t.mu.Unlock()
	}()

	if err := t.deliver(eventType, Delivery{Body: body, Headers: headers, ReplyTo: token}); err != nil {
		return Delivery{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	case <-timer.C:
		return Delivery{}, ErrRequestTimeout
	case reply := <-replyCh:
		return reply, nil
	}
}

func (t *MemoryTransport) Reply(ctx context.Context, replyTo string, body []byte, headers map[string]string) error {
	t.mu.Lock()
	replyCh, exists := t.pending[replyTo]
	t.mu.Unlock()
	if !exists {
		// 请求方已超时离开，应答丢弃
		return nil
	}
	select {
	case replyCh <- Delivery{Body: body, Headers: headers}:
	default:
	}
	return nil
}

func (t *MemoryTransport) NotifyDown() <-chan struct{} {
	return t.down
}

// SimulateDisconnect 模拟连接断开重建：清空消费者并触发重放通知
func (t *MemoryTransport) SimulateDisconnect() {
	t.mu.Lock()
	for _, q := range t.queues {
		q.consumers = nil
	}
	t.mu.Unlock()
	select {
	case t.down <- struct{}{}:
	default:
	}
}

// DeadLetters 返回死信列表的副本
func (t *MemoryTransport) DeadLetters() []Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Delivery(nil), t.dead...)
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for _, q := range t.queues {
		close(q.inbox)
	}
	t.mu.Unlock()
	t.wg.Wait()
	return nil
}

// topicMatch AMQP 风格的主题匹配："*" 匹配一段，"#" 匹配任意多段
func topicMatch(binding, topic string) bool {
	if binding == topic || binding == "#" {
		return true
	}
	bindParts := strings.Split(binding, ".")
	topicParts := strings.Split(topic, ".")
	return matchParts(bindParts, topicParts)
}

func matchParts(binding, topic []string) bool {
	for len(binding) > 0 {
		switch binding[0] {
		case "#":
			if len(binding) == 1 {
				return true
			}
			for i := 0; i <= len(topic); i++ {
				if matchParts(binding[1:], topic[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(topic) == 0 {
				return false
			}
		default:
			if len(topic) == 0 || binding[0] != topic[0] {
				return false
			}
		}
		binding = binding[1:]
		topic = topic[1:]
	}
	return len(topic) == 0
}
