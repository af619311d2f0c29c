package trace

import (
	"sync"
	"time"
)

// SpanData Span 结束后的不可变快照，交给导出器处理
type SpanData struct {
	TraceID      string            `json:"trace_id"`
	SpanID       string            `json:"span_id"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Name         string            `json:"name"`
	Service      string            `json:"service"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Events       []SpanEvent       `json:"events,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Duration 返回 Span 的持续时间
func (d *SpanData) Duration() time.Duration {
	return d.EndTime.Sub(d.StartTime)
}

// SpanEvent Span 内的时间点事件
type SpanEvent struct {
	Name string    `json:"name"`
	Time time.Time `json:"time"`
}

// Span 一次操作的追踪单元
//
// 未采样的链路上 Span 为 nil，所有方法都对 nil 接收者安全，
// 调用方无需做判空。
type Span struct {
	tracer  *tracerImpl
	context TraceContext

	mu    sync.Mutex
	data  SpanData
	ended bool
}

// Context 返回 Span 的追踪上下文
// nil Span 返回零值
func (s *Span) Context() TraceContext {
	if s == nil {
		return TraceContext{}
	}
	return s.context
}

// SetAttribute 设置属性，已结束的 Span 忽略写入
func (s *Span) SetAttribute(key, value string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if s.data.Attributes == nil {
		s.data.Attributes = make(map[string]string)
	}
	s.data.Attributes[key] = value
}

// SetBaggage 向 Span 的追踪上下文添加 Baggage
// Baggage 会随 Inject 传播到下游服务
func (s *Span) SetBaggage(key, value string) {
	if s == nil || key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if s.context.Baggage == nil {
		s.context.Baggage = make(map[string]string)
	}
	s.context.Baggage[key] = value
}

// AddEvent 记录一个时间点事件
func (s *Span) AddEvent(name string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.data.Events = append(s.data.Events, SpanEvent{Name: name, Time: time.Now()})
}

// SetError 标记 Span 出错
func (s *Span) SetError(err error) {
	if s == nil || err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.data.Error = err.Error()
}

// End 结束 Span 并提交导出
// End 是幂等的，重复调用只有第一次生效；提交是非阻塞的，
// 导出队列满时 Span 被丢弃而不是阻塞调用方。
func (s *Span) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.data.EndTime = time.Now()
	snapshot := s.data
	s.mu.Unlock()

	if s.tracer != nil {
		s.tracer.enqueue(snapshot)
	}
}
