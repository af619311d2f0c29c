package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/metrics"
	"github.com/ceyewan/fabric/xerrors"
)

// circuitBreaker 熔断器实现（非导出）
type circuitBreaker struct {
	cfg      *Config
	logger   clog.Logger
	meter    metrics.Meter
	fallback FallbackFunc

	// 键级熔断器管理
	breakers sync.Map // map[string]*gobreaker.CircuitBreaker[any]

	events chan StateChange
	stop   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// newBreaker 创建熔断器实例（内部函数）
func newBreaker(cfg *Config, opt options) (Breaker, error) {
	cb := &circuitBreaker{
		cfg:      cfg,
		logger:   opt.logger,
		meter:    opt.meter,
		fallback: opt.fallback,
		events:   make(chan StateChange, 16),
		stop:     make(chan struct{}),
	}

	cb.logger.Info("circuit breaker created",
		clog.Int("failure_threshold", int(cfg.FailureThreshold)),
		clog.Int("success_threshold", int(cfg.SuccessThreshold)),
		clog.Duration("reset_timeout", cfg.ResetTimeout),
		clog.Duration("operation_timeout", cfg.OperationTimeout))

	// gobreaker 的状态转移是惰性的，只在下一次调用时发生。
	// 巡检保证打开状态在无流量时也能按时转入半开并发出事件。
	go cb.probeLoop()

	return cb, nil
}

// Execute 执行受熔断保护的函数
func (cb *circuitBreaker) Execute(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}

	breaker := cb.getOrCreateBreaker(key)

	start := time.Now()
	result, err := breaker.Execute(func() (any, error) {
		return cb.runWithTimeout(ctx, fn)
	})
	duration := time.Since(start)

	cb.recordMetrics(ctx, key, err, duration)

	if err != nil && (xerrors.Is(err, gobreaker.ErrOpenState) || xerrors.Is(err, gobreaker.ErrTooManyRequests)) {
		cb.logger.Warn("request rejected by circuit breaker",
			clog.String("key", key),
			clog.Error(err))

		if cb.fallback != nil {
			if fallbackErr := cb.fallback(ctx, key, err); fallbackErr != nil {
				return nil, fallbackErr
			}
			return nil, nil
		}

		if xerrors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrTooManyRequests
		}
		return nil, ErrOpenState
	}

	return result, err
}

// runWithTimeout 带操作超时执行 fn，超时计为失败
func (cb *circuitBreaker) runWithTimeout(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	opCtx, cancel := context.WithTimeout(ctx, cb.cfg.OperationTimeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := fn(opCtx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-opCtx.Done():
		if xerrors.Is(opCtx.Err(), context.DeadlineExceeded) {
			return nil, xerrors.Wrapf(xerrors.ErrTimeout, "operation exceeded %s", cb.cfg.OperationTimeout)
		}
		return nil, opCtx.Err()
	}
}

// State 获取指定键的熔断器状态
func (cb *circuitBreaker) State(key string) State {
	val, ok := cb.breakers.Load(key)
	if !ok {
		return StateClosed
	}
	return fromGobreakerState(val.(*gobreaker.CircuitBreaker[any]).State())
}

// Events 返回状态变更事件流
func (cb *circuitBreaker) Events() <-chan StateChange {
	return cb.events
}

// Close 停止后台巡检并关闭事件流
func (cb *circuitBreaker) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return nil
	}
	cb.closed = true
	close(cb.stop)
	close(cb.events)
	return nil
}

// probeLoop 定期读取所有熔断器状态，驱动惰性状态转移
func (cb *circuitBreaker) probeLoop() {
	ticker := time.NewTicker(cb.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cb.stop:
			return
		case <-ticker.C:
			cb.breakers.Range(func(_, val any) bool {
				// State() 内部会在超时后执行 OPEN -> HALF_OPEN 转移并触发回调
				val.(*gobreaker.CircuitBreaker[any]).State()
				return true
			})
		}
	}
}

// getOrCreateBreaker 获取或创建键级熔断器
func (cb *circuitBreaker) getOrCreateBreaker(key string) *gobreaker.CircuitBreaker[any] {
	val, ok := cb.breakers.Load(key)
	if ok {
		return val.(*gobreaker.CircuitBreaker[any])
	}

	settings := gobreaker.Settings{
		Name:        key,
		MaxRequests: cb.cfg.SuccessThreshold,
		Timeout:     cb.cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cb.cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			cb.onStateChange(name, from, to)
		},
	}

	breaker := gobreaker.NewCircuitBreaker[any](settings)

	// 并发创建时以先存入的为准
	actual, _ := cb.breakers.LoadOrStore(key, breaker)
	return actual.(*gobreaker.CircuitBreaker[any])
}

// onStateChange 状态变更回调
func (cb *circuitBreaker) onStateChange(key string, from gobreaker.State, to gobreaker.State) {
	fromState := fromGobreakerState(from)
	toState := fromGobreakerState(to)

	cb.logger.Info("circuit breaker state changed",
		clog.String("key", key),
		clog.String("from", fromState.String()),
		clog.String("to", toState.String()))

	if counter, err := cb.meter.Counter(MetricStateChanges, "Circuit breaker state changes"); err == nil {
		counter.Inc(context.Background(),
			metrics.L(LabelKey, key),
			metrics.L(LabelFromState, fromState.String()),
			metrics.L(LabelToState, toState.String()))
	}

	cb.emit(StateChange{
		Key:  key,
		From: fromState,
		To:   toState,
		At:   time.Now(),
	})
}

// emit 非阻塞发送状态变更事件，消费不及时的事件会被丢弃
func (cb *circuitBreaker) emit(ev StateChange) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.closed {
		return
	}
	select {
	case cb.events <- ev:
	default:
	}
}

// recordMetrics 记录请求指标
func (cb *circuitBreaker) recordMetrics(ctx context.Context, key string, err error, duration time.Duration) {
	if counter, e := cb.meter.Counter(MetricRequestsTotal, "Total requests"); e == nil {
		counter.Inc(ctx, metrics.L(LabelKey, key))
	}
	if histogram, e := cb.meter.Histogram(MetricRequestDuration, "Request duration", metrics.WithUnit("s")); e == nil {
		histogram.Record(ctx, duration.Seconds(), metrics.L(LabelKey, key))
	}

	switch {
	case err == nil:
		if counter, e := cb.meter.Counter(MetricSuccessTotal, "Successful requests"); e == nil {
			counter.Inc(ctx, metrics.L(LabelKey, key))
		}
	case xerrors.Is(err, gobreaker.ErrOpenState) || xerrors.Is(err, gobreaker.ErrTooManyRequests):
		if counter, e := cb.meter.Counter(MetricRejectsTotal, "Rejected requests"); e == nil {
			counter.Inc(ctx, metrics.L(LabelKey, key))
		}
	case xerrors.Is(err, xerrors.ErrTimeout):
		if counter, e := cb.meter.Counter(MetricTimeoutsTotal, "Timed out requests"); e == nil {
			counter.Inc(ctx, metrics.L(LabelKey, key))
		}
		if counter, e := cb.meter.Counter(MetricFailuresTotal, "Failed requests"); e == nil {
			counter.Inc(ctx, metrics.L(LabelKey, key))
		}
	default:
		if counter, e := cb.meter.Counter(MetricFailuresTotal, "Failed requests"); e == nil {
			counter.Inc(ctx, metrics.L(LabelKey, key))
		}
	}
}

// fromGobreakerState 将 gobreaker.State 转换为包内状态
func fromGobreakerState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
