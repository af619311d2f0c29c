package trace

import (
	"context"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/metrics"
)

// tracerImpl Tracer 实现（非导出）
type tracerImpl struct {
	cfg      *Config
	sampler  Sampler
	exporter Exporter
	logger   clog.Logger
	meter    metrics.Meter

	queue chan SpanData
	stop  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// New 创建追踪器实例
func New(cfg *Config, opts ...Option) (Tracer, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := defaultOptions()
	for _, o := range opts {
		o(opt)
	}

	sampler := opt.sampler
	if sampler == nil {
		sampler = RatioSampler(cfg.SampleRate)
	}

	exporter := opt.exporter
	if exporter == nil {
		var err error
		switch cfg.Exporter {
		case ExporterLog:
			exporter = NewLogExporter(opt.logger)
		case ExporterOTLP:
			exporter, err = NewOTLPExporter(context.Background(), cfg.OTLPEndpoint)
			if err != nil {
				return nil, err
			}
		case ExporterNone:
			exporter = noopExporter{}
		}
	}

	t := &tracerImpl{
		cfg:      cfg,
		sampler:  sampler,
		exporter: exporter,
		logger:   opt.logger,
		meter:    opt.meter,
		queue:    make(chan SpanData, cfg.QueueSize),
		stop:     make(chan struct{}),
	}

	t.wg.Add(1)
	go t.exportLoop()

	return t, nil
}

// StartSpan 开启一个 Span
func (t *tracerImpl) StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	// 已有本地 Span 时创建子 Span
	if parent := FromContext(ctx); parent != nil {
		pc := parent.Context()
		span := t.newSpan(name, TraceContext{
			TraceID:      pc.TraceID,
			SpanID:       NewSpanID(),
			ParentSpanID: pc.SpanID,
			Flags:        pc.Flags,
			Baggage:      maps.Clone(pc.Baggage),
		})
		return ContextWithSpan(ctx, span), span
	}

	// 入站提取的远端上下文：继承远端的采样决策
	if remote, ok := remoteFromContext(ctx); ok && remote.Valid() {
		child := TraceContext{
			TraceID:      remote.TraceID,
			SpanID:       NewSpanID(),
			ParentSpanID: remote.SpanID,
			Flags:        remote.Flags,
			Baggage:      maps.Clone(remote.Baggage),
		}
		if !remote.Sampled() {
			// 未采样链路继续透传，但不记录 Span
			return contextWithRemote(ctx, child), nil
		}
		span := t.newSpan(name, child)
		return ContextWithSpan(ctx, span), span
	}

	// 根 Span：生成 TraceID 并做采样决策
	traceID := NewTraceID()
	tc := TraceContext{
		TraceID: traceID,
		SpanID:  NewSpanID(),
	}
	if !t.sampler.ShouldSample(traceID) {
		return contextWithRemote(ctx, tc), nil
	}
	tc.Flags = FlagSampled

	span := t.newSpan(name, tc)
	return ContextWithSpan(ctx, span), span
}

func (t *tracerImpl) newSpan(name string, tc TraceContext) *Span {
	return &Span{
		tracer:  t,
		context: tc,
		data: SpanData{
			TraceID:      tc.TraceID,
			SpanID:       tc.SpanID,
			ParentSpanID: tc.ParentSpanID,
			Name:         name,
			Service:      t.cfg.ServiceName,
			StartTime:    time.Now(),
		},
	}
}

// Inject 将当前追踪上下文写入载体
func (t *tracerImpl) Inject(ctx context.Context, carrier Carrier) {
	var tc TraceContext
	if span := FromContext(ctx); span != nil {
		tc = span.Context()
	} else if remote, ok := remoteFromContext(ctx); ok {
		tc = remote
	} else {
		return
	}
	if !tc.Valid() {
		return
	}

	carrier.Set(HeaderTraceID, tc.TraceID)
	carrier.Set(HeaderSpanID, tc.SpanID)
	if tc.ParentSpanID != "" {
		carrier.Set(HeaderParentSpanID, tc.ParentSpanID)
	}
	carrier.Set(HeaderFlags, strconv.Itoa(int(tc.Flags)))
	for key, value := range tc.Baggage {
		carrier.Set(BaggagePrefix+key, value)
	}
}

// Extract 从载体中读取追踪上下文
func (t *tracerImpl) Extract(carrier Carrier) TraceContext {
	tc := TraceContext{
		TraceID:      strings.ToLower(carrier.Get(HeaderTraceID)),
		SpanID:       strings.ToLower(carrier.Get(HeaderSpanID)),
		ParentSpanID: strings.ToLower(carrier.Get(HeaderParentSpanID)),
		Flags:        parseFlags(carrier.Get(HeaderFlags)),
	}
	if !tc.Valid() {
		return TraceContext{}
	}

	for _, key := range carrier.Keys() {
		if len(key) <= len(BaggagePrefix) || !strings.EqualFold(key[:len(BaggagePrefix)], BaggagePrefix) {
			continue
		}
		// 前缀匹配不区分大小写，键名本身保留原始大小写
		name := key[len(BaggagePrefix):]
		if tc.Baggage == nil {
			tc.Baggage = make(map[string]string)
		}
		tc.Baggage[name] = carrier.Get(key)
	}
	return tc
}

// ContextWithRemote 将入站提取的追踪上下文挂到 context 上
// 之后在该 context 上调用 StartSpan 会创建远端上下文的子 Span
func ContextWithRemote(ctx context.Context, tc TraceContext) context.Context {
	if !tc.Valid() {
		return ctx
	}
	return contextWithRemote(ctx, tc)
}

// Shutdown 冲刷未导出的 Span 并停止后台导出
func (t *tracerImpl) Shutdown(ctx context.Context) error {
	t.closeOnce.Do(func() {
		close(t.stop)
	})
	t.wg.Wait()
	return t.exporter.Shutdown(ctx)
}

// enqueue 非阻塞提交 Span，队列满时丢弃
func (t *tracerImpl) enqueue(data SpanData) {
	if counter, err := t.meter.Counter(MetricSpansEnded, "Spans ended"); err == nil {
		counter.Inc(context.Background())
	}

	select {
	case t.queue <- data:
	default:
		if counter, err := t.meter.Counter(MetricSpansDropped, "Spans dropped due to full queue"); err == nil {
			counter.Inc(context.Background())
		}
	}
}

// exportLoop 批量导出：批满或到达冲刷间隔时触发
func (t *tracerImpl) exportLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]SpanData, 0, t.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := t.exporter.Export(ctx, batch)
		cancel()

		if err != nil {
			t.logger.Warn("span export failed",
				clog.Int("count", len(batch)),
				clog.Error(err))
			if counter, e := t.meter.Counter(MetricExportFailures, "Span export failures"); e == nil {
				counter.Inc(context.Background())
			}
		} else if counter, e := t.meter.Counter(MetricSpansExported, "Spans exported"); e == nil {
			counter.Add(context.Background(), float64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-t.stop:
			// 排空队列后冲刷退出
			for {
				select {
				case data := <-t.queue:
					batch = append(batch, data)
					if len(batch) >= t.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case data := <-t.queue:
			batch = append(batch, data)
			if len(batch) >= t.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// parseFlags 解析十进制标志位，格式非法或越界时视为未采样
func parseFlags(s string) byte {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 255 {
		return 0
	}
	return byte(n)
}
