package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/ceyewan/fabric/breaker"
	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/discovery"
	"github.com/ceyewan/fabric/identity"
	"github.com/ceyewan/fabric/metrics"
	"github.com/ceyewan/fabric/trace"
	"github.com/ceyewan/fabric/xerrors"
)

// serviceClient Client 的默认实现
type serviceClient struct {
	cfg        Config
	disc       discovery.Discovery
	cb         breaker.Breaker
	identity   identity.Provider
	tracer     trace.Tracer
	httpClient *http.Client
	logger     clog.Logger
	retryable  map[int]bool

	requests    metrics.Counter
	attempts    metrics.Counter
	retries     metrics.Counter
	resolveFail metrics.Counter
	duration    metrics.Histogram
}

// New 创建服务客户端
//
// disc 是必需的，熔断、身份和追踪按需通过选项注入。
func New(disc discovery.Discovery, cfg *Config, opts ...Option) (Client, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if disc == nil {
		return nil, ErrDiscoveryNil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.httpClient == nil {
		// 超时由每次尝试的 context 控制，客户端本身不设全局超时
		o.httpClient = &http.Client{}
	}

	retryable := make(map[int]bool, len(cfg.RetryableStatuses))
	for _, code := range cfg.RetryableStatuses {
		retryable[code] = true
	}

	c := &serviceClient{
		cfg:        *cfg,
		disc:       disc,
		cb:         o.breaker,
		identity:   o.identity,
		tracer:     o.tracer,
		httpClient: o.httpClient,
		logger:     o.logger,
		retryable:  retryable,
	}
	c.requests, _ = o.meter.Counter(MetricRequestsTotal, "出站请求总数")
	c.attempts, _ = o.meter.Counter(MetricAttemptsTotal, "出站请求尝试总数")
	c.retries, _ = o.meter.Counter(MetricRetriesTotal, "重试次数")
	c.resolveFail, _ = o.meter.Counter(MetricResolutionFailures, "服务解析失败次数")
	c.duration, _ = o.meter.Histogram(MetricRequestDuration, "请求耗时", metrics.WithUnit("s"))
	return c, nil
}

func (c *serviceClient) Get(ctx context.Context, service, path string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, service, http.MethodGet, path, opts...)
}

func (c *serviceClient) Post(ctx context.Context, service, path string, body any, opts ...RequestOption) (*Response, error) {
	opts = append(opts, WithBody(body))
	return c.Request(ctx, service, http.MethodPost, path, opts...)
}

func (c *serviceClient) Request(ctx context.Context, service, method, path string, opts ...RequestOption) (*Response, error) {
	if service == "" {
		return nil, ErrServiceEmpty
	}

	ro := &requestOptions{}
	for _, opt := range opts {
		opt(ro)
	}
	if ro.correlationID == "" {
		ro.correlationID = uuid.NewString()
	}
	if ro.timeout <= 0 {
		ro.timeout = c.cfg.Timeout
	}

	var body []byte
	if ro.body != nil {
		encoded, err := json.Marshal(ro.body)
		if err != nil {
			return nil, xerrors.Wrapf(ErrBodyEncode, "%v", err)
		}
		body = encoded
	}

	start := time.Now()
	resp, err := backoff.RetryNotifyWithData(
		func() (*Response, error) { return c.attempt(ctx, service, method, path, body, ro) },
		c.newBackOff(ctx, ro),
		func(err error, delay time.Duration) {
			c.retries.Inc(ctx, metrics.L(LabelService, service))
			c.logger.Warn("request failed, retrying",
				clog.String("service", service),
				clog.String("method", method),
				clog.String("path", path),
				clog.Duration("delay", delay),
				clog.Error(err))
		},
	)

	result := "success"
	if err != nil {
		result = "failure"
	}
	labels := []metrics.Label{
		metrics.L(LabelService, service),
		metrics.L(LabelMethod, method),
		metrics.L(LabelResult, result),
	}
	c.requests.Inc(ctx, labels...)
	c.duration.Record(ctx, time.Since(start).Seconds(), labels...)
	return resp, err
}

// attempt 执行一次完整的尝试：解析、熔断、HTTP 往返、状态分类
//
// 返回 backoff.Permanent 包裹的错误表示不应重试：
// 解析失败是配置或部署问题，熔断打开是后端保护，
// 非约定状态码是业务语义错误，重试都不会改变结果。
func (c *serviceClient) attempt(ctx context.Context, service, method, path string, body []byte, ro *requestOptions) (*Response, error) {
	c.attempts.Inc(ctx, metrics.L(LabelService, service), metrics.L(LabelMethod, method))

	var dopts []discovery.DiscoverOption
	if ro.version != "" {
		dopts = append(dopts, discovery.WithVersion(ro.version))
	}
	baseURL, err := c.disc.ServiceURL(ctx, service, dopts...)
	if err != nil {
		c.resolveFail.Inc(ctx, metrics.L(LabelService, service))
		return nil, backoff.Permanent(err)
	}

	do := func(ctx context.Context) (any, error) {
		resp, err := c.roundTrip(ctx, method, baseURL+path, body, ro)
		if err != nil {
			return nil, err
		}
		if c.retryable[resp.StatusCode] {
			// 可重试状态计入熔断失败
			return nil, &StatusError{Service: service, StatusCode: resp.StatusCode, Body: resp.Body, retryable: true}
		}
		return resp, nil
	}

	var result any
	if c.cb != nil && !ro.skipBreaker {
		result, err = c.cb.Execute(ctx, service, do)
	} else {
		result, err = do(ctx)
	}

	if err != nil {
		if breaker.IsOpen(err) {
			return nil, backoff.Permanent(err)
		}
		if ro.skipRetry {
			return nil, backoff.Permanent(err)
		}
		// 可重试状态错误和传输层错误都交给退避重试
		return nil, err
	}

	resp := result.(*Response)
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, backoff.Permanent(&StatusError{Service: service, StatusCode: resp.StatusCode, Body: resp.Body})
	}
	return resp, nil
}

// roundTrip 执行一次 HTTP 往返，注入身份头和追踪头
func (c *serviceClient) roundTrip(ctx context.Context, method, rawURL string, body []byte, ro *requestOptions) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, ro.timeout)
	defer cancel()

	if len(ro.query) > 0 {
		rawURL += "?" + ro.query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, xerrors.Wrap(err, "build request")
	}

	for key, values := range ro.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.identity != nil {
		if err := c.identity.ApplyHeaders(ctx, req.Header, ro.correlationID); err != nil {
			return nil, err
		}
	} else {
		req.Header.Set(identity.HeaderCorrelationID, ro.correlationID)
	}
	if c.tracer != nil {
		c.tracer.Inject(ctx, trace.HeaderCarrier(req.Header))
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(err, "do request")
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, xerrors.Wrap(err, "read response body")
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

// newBackOff 构造本次请求的重试策略
func (c *serviceClient) newBackOff(ctx context.Context, ro *requestOptions) backoff.BackOff {
	if ro.skipRetry {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.Multiplier = c.cfg.BackoffMultiplier
	b.MaxInterval = c.cfg.MaxBackoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)
}

func (c *serviceClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
