package client

import (
	"net/http"
	"time"

	"github.com/ceyewan/fabric/xerrors"
)

// Config Client 组件配置
type Config struct {
	// Timeout 单次请求的超时时间，覆盖整个重试序列之外的单个 HTTP 往返
	// 默认 10 秒
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`

	// MaxRetries 首次请求之外的最大重试次数
	// 默认 3 次，即一次请求最多发出 4 次尝试
	MaxRetries int `mapstructure:"max_retries" json:"max_retries" yaml:"max_retries"`

	// InitialBackoff 首次重试前的等待时间，默认 1 秒
	InitialBackoff time.Duration `mapstructure:"initial_backoff" json:"initial_backoff" yaml:"initial_backoff"`

	// BackoffMultiplier 退避倍率，默认 2.0
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" json:"backoff_multiplier" yaml:"backoff_multiplier"`

	// MaxBackoff 单次退避的上限，默认 10 秒
	MaxBackoff time.Duration `mapstructure:"max_backoff" json:"max_backoff" yaml:"max_backoff"`

	// RetryableStatuses 视为可重试的 HTTP 状态码
	// 默认 408、429、500、502、503、504；其余 4xx/5xx 立即失败
	RetryableStatuses []int `mapstructure:"retryable_statuses" json:"retryable_statuses" yaml:"retryable_statuses"`
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = 2.0
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if len(c.RetryableStatuses) == 0 {
		c.RetryableStatuses = []int{
			http.StatusRequestTimeout,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		}
	}
}

func (c *Config) validate() error {
	if c.MaxBackoff < c.InitialBackoff {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "max_backoff must not be less than initial_backoff")
	}
	return nil
}
