package cache

import "time"

// Config Call 缓存配置
type Config struct {
	// Capacity 缓存容量上限，默认 10000
	Capacity int `mapstructure:"capacity" json:"capacity" yaml:"capacity"`

	// TTL 缓存条目的存活时间，默认 1 分钟
	// 从写入开始计算，读取不续期
	TTL time.Duration `mapstructure:"ttl" json:"ttl" yaml:"ttl"`
}

func (c *Config) setDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 10000
	}
	if c.TTL <= 0 {
		c.TTL = time.Minute
	}
}
