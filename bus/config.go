package bus

import "time"

// Config Bus 组件配置
type Config struct {
	// Exchange 主题交换名，默认 "fabric.events"
	Exchange string `mapstructure:"exchange" json:"exchange" yaml:"exchange"`

	// DeadLetterExchange 死信交换名，默认 "fabric.events.dlx"
	DeadLetterExchange string `mapstructure:"dead_letter_exchange" json:"dead_letter_exchange" yaml:"dead_letter_exchange"`

	// DeadLetterQueue 死信队列名，默认 "fabric.events.dlq"
	DeadLetterQueue string `mapstructure:"dead_letter_queue" json:"dead_letter_queue" yaml:"dead_letter_queue"`

	// Prefetch 单个消费者的最大在途消息数，默认 10
	Prefetch int `mapstructure:"prefetch" json:"prefetch" yaml:"prefetch"`

	// StreamName JetStream 流名，默认 "FABRIC_EVENTS"（仅 JetStream 传输）
	StreamName string `mapstructure:"stream_name" json:"stream_name" yaml:"stream_name"`

	// SubjectPrefix JetStream 主题前缀，默认 "fabric.events"（仅 JetStream 传输）
	SubjectPrefix string `mapstructure:"subject_prefix" json:"subject_prefix" yaml:"subject_prefix"`

	// ReconnectWait 连接断开后重建传输层的间隔，默认 2s
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" json:"reconnect_wait" yaml:"reconnect_wait"`
}

func (c *Config) setDefaults() {
	if c.Exchange == "" {
		c.Exchange = "fabric.events"
	}
	if c.DeadLetterExchange == "" {
		c.DeadLetterExchange = "fabric.events.dlx"
	}
	if c.DeadLetterQueue == "" {
		c.DeadLetterQueue = "fabric.events.dlq"
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 10
	}
	if c.StreamName == "" {
		c.StreamName = "FABRIC_EVENTS"
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "fabric.events"
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
}
