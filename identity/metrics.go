package identity

// Metrics 指标常量定义
const (
	// MetricTokensMinted 签发的服务令牌数 (Counter)
	MetricTokensMinted = "identity_tokens_minted_total"

	// MetricTokensValidated 验证的服务令牌数 (Counter)
	MetricTokensValidated = "identity_tokens_validated_total"
)
