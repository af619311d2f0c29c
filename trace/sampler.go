package trace

import (
	"encoding/binary"
	"encoding/hex"
)

// Sampler 根 Span 的采样决策接口
// 子 Span 继承根的采样决策，不再单独判断
type Sampler interface {
	// ShouldSample 根据 TraceID 决定是否采样
	ShouldSample(traceID string) bool
}

// AlwaysSample 采样所有链路
func AlwaysSample() Sampler { return alwaysSampler{} }

type alwaysSampler struct{}

func (alwaysSampler) ShouldSample(string) bool { return true }

// NeverSample 不采样任何链路
func NeverSample() Sampler { return neverSampler{} }

type neverSampler struct{}

func (neverSampler) ShouldSample(string) bool { return false }

// RatioSampler 按比例采样，决策由 TraceID 决定
// 同一 TraceID 在所有服务上得到一致的采样结果
func RatioSampler(ratio float64) Sampler {
	if ratio >= 1 {
		return alwaysSampler{}
	}
	if ratio <= 0 {
		return neverSampler{}
	}
	return ratioSampler{threshold: uint64(ratio * float64(^uint64(0)>>1))}
}

type ratioSampler struct {
	threshold uint64
}

func (s ratioSampler) ShouldSample(traceID string) bool {
	raw, err := hex.DecodeString(traceID)
	if err != nil || len(raw) < 8 {
		return false
	}
	// 取 TraceID 低 8 字节作为决策值
	value := binary.BigEndian.Uint64(raw[len(raw)-8:]) >> 1
	return value < s.threshold
}
