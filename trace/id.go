package trace

import (
	crand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"math/rand"
	"sync"
)

// ID 生成与 OTLP 兼容：TraceID 16 字节，SpanID 8 字节，十六进制编码。
// 使用加密随机数播种的本地随机源，避免每次生成都进入内核。

var (
	idMu  sync.Mutex
	idRnd = rand.New(rand.NewSource(cryptoSeed()))
)

func cryptoSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 1
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

// NewTraceID 生成一个 32 位十六进制 TraceID
func NewTraceID() string {
	var b [16]byte
	idMu.Lock()
	idRnd.Read(b[:])
	idMu.Unlock()
	if allZero(b[:]) {
		b[0] = 1
	}
	return hex.EncodeToString(b[:])
}

// NewSpanID 生成一个 16 位十六进制 SpanID
func NewSpanID() string {
	var b [8]byte
	idMu.Lock()
	idRnd.Read(b[:])
	idMu.Unlock()
	if allZero(b[:]) {
		b[0] = 1
	}
	return hex.EncodeToString(b[:])
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
