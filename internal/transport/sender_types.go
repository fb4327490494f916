// =============================================================================
// 文件: internal/transport/sender_types.go
// 描述: RDP 发送端 - 类型与默认参数
// =============================================================================
package transport

import (
	"io"
	"os"
	"time"

	"github.com/mrcgq/rdp/internal/congestion"
	"github.com/mrcgq/rdp/internal/metrics"
	"github.com/mrcgq/rdp/internal/protocol"
)

// 发送端常量
const (
	DefaultMaxSynAttempts    = 3
	DefaultMaxDataAttempts   = 5
	DefaultFastRetxThreshold = 3

	// recvSafetyMargin 剩余等待不足此值时直接视为超时
	recvSafetyMargin = time.Millisecond

	// maxUDPPayload IPv4 UDP 单包上限
	maxUDPPayload = 65507

	// MaxUnitPayload 单个数据单元能放入一个 UDP 包的最大负载
	MaxUnitPayload = maxUDPPayload - protocol.SenderDataHeaderSize
)

// SenderConfig 发送端配置
type SenderConfig struct {
	MaxSynAttempts    int
	MaxDataAttempts   int
	FastRetxThreshold int

	// InitialRTOFloor 握手前 RTO 下限: RTO = max(floor, 2*RTT)
	InitialRTOFloor time.Duration

	StatsInterval time.Duration

	// 0=ERROR 1=INFO 2=DEBUG
	LogLevel int
	Output   io.Writer
}

// DefaultSenderConfig 默认配置
func DefaultSenderConfig() *SenderConfig {
	return &SenderConfig{
		MaxSynAttempts:    DefaultMaxSynAttempts,
		MaxDataAttempts:   DefaultMaxDataAttempts,
		FastRetxThreshold: DefaultFastRetxThreshold,
		InitialRTOFloor:   congestion.DefaultInitialRTOFloor,
		StatsInterval:     metrics.DefaultStatsInterval,
		LogLevel:          1,
		Output:            os.Stdout,
	}
}

// withDefaults 补全零值字段
func (c *SenderConfig) withDefaults() *SenderConfig {
	d := DefaultSenderConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.MaxSynAttempts <= 0 {
		out.MaxSynAttempts = d.MaxSynAttempts
	}
	if out.MaxDataAttempts <= 0 {
		out.MaxDataAttempts = d.MaxDataAttempts
	}
	if out.FastRetxThreshold <= 0 {
		out.FastRetxThreshold = d.FastRetxThreshold
	}
	if out.InitialRTOFloor <= 0 {
		out.InitialRTOFloor = d.InitialRTOFloor
	}
	if out.StatsInterval <= 0 {
		out.StatsInterval = d.StatsInterval
	}
	if out.Output == nil {
		out.Output = d.Output
	}
	return &out
}

// ackOutcome 一次等待确认的结果
type ackOutcome int

const (
	ackExpected ackOutcome = iota
	ackTimeout
	ackFastRetransmit
)

func (o ackOutcome) String() string {
	switch o {
	case ackExpected:
		return "ACK"
	case ackTimeout:
		return "TIMEOUT"
	case ackFastRetransmit:
		return "FAST_RTX"
	}
	return "UNKNOWN"
}
