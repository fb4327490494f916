// =============================================================================
// 文件: internal/metrics/metrics.go
// 描述: 传输计数器 - 发送端与统计线程共享的传输状态
// =============================================================================
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// TransferCounters 传输计数器
//
// 单字段单调计数使用原子操作; 确认更新 (字节/goodput/序列号) 与
// RTT/偏差对在 mu 下成组修改, 统计线程的快照与 goodput 清零同样在 mu 下完成.
type TransferCounters struct {
	// 原子计数
	timeoutPackets  uint64
	fastRetxPackets uint64
	windowSize      uint32

	mu         sync.Mutex
	startTime  time.Time
	bytesAcked uint64
	goodput    uint64 // 当前统计区间内确认的负载字节
	senderBase uint32
	estRTTMs   float64
	devRTTMs   float64
	lossRate   float64
}

// Snapshot 计数器快照
type Snapshot struct {
	Elapsed         time.Duration
	BytesAcked      uint64
	Goodput         uint64
	SenderBase      uint32
	WindowSize      uint32
	TimeoutPackets  uint64
	FastRetxPackets uint64
	EstRTTMs        float64
	DevRTTMs        float64
	LossRate        float64
}

// NewTransferCounters 创建计数器
func NewTransferCounters() *TransferCounters {
	return &TransferCounters{startTime: time.Now()}
}

// =============================================================================
// 连接计时
// =============================================================================

// MarkStart 重置连接起始时间
func (c *TransferCounters) MarkStart() {
	c.mu.Lock()
	c.startTime = time.Now()
	c.mu.Unlock()
}

// StartTime 连接起始时间
func (c *TransferCounters) StartTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startTime
}

// Elapsed 自连接起始的时间
func (c *TransferCounters) Elapsed() time.Duration {
	return time.Since(c.StartTime())
}

// =============================================================================
// 原子计数
// =============================================================================

// SetWindowSize 设置发送窗口
func (c *TransferCounters) SetWindowSize(w uint32) {
	atomic.StoreUint32(&c.windowSize, w)
}

// WindowSize 发送窗口
func (c *TransferCounters) WindowSize() uint32 {
	return atomic.LoadUint32(&c.windowSize)
}

// IncTimeouts 超时次数 +1
func (c *TransferCounters) IncTimeouts() {
	atomic.AddUint64(&c.timeoutPackets, 1)
}

// Timeouts 超时次数
func (c *TransferCounters) Timeouts() uint64 {
	return atomic.LoadUint64(&c.timeoutPackets)
}

// IncFastRetransmits 快速重传次数 +1
func (c *TransferCounters) IncFastRetransmits() {
	atomic.AddUint64(&c.fastRetxPackets, 1)
}

// FastRetransmits 快速重传次数
func (c *TransferCounters) FastRetransmits() uint64 {
	return atomic.LoadUint64(&c.fastRetxPackets)
}

// =============================================================================
// 成组更新
// =============================================================================

// RecordAck 记录一个数据单元被确认, 返回新的发送基序号
func (c *TransferCounters) RecordAck(payloadBytes int) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if payloadBytes > 0 {
		c.bytesAcked += uint64(payloadBytes)
		c.goodput += uint64(payloadBytes)
	}
	c.senderBase++
	return c.senderBase
}

// SenderBase 当前发送基序号
func (c *TransferCounters) SenderBase() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.senderBase
}

// BytesAcked 累计确认字节
func (c *TransferCounters) BytesAcked() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesAcked
}

// SetRTT 同时更新 RTT 估算与偏差
func (c *TransferCounters) SetRTT(estMs, devMs float64) {
	c.mu.Lock()
	c.estRTTMs = estMs
	c.devRTTMs = devMs
	c.mu.Unlock()
}

// RTT 返回 RTT 估算与偏差 (ms)
func (c *TransferCounters) RTT() (estMs, devMs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estRTTMs, c.devRTTMs
}

// SetLossRate 更新观测丢包率
func (c *TransferCounters) SetLossRate(rate float64) {
	c.mu.Lock()
	c.lossRate = rate
	c.mu.Unlock()
}

// Snapshot 获取快照
func (c *TransferCounters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SnapshotAndResetGoodput 获取快照并清零区间 goodput
func (c *TransferCounters) SnapshotAndResetGoodput() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snapshotLocked()
	c.goodput = 0
	return s
}

func (c *TransferCounters) snapshotLocked() Snapshot {
	return Snapshot{
		Elapsed:         time.Since(c.startTime),
		BytesAcked:      c.bytesAcked,
		Goodput:         c.goodput,
		SenderBase:      c.senderBase,
		WindowSize:      c.WindowSize(),
		TimeoutPackets:  c.Timeouts(),
		FastRetxPackets: c.FastRetransmits(),
		EstRTTMs:        c.estRTTMs,
		DevRTTMs:        c.devRTTMs,
		LossRate:        c.lossRate,
	}
}

// GetStats 获取所有统计信息
func (c *TransferCounters) GetStats() map[string]interface{} {
	s := c.Snapshot()
	return map[string]interface{}{
		"elapsed":          s.Elapsed.String(),
		"bytes_acked":      s.BytesAcked,
		"sender_base":      s.SenderBase,
		"window_size":      s.WindowSize,
		"timeout_packets":  s.TimeoutPackets,
		"fast_retx":        s.FastRetxPackets,
		"est_rtt_ms":       s.EstRTTMs,
		"dev_rtt_ms":       s.DevRTTMs,
		"loss_rate":        s.LossRate,
		"interval_goodput": s.Goodput,
	}
}
