// =============================================================================
// 文件: internal/congestion/rtt.go
// 描述: RTT 测量与 RTO 估算 (Jacobson/Karels)
// =============================================================================
package congestion

import (
	"math"
	"sync"
	"time"
)

const (
	// RTT 常量
	rttAlpha = 0.125 // SRTT 平滑因子 (1/8)
	rttBeta  = 0.25  // RTT 偏差因子 (1/4)

	// rtoDevFloorMs 偏差下限, 防止 RTO 贴近 SRTT
	rtoDevFloorMs = 10

	// DefaultInitialRTOFloor 握手前 RTO 的下限
	DefaultInitialRTOFloor = time.Second
)

// RTTEstimator RTT 估算器
type RTTEstimator struct {
	smoothedMs  float64 // 平滑 RTT (ms)
	deviationMs float64 // RTT 偏差 (ms)
	rto         time.Duration

	latestRTT time.Duration
	minRTT    time.Duration
	maxRTT    time.Duration

	totalSamples uint64
	initialized  bool

	initialFloor time.Duration

	mu sync.RWMutex
}

// NewRTTEstimator 创建 RTT 估算器
func NewRTTEstimator(initialFloor time.Duration) *RTTEstimator {
	if initialFloor <= 0 {
		initialFloor = DefaultInitialRTOFloor
	}
	return &RTTEstimator{
		initialFloor: initialFloor,
		rto:          initialFloor,
	}
}

// Seed 在握手前根据传播 RTT 设置初始 RTO: max(floor, 2*RTT)
func (r *RTTEstimator) Seed(propagationRTT time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rto := 2 * propagationRTT
	if rto < r.initialFloor {
		rto = r.initialFloor
	}
	r.rto = rto
}

// RecordSample 记录一次 RTT 采样
// first 为 true 表示连接的第一个采样 (握手), 此时直接重置估算值
func (r *RTTEstimator) RecordSample(sample time.Duration, first bool) {
	if sample < 0 {
		sample = 0
	}
	ms := float64(sample) / float64(time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.latestRTT = sample
	r.totalSamples++
	if r.minRTT == 0 || sample < r.minRTT {
		r.minRTT = sample
	}
	if sample > r.maxRTT {
		r.maxRTT = sample
	}

	if first || !r.initialized {
		r.smoothedMs = ms
		r.deviationMs = math.Abs(ms - r.smoothedMs)
		r.initialized = true
	} else {
		r.smoothedMs = (1-rttAlpha)*r.smoothedMs + rttAlpha*ms
		// 偏差使用更新后的 SRTT
		r.deviationMs = (1-rttBeta)*r.deviationMs + rttBeta*math.Abs(ms-r.smoothedMs)
	}

	r.rto = computeRTO(r.smoothedMs, r.deviationMs)
}

// computeRTO RTO = SRTT + 4*max(DEV, 10ms)
func computeRTO(smoothedMs, deviationMs float64) time.Duration {
	dev := math.Max(deviationMs, rtoDevFloorMs)
	return time.Duration((smoothedMs + 4*dev) * float64(time.Millisecond))
}

// CurrentRTO 当前重传超时
func (r *RTTEstimator) CurrentRTO() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rto
}

// CurrentRTOMillis 当前重传超时 (ms)
func (r *RTTEstimator) CurrentRTOMillis() uint32 {
	return uint32(r.CurrentRTO() / time.Millisecond)
}

// SmoothedMillis 平滑 RTT 与偏差 (ms), 两者来自同一次采样
func (r *RTTEstimator) SmoothedMillis() (smoothed, deviation float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.smoothedMs, r.deviationMs
}

// GetSmoothedRTT 获取平滑 RTT
func (r *RTTEstimator) GetSmoothedRTT() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return time.Duration(r.smoothedMs * float64(time.Millisecond))
}

// GetLatestRTT 获取最新 RTT
func (r *RTTEstimator) GetLatestRTT() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latestRTT
}

// GetMinRTT 获取最小 RTT
func (r *RTTEstimator) GetMinRTT() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.minRTT
}

// GetMaxRTT 获取最大 RTT
func (r *RTTEstimator) GetMaxRTT() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxRTT
}

// IsInitialized 是否已有采样
func (r *RTTEstimator) IsInitialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// Reset 重置
func (r *RTTEstimator) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.smoothedMs = 0
	r.deviationMs = 0
	r.rto = r.initialFloor
	r.latestRTT = 0
	r.minRTT = 0
	r.maxRTT = 0
	r.totalSamples = 0
	r.initialized = false
}

// GetStats 获取统计信息
func (r *RTTEstimator) GetStats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]interface{}{
		"srtt_ms":       r.smoothedMs,
		"dev_ms":        r.deviationMs,
		"rto_ms":        r.rto.Milliseconds(),
		"latest_rtt_ms": r.latestRTT.Milliseconds(),
		"min_rtt_ms":    r.minRTT.Milliseconds(),
		"max_rtt_ms":    r.maxRTT.Milliseconds(),
		"total_samples": r.totalSamples,
		"initialized":   r.initialized,
	}
}
