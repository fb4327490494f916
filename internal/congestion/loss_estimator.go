// =============================================================================
// 文件: internal/congestion/loss_estimator.go
// 描述: 发送端观测丢包率 - 滑动窗口 + EWMA
// =============================================================================
package congestion

import (
	"sync"
)

const (
	lossEWMAAlpha = 0.125 // EWMA 权重 (1/8)

	// DefaultLossWindow 滑动窗口: 最近 200 次发送
	DefaultLossWindow = 200
)

// LossEstimator 发送端观测丢包率
//
// 每次发送尝试产生一个事件: 收到确认为送达, 超时或快速重传为丢失.
// 丢失可能发生在正向 (数据) 或反向 (确认), 估算值为两者合计.
type LossEstimator struct {
	mu sync.RWMutex

	window *SlidingWindow
	ewma   float64

	totalDelivered uint64
	totalLost      uint64
}

// SlidingWindow 固定长度的丢包事件环形窗口
type SlidingWindow struct {
	size      int
	events    []bool // true = loss
	lossCount int
	head      int
	count     int
}

// LossStats 丢包统计
type LossStats struct {
	WindowLossRate float64
	EWMALossRate   float64
	TotalDelivered uint64
	TotalLost      uint64
}

// NewLossEstimator 创建估算器, window <= 0 时使用默认窗口
func NewLossEstimator(window int) *LossEstimator {
	if window <= 0 {
		window = DefaultLossWindow
	}
	return &LossEstimator{window: NewSlidingWindow(window)}
}

// NewSlidingWindow 创建滑动窗口
func NewSlidingWindow(size int) *SlidingWindow {
	return &SlidingWindow{
		size:   size,
		events: make([]bool, size),
	}
}

// OnDelivered 一次发送收到确认
func (e *LossEstimator) OnDelivered() {
	e.record(false)
}

// OnLost 一次发送超时或被快速重传
func (e *LossEstimator) OnLost() {
	e.record(true)
}

func (e *LossEstimator) record(isLoss bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sample := 0.0
	if isLoss {
		sample = 1.0
		e.totalLost++
	} else {
		e.totalDelivered++
	}

	e.window.Add(isLoss)
	e.ewma = lossEWMAAlpha*sample + (1-lossEWMAAlpha)*e.ewma
}

// GetLossRate 窗口内丢包率
func (e *LossEstimator) GetLossRate() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.window.GetLossRate()
}

// GetStats 获取统计
func (e *LossEstimator) GetStats() LossStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return LossStats{
		WindowLossRate: e.window.GetLossRate(),
		EWMALossRate:   e.ewma,
		TotalDelivered: e.totalDelivered,
		TotalLost:      e.totalLost,
	}
}

// Reset 重置
func (e *LossEstimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.window = NewSlidingWindow(e.window.size)
	e.ewma = 0
	e.totalDelivered = 0
	e.totalLost = 0
}

// ================== SlidingWindow 方法 ==================

// Add 添加事件, 窗口满时覆盖最旧的事件
func (w *SlidingWindow) Add(isLoss bool) {
	if w.count >= w.size && w.events[w.head] {
		w.lossCount--
	}

	w.events[w.head] = isLoss
	if isLoss {
		w.lossCount++
	}

	w.head = (w.head + 1) % w.size
	if w.count < w.size {
		w.count++
	}
}

// GetLossRate 获取丢包率
func (w *SlidingWindow) GetLossRate() float64 {
	if w.count == 0 {
		return 0
	}
	return float64(w.lossCount) / float64(w.count)
}

// Len 窗口内事件数
func (w *SlidingWindow) Len() int {
	return w.count
}
