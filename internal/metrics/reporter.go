// =============================================================================
// 文件: internal/metrics/reporter.go
// 描述: 统计线程 - 按固定间隔打印传输进度
// =============================================================================
package metrics

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// DefaultStatsInterval 默认统计间隔
const DefaultStatsInterval = 2 * time.Second

// StatsReporter 统计线程
type StatsReporter struct {
	counters *TransferCounters
	interval time.Duration
	out      io.Writer

	quit chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	mu        sync.Mutex
	started   bool
}

// NewStatsReporter 创建统计线程
func NewStatsReporter(counters *TransferCounters, interval time.Duration, out io.Writer) *StatsReporter {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	if out == nil {
		out = os.Stdout
	}
	return &StatsReporter{
		counters: counters,
		interval: interval,
		out:      out,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start 启动统计线程 (只生效一次)
func (r *StatsReporter) Start() {
	r.startOnce.Do(func() {
		r.mu.Lock()
		r.started = true
		r.mu.Unlock()
		go r.run()
	})
}

// Running 是否已启动且尚未退出
func (r *StatsReporter) Running() bool {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Stop 发出退出信号并等待统计线程结束
func (r *StatsReporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.quit)
	})

	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		<-r.done
	}
}

// Done 统计线程退出后关闭
func (r *StatsReporter) Done() <-chan struct{} {
	return r.done
}

func (r *StatsReporter) run() {
	defer close(r.done)

	segmentStart := time.Now()
	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-r.quit:
			return
		case <-timer.C:
		}

		// 计时器与退出信号同时就绪时以退出为准
		select {
		case <-r.quit:
			return
		default:
		}

		now := time.Now()
		r.report(now.Sub(segmentStart))

		segmentStart = time.Now()
		timer.Reset(r.interval)
	}
}

// report 打印一行统计并清零区间 goodput
func (r *StatsReporter) report(segment time.Duration) {
	s := r.counters.SnapshotAndResetGoodput()
	fmt.Fprintln(r.out, FormatStatsLine(s, segment))
}

// FormatStatsLine 格式化统计行
func FormatStatsLine(s Snapshot, segment time.Duration) string {
	return fmt.Sprintf("[%2d] B %6d (%5.1f MB) N %6d T %d F %d W %d S %0.3f Mbps RTT %5.3f",
		int(s.Elapsed/time.Second),
		s.SenderBase,
		float64(s.BytesAcked)/1e6,
		s.SenderBase+1,
		s.TimeoutPackets,
		s.FastRetxPackets,
		s.WindowSize,
		ThroughputMbps(s.Goodput, segment),
		s.EstRTTMs/1000.0,
	)
}

// ThroughputMbps 区间吞吐量: bytes*8 / (1000 * ms)
func ThroughputMbps(goodput uint64, segment time.Duration) float64 {
	ms := segment.Milliseconds()
	if ms <= 0 {
		return 0
	}
	return float64(goodput*8) / (1000.0 * float64(ms))
}
