// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器定义
// =============================================================================
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// =============================================================================
// 传输收集器
// =============================================================================

// TransferStats 传输统计数据接口
type TransferStats interface {
	Snapshot() Snapshot
}

// TransferCollector 传输指标收集器
type TransferCollector struct {
	statsProvider TransferStats
	rtoProvider   func() time.Duration

	bytesAckedDesc      *prometheus.Desc
	senderBaseDesc      *prometheus.Desc
	windowSizeDesc      *prometheus.Desc
	timeoutsDesc        *prometheus.Desc
	fastRetxDesc        *prometheus.Desc
	estRTTDesc          *prometheus.Desc
	devRTTDesc          *prometheus.Desc
	rtoDesc             *prometheus.Desc
	elapsedDesc         *prometheus.Desc
	intervalGoodputDesc *prometheus.Desc
	lossRateDesc        *prometheus.Desc
}

// NewTransferCollector 创建传输收集器, rto 可为 nil
func NewTransferCollector(provider TransferStats, rto func() time.Duration) *TransferCollector {
	namespace := "rdp"
	subsystem := "sender"

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil)
	}

	return &TransferCollector{
		statsProvider:       provider,
		rtoProvider:         rto,
		bytesAckedDesc:      desc("bytes_acked_total", "Payload bytes acknowledged by the receiver"),
		senderBaseDesc:      desc("sender_base", "Current send base sequence number"),
		windowSizeDesc:      desc("window_size_packets", "Configured sender window"),
		timeoutsDesc:        desc("timeouts_total", "Retransmission timeouts"),
		fastRetxDesc:        desc("fast_retransmits_total", "Fast retransmits triggered by duplicate ACKs"),
		estRTTDesc:          desc("rtt_seconds", "Smoothed RTT estimate"),
		devRTTDesc:          desc("rtt_deviation_seconds", "Smoothed RTT deviation"),
		rtoDesc:             desc("rto_seconds", "Current retransmission timeout"),
		elapsedDesc:         desc("elapsed_seconds", "Time since connection start"),
		intervalGoodputDesc: desc("interval_goodput_bytes", "Payload bytes acknowledged in the current stats interval"),
		lossRateDesc:        desc("loss_ratio", "Share of recent transmissions that timed out or were fast retransmitted"),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *TransferCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesAckedDesc
	ch <- c.senderBaseDesc
	ch <- c.windowSizeDesc
	ch <- c.timeoutsDesc
	ch <- c.fastRetxDesc
	ch <- c.estRTTDesc
	ch <- c.devRTTDesc
	if c.rtoProvider != nil {
		ch <- c.rtoDesc
	}
	ch <- c.elapsedDesc
	ch <- c.intervalGoodputDesc
	ch <- c.lossRateDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *TransferCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.statsProvider.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.bytesAckedDesc, prometheus.CounterValue, float64(s.BytesAcked))
	ch <- prometheus.MustNewConstMetric(c.senderBaseDesc, prometheus.GaugeValue, float64(s.SenderBase))
	ch <- prometheus.MustNewConstMetric(c.windowSizeDesc, prometheus.GaugeValue, float64(s.WindowSize))
	ch <- prometheus.MustNewConstMetric(c.timeoutsDesc, prometheus.CounterValue, float64(s.TimeoutPackets))
	ch <- prometheus.MustNewConstMetric(c.fastRetxDesc, prometheus.CounterValue, float64(s.FastRetxPackets))
	ch <- prometheus.MustNewConstMetric(c.estRTTDesc, prometheus.GaugeValue, s.EstRTTMs/1000)
	ch <- prometheus.MustNewConstMetric(c.devRTTDesc, prometheus.GaugeValue, s.DevRTTMs/1000)
	if c.rtoProvider != nil {
		ch <- prometheus.MustNewConstMetric(c.rtoDesc, prometheus.GaugeValue, c.rtoProvider().Seconds())
	}
	ch <- prometheus.MustNewConstMetric(c.elapsedDesc, prometheus.GaugeValue, s.Elapsed.Seconds())
	ch <- prometheus.MustNewConstMetric(c.intervalGoodputDesc, prometheus.GaugeValue, float64(s.Goodput))
	ch <- prometheus.MustNewConstMetric(c.lossRateDesc, prometheus.GaugeValue, s.LossRate)
}
