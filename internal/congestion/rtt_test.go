// =============================================================================
// 文件: internal/congestion/rtt_test.go
// 描述: RTT 估算器测试
// =============================================================================
package congestion

import (
	"testing"
	"time"
)

func TestRTTEstimatorSeed(t *testing.T) {
	tests := []struct {
		name  string
		floor time.Duration
		rtt   time.Duration
		want  time.Duration
	}{
		{"下限生效", time.Second, 300 * time.Millisecond, time.Second},
		{"2倍RTT", time.Second, 800 * time.Millisecond, 1600 * time.Millisecond},
		{"零RTT", time.Second, 0, time.Second},
		{"自定义下限", 50 * time.Millisecond, 10 * time.Millisecond, 50 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRTTEstimator(tt.floor)
			r.Seed(tt.rtt)
			if got := r.CurrentRTO(); got != tt.want {
				t.Errorf("RTO 错误: got %v, want %v", got, tt.want)
			}
			if r.IsInitialized() {
				t.Error("Seed 不应视为采样")
			}
		})
	}
}

func TestRTTEstimatorFirstSampleResets(t *testing.T) {
	r := NewRTTEstimator(0)
	r.RecordSample(300*time.Millisecond, true)
	r.RecordSample(100*time.Millisecond, true)

	srtt, dev := r.SmoothedMillis()
	if srtt != 100 || dev != 0 {
		t.Errorf("首个采样应重置: srtt=%v dev=%v", srtt, dev)
	}
	if got := r.CurrentRTO(); got != 140*time.Millisecond {
		t.Errorf("RTO 错误: got %v, want 140ms", got)
	}
}

func TestRTTEstimatorSequence(t *testing.T) {
	r := NewRTTEstimator(time.Second)
	r.Seed(50 * time.Millisecond)

	samples := []struct {
		rtt     time.Duration
		first   bool
		srtt    float64
		dev     float64
		rto     time.Duration
		rtoMsec uint32
	}{
		{100 * time.Millisecond, true, 100, 0, 140 * time.Millisecond, 140},
		{120 * time.Millisecond, false, 102.5, 4.375, 142500 * time.Microsecond, 142},
		{200 * time.Millisecond, false, 114.6875, 24.609375, 213125 * time.Microsecond, 213},
	}

	for i, s := range samples {
		r.RecordSample(s.rtt, s.first)
		srtt, dev := r.SmoothedMillis()
		if srtt != s.srtt {
			t.Errorf("采样 %d SRTT 错误: got %v, want %v", i, srtt, s.srtt)
		}
		if dev != s.dev {
			t.Errorf("采样 %d DEV 错误: got %v, want %v", i, dev, s.dev)
		}
		if got := r.CurrentRTO(); got != s.rto {
			t.Errorf("采样 %d RTO 错误: got %v, want %v", i, got, s.rto)
		}
		if got := r.CurrentRTOMillis(); got != s.rtoMsec {
			t.Errorf("采样 %d RTO(ms) 错误: got %d, want %d", i, got, s.rtoMsec)
		}
	}

	if r.GetMinRTT() != 100*time.Millisecond || r.GetMaxRTT() != 200*time.Millisecond {
		t.Errorf("min/max 错误: %v / %v", r.GetMinRTT(), r.GetMaxRTT())
	}
	if r.GetLatestRTT() != 200*time.Millisecond {
		t.Errorf("latest 错误: %v", r.GetLatestRTT())
	}
}

func TestRTTEstimatorBetweenSamples(t *testing.T) {
	r := NewRTTEstimator(0)
	r.RecordSample(100*time.Millisecond, true)
	r.RecordSample(120*time.Millisecond, false)

	srtt := r.GetSmoothedRTT()
	if srtt <= 100*time.Millisecond || srtt >= 120*time.Millisecond {
		t.Errorf("SRTT 应在 (100ms, 120ms) 之间: got %v", srtt)
	}
}

func TestRTTEstimatorDeterministic(t *testing.T) {
	run := func() []time.Duration {
		r := NewRTTEstimator(0)
		seq := []time.Duration{37, 52, 41, 90, 12, 66, 48}
		out := make([]time.Duration, 0, len(seq))
		for i, ms := range seq {
			r.RecordSample(ms*time.Millisecond, i == 0)
			out = append(out, r.CurrentRTO())
		}
		return out
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("RTO 序列不可复现: %v vs %v", a, b)
		}
	}
}

func TestRTTEstimatorReset(t *testing.T) {
	r := NewRTTEstimator(200 * time.Millisecond)
	r.RecordSample(80*time.Millisecond, true)
	r.Reset()

	if r.IsInitialized() {
		t.Error("Reset 后不应已初始化")
	}
	if r.CurrentRTO() != 200*time.Millisecond {
		t.Errorf("Reset 后 RTO 应回到下限: %v", r.CurrentRTO())
	}
	stats := r.GetStats()
	if stats["total_samples"].(uint64) != 0 {
		t.Errorf("Reset 后采样数应为 0: %v", stats["total_samples"])
	}
}
