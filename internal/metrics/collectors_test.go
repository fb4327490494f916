// =============================================================================
// 文件: internal/metrics/collectors_test.go
// 描述: Prometheus 收集器与指标服务测试
// =============================================================================
package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestTransferCollector(t *testing.T) {
	c := NewTransferCounters()
	c.SetWindowSize(8)
	c.RecordAck(1464)
	c.RecordAck(536)
	c.IncTimeouts()
	c.IncFastRetransmits()
	c.SetRTT(250, 10)
	c.SetLossRate(0.25)

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewTransferCollector(c, func() time.Duration { return 290 * time.Millisecond }))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather 失败: %v", err)
	}

	values := make(map[string]float64)
	for _, mf := range families {
		m := mf.GetMetric()[0]
		switch {
		case m.GetCounter() != nil:
			values[mf.GetName()] = m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			values[mf.GetName()] = m.GetGauge().GetValue()
		}
	}

	want := map[string]float64{
		"rdp_sender_bytes_acked_total":      2000,
		"rdp_sender_sender_base":            2,
		"rdp_sender_window_size_packets":    8,
		"rdp_sender_timeouts_total":         1,
		"rdp_sender_fast_retransmits_total": 1,
		"rdp_sender_rtt_seconds":            0.25,
		"rdp_sender_rto_seconds":            0.29,
		"rdp_sender_interval_goodput_bytes": 2000,
		"rdp_sender_loss_ratio":             0.25,
	}
	for name, v := range want {
		got, ok := values[name]
		if !ok {
			t.Errorf("缺少指标 %s", name)
			continue
		}
		if got != v {
			t.Errorf("%s: got %v, want %v", name, got, v)
		}
	}

	// 采集不应清零区间 goodput
	if s := c.Snapshot(); s.Goodput != 2000 {
		t.Errorf("采集后 goodput 不应变化: %d", s.Goodput)
	}
}

func TestTransferCollectorWithoutRTO(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewTransferCollector(NewTransferCounters(), nil))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather 失败: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "rdp_sender_rto_seconds" {
			t.Error("未提供 RTO 时不应导出 rto_seconds")
		}
	}
}

func TestMetricsServerHandler(t *testing.T) {
	s := NewMetricsServer("127.0.0.1:0", "/metrics", "/health")
	if err := s.RegisterCollector(NewTransferCollector(NewTransferCounters(), nil)); err != nil {
		t.Fatalf("注册收集器失败: %v", err)
	}
	s.SetHealthCheck(func() HealthStatus {
		return HealthStatus{Status: HealthHealthy, Timestamp: time.Now()}
	})

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		if err != nil {
			t.Fatalf("请求失败: %v", err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("读取失败: %v", err)
		}
		if !strings.Contains(string(body), "rdp_sender_bytes_acked_total") {
			t.Error("metrics 输出缺少 rdp_sender_bytes_acked_total")
		}
	})

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatalf("请求失败: %v", err)
		}
		defer resp.Body.Close()
		var status HealthStatus
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			t.Fatalf("解析失败: %v", err)
		}
		if resp.StatusCode != http.StatusOK || status.Status != HealthHealthy {
			t.Errorf("健康检查错误: %d %+v", resp.StatusCode, status)
		}
	})

	t.Run("unhealthy", func(t *testing.T) {
		s.SetHealthCheck(func() HealthStatus {
			return HealthStatus{Status: HealthUnhealthy, Timestamp: time.Now()}
		})
		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatalf("请求失败: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("不健康时应返回 503: %d", resp.StatusCode)
		}

		// 存活探针不受连接状态影响
		resp, err = http.Get(ts.URL + "/health/live")
		if err != nil {
			t.Fatalf("请求失败: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("存活探针应返回 200: %d", resp.StatusCode)
		}
	})

	t.Run("idle", func(t *testing.T) {
		s.SetHealthCheck(func() HealthStatus {
			return HealthStatus{Status: HealthIdle, Timestamp: time.Now()}
		})
		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatalf("请求失败: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("未连接不应视为不健康: %d", resp.StatusCode)
		}
	})
}

func TestMetricsServerStartStop(t *testing.T) {
	s := NewMetricsServer("127.0.0.1:0", "/metrics", "/health")
	if err := s.Start(); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer s.Stop()

	resp, err := http.Get("http://" + s.Addr() + "/health/live")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("存活探针错误: %d", resp.StatusCode)
	}
}

func TestMetricsServerRun(t *testing.T) {
	s := NewMetricsServer("127.0.0.1:0", "/metrics", "/health")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// 等待监听地址就绪
	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "127.0.0.1:0" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	if err != nil {
		cancel()
		t.Fatalf("请求失败: %v", err)
	}
	resp.Body.Close()

	if err := NewMetricsServer(s.Addr(), "/metrics", "/health").Run(context.Background()); err == nil {
		t.Error("重复监听同一地址应返回错误")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("取消后 Run 应返回 nil: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("取消后 Run 未退出")
	}
}
