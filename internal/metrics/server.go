// =============================================================================
// 文件: internal/metrics/server.go
// 描述: 发送端指标/健康检查 HTTP 服务 - Prometheus 文本格式 + JSON 健康状态
// =============================================================================
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 健康状态取值
const (
	HealthHealthy   = "healthy"
	HealthIdle      = "idle"
	HealthUnhealthy = "unhealthy"
)

// MetricsServer 发送端指标服务器
//
// metricsPath 导出传输计数器, healthPath 返回连接状态,
// healthPath+"/live" 只表示进程仍在应答.
type MetricsServer struct {
	listen      string
	metricsPath string
	healthPath  string
	registry    *prometheus.Registry

	mu          sync.RWMutex
	srv         *http.Server
	listener    net.Listener
	serveErr    chan error
	healthCheck func() HealthStatus
}

// HealthStatus 健康状态
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     time.Duration              `json:"uptime"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// ComponentHealth 组件健康状态
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewMetricsServer 创建指标服务器, 使用独立 registry
func NewMetricsServer(listen, metricsPath, healthPath string) *MetricsServer {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &MetricsServer{
		listen:      listen,
		metricsPath: metricsPath,
		healthPath:  healthPath,
		registry:    registry,
	}
}

// RegisterCollector 注册 Prometheus 收集器
func (s *MetricsServer) RegisterCollector(c prometheus.Collector) error {
	return s.registry.Register(c)
}

// SetHealthCheck 设置健康检查函数, 在 HTTP goroutine 中调用
func (s *MetricsServer) SetHealthCheck(fn func() HealthStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthCheck = fn
}

// Handler 返回路由
func (s *MetricsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.healthPath, s.handleHealth)
	mux.HandleFunc(s.healthPath+"/live", s.handleLiveness)
	mux.Handle(s.metricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          s.registry,
	}))
	return mux
}

// Start 监听并在后台提供服务, 监听失败时立即返回错误
func (s *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", s.listen, err)
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	errc := make(chan error, 1)

	s.mu.Lock()
	s.srv = srv
	s.listener = ln
	s.serveErr = errc
	s.mu.Unlock()

	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errc <- err
	}()

	return nil
}

// Run 启动服务器并阻塞到 ctx 结束或服务异常退出
func (s *MetricsServer) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	s.mu.RLock()
	errc := s.serveErr
	s.mu.RUnlock()

	select {
	case <-ctx.Done():
		s.Stop()
		return nil
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("指标服务退出: %w", err)
		}
		return nil
	}
}

// Addr 实际监听地址, 未启动时返回配置地址
func (s *MetricsServer) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.listen
	}
	return s.listener.Addr().String()
}

func (s *MetricsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	healthCheck := s.healthCheck
	s.mu.RUnlock()

	status := HealthStatus{Status: HealthHealthy, Timestamp: time.Now()}
	if healthCheck != nil {
		status = healthCheck()
	}

	w.Header().Set("Content-Type", "application/json")
	if status.Status == HealthUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

func (s *MetricsServer) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Stop 停止服务器, 最多等待 5 秒
func (s *MetricsServer) Stop() {
	s.mu.RLock()
	srv := s.srv
	s.mu.RUnlock()

	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
