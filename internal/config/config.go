// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - 发送端/链路/协议参数, 位置参数覆盖, 示例配置生成
// =============================================================================
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// 默认值
const (
	DefaultPort        = 22345
	DefaultMetricsPort = ":9100"
	MaxWindowSize      = 65535
	MaxBufferPower     = 30
)

// PositionalArgs 位置参数个数: <DSN> <PBS> <SWS> <RTT> <LPF> <LPR> <BLS>
const PositionalArgs = 7

// Config 主配置
type Config struct {
	LogLevel string `yaml:"log_level"`

	Sender   SenderConfig   `yaml:"sender"`
	Link     LinkConfig     `yaml:"link"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Stats    StatsConfig    `yaml:"stats"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// SenderConfig 传输目标与缓冲区
type SenderConfig struct {
	Destination string `yaml:"destination"`
	Port        int    `yaml:"port"`
	WindowSize  int    `yaml:"window_size"`
	// BufferPower 缓冲区包含 2^BufferPower 个 uint32
	BufferPower int `yaml:"buffer_power"`
}

// LinkConfig 接收端模拟的链路参数
type LinkConfig struct {
	RTTSec      float64 `yaml:"rtt_sec"`
	SpeedMbps   float64 `yaml:"speed_mbps"`
	LossForward float64 `yaml:"loss_forward"`
	LossReturn  float64 `yaml:"loss_return"`
}

// ProtocolConfig 重传参数
type ProtocolConfig struct {
	MaxSynAttempts    int `yaml:"max_syn_attempts"`
	MaxDataAttempts   int `yaml:"max_data_attempts"`
	FastRetxThreshold int `yaml:"fast_retx_threshold"`
	MinInitialRTOMs   int `yaml:"min_initial_rto_ms"`
}

// StatsConfig 统计输出配置
type StatsConfig struct {
	IntervalMs int `yaml:"interval_ms"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Listen     string `yaml:"listen"`
	Path       string `yaml:"path"`
	HealthPath string `yaml:"health_path"`
}

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",

		Sender: SenderConfig{
			Destination: "127.0.0.1",
			Port:        DefaultPort,
			WindowSize:  1,
			BufferPower: 20,
		},

		Link: LinkConfig{
			RTTSec:      0.2,
			SpeedMbps:   100,
			LossForward: 0,
			LossReturn:  0,
		},

		Protocol: ProtocolConfig{
			MaxSynAttempts:    3,
			MaxDataAttempts:   5,
			FastRetxThreshold: 3,
			MinInitialRTOMs:   1000,
		},

		Stats: StatsConfig{
			IntervalMs: 2000,
		},

		Metrics: MetricsConfig{
			Enabled:    false,
			Listen:     DefaultMetricsPort,
			Path:       "/metrics",
			HealthPath: "/health",
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	if c.Sender.Destination == "" {
		return fmt.Errorf("sender.destination 不能为空")
	}
	if c.Sender.Port < 1 || c.Sender.Port > 65535 {
		return fmt.Errorf("sender.port 需在 1-65535 之间")
	}
	if c.Sender.WindowSize < 1 || c.Sender.WindowSize > MaxWindowSize {
		return fmt.Errorf("sender.window_size 需在 1-%d 之间", MaxWindowSize)
	}
	if c.Sender.BufferPower < 0 || c.Sender.BufferPower > MaxBufferPower {
		return fmt.Errorf("sender.buffer_power 需在 0-%d 之间", MaxBufferPower)
	}

	if c.Link.RTTSec < 0 {
		return fmt.Errorf("link.rtt_sec 不能为负")
	}
	if c.Link.SpeedMbps <= 0 {
		return fmt.Errorf("link.speed_mbps 必须大于 0")
	}
	if c.Link.LossForward < 0 || c.Link.LossForward >= 1 {
		return fmt.Errorf("link.loss_forward 需在 [0, 1) 之间")
	}
	if c.Link.LossReturn < 0 || c.Link.LossReturn >= 1 {
		return fmt.Errorf("link.loss_return 需在 [0, 1) 之间")
	}

	if c.Protocol.MaxSynAttempts < 1 {
		return fmt.Errorf("protocol.max_syn_attempts 至少为 1")
	}
	if c.Protocol.MaxDataAttempts < 1 {
		return fmt.Errorf("protocol.max_data_attempts 至少为 1")
	}
	if c.Protocol.FastRetxThreshold < 1 {
		return fmt.Errorf("protocol.fast_retx_threshold 至少为 1")
	}
	if c.Protocol.MinInitialRTOMs < 1 {
		return fmt.Errorf("protocol.min_initial_rto_ms 至少为 1")
	}

	if c.Stats.IntervalMs < 1 {
		return fmt.Errorf("stats.interval_ms 至少为 1")
	}

	if c.Metrics.Enabled {
		if _, err := parsePort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen 端口格式错误: %w", err)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path 必须以 / 开头")
		}
		if !strings.HasPrefix(c.Metrics.HealthPath, "/") {
			return fmt.Errorf("metrics.health_path 必须以 / 开头")
		}
		if c.Metrics.Path == c.Metrics.HealthPath {
			return fmt.Errorf("metrics.path 与 metrics.health_path 冲突")
		}
	}

	return nil
}

// ApplyArgs 用位置参数覆盖配置: <DSN> <PBS> <SWS> <RTT> <LPF> <LPR> <BLS>
func (c *Config) ApplyArgs(args []string) error {
	if len(args) != PositionalArgs {
		return fmt.Errorf("需要 %d 个位置参数, 实际 %d 个", PositionalArgs, len(args))
	}

	ints := []struct {
		name string
		dst  *int
		arg  string
	}{
		{"PBS", &c.Sender.BufferPower, args[1]},
		{"SWS", &c.Sender.WindowSize, args[2]},
	}
	floats := []struct {
		name string
		dst  *float64
		arg  string
	}{
		{"RTT", &c.Link.RTTSec, args[3]},
		{"LPF", &c.Link.LossForward, args[4]},
		{"LPR", &c.Link.LossReturn, args[5]},
		{"BLS", &c.Link.SpeedMbps, args[6]},
	}

	c.Sender.Destination = args[0]
	for _, p := range ints {
		v, err := strconv.Atoi(p.arg)
		if err != nil {
			return fmt.Errorf("%s 参数错误: %w", p.name, err)
		}
		*p.dst = v
	}
	for _, p := range floats {
		v, err := strconv.ParseFloat(p.arg, 64)
		if err != nil {
			return fmt.Errorf("%s 参数错误: %w", p.name, err)
		}
		*p.dst = v
	}

	return c.Validate()
}

// ParseLogLevel 解析日志级别: 0=error 1=info 2=debug
func ParseLogLevel(level string) (int, error) {
	switch strings.ToLower(level) {
	case "error":
		return 0, nil
	case "info", "":
		return 1, nil
	case "debug":
		return 2, nil
	}
	return 0, fmt.Errorf("log_level 无效: %s (可选 error, info, debug)", level)
}

// parsePort 解析端口号
func parsePort(addr string) (int, error) {
	if strings.HasPrefix(addr, ":") {
		return strconv.Atoi(addr[1:])
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strconv.Atoi(addr)
	}
	return strconv.Atoi(portStr)
}

// =============================================================================
// 配置文件示例生成
// =============================================================================

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# RDP Sender 配置文件示例
# =============================================================================

log_level: "info"                   # 日志级别: error, info, debug

# 传输目标
sender:
  destination: "127.0.0.1"          # 接收端主机名或 IPv4 地址
  port: 22345                       # 接收端端口
  window_size: 1                    # 发送窗口 (包)
  buffer_power: 20                  # 缓冲区大小 2^N 个 uint32

# 接收端模拟的链路参数 (随 SYN 发送)
link:
  rtt_sec: 0.2                      # 传播 RTT (秒)
  speed_mbps: 100                   # 瓶颈链路速率 (Mbps)
  loss_forward: 0                   # 正向丢包率 [0, 1)
  loss_return: 0                    # 反向丢包率 [0, 1)

# 重传参数
protocol:
  max_syn_attempts: 3               # SYN 最大尝试次数
  max_data_attempts: 5              # 数据/FIN 最大尝试次数
  fast_retx_threshold: 3            # 触发快速重传的重复确认数
  min_initial_rto_ms: 1000          # 握手 RTO 下限 (毫秒)

# 周期统计
stats:
  interval_ms: 2000                 # 统计输出间隔 (毫秒)

# Prometheus 监控
metrics:
  enabled: false
  listen: ":9100"                   # 监控监听地址
  path: "/metrics"
  health_path: "/health"
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
