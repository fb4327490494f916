// =============================================================================
// 文件: cmd/rdp-sender/main.go
// 描述: 主程序入口 - 参数解析、Prometheus 指标、传输编排
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/rdp/internal/config"
	"github.com/mrcgq/rdp/internal/metrics"
	"github.com/mrcgq/rdp/internal/transport"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("c", "", "配置文件路径 (可选)")
	showVersion := flag.Bool("v", false, "显示版本")
	genConfig := flag.Bool("gen-config", false, "生成示例配置文件")
	logLevel := flag.String("log-level", "", "日志级别: error/info/debug")
	metricsListen := flag.String("metrics", "", "启用 Prometheus 指标并监听该地址")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		printVersion()
		return transport.StatusOK
	}

	if *genConfig {
		if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			return 1
		}
		fmt.Println("已生成示例配置文件: config.example.yaml")
		return transport.StatusOK
	}

	// 加载配置
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
			return transport.StatusInvalidArguments
		}
		cfg = loaded
	}

	// 位置参数覆盖配置文件
	args := flag.Args()
	switch {
	case len(args) == config.PositionalArgs:
		if err := cfg.ApplyArgs(args); err != nil {
			fmt.Printf("error: %v\n\n", err)
			printUsage()
			return transport.StatusInvalidArguments
		}
	case len(args) == 0 && *configPath != "":
	default:
		if len(args) < config.PositionalArgs {
			fmt.Printf("error: too few arguments\n\n")
		} else {
			fmt.Printf("error: too many arguments\n\n")
		}
		printUsage()
		return transport.StatusInvalidArguments
	}

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *metricsListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = *metricsListen
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		return transport.StatusInvalidArguments
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg)
}

// serve 运行传输, 启用监控时同时运行指标服务器
func serve(ctx context.Context, cfg *config.Config) int {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	counters := metrics.NewTransferCounters()

	sender, err := transport.NewSenderSocket(counters, &transport.SenderConfig{
		MaxSynAttempts:    cfg.Protocol.MaxSynAttempts,
		MaxDataAttempts:   cfg.Protocol.MaxDataAttempts,
		FastRetxThreshold: cfg.Protocol.FastRetxThreshold,
		InitialRTOFloor:   time.Duration(cfg.Protocol.MinInitialRTOMs) * time.Millisecond,
		StatsInterval:     time.Duration(cfg.Stats.IntervalMs) * time.Millisecond,
		LogLevel:          level,
		Output:            os.Stdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化失败: %v\n", err)
		return transport.StatusUnknown
	}
	defer sender.Release()

	d := newDriver(cfg, sender, os.Stdout)

	if !cfg.Metrics.Enabled {
		return d.transfer(ctx)
	}

	ms := metrics.NewMetricsServer(cfg.Metrics.Listen, cfg.Metrics.Path, cfg.Metrics.HealthPath)
	if err := ms.RegisterCollector(metrics.NewTransferCollector(counters, sender.RTO)); err != nil {
		fmt.Fprintf(os.Stderr, "注册指标失败: %v\n", err)
		return transport.StatusUnknown
	}
	ms.SetHealthCheck(func() metrics.HealthStatus {
		return healthStatus(sender)
	})

	status := transport.StatusOK
	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		return ms.Run(runCtx)
	})
	// 传输结束后关闭指标服务器
	g.Go(func() error {
		defer cancel()
		status = d.transfer(runCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Metrics 启动失败: %v\n", err)
		if status == transport.StatusOK {
			return transport.StatusUnknown
		}
	}
	return status
}

// healthStatus 根据连接状态生成健康状态
func healthStatus(sender *transport.SenderSocket) metrics.HealthStatus {
	status := metrics.HealthStatus{
		Status:     metrics.HealthHealthy,
		Timestamp:  time.Now(),
		Uptime:     sender.Counters().Elapsed(),
		Components: make(map[string]metrics.ComponentHealth),
	}

	if sender.Connected() {
		status.Components["connection"] = metrics.ComponentHealth{
			Status:  metrics.HealthHealthy,
			Message: fmt.Sprintf("peer %s, RTO %v", sender.RemoteAddr(), sender.RTO()),
		}
	} else {
		status.Components["connection"] = metrics.ComponentHealth{
			Status:  metrics.HealthIdle,
			Message: "not connected",
		}
	}

	return status
}

func printUsage() {
	fmt.Println("usage: rdp-sender [-c config.yaml] [-metrics :9100] <DSN> <PBS> <SWS> <RTT> <LPF> <LPR> <BLS>")
	fmt.Println("DSN - Destination server IP or hostname")
	fmt.Println("PBS - Power of two size for transmission buffer (uint32 elements)")
	fmt.Println("SWS - Sender window size (packets)")
	fmt.Println("RTT - Simulated RTT propagation delay (seconds)")
	fmt.Println("LPF - Simulated loss probability in forward direction")
	fmt.Println("LPR - Simulated loss probability in reverse direction")
	fmt.Println("BLS - Bottleneck link speed (Mbps)")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
}

func printVersion() {
	fmt.Printf("RDP Sender v%s\n", Version)
	fmt.Printf("  Build: %s\n", BuildTime)
	fmt.Printf("  Commit: %s\n", GitCommit)
	fmt.Printf("  Go: %s\n", runtime.Version())
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Println()
	fmt.Println("监控:")
	fmt.Println("  - /metrics  : Prometheus 格式指标")
	fmt.Println("  - /health   : JSON 健康状态")
	fmt.Println("  - /health/live : 存活探针")
}
