// =============================================================================
// 文件: internal/transport/sender.go
// 描述: RDP 发送端 - 握手、停等发送/确认/重传、拆除
// =============================================================================
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/mrcgq/rdp/internal/congestion"
	"github.com/mrcgq/rdp/internal/metrics"
	"github.com/mrcgq/rdp/internal/protocol"
)

// SenderSocket RDP 发送端
//
// Open/Send/Close 由单一调用方顺序调用, 不可并发.
// Connected/RemoteAddr/RTO 可由其他 goroutine (健康检查) 并发读取.
// 统计线程在握手成功后启动, Close 成功或 Release 时等待其退出.
type SenderSocket struct {
	conn     *net.UDPConn
	server   atomic.Pointer[net.UDPAddr]
	resolver *Resolver

	config   *SenderConfig
	out      io.Writer
	logLevel int

	counters *metrics.TransferCounters
	rtt      *congestion.RTTEstimator
	loss     *congestion.LossEstimator
	reporter *metrics.StatsReporter

	connected atomic.Bool
	recvBuf   []byte
}

// NewSenderSocket 创建 UDP 套接字并绑定本地任意端口
func NewSenderSocket(counters *metrics.TransferCounters, config *SenderConfig) (*SenderSocket, error) {
	config = config.withDefaults()
	if counters == nil {
		counters = metrics.NewTransferCounters()
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("创建 UDP 套接字失败: %w", err)
	}

	counters.MarkStart()

	return &SenderSocket{
		conn:     conn,
		resolver: NewResolver(),
		config:   config,
		out:      config.Output,
		logLevel: config.LogLevel,
		counters: counters,
		rtt:      congestion.NewRTTEstimator(config.InitialRTOFloor),
		loss:     congestion.NewLossEstimator(congestion.DefaultLossWindow),
		recvBuf:  make([]byte, protocol.MaxPacketSize),
	}, nil
}

// =============================================================================
// 握手
// =============================================================================

// Open 解析目标并完成 SYN 握手
func (s *SenderSocket) Open(destination string, port int, windowSize uint32, lp protocol.LinkProperties) error {
	if s.connected.Load() {
		return s.fail("open", ErrAlreadyConnected)
	}

	// Close 之后重新握手, 估算值从头开始
	s.rtt.Reset()
	s.loss.Reset()
	s.counters.SetLossRate(0)

	s.counters.SetWindowSize(windowSize)
	s.rtt.Seed(time.Duration(float64(lp.RTT) * float64(time.Second)))

	ip, err := s.resolver.Resolve(context.Background(), destination)
	if err != nil {
		s.trace("-->", "target %s is invalid", destination)
		return err
	}
	server := &net.UDPAddr{IP: ip, Port: port}
	s.server.Store(server)

	// SYN 不占用序列号, 第一个数据单元同样使用当前发送基序号
	seq := s.counters.SenderBase()
	syn := protocol.NewSynHeader(seq, lp)
	syn.Link.BufferSize = windowSize + uint32(s.config.MaxDataAttempts)
	pkt := syn.Encode()

	for attempt := 1; attempt <= s.config.MaxSynAttempts; attempt++ {
		s.log(2, "SYN seq %d (attempt %d of %d, RTO %.3f) to %s",
			seq, attempt, s.config.MaxSynAttempts, s.rtt.CurrentRTO().Seconds(), server)

		if err := s.sendPacket(pkt); err != nil {
			return err
		}
		sentAt := time.Now()

		outcome, _, err := s.receiveAck(seq, true)
		if err != nil {
			return err
		}
		if outcome != ackExpected {
			continue
		}

		s.rtt.RecordSample(time.Since(sentAt), true)
		s.publishRTT()
		s.connected.Store(true)
		s.startReporter()

		s.log(1, "已连接 %s, RTO %v", server, s.rtt.CurrentRTO())
		return nil
	}

	return s.fail("open", fmt.Errorf("%w: SYN 尝试 %d 次", ErrTimeout, s.config.MaxSynAttempts))
}

// =============================================================================
// 数据发送
// =============================================================================

// Send 发送一个数据单元并等待确认
func (s *SenderSocket) Send(payload []byte) error {
	if !s.connected.Load() {
		return s.fail("send", ErrNotConnected)
	}
	if len(payload) > MaxUnitPayload {
		return s.fail("send", fmt.Errorf("%w: 负载 %d 字节超过 %d", ErrInvalidArguments, len(payload), MaxUnitPayload))
	}

	seq := s.counters.SenderBase()
	pkt := protocol.EncodeDataPacket(seq, payload)

	for attempt := 1; attempt <= s.config.MaxDataAttempts; attempt++ {
		s.log(2, "DATA seq %d (attempt %d of %d, RTO %.3f)",
			seq, attempt, s.config.MaxDataAttempts, s.rtt.CurrentRTO().Seconds())

		if err := s.sendPacket(pkt); err != nil {
			return err
		}
		sentAt := time.Now()

		outcome, _, err := s.receiveAck(seq, false)
		if err != nil {
			return err
		}

		if outcome != ackExpected {
			s.loss.OnLost()
			s.counters.SetLossRate(s.loss.GetLossRate())
			stats := s.loss.GetStats()
			s.log(2, "seq %d 第 %d 次发送丢失, 丢包率 %.3f (EWMA %.3f)",
				seq, attempt, stats.WindowLossRate, stats.EWMALossRate)
			continue
		}
		s.loss.OnDelivered()
		s.counters.SetLossRate(s.loss.GetLossRate())

		// 重传单元的确认无法区分对应哪次发送, 只采样首次发送
		if attempt == 1 {
			s.rtt.RecordSample(time.Since(sentAt), false)
			s.publishRTT()
		}
		s.counters.RecordAck(len(payload))
		return nil
	}

	return s.fail("send", fmt.Errorf("%w: seq %d 尝试 %d 次", ErrTimeout, seq, s.config.MaxDataAttempts))
}

// =============================================================================
// 拆除
// =============================================================================

// Close 发送 FIN 并等待确认, 返回自连接开始的总耗时
func (s *SenderSocket) Close() (time.Duration, error) {
	if !s.connected.Load() {
		return 0, s.fail("close", ErrNotConnected)
	}

	seq := s.counters.SenderBase()
	fin := protocol.NewFinHeader(seq)
	pkt := fin.Encode()

	for attempt := 1; attempt <= s.config.MaxDataAttempts; attempt++ {
		s.log(2, "FIN seq %d (attempt %d of %d, RTO %.3f)",
			seq, attempt, s.config.MaxDataAttempts, s.rtt.CurrentRTO().Seconds())

		if err := s.sendPacket(pkt); err != nil {
			return 0, err
		}

		outcome, hdr, err := s.receiveAck(seq, true)
		if err != nil {
			return 0, err
		}
		if outcome != ackExpected {
			continue
		}

		elapsed := s.counters.Elapsed()
		fmt.Fprintf(s.out, "[%2.3f] <-- FIN-ACK %d window 0x%X\n", elapsed.Seconds(), hdr.AckSeq, hdr.RecvWnd)
		s.connected.Store(false)
		s.stopReporter()
		return elapsed, nil
	}

	return 0, s.fail("close", fmt.Errorf("%w: FIN 尝试 %d 次", ErrTimeout, s.config.MaxDataAttempts))
}

// Release 停止统计线程并关闭套接字
func (s *SenderSocket) Release() error {
	s.stopReporter()
	s.connected.Store(false)
	return s.conn.Close()
}

// =============================================================================
// 接收确认
// =============================================================================

// receiveAck 在当前 RTO 内等待确认
//
// 握手/FIN 模式只接受 ackSeq == seq; 数据模式 ackSeq > seq 为确认,
// ackSeq == 发送基序号为重复确认, 达到阈值时返回快速重传.
// 畸形包或来自其他地址的包被丢弃, 剩余等待时间不重置.
func (s *SenderSocket) receiveAck(seq uint32, handshake bool) (ackOutcome, *protocol.ReceiverHeader, error) {
	deadline := time.Now().Add(s.rtt.CurrentRTO())
	dupAcks := 0

	for {
		remaining := time.Until(deadline)
		if remaining < recvSafetyMargin {
			break
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(remaining)); err != nil {
			s.trace("<--", "failed select with %v", err)
			return ackTimeout, nil, fmt.Errorf("%w: %v", ErrReceiveFailed, err)
		}

		n, from, err := s.conn.ReadFromUDP(s.recvBuf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.trace("<--", "failed recvfrom with %v", err)
			return ackTimeout, nil, fmt.Errorf("%w: %v", ErrReceiveFailed, err)
		}

		if !s.fromServer(from) {
			s.log(2, "丢弃来自 %s 的数据包", from)
			continue
		}

		hdr, err := protocol.DecodeReceiverHeader(s.recvBuf[:n])
		if err != nil {
			s.log(2, "丢弃数据包: %v", err)
			continue
		}

		if handshake {
			if hdr.AckSeq == seq {
				return ackExpected, hdr, nil
			}
			continue
		}

		if hdr.AckSeq > seq {
			return ackExpected, hdr, nil
		}
		if hdr.AckSeq == s.counters.SenderBase() {
			dupAcks++
			if dupAcks == s.config.FastRetxThreshold {
				s.counters.IncFastRetransmits()
				s.log(2, "seq %d 收到 %d 个重复确认, 快速重传", seq, dupAcks)
				return ackFastRetransmit, hdr, nil
			}
		}
	}

	s.counters.IncTimeouts()
	return ackTimeout, nil, nil
}

// =============================================================================
// 辅助方法
// =============================================================================

func (s *SenderSocket) sendPacket(pkt []byte) error {
	if _, err := s.conn.WriteToUDP(pkt, s.server.Load()); err != nil {
		s.trace("-->", "failed sendto with %v", err)
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

func (s *SenderSocket) fromServer(from *net.UDPAddr) bool {
	server := s.server.Load()
	return from != nil && server != nil && from.Port == server.Port && from.IP.Equal(server.IP)
}

// publishRTT 将估算值成对写入共享计数器
func (s *SenderSocket) publishRTT() {
	est, dev := s.rtt.SmoothedMillis()
	s.counters.SetRTT(est, dev)
}

func (s *SenderSocket) startReporter() {
	if s.reporter != nil {
		return
	}
	s.reporter = metrics.NewStatsReporter(s.counters, s.config.StatsInterval, s.out)
	s.reporter.Start()
}

func (s *SenderSocket) stopReporter() {
	if s.reporter == nil {
		return
	}
	s.reporter.Stop()
	s.reporter = nil
}

// fail 打印诊断行并返回错误
func (s *SenderSocket) fail(op string, err error) error {
	s.trace("---", "%s failed with status %d: %v", op, Status(err), err)
	return err
}

// trace 打印相对连接开始时间的诊断行
func (s *SenderSocket) trace(dir string, format string, args ...interface{}) {
	fmt.Fprintf(s.out, "[%2.3f] %s %s\n", s.counters.Elapsed().Seconds(), dir, fmt.Sprintf(format, args...))
}

func (s *SenderSocket) log(level int, format string, args ...interface{}) {
	if level > s.logLevel {
		return
	}
	prefix := map[int]string{0: "[ERROR]", 1: "[INFO]", 2: "[DEBUG]"}[level]
	fmt.Fprintf(s.out, "%s %s [RDP] %s\n", prefix, time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}

// =============================================================================
// 访问器
// =============================================================================

// Connected 是否已连接
func (s *SenderSocket) Connected() bool {
	return s.connected.Load()
}

// RTO 当前重传超时
func (s *SenderSocket) RTO() time.Duration {
	return s.rtt.CurrentRTO()
}

// RTTEstimator 返回 RTT 估算器
func (s *SenderSocket) RTTEstimator() *congestion.RTTEstimator {
	return s.rtt
}

// LossEstimator 返回丢包率估算器
func (s *SenderSocket) LossEstimator() *congestion.LossEstimator {
	return s.loss
}

// Counters 返回共享计数器
func (s *SenderSocket) Counters() *metrics.TransferCounters {
	return s.counters
}

// LocalAddr 本地地址
func (s *SenderSocket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// RemoteAddr 对端地址 (Open 之后有效)
func (s *SenderSocket) RemoteAddr() *net.UDPAddr {
	return s.server.Load()
}
