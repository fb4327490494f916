// =============================================================================
// 文件: cmd/rdp-sender/driver.go
// 描述: 传输驱动 - 生成缓冲区、握手、分块发送、拆除、校验和报告
// =============================================================================
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/mrcgq/rdp/internal/checksum"
	"github.com/mrcgq/rdp/internal/config"
	"github.com/mrcgq/rdp/internal/protocol"
	"github.com/mrcgq/rdp/internal/transport"
)

// wordsPerUnit 每个数据单元携带的 uint32 个数
const wordsPerUnit = protocol.MaxPayloadSize / 4

// sender 驱动所需的发送端操作
type sender interface {
	Open(destination string, port int, windowSize uint32, lp protocol.LinkProperties) error
	Send(payload []byte) error
	Close() (time.Duration, error)
}

// rttSource 读取平滑 RTT (毫秒)
type rttSource interface {
	RTT() (estMs, devMs float64)
}

type driver struct {
	cfg    *config.Config
	sender sender
	rtt    rttSource
	out    io.Writer
}

func newDriver(cfg *config.Config, s *transport.SenderSocket, out io.Writer) *driver {
	return &driver{
		cfg:    cfg,
		sender: s,
		rtt:    s.Counters(),
		out:    out,
	}
}

// transfer 执行完整传输, 返回状态码
func (d *driver) transfer(ctx context.Context) int {
	link := d.linkProperties()
	window := uint32(d.cfg.Sender.WindowSize)

	fmt.Fprintf(d.out, "Main:   sender W = %d, RTT = %.3f sec, loss %g / %g, link %g Mbps\n",
		window, d.cfg.Link.RTTSec, d.cfg.Link.LossForward, d.cfg.Link.LossReturn, d.cfg.Link.SpeedMbps)

	fmt.Fprintf(d.out, "Main:   initializing DWORD array with 2^%d elements... ", d.cfg.Sender.BufferPower)
	start := time.Now()
	words := makeBuffer(d.cfg.Sender.BufferPower)
	fmt.Fprintf(d.out, "done in %d ms\n", time.Since(start).Milliseconds())

	start = time.Now()
	if err := d.sender.Open(d.cfg.Sender.Destination, d.cfg.Sender.Port, window, link); err != nil {
		return d.failed("open", err)
	}
	fmt.Fprintf(d.out, "Main:   connected to %s in %0.3f sec, pkt size %d bytes\n",
		d.cfg.Sender.Destination, time.Since(start).Seconds(), protocol.MaxPacketSize)

	start = time.Now()
	unit := make([]byte, 0, protocol.MaxPayloadSize)
	for off := 0; off < len(words); off += wordsPerUnit {
		if err := ctx.Err(); err != nil {
			fmt.Fprintf(d.out, "Main:   transfer interrupted: %v\n", err)
			return transport.StatusUnknown
		}

		end := off + wordsPerUnit
		if end > len(words) {
			end = len(words)
		}
		unit = encodeWords(unit[:0], words[off:end])

		if err := d.sender.Send(unit); err != nil {
			return d.failed("send", err)
		}
	}
	transferTime := time.Since(start)

	if _, err := d.sender.Close(); err != nil {
		return d.failed("close", err)
	}

	fmt.Fprintf(d.out, "Main:   transfer finished in %0.3f sec\n", transferTime.Seconds())

	estRTT, _ := d.rtt.RTT()
	fmt.Fprintf(d.out, "Main:   estRTT %0.3f, ideal rate %0.2f Kbps, checksum 0x%X\n",
		estRTT/1000, idealRateKbps(window, estRTT), checksum.Uint32s(words))

	return transport.StatusOK
}

func (d *driver) failed(op string, err error) int {
	status := transport.Status(err)
	fmt.Fprintf(d.out, "Main:   %s failed with status %d\n", op, status)
	return status
}

// linkProperties 由配置生成握手链路参数
func (d *driver) linkProperties() protocol.LinkProperties {
	return protocol.LinkProperties{
		RTT:   float32(d.cfg.Link.RTTSec),
		Speed: float32(d.cfg.Link.SpeedMbps * 1e6),
		PLoss: [2]float32{
			float32(d.cfg.Link.LossForward),
			float32(d.cfg.Link.LossReturn),
		},
	}
}

// makeBuffer 生成 2^power 个 uint32, 第 i 个元素为 i
func makeBuffer(power int) []uint32 {
	words := make([]uint32, 1<<uint(power))
	for i := range words {
		words[i] = uint32(i)
	}
	return words
}

// encodeWords 按小端追加 uint32 序列
func encodeWords(dst []byte, words []uint32) []byte {
	for _, w := range words {
		dst = binary.LittleEndian.AppendUint32(dst, w)
	}
	return dst
}

// idealRateKbps 窗口受限的理想速率: W * 包长 * 8 / RTT(ms)
func idealRateKbps(window uint32, estRTTMs float64) float64 {
	if estRTTMs <= 0 {
		return 0
	}
	return float64(window) * protocol.MaxPacketSize * 8 / estRTTMs
}
