package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mrcgq/rdp/internal/checksum"
	"github.com/mrcgq/rdp/internal/config"
	"github.com/mrcgq/rdp/internal/protocol"
	"github.com/mrcgq/rdp/internal/transport"
)

// fakeSender 记录驱动调用
type fakeSender struct {
	openErr  error
	sendErr  error
	failAt   int
	closeErr error

	window uint32
	link   protocol.LinkProperties
	units  [][]byte
	closed bool
}

func (f *fakeSender) Open(destination string, port int, windowSize uint32, lp protocol.LinkProperties) error {
	f.window = windowSize
	f.link = lp
	return f.openErr
}

func (f *fakeSender) Send(payload []byte) error {
	if f.sendErr != nil && len(f.units) == f.failAt {
		return f.sendErr
	}
	f.units = append(f.units, append([]byte(nil), payload...))
	return nil
}

func (f *fakeSender) Close() (time.Duration, error) {
	f.closed = true
	return time.Millisecond, f.closeErr
}

type fixedRTT float64

func (r fixedRTT) RTT() (float64, float64) { return float64(r), 0 }

func testDriver(t *testing.T, power int, s *fakeSender) (*driver, *bytes.Buffer) {
	t.Helper()
	cfg := config.DefaultConfig()
	if err := cfg.ApplyArgs([]string{"127.0.0.1", fmt.Sprint(power), "10", "0.2", "0.1", "0.05", "100"}); err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	out := &bytes.Buffer{}
	return &driver{cfg: cfg, sender: s, rtt: fixedRTT(200), out: out}, out
}

func TestDriverTransfer(t *testing.T) {
	s := &fakeSender{}
	d, out := testDriver(t, 10, s)

	if status := d.transfer(context.Background()); status != transport.StatusOK {
		t.Fatalf("状态码错误: %d\n%s", status, out.String())
	}

	// 1024 个 uint32 = 4096 字节 -> 1464 + 1464 + 1168
	if len(s.units) != 3 {
		t.Fatalf("数据单元个数错误: got %d, want 3", len(s.units))
	}
	if len(s.units[0]) != protocol.MaxPayloadSize || len(s.units[2]) != 4096-2*protocol.MaxPayloadSize {
		t.Errorf("数据单元大小错误: %d %d", len(s.units[0]), len(s.units[2]))
	}

	all := bytes.Join(s.units, nil)
	for i := 0; i < 1024; i++ {
		if v := binary.LittleEndian.Uint32(all[i*4:]); v != uint32(i) {
			t.Fatalf("第 %d 个元素错误: %d", i, v)
		}
	}
	if !s.closed {
		t.Error("应调用 Close")
	}

	if s.window != 10 {
		t.Errorf("窗口错误: %d", s.window)
	}
	if s.link.Speed != 100e6 || s.link.PLoss[0] != float32(0.1) || s.link.PLoss[1] != float32(0.05) {
		t.Errorf("链路参数错误: %+v", s.link)
	}

	text := out.String()
	wantCRC := fmt.Sprintf("checksum 0x%X", checksum.CRC32(all))
	for _, want := range []string{
		"Main:   sender W = 10, RTT = 0.200 sec, loss 0.1 / 0.05, link 100 Mbps",
		"initializing DWORD array with 2^10 elements... done in",
		"connected to 127.0.0.1 in",
		"pkt size 1472 bytes",
		"transfer finished in",
		"estRTT 0.200, ideal rate 588.80 Kbps",
		wantCRC,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("输出缺少 %q:\n%s", want, text)
		}
	}
}

func TestDriverFailures(t *testing.T) {
	tests := []struct {
		name   string
		sender *fakeSender
		want   int
		line   string
	}{
		{"握手超时", &fakeSender{openErr: transport.ErrTimeout}, transport.StatusTimeout, "open failed with status 5"},
		{"无效主机", &fakeSender{openErr: transport.ErrInvalidName}, transport.StatusInvalidName, "open failed with status 3"},
		{"发送失败", &fakeSender{sendErr: fmt.Errorf("%w: boom", transport.ErrSendFailed), failAt: 1}, transport.StatusSendFailed, "send failed with status 4"},
		{"拆除超时", &fakeSender{closeErr: transport.ErrTimeout}, transport.StatusTimeout, "close failed with status 5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, out := testDriver(t, 10, tt.sender)
			if status := d.transfer(context.Background()); status != tt.want {
				t.Errorf("状态码错误: got %d, want %d", status, tt.want)
			}
			if !strings.Contains(out.String(), tt.line) {
				t.Errorf("输出缺少 %q:\n%s", tt.line, out.String())
			}
			if strings.Contains(out.String(), "checksum") {
				t.Error("失败时不应输出校验和")
			}
		})
	}
}

func TestDriverCancelled(t *testing.T) {
	s := &fakeSender{}
	d, _ := testDriver(t, 10, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if status := d.transfer(ctx); status == transport.StatusOK {
		t.Error("取消后不应返回成功")
	}
	if len(s.units) != 0 || s.closed {
		t.Errorf("取消后不应继续发送: %d units, closed=%v", len(s.units), s.closed)
	}
}

func TestMakeBuffer(t *testing.T) {
	words := makeBuffer(4)
	if len(words) != 16 {
		t.Fatalf("长度错误: %d", len(words))
	}
	for i, w := range words {
		if w != uint32(i) {
			t.Errorf("words[%d] = %d", i, w)
		}
	}
	if len(makeBuffer(0)) != 1 {
		t.Error("2^0 应为 1 个元素")
	}
}

func TestIdealRate(t *testing.T) {
	if got := idealRateKbps(10, 200); got != 588.8 {
		t.Errorf("idealRateKbps(10, 200) = %v, want 588.8", got)
	}
	if got := idealRateKbps(10, 0); got != 0 {
		t.Errorf("RTT 为 0 时应返回 0: %v", got)
	}
}
