// =============================================================================
// 文件: internal/protocol/protocol.go
// 描述: RDP 线路格式 - 四种固定布局包头的编解码
// =============================================================================

package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// =============================================================================
// 协议常量
// =============================================================================

const (
	// MagicProtocol 协议魔数 (24 bit)
	MagicProtocol uint32 = 0x8311AA

	// MagicPort 接收端默认端口
	MagicPort = 22345

	// MaxPacketSize 以太网 MTU(1500) - IP/UDP 头(28)
	MaxPacketSize = 1500 - 28

	// 包头大小
	FlagsSize            = 4
	LinkPropertiesSize   = 20
	SenderDataHeaderSize = FlagsSize + 4
	SenderSynHeaderSize  = SenderDataHeaderSize + LinkPropertiesSize
	ReceiverHeaderSize   = FlagsSize + 4 + 4

	// MaxPayloadSize 单个数据单元的最大负载
	MaxPayloadSize = MaxPacketSize - SenderDataHeaderSize

	// 路径方向
	ForwardPath = 0
	ReturnPath  = 1
)

// 标志位 (位于 32 bit 标志字的低 8 位, 高 24 位为魔数)
const (
	flagReservedMask uint32 = 0x1F
	flagSYN          uint32 = 1 << 5
	flagACK          uint32 = 1 << 6
	flagFIN          uint32 = 1 << 7
	magicShift              = 8
)

// ByteOrder 参考接收端按小端主机序读取包头
var ByteOrder = binary.LittleEndian

// ErrMalformedPacket 魔数不匹配或长度不足
var ErrMalformedPacket = fmt.Errorf("畸形数据包")

// =============================================================================
// 标志字
// =============================================================================

// Flags 包标志
type Flags struct {
	Reserved uint8 // 必须为 0
	SYN      bool
	ACK      bool
	FIN      bool
	Magic    uint32
}

// NewFlags 创建带魔数的空标志
func NewFlags() Flags {
	return Flags{Magic: MagicProtocol}
}

// Pack 打包为 32 bit 标志字
func (f Flags) Pack() uint32 {
	v := uint32(f.Reserved) & flagReservedMask
	if f.SYN {
		v |= flagSYN
	}
	if f.ACK {
		v |= flagACK
	}
	if f.FIN {
		v |= flagFIN
	}
	v |= (f.Magic & 0xFFFFFF) << magicShift
	return v
}

// UnpackFlags 解包标志字
func UnpackFlags(v uint32) Flags {
	return Flags{
		Reserved: uint8(v & flagReservedMask),
		SYN:      v&flagSYN != 0,
		ACK:      v&flagACK != 0,
		FIN:      v&flagFIN != 0,
		Magic:    v >> magicShift,
	}
}

// Valid 魔数校验
func (f Flags) Valid() bool {
	return f.Magic == MagicProtocol
}

func (f Flags) String() string {
	s := ""
	if f.SYN {
		s += "S"
	}
	if f.ACK {
		s += "A"
	}
	if f.FIN {
		s += "F"
	}
	if s == "" {
		s = "-"
	}
	return fmt.Sprintf("%s/%06X", s, f.Magic)
}

// =============================================================================
// 链路参数
// =============================================================================

// LinkProperties 仿真链路参数 (随 SYN 发送)
type LinkProperties struct {
	RTT        float32    // 传播 RTT (秒)
	Speed      float32    // 瓶颈带宽 (bit/s)
	PLoss      [2]float32 // 正向/反向丢包率
	BufferSize uint32     // 仿真路由器缓冲 (包)
}

func (lp *LinkProperties) put(b []byte) {
	ByteOrder.PutUint32(b[0:4], math.Float32bits(lp.RTT))
	ByteOrder.PutUint32(b[4:8], math.Float32bits(lp.Speed))
	ByteOrder.PutUint32(b[8:12], math.Float32bits(lp.PLoss[ForwardPath]))
	ByteOrder.PutUint32(b[12:16], math.Float32bits(lp.PLoss[ReturnPath]))
	ByteOrder.PutUint32(b[16:20], lp.BufferSize)
}

func (lp *LinkProperties) get(b []byte) {
	lp.RTT = math.Float32frombits(ByteOrder.Uint32(b[0:4]))
	lp.Speed = math.Float32frombits(ByteOrder.Uint32(b[4:8]))
	lp.PLoss[ForwardPath] = math.Float32frombits(ByteOrder.Uint32(b[8:12]))
	lp.PLoss[ReturnPath] = math.Float32frombits(ByteOrder.Uint32(b[12:16]))
	lp.BufferSize = ByteOrder.Uint32(b[16:20])
}

// =============================================================================
// 发送端包头
// =============================================================================

// SenderDataHeader 数据/FIN 包头
type SenderDataHeader struct {
	Flags Flags
	Seq   uint32 // 从 0 开始, 每个确认的单元 +1
}

// NewDataHeader 创建数据包头
func NewDataHeader(seq uint32) SenderDataHeader {
	return SenderDataHeader{Flags: NewFlags(), Seq: seq}
}

// NewFinHeader 创建 FIN 包头
func NewFinHeader(seq uint32) SenderDataHeader {
	h := NewDataHeader(seq)
	h.Flags.FIN = true
	return h
}

// MarshalTo 写入 buf, 返回写入长度
func (h *SenderDataHeader) MarshalTo(buf []byte) (int, error) {
	if len(buf) < SenderDataHeaderSize {
		return 0, fmt.Errorf("缓冲区太短: %d < %d", len(buf), SenderDataHeaderSize)
	}
	ByteOrder.PutUint32(buf[0:4], h.Flags.Pack())
	ByteOrder.PutUint32(buf[4:8], h.Seq)
	return SenderDataHeaderSize, nil
}

// Encode 编码包头
func (h *SenderDataHeader) Encode() []byte {
	buf := make([]byte, SenderDataHeaderSize)
	h.MarshalTo(buf)
	return buf
}

// DecodeSenderDataHeader 解码数据/FIN 包头
func DecodeSenderDataHeader(data []byte) (*SenderDataHeader, error) {
	if len(data) < SenderDataHeaderSize {
		return nil, fmt.Errorf("%w: 数据太短 %d < %d", ErrMalformedPacket, len(data), SenderDataHeaderSize)
	}
	flags := UnpackFlags(ByteOrder.Uint32(data[0:4]))
	if !flags.Valid() {
		return nil, fmt.Errorf("%w: 魔数 0x%06X", ErrMalformedPacket, flags.Magic)
	}
	return &SenderDataHeader{
		Flags: flags,
		Seq:   ByteOrder.Uint32(data[4:8]),
	}, nil
}

// EncodeDataPacket 编码数据单元: 包头 + 负载
func EncodeDataPacket(seq uint32, payload []byte) []byte {
	h := NewDataHeader(seq)
	buf := make([]byte, SenderDataHeaderSize+len(payload))
	h.MarshalTo(buf)
	copy(buf[SenderDataHeaderSize:], payload)
	return buf
}

// SenderSynHeader 握手包头
type SenderSynHeader struct {
	SenderDataHeader
	Link LinkProperties
}

// NewSynHeader 创建 SYN 包头
func NewSynHeader(seq uint32, lp LinkProperties) SenderSynHeader {
	h := SenderSynHeader{
		SenderDataHeader: NewDataHeader(seq),
		Link:             lp,
	}
	h.Flags.SYN = true
	return h
}

// Encode 编码握手包
func (h *SenderSynHeader) Encode() []byte {
	buf := make([]byte, SenderSynHeaderSize)
	h.SenderDataHeader.MarshalTo(buf)
	h.Link.put(buf[SenderDataHeaderSize:])
	return buf
}

// DecodeSenderSynHeader 解码握手包
func DecodeSenderSynHeader(data []byte) (*SenderSynHeader, error) {
	if len(data) < SenderSynHeaderSize {
		return nil, fmt.Errorf("%w: 数据太短 %d < %d", ErrMalformedPacket, len(data), SenderSynHeaderSize)
	}
	sdh, err := DecodeSenderDataHeader(data)
	if err != nil {
		return nil, err
	}
	h := &SenderSynHeader{SenderDataHeader: *sdh}
	h.Link.get(data[SenderDataHeaderSize:])
	return h, nil
}

// =============================================================================
// 接收端包头
// =============================================================================

// ReceiverHeader 接收端确认
type ReceiverHeader struct {
	Flags   Flags
	RecvWnd uint32 // 接收窗口 (包)
	AckSeq  uint32 // 下一个期望的序列号
}

// NewReceiverHeader 创建确认包头
func NewReceiverHeader(recvWnd, ackSeq uint32) ReceiverHeader {
	f := NewFlags()
	f.ACK = true
	return ReceiverHeader{Flags: f, RecvWnd: recvWnd, AckSeq: ackSeq}
}

// Encode 编码确认包
func (h *ReceiverHeader) Encode() []byte {
	buf := make([]byte, ReceiverHeaderSize)
	ByteOrder.PutUint32(buf[0:4], h.Flags.Pack())
	ByteOrder.PutUint32(buf[4:8], h.RecvWnd)
	ByteOrder.PutUint32(buf[8:12], h.AckSeq)
	return buf
}

// DecodeReceiverHeader 解码确认包
func DecodeReceiverHeader(data []byte) (*ReceiverHeader, error) {
	if len(data) < ReceiverHeaderSize {
		return nil, fmt.Errorf("%w: 数据太短 %d < %d", ErrMalformedPacket, len(data), ReceiverHeaderSize)
	}
	flags := UnpackFlags(ByteOrder.Uint32(data[0:4]))
	if !flags.Valid() {
		return nil, fmt.Errorf("%w: 魔数 0x%06X", ErrMalformedPacket, flags.Magic)
	}
	return &ReceiverHeader{
		Flags:   flags,
		RecvWnd: ByteOrder.Uint32(data[4:8]),
		AckSeq:  ByteOrder.Uint32(data[8:12]),
	}, nil
}
