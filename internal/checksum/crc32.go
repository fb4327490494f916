// =============================================================================
// 文件: internal/checksum/crc32.go
// 描述: 缓冲区校验和 (CRC-32/IEEE, 与接收端一致)
// =============================================================================
package checksum

import (
	"encoding/binary"
	"hash/crc32"
)

// CRC32 计算字节序列的 CRC-32 (IEEE 多项式)
func CRC32(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// Uint32s 将 uint32 序列按小端展开后计算 CRC-32
func Uint32s(words []uint32) uint32 {
	h := crc32.NewIEEE()
	var buf [4096]byte
	for len(words) > 0 {
		n := len(words)
		if n > len(buf)/4 {
			n = len(buf) / 4
		}
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(buf[i*4:], words[i])
		}
		h.Write(buf[:n*4])
		words = words[n:]
	}
	return h.Sum32()
}
