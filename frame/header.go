package frame

import (
	"encoding/binary"
	"errors"
)

// 帧头编码：
// 短头（2B，BE）：
//   bit15: Compressed
//   bit14: Ext=0
//   bit13..0: Len14 (0..16383)
// 长头（4B，BE）：
//   bit31: Compressed
//   bit30: Ext=1
//   bit29..0: Len30
// 帧头之后是 Kind(uint16, BE)，再之后是 Len 字节的 body。

const (
	shortMaxLen = (1 << 14) - 1
	// MaxBody 单帧 body 的最大长度
	MaxBody = (1 << 30) - 1

	kindSize = 2
)

var (
	// ErrIncomplete 缓冲区中还没有完整的一帧
	ErrIncomplete = errors.New("frame: incomplete frame")

	// ErrTooLarge body 超过 MaxBody
	ErrTooLarge = errors.New("frame: body too large")
)

// putHeader 把帧头写入 dst 末尾
func putHeader(dst []byte, length int, compressed bool) []byte {
	if length <= shortMaxLen {
		v := uint16(length)
		if compressed {
			v |= 1 << 15
		}
		return binary.BigEndian.AppendUint16(dst, v)
	}
	v := uint32(length) | 1<<30
	if compressed {
		v |= 1 << 31
	}
	return binary.BigEndian.AppendUint32(dst, v)
}

// readHeader 解析帧头，返回头长度、body 长度与压缩标记。
func readHeader(b []byte) (used int, length int, compressed bool, err error) {
	if len(b) < 2 {
		return 0, 0, false, ErrIncomplete
	}
	v16 := binary.BigEndian.Uint16(b)
	if v16&(1<<14) == 0 {
		return 2, int(v16 & shortMaxLen), v16&(1<<15) != 0, nil
	}
	if len(b) < 4 {
		return 0, 0, false, ErrIncomplete
	}
	v32 := binary.BigEndian.Uint32(b)
	return 4, int(v32 & MaxBody), v32&(1<<31) != 0, nil
}
