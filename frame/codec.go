// Package frame 提供 BufferEvent 上的消息分帧，body 可选 zstd 压缩。
package frame

import (
	"encoding/binary"
	"fmt"
)

// Frame 是解析出的一帧
type Frame struct {
	Kind       uint16
	Payload    []byte
	Compressed bool
}

// Append 把一帧追加到 dst 并返回新切片。
func Append(dst []byte, kind uint16, payload []byte, compress bool) ([]byte, error) {
	body := payload
	if compress {
		zw := getEncoder()
		body = zw.EncodeAll(payload, nil)
		putEncoder(zw)
	}
	if len(body) > MaxBody {
		return dst, ErrTooLarge
	}
	dst = putHeader(dst, len(body), compress)
	dst = binary.BigEndian.AppendUint16(dst, kind)
	return append(dst, body...), nil
}

// Next 从 buf 头部解析一帧，返回帧与消耗的字节数。
// 数据不足时返回 ErrIncomplete，调用方应等待更多数据。
// 未压缩帧的 Payload 引用 buf 内存。
func Next(buf []byte) (Frame, int, error) {
	used, length, compressed, err := readHeader(buf)
	if err != nil {
		return Frame{}, 0, err
	}
	total := used + kindSize + length
	if len(buf) < total {
		return Frame{}, 0, ErrIncomplete
	}
	f := Frame{
		Kind:       binary.BigEndian.Uint16(buf[used:]),
		Payload:    buf[used+kindSize : total],
		Compressed: compressed,
	}
	if compressed {
		dz := getDecoder()
		out, derr := dz.DecodeAll(f.Payload, nil)
		putDecoder(dz)
		if derr != nil {
			return Frame{}, total, fmt.Errorf("frame: decompress kind %d: %w", f.Kind, derr)
		}
		f.Payload = out
	}
	return f, total, nil
}

// HeaderLen 返回 body 长度为 n 时帧头加 Kind 的字节数
func HeaderLen(n int) int {
	if n <= shortMaxLen {
		return 2 + kindSize
	}
	return 4 + kindSize
}
