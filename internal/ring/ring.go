package ring

// Buffer 是按需扩容的环形字节缓冲，容量始终为 2 的幂。
// 不做并发保护，只在驱动 Base 的 goroutine 中使用。
type Buffer struct {
	buf      []byte
	mask     int
	readPos  int
	writePos int
}

const minCap = 64

// New 返回容量至少为 capacity 的缓冲，非 2 的幂时向上取整。
func New(capacity int) *Buffer {
	c := roundPow2(capacity)
	return &Buffer{buf: make([]byte, c), mask: c - 1}
}

func roundPow2(n int) int {
	c := minCap
	for c < n {
		c <<= 1
	}
	return c
}

func (b *Buffer) Cap() int { return len(b.buf) }

func (b *Buffer) Len() int { return b.writePos - b.readPos }

func (b *Buffer) Free() int { return b.Cap() - b.Len() }

// grow 扩容并把数据搬到起始位置
func (b *Buffer) grow(need int) {
	n := b.Len()
	nb := make([]byte, roundPow2(n+need))
	b.copyOut(nb[:n])
	b.buf = nb
	b.mask = len(nb) - 1
	b.readPos = 0
	b.writePos = n
}

// copyOut 从读指针处拷贝 len(dst) 字节，不前进读指针。
func (b *Buffer) copyOut(dst []byte) {
	n := len(dst)
	start := b.readPos & b.mask
	end := start + n
	if end <= len(b.buf) {
		copy(dst, b.buf[start:end])
		return
	}
	l := len(b.buf) - start
	copy(dst[:l], b.buf[start:])
	copy(dst[l:], b.buf[:n-l])
}

// Write 追加数据，空间不足时扩容，总是返回 len(p), nil。
func (b *Buffer) Write(p []byte) (int, error) {
	n := len(p)
	if n > b.Free() {
		b.grow(n)
	}
	start := b.writePos & b.mask
	end := start + n
	if end <= len(b.buf) {
		copy(b.buf[start:end], p)
	} else {
		l := len(b.buf) - start
		copy(b.buf[start:], p[:l])
		copy(b.buf[:n-l], p[l:])
	}
	b.writePos += n
	return n, nil
}

// Read 读出最多 len(p) 字节并前进读指针。
func (b *Buffer) Read(p []byte) int {
	n := len(p)
	if ln := b.Len(); n > ln {
		n = ln
	}
	b.copyOut(p[:n])
	b.Discard(n)
	return n
}

// Peek 读取最多 n 字节但不前进读指针。
// 数据跨越尾部时返回拷贝，否则返回内部切片视图。
func (b *Buffer) Peek(n int) []byte {
	if n <= 0 {
		return nil
	}
	ln := b.Len()
	if n > ln {
		n = ln
	}
	start := b.readPos & b.mask
	end := start + n
	if end <= len(b.buf) {
		return b.buf[start:end]
	}
	buf := make([]byte, n)
	b.copyOut(buf)
	return buf
}

// Discard 前进读指针。
func (b *Buffer) Discard(n int) int {
	ln := b.Len()
	if n > ln {
		n = ln
	}
	b.readPos += n
	if b.readPos == b.writePos {
		b.readPos, b.writePos = 0, 0
	}
	return n
}

// Reset 丢弃全部数据
func (b *Buffer) Reset() { b.readPos, b.writePos = 0, 0 }
