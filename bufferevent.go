package evbase

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/evbase/frame"
	"github.com/legamerdc/evbase/internal/native"
	"github.com/legamerdc/evbase/internal/ring"
)

// BufferReason 描述 BufferEvent 出错的方向与原因
type BufferReason uint16

const (
	BufferRead    BufferReason = 0x01
	BufferWrite   BufferReason = 0x02
	BufferEOF     BufferReason = 0x10
	BufferError   BufferReason = 0x20
	BufferTimeout BufferReason = 0x40
)

func (r BufferReason) String() string {
	var s []string
	for _, n := range []struct {
		bit  BufferReason
		name string
	}{{BufferRead, "READ"}, {BufferWrite, "WRITE"}, {BufferEOF, "EOF"}, {BufferError, "ERROR"}, {BufferTimeout, "TIMEOUT"}} {
		if r&n.bit != 0 {
			s = append(s, n.name)
		}
	}
	if len(s) == 0 {
		return "0"
	}
	return strings.Join(s, "|")
}

// BufferFunc 为 BufferEvent 的读写回调
type BufferFunc func(be *BufferEvent, arg any)

// BufferErrorFunc 为 BufferEvent 的错误回调；EOF 与超时时 err 为 nil
type BufferErrorFunc func(be *BufferEvent, reason BufferReason, err error, arg any)

const (
	readChunk      = 4096
	bufferInitSize = 4096
)

// BufferEvent 在一个 fd 上维护输入输出缓冲。
// 读回调在输入达到低水位时调用；写回调在输出降到低水位以下时调用；
// 输入达到高水位时暂停读取，直到调用方取走数据。
type BufferEvent struct {
	id   uint64
	fd   int
	base *Base

	rev, wev *native.Event
	in, out  *ring.Buffer
	scratch  []byte
	framebuf []byte

	readCb  BufferFunc
	writeCb BufferFunc
	errorCb BufferErrorFunc
	arg     any

	enabled      What
	readTimeout  time.Duration
	writeTimeout time.Duration
	readLow      int
	readHigh     int
	writeLow     int
	closeOnFree  bool
	freed        bool
}

// NewBufferEvent 在 fd 上创建 BufferEvent，默认启用写方向。
// fd 应为非阻塞；Free 默认不关闭 fd，见 SetCloseOnFree。
func NewBufferEvent(fd int, readCb, writeCb BufferFunc, errorCb BufferErrorFunc, arg any) (*BufferEvent, error) {
	be := &BufferEvent{
		id:           nextAttachID(),
		fd:           fd,
		rev:          native.NewEvent(),
		wev:          native.NewEvent(),
		in:           ring.New(bufferInitSize),
		out:          ring.New(bufferInitSize),
		scratch:      make([]byte, readChunk),
		readCb:       readCb,
		writeCb:      writeCb,
		errorCb:      errorCb,
		arg:          arg,
		enabled:      Write,
		readTimeout:  Forever,
		writeTimeout: Forever,
	}
	if err := be.rev.Set(fd, Read|Persist, be.onRead); err != nil {
		return nil, wrapNative("new buffer event", KindConfiguration, err)
	}
	if err := be.wev.Set(fd, Write|Persist, be.onWrite); err != nil {
		return nil, wrapNative("new buffer event", KindConfiguration, err)
	}
	return be, nil
}

func (be *BufferEvent) attachID() uint64 { return be.id }

// Fd 返回底层描述符
func (be *BufferEvent) Fd() int { return be.fd }

// SetCloseOnFree 让 Free 关闭 fd；fork 后的释放从不关闭
func (be *BufferEvent) SetCloseOnFree(v bool) { be.closeOnFree = v }

// SetBase 绑定到 b
func (be *BufferEvent) SetBase(b *Base) error {
	if be.freed {
		return errFreed("buffer set base")
	}
	if b == nil {
		return newErrorf(KindInvalidState, "buffer set base", "nil base")
	}
	if err := b.CheckResource(); err != nil {
		return err
	}
	// 两个方向要么一起换绑，要么都不动
	for _, ev := range []*native.Event{be.rev, be.wev} {
		if ev.Pending(Read|Write|Timeout|Signal) || ev.IsActive() {
			return wrapNative("buffer set base", KindConfiguration, native.ErrPending)
		}
	}
	if err := be.rev.SetBase(b.native); err != nil {
		return wrapNative("buffer set base", KindConfiguration, err)
	}
	if err := be.wev.SetBase(b.native); err != nil {
		return wrapNative("buffer set base", KindConfiguration, err)
	}
	if be.base != nil && be.base != b {
		be.base.detachID(be.id)
	}
	be.base = b
	b.attach(be)
	return nil
}

// Base 返回绑定的 Base
func (be *BufferEvent) Base() *Base { return be.base }

func (be *BufferEvent) check(op string) error {
	if be.freed {
		return errFreed(op)
	}
	if be.base == nil {
		return &Error{Kind: KindInvalidState, Op: op, Msg: "buffer event is not bound to a base", Err: native.ErrNoBase}
	}
	return be.base.CheckResource()
}

// Enable 启用 what 中的读写方向
func (be *BufferEvent) Enable(what What) error {
	if err := be.check("buffer enable"); err != nil {
		return err
	}
	if what&Read != 0 {
		be.enabled |= Read
		if err := be.armRead(); err != nil {
			return err
		}
	}
	if what&Write != 0 {
		be.enabled |= Write
		if be.out.Len() > 0 {
			return be.armWrite()
		}
	}
	return nil
}

// Disable 关闭 what 中的读写方向，缓冲内容保留
func (be *BufferEvent) Disable(what What) error {
	if be.freed {
		return errFreed("buffer disable")
	}
	var err error
	if what&Read != 0 {
		be.enabled &^= Read
		err = multierr.Append(err, wrapNative("buffer disable", KindOperation, be.rev.Del()))
	}
	if what&Write != 0 {
		be.enabled &^= Write
		err = multierr.Append(err, wrapNative("buffer disable", KindOperation, be.wev.Del()))
	}
	return err
}

// Enabled 返回当前启用的方向
func (be *BufferEvent) Enabled() What { return be.enabled }

func (be *BufferEvent) armRead() error {
	if be.readHigh > 0 && be.in.Len() >= be.readHigh {
		return nil
	}
	return wrapNative("buffer enable", KindOperation, be.rev.Add(be.readTimeout))
}

func (be *BufferEvent) armWrite() error {
	return wrapNative("buffer write", KindOperation, be.wev.Add(be.writeTimeout))
}

// resumeRead 在输入降到高水位以下后恢复读取
func (be *BufferEvent) resumeRead() {
	if be.freed || be.base == nil || be.enabled&Read == 0 || be.rev.Pending(Read) {
		return
	}
	_ = be.armRead()
}

// Write 追加到输出缓冲，启用写方向时装载写事件
func (be *BufferEvent) Write(p []byte) error {
	if be.freed {
		return errFreed("buffer write")
	}
	if len(p) == 0 {
		return nil
	}
	_, _ = be.out.Write(p)
	if be.enabled&Write != 0 && be.base != nil {
		return be.armWrite()
	}
	return nil
}

// WriteString 同 Write
func (be *BufferEvent) WriteString(s string) error { return be.Write([]byte(s)) }

// Read 从输入缓冲取出最多 len(p) 字节
func (be *BufferEvent) Read(p []byte) int {
	if be.freed {
		return 0
	}
	n := be.in.Read(p)
	if n > 0 {
		be.resumeRead()
	}
	return n
}

// Len 返回输入缓冲中的字节数
func (be *BufferEvent) Len() int { return be.in.Len() }

// OutputLen 返回尚未写出的字节数
func (be *BufferEvent) OutputLen() int { return be.out.Len() }

// SetWatermark 设置水位；写方向只有低水位
func (be *BufferEvent) SetWatermark(what What, low, high int) {
	if what&Read != 0 {
		be.readLow, be.readHigh = low, high
		if be.enabled&Read != 0 && be.base != nil && !be.freed {
			if high > 0 && be.in.Len() >= high {
				_ = be.rev.Del()
			} else {
				be.resumeRead()
			}
		}
	}
	if what&Write != 0 {
		be.writeLow = low
	}
}

// SetTimeouts 设置读写超时，Forever 表示不超时；已装载的方向立即按新超时重新装载
func (be *BufferEvent) SetTimeouts(read, write time.Duration) error {
	if be.freed {
		return errFreed("buffer set timeouts")
	}
	be.readTimeout, be.writeTimeout = read, write
	var err error
	if be.rev.Pending(Read) {
		err = multierr.Append(err, wrapNative("buffer set timeouts", KindOperation, be.rev.Add(read)))
	}
	if be.wev.Pending(Write) {
		err = multierr.Append(err, wrapNative("buffer set timeouts", KindOperation, be.wev.Add(write)))
	}
	return err
}

// SetPriority 设置读写事件的优先级
func (be *BufferEvent) SetPriority(pri int) error {
	if err := be.check("buffer set priority"); err != nil {
		return err
	}
	if err := be.rev.SetPriority(pri); err != nil {
		return wrapNative("buffer set priority", KindConfiguration, err)
	}
	return wrapNative("buffer set priority", KindConfiguration, be.wev.SetPriority(pri))
}

// WriteFrame 按 frame 格式写出一条消息
func (be *BufferEvent) WriteFrame(kind uint16, payload []byte, compress bool) error {
	buf, err := frame.Append(be.framebuf[:0], kind, payload, compress)
	if err != nil {
		return newError(KindOperation, "write frame", err)
	}
	be.framebuf = buf[:0]
	return be.Write(buf)
}

// ReadFrames 依次取出输入缓冲中的完整帧交给 fn，返回处理的帧数。
// Payload 只在 fn 内有效。fn 返回错误时停止，已处理的帧不会重复。
func (be *BufferEvent) ReadFrames(fn func(f frame.Frame) error) (int, error) {
	if be.freed {
		return 0, errFreed("read frames")
	}
	data := be.in.Peek(be.in.Len())
	off, n := 0, 0
	var err error
	for off < len(data) {
		f, used, ferr := frame.Next(data[off:])
		if errors.Is(ferr, frame.ErrIncomplete) {
			break
		}
		off += used
		if ferr != nil {
			err = newError(KindOperation, "read frames", ferr)
			break
		}
		n++
		if err = fn(f); err != nil {
			break
		}
	}
	if off > 0 && !be.freed {
		be.in.Discard(off)
		be.resumeRead()
	}
	return n, err
}

func (be *BufferEvent) fail(reason BufferReason, err error) {
	if reason&BufferRead != 0 {
		be.enabled &^= Read
		_ = be.rev.Del()
	}
	if reason&BufferWrite != 0 {
		be.enabled &^= Write
		_ = be.wev.Del()
	}
	if be.errorCb != nil {
		be.errorCb(be, reason, err, be.arg)
	}
}

func retryable(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}

func (be *BufferEvent) onRead(fd int, res What) {
	if res&Timeout != 0 {
		be.fail(BufferRead|BufferTimeout, nil)
		return
	}
	size := readChunk
	if be.readHigh > 0 {
		room := be.readHigh - be.in.Len()
		if room <= 0 {
			_ = be.rev.Del()
			return
		}
		size = min(size, room)
	}
	n, err := unix.Read(fd, be.scratch[:size])
	switch {
	case err != nil && retryable(err):
		return
	case err != nil:
		be.fail(BufferRead|BufferError, err)
		return
	case n == 0:
		be.fail(BufferRead|BufferEOF, nil)
		return
	}
	_, _ = be.in.Write(be.scratch[:n])
	if be.readHigh > 0 && be.in.Len() >= be.readHigh {
		_ = be.rev.Del()
	}
	if be.in.Len() < be.readLow {
		return
	}
	if be.readCb != nil {
		be.readCb(be, be.arg)
	}
}

func (be *BufferEvent) onWrite(fd int, res What) {
	if res&Timeout != 0 {
		be.fail(BufferWrite|BufferTimeout, nil)
		return
	}
	if be.out.Len() > 0 {
		n, err := unix.Write(fd, be.out.Peek(be.out.Len()))
		switch {
		case err != nil && retryable(err):
			return
		case err != nil:
			be.fail(BufferWrite|BufferError, err)
			return
		case n == 0:
			be.fail(BufferWrite|BufferEOF, nil)
			return
		}
		be.out.Discard(n)
	}
	if be.out.Len() == 0 {
		_ = be.wev.Del()
	}
	if be.writeCb != nil && be.out.Len() <= be.writeLow {
		be.writeCb(be, be.arg)
	}
}

// flush 尽力把输出一次性写出，不等待
func (be *BufferEvent) flush() {
	for be.out.Len() > 0 {
		n, err := unix.Write(be.fd, be.out.Peek(be.out.Len()))
		if err != nil || n <= 0 {
			return
		}
		be.out.Discard(n)
	}
}

// Free 释放 BufferEvent：尽力写出剩余输出，然后释放读写事件
func (be *BufferEvent) Free() error {
	if be.freed {
		return nil
	}
	if be.base != nil {
		be.base.detachID(be.id)
	}
	return be.detach(false)
}

func (be *BufferEvent) detach(afterFork bool) error {
	if be.freed {
		return nil
	}
	var rerr, werr error
	if afterFork {
		// 子进程里丢弃输出，fd 仍属于父进程
		be.out.Reset()
		rerr, werr = be.rev.Abandon(), be.wev.Abandon()
	} else {
		be.flush()
		rerr, werr = be.rev.Free(), be.wev.Free()
	}
	var err error
	for _, e := range []error{rerr, werr} {
		if !tolerable(e) {
			err = multierr.Append(err, wrapNative("buffer free", KindOperation, e))
		}
	}
	if !afterFork && be.closeOnFree {
		if e := unix.Close(be.fd); e != nil {
			err = multierr.Append(err, newError(KindOperation, "buffer free", e))
		}
	}
	be.freed = true
	be.base = nil
	be.enabled = 0
	return err
}
