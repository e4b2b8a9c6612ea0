package native

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/evbase/poller"
)

// Base 是原生轮询上下文
type Base struct {
	poller poller.Poller
	fds    map[int]*fdEntry
	sigs   *signalSource

	timers   timerHeap
	timerSeq uint64

	// 每个优先级一个激活队列，下标越小越先派发
	queues  []*queue.Queue
	nactive int

	nbound int // 绑定到本 base 的外部事件
	npend  int // 处于 pending 状态的事件（含内部事件）

	exitEv *Event

	onError func(error)

	running  atomic.Bool
	gotterm  atomic.Bool
	gotbreak atomic.Bool

	freed bool
}

type fdEntry struct {
	events     []*Event
	registered bool
}

func (e *fdEntry) interest() (readable, writable bool) {
	for _, ev := range e.events {
		readable = readable || ev.what&Read != 0
		writable = writable || ev.what&Write != 0
	}
	return
}

type activeEntry struct {
	ev  *Event
	seq uint64
}

// NewBase 创建原生上下文；maxEvents 为单轮 poll 的事件上限。
func NewBase(maxEvents int) (*Base, error) {
	p, err := poller.New(maxEvents)
	if err != nil {
		if errors.Is(err, poller.ErrUnavailable) {
			return nil, ErrUnavailable
		}
		return nil, fmt.Errorf("native: create poller: %w", err)
	}
	b := &Base{
		poller: p,
		fds:    make(map[int]*fdEntry),
		queues: []*queue.Queue{queue.New()},
	}
	b.sigs = newSignalSource(p.Wake)
	return b, nil
}

// Free 销毁上下文；仍有事件绑定时拒绝（ErrBusy）。
func (b *Base) Free() error {
	if b.freed {
		return ErrFreed
	}
	if b.nbound > 0 {
		return fmt.Errorf("%w (%d)", ErrBusy, b.nbound)
	}
	if b.exitEv != nil {
		_ = b.exitEv.Free()
		b.exitEv = nil
	}
	b.sigs.close()
	b.freed = true
	return b.poller.Close()
}

func (b *Base) Freed() bool { return b.freed }

// PriorityInit 设置优先级数量；有事件处于激活状态时拒绝。
func (b *Base) PriorityInit(n int) error {
	if b.freed {
		return ErrFreed
	}
	if n < 1 || n > MaxPriorities {
		return fmt.Errorf("%w: %d levels", ErrPriority, n)
	}
	if b.nactive > 0 {
		return ErrPending
	}
	if n == len(b.queues) {
		return nil
	}
	qs := make([]*queue.Queue, n)
	for i := range qs {
		qs[i] = queue.New()
	}
	b.queues = qs
	return nil
}

// Priorities 返回当前优先级数量
func (b *Base) Priorities() int { return len(b.queues) }

// NumPending 返回处于 pending 状态的事件数
func (b *Base) NumPending() int { return b.npend }

// NumActive 返回等待派发的事件数
func (b *Base) NumActive() int { return b.nactive }

// NumBound 返回绑定到本 base 的外部事件数
func (b *Base) NumBound() int { return b.nbound }

// recount 在 ev 的 pending 状态变化后维护计数
func (b *Base) recount(ev *Event) {
	p := ev.pending()
	switch {
	case p && !ev.counted:
		ev.counted = true
		b.npend++
	case !p && ev.counted:
		ev.counted = false
		b.npend--
	}
}

func (b *Base) activate(ev *Event, res What) {
	if ev.active {
		ev.res |= res
		return
	}
	pri := ev.pri
	if pri >= len(b.queues) {
		pri = len(b.queues) - 1
	}
	ev.active = true
	ev.res = res
	ev.seq++
	b.queues[pri].Add(activeEntry{ev: ev, seq: ev.seq})
	b.nactive++
}

// deactivate 把 ev 移出激活状态；队列中的旧条目在出队时按 seq 丢弃。
func (b *Base) deactivate(ev *Event) What {
	if !ev.active {
		return 0
	}
	res := ev.res
	ev.active = false
	ev.res = 0
	b.nactive--
	return res
}

func ignorableDel(err error) bool {
	return errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT)
}

func (b *Base) ioAdd(ev *Event) error {
	ent := b.fds[ev.fd]
	if ent == nil {
		ent = &fdEntry{}
	}
	oldR, oldW := ent.interest()
	ent.events = append(ent.events, ev)
	r, w := ent.interest()

	var err error
	switch {
	case !ent.registered:
		err = b.poller.Register(ev.fd, r, w)
		if errors.Is(err, unix.EEXIST) {
			err = b.poller.Mod(ev.fd, r, w)
		}
	case r != oldR || w != oldW:
		err = b.poller.Mod(ev.fd, r, w)
		if errors.Is(err, unix.ENOENT) {
			// fd 被关闭后号码被复用，内核里已没有旧注册
			err = b.poller.Register(ev.fd, r, w)
		}
	}
	if err != nil {
		ent.events = ent.events[:len(ent.events)-1]
		if len(ent.events) == 0 && ent.registered {
			_ = b.poller.Unregister(ev.fd)
			delete(b.fds, ev.fd)
		}
		return fmt.Errorf("%w: fd %d: %w", ErrBadDescriptor, ev.fd, err)
	}
	ent.registered = true
	b.fds[ev.fd] = ent
	return nil
}

func (b *Base) ioDel(ev *Event) error {
	ent := b.fds[ev.fd]
	if ent == nil {
		return nil
	}
	oldR, oldW := ent.interest()
	for i, e := range ent.events {
		if e == ev {
			ent.events = append(ent.events[:i], ent.events[i+1:]...)
			break
		}
	}
	if len(ent.events) == 0 {
		delete(b.fds, ev.fd)
		if err := b.poller.Unregister(ev.fd); err != nil && !ignorableDel(err) {
			return err
		}
		return nil
	}
	r, w := ent.interest()
	if r != oldR || w != oldW {
		if err := b.poller.Mod(ev.fd, r, w); err != nil && !ignorableDel(err) {
			return err
		}
	}
	return nil
}

// readiness 把 poller 回调转成事件激活
type readiness Base

func (r *readiness) activateFd(fd int, mask What) {
	b := (*Base)(r)
	ent := b.fds[fd]
	if ent == nil {
		return
	}
	for _, ev := range ent.events {
		if res := ev.what & mask; res != 0 {
			b.activate(ev, res)
		}
	}
}

func (r *readiness) OnReadable(fd poller.FD) { r.activateFd(fd, Read) }

func (r *readiness) OnWritable(fd poller.FD) { r.activateFd(fd, Write) }

// OnClose 出错或挂断时，读写两个方向的事件都激活，由回调自己读到 EOF/错误
func (r *readiness) OnClose(fd poller.FD, err error) { r.activateFd(fd, Read|Write) }

// forget 只从 fd 表中移除 ev，不修改 poller
func (b *Base) forget(ev *Event) {
	ent := b.fds[ev.fd]
	if ent == nil {
		return
	}
	for i, e := range ent.events {
		if e == ev {
			ent.events = append(ent.events[:i], ent.events[i+1:]...)
			break
		}
	}
	if len(ent.events) == 0 {
		delete(b.fds, ev.fd)
	}
}
