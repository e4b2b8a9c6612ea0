package native

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Callback 在 Loop 的 goroutine 中被调用；fd 对信号事件为信号值，对纯定时器为 -1
type Callback func(fd int, res What)

// Event 是一次原生注册
type Event struct {
	base *Base

	fd         int
	what       What
	cb         Callback
	pri        int
	configured bool
	freed      bool
	internal   bool

	added    bool
	timeout  time.Duration
	deadline time.Time
	heapIdx  int
	timerSeq uint64

	active bool
	res    What
	seq    uint64

	counted bool
}

// NewEvent 分配一个未配置的事件
func NewEvent() *Event {
	return &Event{fd: -1, timeout: -1, heapIdx: -1}
}

func (ev *Event) busy() bool {
	return ev.pending() || ev.active
}

// pending 表示事件已装载（fd/信号兴趣或超时在堆中）
func (ev *Event) pending() bool {
	return ev.added || ev.heapIdx >= 0
}

// Set 配置 fd 事件
func (ev *Event) Set(fd int, what What, cb Callback) error {
	if ev.freed {
		return ErrFreed
	}
	if ev.busy() {
		return ErrPending
	}
	if cb == nil {
		return ErrBadCallback
	}
	if what&^allBits != 0 || what&Signal != 0 {
		return fmt.Errorf("%w: %s", ErrBadMask, what)
	}
	if what&(Read|Write) == 0 && what&Timeout == 0 {
		return fmt.Errorf("%w: %s", ErrBadMask, what)
	}
	if fd < 0 {
		return fmt.Errorf("%w: %d", ErrBadDescriptor, fd)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		return fmt.Errorf("%w: %d: %w", ErrBadDescriptor, fd, err)
	}
	ev.fd, ev.what, ev.cb = fd, what, cb
	ev.configured = true
	return nil
}

// SetSignal 配置信号事件
func (ev *Event) SetSignal(signo int, persist bool, cb Callback) error {
	if ev.freed {
		return ErrFreed
	}
	if ev.busy() {
		return ErrPending
	}
	if cb == nil {
		return ErrBadCallback
	}
	if !validSignal(signo) {
		return fmt.Errorf("%w: %d", ErrBadSignal, signo)
	}
	what := Signal
	if persist {
		what |= Persist
	}
	ev.fd, ev.what, ev.cb = signo, what, cb
	ev.configured = true
	return nil
}

// SetTimer 配置一次性纯超时事件
func (ev *Event) SetTimer(cb Callback) error {
	if ev.freed {
		return ErrFreed
	}
	if ev.busy() {
		return ErrPending
	}
	if cb == nil {
		return ErrBadCallback
	}
	ev.fd, ev.what, ev.cb = -1, 0, cb
	ev.configured = true
	return nil
}

// SetBase 绑定到 b；优先级重置为中间档
func (ev *Event) SetBase(b *Base) error {
	if ev.freed || b.freed {
		return ErrFreed
	}
	if ev.busy() {
		return ErrPending
	}
	if ev.base != b {
		if ev.base != nil && !ev.internal {
			ev.base.nbound--
		}
		if !ev.internal {
			b.nbound++
		}
		ev.base = b
	}
	ev.pri = len(b.queues) / 2
	return nil
}

// Base 返回绑定的上下文
func (ev *Event) Base() *Base { return ev.base }

// SetPriority 设置派发优先级；激活中时拒绝
func (ev *Event) SetPriority(pri int) error {
	if ev.freed {
		return ErrFreed
	}
	if ev.base == nil {
		return ErrNoBase
	}
	if ev.active {
		return ErrPending
	}
	if pri < 0 || pri >= len(ev.base.queues) {
		return fmt.Errorf("%w: %d", ErrPriority, pri)
	}
	ev.pri = pri
	return nil
}

func (ev *Event) Priority() int { return ev.pri }

func (ev *Event) Fd() int { return ev.fd }

func (ev *Event) What() What { return ev.what }

// Add 装载事件；timeout < 0 表示不设超时
func (ev *Event) Add(timeout time.Duration) error {
	if ev.freed {
		return ErrFreed
	}
	if ev.base == nil {
		return ErrNoBase
	}
	if !ev.configured {
		return ErrNotConfigured
	}
	b := ev.base
	if b.freed {
		return ErrFreed
	}
	if ev.what&(Read|Write|Signal) == 0 && timeout < 0 {
		return ErrNoTimeout
	}
	if !ev.added {
		switch {
		case ev.what&Signal != 0:
			b.sigs.add(ev)
		case ev.what&(Read|Write) != 0:
			if err := b.ioAdd(ev); err != nil {
				return err
			}
		}
		if ev.what&(Read|Write|Signal) != 0 {
			ev.added = true
			b.recount(ev)
		}
	}
	if timeout >= 0 {
		// 已因超时激活的事件重新计时，丢弃这次激活
		if ev.active && ev.res&Timeout != 0 {
			b.deactivate(ev)
		}
		ev.timeout = timeout
		b.schedule(ev, timeout, time.Now())
	} else {
		// 不带超时重新装载，之前的超时作废，持久事件派发后也不再重排
		if ev.heapIdx >= 0 {
			b.unschedule(ev)
		}
		ev.timeout = -1
	}
	return nil
}

// Del 卸载事件并取消激活，同时清掉记录的超时；重复调用无副作用
func (ev *Event) Del() error {
	if ev.freed {
		return ErrFreed
	}
	err := ev.disarm()
	ev.timeout = -1
	return err
}

// disarm 卸载但保留 timeout，供一次性事件派发前使用，Timeout() 仍报告最近一次装载的值
func (ev *Event) disarm() error {
	b := ev.base
	if b == nil {
		return nil
	}
	var err error
	if ev.added {
		ev.added = false
		switch {
		case ev.what&Signal != 0:
			b.sigs.del(ev)
		case ev.what&(Read|Write) != 0:
			err = b.ioDel(ev)
		}
	}
	b.unschedule(ev)
	b.deactivate(ev)
	b.recount(ev)
	return err
}

// Free 卸载并释放事件；重复调用返回 ErrFreed
func (ev *Event) Free() error {
	if ev.freed {
		return ErrFreed
	}
	var err error
	if ev.base != nil && !ev.base.freed {
		err = ev.Del()
	}
	if ev.base != nil && !ev.internal {
		ev.base.nbound--
	}
	ev.base = nil
	ev.cb = nil
	ev.freed = true
	if err != nil && !errors.Is(err, ErrFreed) {
		return err
	}
	return nil
}

func (ev *Event) Freed() bool { return ev.freed }

// Pending 报告事件是否在等待 what 中的任一条件
func (ev *Event) Pending(what What) bool {
	if ev.freed {
		return false
	}
	var w What
	if ev.added {
		w |= ev.what & (Read | Write | Signal)
	}
	if ev.heapIdx >= 0 {
		w |= Timeout
	}
	return w&what != 0
}

// IsActive 表示事件已激活等待派发
func (ev *Event) IsActive() bool { return ev.active }

// Timeout 返回最近一次装载的超时；未设超时或已 Del 为 -1
func (ev *Event) Timeout() time.Duration { return ev.timeout }

// Active 手动激活事件，下一轮派发时以 res 调用回调
func (ev *Event) Active(res What) error {
	if ev.freed {
		return ErrFreed
	}
	if ev.base == nil {
		return ErrNoBase
	}
	if !ev.configured {
		return ErrNotConfigured
	}
	ev.base.activate(ev, res)
	return nil
}

// Abandon 释放事件但不触碰 poller 里的注册；fork 后的子进程与父进程共享
// 内核中的 poller 状态，只能丢弃内存里的记录。
func (ev *Event) Abandon() error {
	if ev.freed {
		return ErrFreed
	}
	if b := ev.base; b != nil {
		if ev.added {
			ev.added = false
			switch {
			case ev.what&Signal != 0:
				b.sigs.del(ev)
			case ev.what&(Read|Write) != 0:
				b.forget(ev)
			}
		}
		b.unschedule(ev)
		b.deactivate(ev)
		b.recount(ev)
		if !ev.internal {
			b.nbound--
		}
	}
	ev.base = nil
	ev.cb = nil
	ev.freed = true
	return nil
}
