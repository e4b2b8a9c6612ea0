package evbase

import (
	"fmt"
	"syscall"
	"time"

	"github.com/legamerdc/evbase/internal/native"
)

// Event 是一次 fd、信号或超时注册
type Event struct {
	id     uint64
	native *native.Event
	base   *Base
	cb     callback
}

// NewEvent 分配一个未配置的事件
func NewEvent() (*Event, error) {
	return &Event{id: nextAttachID(), native: native.NewEvent()}, nil
}

func (e *Event) attachID() uint64 { return e.id }

func (e *Event) fire(fd int, res What) {
	if e.cb != nil {
		e.cb.fire(e, fd, res)
	}
}

// Set 配置 fd 事件
func (e *Event) Set(fd int, what What, cb IOFunc, arg any) error {
	if e.native == nil {
		return errFreed("set")
	}
	if cb == nil {
		return &Error{Kind: KindConfiguration, Op: "set", Msg: "callback must be non-nil", Err: native.ErrBadCallback}
	}
	if err := e.native.Set(fd, what, e.fire); err != nil {
		return wrapNative("set", KindConfiguration, err)
	}
	e.cb = ioCallback{fn: cb, arg: arg}
	return nil
}

// SetSignal 配置信号事件
func (e *Event) SetSignal(sig syscall.Signal, cb SignalFunc, persist bool, arg any) error {
	if e.native == nil {
		return errFreed("set signal")
	}
	if cb == nil {
		return &Error{Kind: KindConfiguration, Op: "set signal", Msg: "callback must be non-nil", Err: native.ErrBadCallback}
	}
	if err := e.native.SetSignal(int(sig), persist, e.fire); err != nil {
		return &Error{
			Kind: KindConfiguration,
			Op:   "set signal",
			Msg:  fmt.Sprintf("can't prepare event for %s (%d) signal", SignalName(sig), int(sig)),
			Err:  err,
		}
	}
	e.cb = signalCallback{fn: cb, arg: arg}
	return nil
}

// SetTimer 配置一次性超时事件
func (e *Event) SetTimer(cb TimeoutFunc, arg any) error {
	if e.native == nil {
		return errFreed("set timer")
	}
	if cb == nil {
		return &Error{Kind: KindConfiguration, Op: "set timer", Msg: "callback must be non-nil", Err: native.ErrBadCallback}
	}
	if err := e.native.SetTimer(e.fire); err != nil {
		return wrapNative("set timer", KindConfiguration, err)
	}
	e.cb = timeoutCallback{fn: cb, arg: arg}
	return nil
}

// SetBase 绑定到 b；已绑定到其它 Base 时改绑
func (e *Event) SetBase(b *Base) error {
	if e.native == nil {
		return errFreed("set base")
	}
	if b == nil {
		return newErrorf(KindInvalidState, "set base", "nil base")
	}
	if err := b.CheckResource(); err != nil {
		return err
	}
	if err := e.native.SetBase(b.native); err != nil {
		return wrapNative("set base", KindConfiguration, err)
	}
	if e.base != nil && e.base != b {
		e.base.detachID(e.id)
	}
	e.base = b
	b.attach(e)
	return nil
}

// Base 返回绑定的 Base
func (e *Event) Base() *Base { return e.base }

// Add 装载事件；timeout 为 Forever 时不设超时
func (e *Event) Add(timeout time.Duration) error {
	if e.native == nil {
		return errFreed("add")
	}
	if e.base == nil {
		return &Error{Kind: KindInvalidState, Op: "add", Msg: "event is not bound to a base", Err: native.ErrNoBase}
	}
	if err := e.base.CheckResource(); err != nil {
		return err
	}
	return wrapNative("add", KindOperation, e.native.Add(timeout))
}

// Del 卸载事件；重复调用无副作用
func (e *Event) Del() error {
	if e.native == nil {
		return errFreed("del")
	}
	return wrapNative("del", KindOperation, e.native.Del())
}

// Free 卸载并释放事件，从 Base 上摘除；重复调用无副作用
func (e *Event) Free() error {
	if e.native == nil {
		return nil
	}
	if e.base != nil {
		e.base.detachID(e.id)
	}
	return e.detach(false)
}

func (e *Event) detach(afterFork bool) error {
	if e.native == nil {
		return nil
	}
	var err error
	if afterFork {
		err = e.native.Abandon()
	} else {
		err = e.native.Free()
	}
	e.native = nil
	e.base = nil
	e.cb = nil
	if tolerable(err) {
		return nil
	}
	return wrapNative("free", KindOperation, err)
}

// SetPriority 设置派发优先级，0 最先；需先绑定 Base
func (e *Event) SetPriority(pri int) error {
	if e.native == nil {
		return errFreed("set priority")
	}
	return wrapNative("set priority", KindConfiguration, e.native.SetPriority(pri))
}

// Pending 报告事件是否在等待 what 中的任一条件
func (e *Event) Pending(what What) bool {
	return e.native != nil && e.native.Pending(what)
}

// Timeout 返回最近一次装载时的超时，没有超时为 Forever
func (e *Event) Timeout() time.Duration {
	if e.native == nil {
		return Forever
	}
	return e.native.Timeout()
}

// Active 手动激活事件，下一轮派发时以 res 调用回调
func (e *Event) Active(res What) error {
	if e.native == nil {
		return errFreed("active")
	}
	return wrapNative("active", KindOperation, e.native.Active(res))
}
