package evbase

import "syscall"

// IOFunc 为 fd 事件回调
type IOFunc func(e *Event, fd int, what What, arg any)

// SignalFunc 为信号事件回调
type SignalFunc func(e *Event, sig syscall.Signal, what What, arg any)

// TimeoutFunc 为纯超时事件回调
type TimeoutFunc func(e *Event, what What, arg any)

// callback 统一三类回调的派发
type callback interface {
	fire(e *Event, fd int, what What)
}

type ioCallback struct {
	fn  IOFunc
	arg any
}

func (c ioCallback) fire(e *Event, fd int, what What) { c.fn(e, fd, what, c.arg) }

type signalCallback struct {
	fn  SignalFunc
	arg any
}

func (c signalCallback) fire(e *Event, fd int, what What) {
	c.fn(e, syscall.Signal(fd), what, c.arg)
}

type timeoutCallback struct {
	fn  TimeoutFunc
	arg any
}

func (c timeoutCallback) fire(e *Event, _ int, what What) { c.fn(e, what, c.arg) }

// TimerAction 决定命名定时器在回调后是否继续
type TimerAction int

const (
	// TimerStop 迭代计数清零，定时器停止但保留
	TimerStop TimerAction = iota
	// TimerContinue 以同样的间隔重新装载，迭代计数保留
	TimerContinue
)

func (a TimerAction) String() string {
	if a == TimerContinue {
		return "continue"
	}
	return "stop"
}

// TimerFiring 是命名定时器回调的参数
type TimerFiring struct {
	Name      string
	Arg       any
	Iteration uint64
	Base      *Base
	Events    What // 原生层报告的掩码
	Fd        int  // 纯定时器为 -1
}

// TimerFunc 为命名定时器回调
type TimerFunc func(f *TimerFiring) TimerAction
