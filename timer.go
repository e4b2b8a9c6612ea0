package evbase

import (
	"math"
	"time"

	"go.uber.org/zap"
)

// DefaultTimerScale 把以秒为单位的间隔换算为微秒
const DefaultTimerScale = 1_000_000

type namedTimer struct {
	name      string
	interval  float64
	scale     float64
	iteration uint64
	cb        TimerFunc
	arg       any
	ev        *Event
}

// 换算成纳秒后仍能放进 time.Duration 的微秒上限
const maxTimerMicros = math.MaxInt64 / 1000

// timeout 为 interval*scale 向零取整后的微秒数，超出 time.Duration 范围时截断到边界。
// NaN 视为无效间隔，返回 -1 让装载失败。
func (t *namedTimer) timeout() time.Duration {
	us := t.interval * t.scale
	switch {
	case math.IsNaN(us):
		return -1
	case us >= maxTimerMicros:
		return time.Duration(maxTimerMicros) * time.Microsecond
	case us <= -maxTimerMicros:
		return -time.Duration(maxTimerMicros) * time.Microsecond
	}
	return time.Duration(int64(us)) * time.Microsecond
}

type timerOptions struct {
	noStart       bool
	keepIteration bool

	scale    float64
	hasScale bool

	arg    any
	hasArg bool

	interval    float64
	hasInterval bool
}

// TimerOption 配置 TimerAdd/TimerStart
type TimerOption func(*timerOptions)

// WithoutStart 只创建或重配定时器，不装载
func WithoutStart() TimerOption {
	return func(o *timerOptions) { o.noStart = true }
}

// WithTimerScale 设置间隔到微秒的换算系数，只在创建时生效
func WithTimerScale(scale float64) TimerOption {
	return func(o *timerOptions) { o.scale, o.hasScale = scale, true }
}

// WithTimerArg 覆盖回调参数（nil 也算显式给出）
func WithTimerArg(arg any) TimerOption {
	return func(o *timerOptions) { o.arg, o.hasArg = arg, true }
}

// WithTimerInterval 覆盖间隔；非正数被忽略
func WithTimerInterval(interval float64) TimerOption {
	return func(o *timerOptions) { o.interval, o.hasInterval = interval, true }
}

// KeepIteration 让 TimerStart 保留迭代计数
func KeepIteration() TimerOption {
	return func(o *timerOptions) { o.keepIteration = true }
}

func collectTimerOptions(opts []TimerOption) timerOptions {
	var o timerOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// TimerAdd 创建或重配命名定时器，默认立即启动。
// 已存在时先卸载；cb 非 nil 才覆盖回调，interval > 0 才覆盖间隔，迭代计数清零。
func (b *Base) TimerAdd(name string, interval float64, cb TimerFunc, opts ...TimerOption) error {
	if err := b.CheckResource(); err != nil {
		return err
	}
	o := collectTimerOptions(opts)
	t, ok := b.timers[name]
	if !ok {
		if cb == nil {
			return newErrorf(KindConfiguration, "timer add", "callback for timer %q must be non-nil", name)
		}
		ev, err := NewEvent()
		if err != nil {
			return err
		}
		t = &namedTimer{name: name, interval: interval, scale: DefaultTimerScale, cb: cb, ev: ev}
		if o.hasScale {
			t.scale = o.scale
		}
		if o.hasArg {
			t.arg = o.arg
		}
		err = ev.SetTimer(func(e *Event, what What, _ any) {
			b.fireTimer(name, e, what)
		}, nil)
		if err == nil {
			err = ev.SetBase(b)
		}
		if err != nil {
			_ = ev.Free()
			return err
		}
		b.timers[name] = t
		b.log.Debug("timer added", zap.String("timer", name), zap.Float64("interval", interval), zap.Float64("scale", t.scale))
	} else {
		if err := t.ev.Del(); err != nil {
			return err
		}
		if cb != nil {
			t.cb = cb
		}
		if interval > 0 {
			t.interval = interval
		}
		if o.hasArg {
			t.arg = o.arg
		}
		t.iteration = 0
	}
	if o.noStart {
		return nil
	}
	return b.TimerStart(name)
}

// TimerStart 装载命名定时器，超时为 interval*scale 微秒（向零取整）。
// 默认清零迭代计数，KeepIteration 保留。
func (b *Base) TimerStart(name string, opts ...TimerOption) error {
	if err := b.CheckResource(); err != nil {
		return err
	}
	t, ok := b.timers[name]
	if !ok {
		return newErrorf(KindNotFound, "timer start", "timer %q not found", name)
	}
	o := collectTimerOptions(opts)
	if !o.keepIteration {
		t.iteration = 0
	}
	if o.hasArg {
		t.arg = o.arg
	}
	if o.hasInterval && o.interval > 0 {
		t.interval = o.interval
	}
	return t.ev.Add(t.timeout())
}

// TimerStop 卸载命名定时器并清零迭代计数；名字不存在时什么也不做。
// 不要在定时器自己的回调里调用，回调应返回 TimerStop。
func (b *Base) TimerStop(name string) error {
	t, ok := b.timers[name]
	if !ok {
		return nil
	}
	t.iteration = 0
	return t.ev.Del()
}

// TimerDelete 释放命名定时器；名字不存在时什么也不做
func (b *Base) TimerDelete(name string) error {
	t, ok := b.timers[name]
	if !ok {
		return nil
	}
	delete(b.timers, name)
	b.log.Debug("timer deleted", zap.String("timer", name))
	return t.ev.Free()
}

// TimerExists 判断命名定时器是否存在
func (b *Base) TimerExists(name string) bool {
	_, ok := b.timers[name]
	return ok
}

// TimerInfo 是命名定时器的快照
type TimerInfo struct {
	Name      string
	Interval  float64
	Scale     float64
	Iteration uint64
	Pending   bool
	Timeout   time.Duration // 最近一次装载的超时
}

// TimerInfo 返回命名定时器的当前状态
func (b *Base) TimerInfo(name string) (TimerInfo, bool) {
	t, ok := b.timers[name]
	if !ok {
		return TimerInfo{}, false
	}
	return TimerInfo{
		Name:      t.name,
		Interval:  t.interval,
		Scale:     t.scale,
		Iteration: t.iteration,
		Pending:   t.ev.Pending(Timeout),
		Timeout:   t.ev.Timeout(),
	}, true
}

func (b *Base) fireTimer(name string, e *Event, what What) {
	t, ok := b.timers[name]
	if !ok || t.ev != e {
		return
	}
	t.iteration++
	act := t.cb(&TimerFiring{
		Name:      name,
		Arg:       t.arg,
		Iteration: t.iteration,
		Base:      b,
		Events:    what,
		Fd:        -1,
	})
	// 回调里可能删除或重建了同名定时器
	if cur, ok := b.timers[name]; !ok || cur != t {
		return
	}
	if act == TimerContinue {
		if err := b.TimerStart(name, KeepIteration()); err != nil {
			b.log.Warn("timer re-arm failed", zap.String("timer", name), zap.Error(err))
		}
		return
	}
	t.iteration = 0
}
