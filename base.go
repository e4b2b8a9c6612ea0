package evbase

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/legamerdc/evbase/internal/native"
)

var (
	lastBaseID   atomic.Uint64
	lastAttachID atomic.Uint64
)

func nextAttachID() uint64 { return lastAttachID.Add(1) }

// Base 是事件循环（reactor）。
// 一个 Base 只能由一个 goroutine 驱动，回调都在该 goroutine 中执行。
type Base struct {
	id     uint64
	cfg    Config
	log    *zap.Logger
	native *native.Base

	events map[uint64]Attachable
	timers map[string]*namedTimer

	// BeforeFork 关闭的 BufferEvent 及其原先启用的方向
	forked map[uint64]What
}

// New 使用 DefaultConfig 创建 Base
func New() (*Base, error) {
	return NewBase(DefaultConfig())
}

// NewBase 创建 Base；平台没有原生 poller 时返回 ErrUnavailable
func NewBase(cfg Config) (*Base, error) {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultConfig().MaxEvents
	}
	b := &Base{
		cfg:    cfg,
		events: make(map[uint64]Attachable),
		timers: make(map[string]*namedTimer),
		forked: make(map[uint64]What),
	}
	if err := b.init(cfg.InitPriority); err != nil {
		return nil, err
	}
	b.id = lastBaseID.Add(1)
	b.log = cfg.logger().With(zap.Uint64("base", b.id))
	b.log.Debug("base created", zap.Int("priorities", b.native.Priorities()))
	return b, nil
}

func (b *Base) init(initPriority bool) error {
	nb, err := native.NewBase(b.cfg.MaxEvents)
	if err != nil {
		if errors.Is(err, native.ErrUnavailable) {
			return newError(KindUnavailable, "new base", err)
		}
		return newError(KindAllocation, "new base", err)
	}
	nb.SetErrorHandler(func(err error) {
		b.log.Warn("dispatch error", zap.Error(err))
	})
	b.native = nb
	if initPriority {
		if err := b.PriorityInit(b.cfg.MaxPriority); err != nil {
			_ = nb.Free()
			b.native = nil
			return err
		}
	}
	return nil
}

// ID 返回进程内唯一、单调递增的编号
func (b *Base) ID() uint64 { return b.id }

// NumEvents 返回挂在 Base 上的事件数（含命名定时器的事件）
func (b *Base) NumEvents() int { return len(b.events) }

// CheckResource 检查原生上下文是否仍然有效
func (b *Base) CheckResource() error {
	if b.native == nil {
		return errFreed("check resource")
	}
	return nil
}

func (b *Base) attach(e Attachable) { b.events[e.attachID()] = e }

func (b *Base) detachID(id uint64) {
	delete(b.events, id)
	delete(b.forked, id)
}

// SetEvent 把 e 绑定到本 Base
func (b *Base) SetEvent(e Attachable) error {
	if err := b.CheckResource(); err != nil {
		return err
	}
	return e.SetBase(b)
}

// PriorityInit 设置优先级数量为 value+1；有事件正在激活时被拒绝
func (b *Base) PriorityInit(value int) error {
	if err := b.CheckResource(); err != nil {
		return err
	}
	if err := b.native.PriorityInit(value + 1); err != nil {
		return wrapNative("priority init", KindConfiguration, err)
	}
	return nil
}

// Loop 运行事件循环，返回 0 表示正常结束或被 LoopExit/LoopBreak 终止，
// 1 表示进入时没有任何已注册的事件。
func (b *Base) Loop(flags LoopFlags) (int, error) {
	if err := b.CheckResource(); err != nil {
		return 0, err
	}
	n, err := b.native.Loop(flags)
	if err != nil {
		return 0, wrapNative("loop", KindOperation, err)
	}
	return n, nil
}

// Dispatch 以 Loop(0) 运行，ctx 结束时按 LoopBreak 的语义停止并返回 ctx.Err()
func (b *Base) Dispatch(ctx context.Context) (int, error) {
	if err := b.CheckResource(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	nb := b.native
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			nb.RequestBreak()
		case <-stop:
		}
	}()
	n, err := b.Loop(0)
	close(stop)
	<-done
	nb.ClearBreak()
	if err == nil && ctx.Err() != nil {
		return n, ctx.Err()
	}
	return n, err
}

// LoopBreak 在当前回调返回后立即停止循环；循环未运行时返回错误
func (b *Base) LoopBreak() error {
	if err := b.CheckResource(); err != nil {
		return err
	}
	return wrapNative("loop break", KindOperation, b.native.LoopBreak())
}

// LoopExit 在 timeout 后停止循环，本轮已激活的事件照常派发；timeout < 0 表示立即
func (b *Base) LoopExit(timeout time.Duration) error {
	if err := b.CheckResource(); err != nil {
		return err
	}
	return wrapNative("loop exit", KindOperation, b.native.LoopExit(timeout))
}

// BeforeFork 在父进程 fork 前调用：派发已就绪的事件，然后关闭所有 BufferEvent
func (b *Base) BeforeFork() error {
	if err := b.CheckResource(); err != nil {
		return err
	}
	if len(b.events) == 0 {
		return nil
	}
	if _, err := b.Loop(LoopNonBlock); err != nil {
		return err
	}
	var err error
	for _, id := range b.sortedIDs() {
		be, ok := b.events[id].(*BufferEvent)
		if !ok {
			continue
		}
		mask := be.Enabled()
		if mask == 0 {
			continue
		}
		if e := be.Disable(mask); e != nil {
			err = multierr.Append(err, e)
			continue
		}
		b.forked[id] |= mask
	}
	b.log.Debug("prepared for fork", zap.Int("disabled", len(b.forked)))
	return err
}

// AfterFork 在父进程 fork 后调用，恢复 BeforeFork 关闭的 BufferEvent
func (b *Base) AfterFork() error {
	if err := b.CheckResource(); err != nil {
		return err
	}
	var err error
	for id, mask := range b.forked {
		if be, ok := b.events[id].(*BufferEvent); ok {
			err = multierr.Append(err, be.Enable(mask))
		}
	}
	clear(b.forked)
	return err
}

// Reinitialize 在子进程 fork 后调用：丢弃所有事件与定时器（不触碰父进程共享的
// 内核状态），然后重建原生上下文。编号保持不变。
func (b *Base) Reinitialize(initPriority bool) error {
	if err := b.CheckResource(); err != nil {
		return err
	}
	err := b.teardown("reinitialize", true)
	if e := b.init(initPriority); e != nil {
		return multierr.Append(err, e)
	}
	b.log.Debug("base reinitialized")
	return err
}

// FreeAttachedEvents 释放所有挂在 Base 上的事件与定时器，Base 本身保持可用
func (b *Base) FreeAttachedEvents() error {
	if err := b.CheckResource(); err != nil {
		return err
	}
	return b.freeAttached("free attached events", false)
}

// Free 释放所有事件与定时器，再释放原生上下文；重复调用无副作用
func (b *Base) Free() error {
	if b.native == nil {
		return nil
	}
	err := b.teardown("free", false)
	b.log.Debug("base freed")
	return err
}

func (b *Base) teardown(op string, afterFork bool) error {
	err := b.freeAttached(op, afterFork)
	if e := b.native.Free(); !tolerable(e) {
		err = multierr.Append(err, wrapNative(op, KindOperation, e))
	}
	b.native = nil
	return err
}

func (b *Base) freeAttached(op string, afterFork bool) error {
	clear(b.timers)
	var err error
	for _, id := range b.sortedIDs() {
		e := b.events[id]
		b.detachID(id)
		if de := e.detach(afterFork); de != nil {
			b.log.Warn("event teardown failed", zap.String("op", op), zap.Uint64("event", id), zap.Error(de))
			err = multierr.Append(err, de)
		}
	}
	return err
}

func (b *Base) sortedIDs() []uint64 {
	ids := make([]uint64, 0, len(b.events))
	for id := range b.events {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
