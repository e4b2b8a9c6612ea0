package native

import (
	"fmt"
	"time"

	"github.com/eapache/queue"
)

// Loop 运行事件循环。
// 进入时没有任何已装载或已激活的事件返回 1；正常结束、LoopExit、LoopBreak 返回 0。
func (b *Base) Loop(flags LoopFlags) (int, error) {
	if b.freed {
		return 0, ErrFreed
	}
	if !b.running.CompareAndSwap(false, true) {
		return 0, ErrReentrant
	}
	defer func() {
		b.gotterm.Store(false)
		b.gotbreak.Store(false)
		b.running.Store(false)
	}()

	if b.npend == 0 && b.nactive == 0 {
		return 1, nil
	}

	h := (*readiness)(b)
	for {
		if b.gotterm.Load() || b.gotbreak.Load() {
			break
		}
		if b.npend == 0 && b.nactive == 0 {
			break
		}

		var timeout time.Duration
		if b.nactive == 0 && flags&LoopNonBlock == 0 {
			timeout = b.nextTimeout(time.Now())
		}
		if _, err := b.poller.Wait(timeout, h); err != nil {
			return 0, fmt.Errorf("native: poll: %w", err)
		}
		b.processSignals()
		b.processTimers(time.Now())

		if b.nactive > 0 {
			b.processActive()
			if flags&LoopOnce != 0 && b.nactive == 0 {
				break
			}
		}
		if flags&LoopNonBlock != 0 {
			break
		}
	}
	return 0, nil
}

// processActive 派发优先级最高的非空队列。
// 只处理进入时已在队列里的条目，回调里再次激活的事件留到下一轮。
func (b *Base) processActive() {
	var q *queue.Queue
	for _, cand := range b.queues {
		if cand.Length() > 0 {
			q = cand
			break
		}
	}
	if q == nil {
		return
	}
	for n := q.Length(); n > 0; n-- {
		ent := q.Remove().(activeEntry)
		ev := ent.ev
		if !ev.active || ent.seq != ev.seq {
			continue
		}
		res := b.deactivate(ev)
		if ev.what&Persist == 0 {
			if err := ev.disarm(); err != nil {
				b.reportError(fmt.Errorf("native: disarm fd %d: %w", ev.fd, err))
			}
		} else if ev.timeout >= 0 && res&Timeout == 0 && ev.added {
			b.schedule(ev, ev.timeout, time.Now())
		}
		ev.cb(ev.fd, res)
		if b.gotbreak.Load() {
			return
		}
	}
}

// SetErrorHandler 设置派发过程中无法返回给调用方的错误的去处，nil 表示丢弃
func (b *Base) SetErrorHandler(fn func(error)) { b.onError = fn }

func (b *Base) reportError(err error) {
	if b.onError != nil {
		b.onError(err)
	}
}

// Running 表示循环是否在运行
func (b *Base) Running() bool { return b.running.Load() }

// LoopBreak 在当前回调返回后立即结束循环
func (b *Base) LoopBreak() error {
	if b.freed {
		return ErrFreed
	}
	if !b.running.Load() {
		return ErrNotRunning
	}
	b.gotbreak.Store(true)
	return b.poller.Wake()
}

// RequestBreak 与 LoopBreak 相同，但不要求循环正在运行，可在任意 goroutine 调用。
// 循环尚未开始时，请求在下一次 Loop 的第一轮生效。
func (b *Base) RequestBreak() {
	b.gotbreak.Store(true)
	_ = b.poller.Wake()
}

// ClearBreak 丢弃尚未生效的 RequestBreak
func (b *Base) ClearBreak() { b.gotbreak.Store(false) }

// LoopExit 在 timeout 后结束循环，已激活的事件本轮照常派发。
// timeout < 0 且循环正在运行时，本轮结束即退出。
func (b *Base) LoopExit(timeout time.Duration) error {
	if b.freed {
		return ErrFreed
	}
	if timeout < 0 {
		if b.running.Load() {
			b.gotterm.Store(true)
			return nil
		}
		timeout = 0
	}
	if b.exitEv == nil {
		ev := NewEvent()
		ev.internal = true
		if err := ev.SetTimer(func(int, What) { b.gotterm.Store(true) }); err != nil {
			return err
		}
		if err := ev.SetBase(b); err != nil {
			return err
		}
		b.exitEv = ev
	}
	return b.exitEv.Add(timeout)
}
