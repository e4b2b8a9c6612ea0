//go:build linux

package evbase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/evbase/internal/native"
	"github.com/legamerdc/evbase/internal/netutil"
)

func newTestBase(t *testing.T) *Base {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logger = zaptest.NewLogger(t)
	b, err := NewBase(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Free() })
	return b
}

func newPipe(t *testing.T) (int, int) {
	t.Helper()
	r, w, err := netutil.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(r)
		unix.Close(w)
	})
	return r, w
}

func TestBase_IDsIncrease(t *testing.T) {
	a := newTestBase(t)
	b := newTestBase(t)
	c := newTestBase(t)
	assert.Less(t, a.ID(), b.ID())
	assert.Less(t, b.ID(), c.ID())
}

func TestBase_IDsUniqueAcrossGoroutines(t *testing.T) {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		ids = make(map[uint64]bool)
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := New()
			if !assert.NoError(t, err) {
				return
			}
			defer b.Free()
			mu.Lock()
			ids[b.ID()] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 8)
}

func TestBase_Priorities(t *testing.T) {
	b := newTestBase(t)
	assert.Equal(t, MaxPriority+1, b.native.Priorities())

	cfg := DefaultConfig()
	cfg.InitPriority = false
	plain, err := NewBase(cfg)
	require.NoError(t, err)
	defer plain.Free()
	assert.Equal(t, 1, plain.native.Priorities())

	err = plain.PriorityInit(native.MaxPriorities)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, native.ErrPriority)
	require.NoError(t, plain.PriorityInit(3))
	assert.Equal(t, 4, plain.native.Priorities())
}

func TestBase_FreeIdempotent(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	ev, _ := NewEvent()
	require.NoError(t, ev.SetTimer(func(*Event, What, any) {}, nil))
	require.NoError(t, ev.SetBase(b))
	require.NoError(t, ev.Add(time.Second))

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Free())
	}
	err = b.CheckResource()
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Contains(t, err.Error(), "resource already freed")

	_, err = b.Loop(0)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, b.TimerAdd("t", 1, func(*TimerFiring) TimerAction { return TimerStop }), ErrInvalidState)

	// 事件随 Base 一起释放
	assert.ErrorIs(t, ev.Add(Forever), ErrInvalidState)
	assert.NoError(t, ev.Free())
}

func TestBase_LoopNoEvents(t *testing.T) {
	b := newTestBase(t)
	n, err := b.Loop(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBase_LoopExitAfterTenReads(t *testing.T) {
	b := newTestBase(t)
	rfd, wfd := newPipe(t)
	_, err := unix.Write(wfd, make([]byte, 32))
	require.NoError(t, err)

	ev, err := NewEvent()
	require.NoError(t, err)
	calls := 0
	require.NoError(t, ev.Set(rfd, Read|Persist, func(e *Event, fd int, what What, arg any) {
		var one [1]byte
		_, _ = unix.Read(fd, one[:])
		calls++
		if calls == 10 {
			assert.NoError(t, arg.(*Base).LoopExit(Forever))
		}
	}, b))
	require.NoError(t, ev.SetBase(b))
	require.NoError(t, ev.Add(Forever))

	n, err := b.Loop(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 10, calls)
}

func TestBase_LoopBreakNotRunning(t *testing.T) {
	b := newTestBase(t)
	err := b.LoopBreak()
	assert.ErrorIs(t, err, ErrOperation)
	assert.ErrorIs(t, err, native.ErrNotRunning)

	var kerr *Error
	require.True(t, errors.As(err, &kerr))
	assert.Equal(t, KindOperation, kerr.Kind)
	assert.Equal(t, "loop break", kerr.Op)
}

func TestBase_LoopReentrant(t *testing.T) {
	b := newTestBase(t)
	ev, _ := NewEvent()
	var inner error
	require.NoError(t, ev.SetTimer(func(e *Event, _ What, _ any) {
		_, inner = e.Base().Loop(0)
	}, nil))
	require.NoError(t, ev.SetBase(b))
	require.NoError(t, ev.Add(0))

	_, err := b.Loop(0)
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrOperation)
	assert.ErrorIs(t, inner, native.ErrReentrant)
}

func TestBase_Dispatch(t *testing.T) {
	b := newTestBase(t)
	rfd, _ := newPipe(t)
	ev, _ := NewEvent()
	require.NoError(t, ev.Set(rfd, Read|Persist, func(*Event, int, What, any) {}, nil))
	require.NoError(t, ev.SetBase(b))
	require.NoError(t, ev.Add(Forever))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	n, err := b.Dispatch(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, n)

	// 取消的请求不会影响下一次循环
	require.NoError(t, b.LoopExit(5*time.Millisecond))
	n, err = b.Loop(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	done, cancelDone := context.WithCancel(context.Background())
	cancelDone()
	_, err = b.Dispatch(done)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBase_ForkLifecycle(t *testing.T) {
	b := newTestBase(t)
	id := b.ID()
	rfd, wfd := newPipe(t)

	be, err := NewBufferEvent(rfd, func(*BufferEvent, any) {}, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, b.SetEvent(be))
	require.NoError(t, be.Enable(Read))
	require.NoError(t, be.Write([]byte("pending")))
	assert.Equal(t, Read|Write, be.Enabled())

	require.NoError(t, b.BeforeFork())
	assert.Equal(t, What(0), be.Enabled())
	assert.Equal(t, 1, b.NumEvents())
	assert.False(t, be.freed)

	require.NoError(t, b.AfterFork())
	assert.Equal(t, Read|Write, be.Enabled())
	assert.True(t, be.rev.Pending(Read))

	require.NoError(t, b.Reinitialize(true))
	assert.Equal(t, 0, b.NumEvents())
	assert.Equal(t, id, b.ID())
	assert.True(t, be.freed)
	assert.Equal(t, 0, be.OutputLen())
	_, err = unix.FcntlInt(uintptr(rfd), unix.F_GETFD, 0)
	assert.NoError(t, err, "descriptor must stay open")
	assert.Equal(t, MaxPriority+1, b.native.Priorities())

	// 新的上下文可以正常使用
	_, err = unix.Write(wfd, []byte("x"))
	require.NoError(t, err)
	ev, _ := NewEvent()
	fired := false
	require.NoError(t, ev.Set(rfd, Read, func(*Event, int, What, any) { fired = true }, nil))
	require.NoError(t, ev.SetBase(b))
	require.NoError(t, ev.Add(Forever))
	n, err := b.Loop(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, fired)
}

func TestBase_ForkWithoutEvents(t *testing.T) {
	b := newTestBase(t)
	require.NoError(t, b.BeforeFork())
	require.NoError(t, b.AfterFork())
	require.NoError(t, b.Reinitialize(false))
	assert.Equal(t, 1, b.native.Priorities())
}

func TestBase_FreeAttachedEvents(t *testing.T) {
	b := newTestBase(t)
	ev, _ := NewEvent()
	require.NoError(t, ev.SetTimer(func(*Event, What, any) {}, nil))
	require.NoError(t, b.SetEvent(ev))
	require.NoError(t, b.TimerAdd("t", 1, func(*TimerFiring) TimerAction { return TimerStop }))
	assert.Equal(t, 2, b.NumEvents())

	require.NoError(t, b.FreeAttachedEvents())
	assert.Equal(t, 0, b.NumEvents())
	assert.False(t, b.TimerExists("t"))
	assert.ErrorIs(t, ev.Add(0), ErrInvalidState)
	require.NoError(t, b.CheckResource())

	n, err := b.Loop(LoopNonBlock)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
