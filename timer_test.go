//go:build linux

package evbase

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legamerdc/evbase/internal/native"
)

func stopTimer(*TimerFiring) TimerAction { return TimerStop }

func TestTimer_RoundTrip(t *testing.T) {
	b := newTestBase(t)
	require.NoError(t, b.TimerAdd("t", 0.01, stopTimer, WithoutStart()))
	assert.True(t, b.TimerExists("t"))

	info, ok := b.TimerInfo("t")
	require.True(t, ok)
	assert.False(t, info.Pending)
	assert.Equal(t, float64(DefaultTimerScale), info.Scale)

	require.NoError(t, b.TimerStart("t"))
	info, _ = b.TimerInfo("t")
	assert.True(t, info.Pending)
	assert.Equal(t, 10000*time.Microsecond, info.Timeout)
}

func TestTimer_ReAddKeepsCallbackAndInterval(t *testing.T) {
	b := newTestBase(t)
	fired := 0
	cbA := func(f *TimerFiring) TimerAction {
		fired++
		return TimerStop
	}
	require.NoError(t, b.TimerAdd("t", 5, cbA, WithoutStart()))
	require.NoError(t, b.TimerAdd("t", 0, nil, WithoutStart()))

	info, _ := b.TimerInfo("t")
	assert.Equal(t, 5.0, info.Interval)

	// 非正数的覆盖值被忽略
	require.NoError(t, b.TimerStart("t", WithTimerInterval(-2)))
	info, _ = b.TimerInfo("t")
	assert.Equal(t, 5.0, info.Interval)

	require.NoError(t, b.TimerAdd("t", 0.001, nil))
	_, err := b.Loop(0)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
}

func TestTimer_NewNeedsCallback(t *testing.T) {
	b := newTestBase(t)
	err := b.TimerAdd("nocb", 1, nil)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), `"nocb"`)
	assert.False(t, b.TimerExists("nocb"))
}

func TestTimer_AutoRestart(t *testing.T) {
	b := newTestBase(t)
	var iterations []uint64
	require.NoError(t, b.TimerAdd("tick", 0.001, func(f *TimerFiring) TimerAction {
		iterations = append(iterations, f.Iteration)
		if f.Iteration < 3 {
			return TimerContinue
		}
		return TimerStop
	}))

	n, err := b.Loop(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, []uint64{1, 2, 3}, iterations)

	info, ok := b.TimerInfo("tick")
	require.True(t, ok)
	assert.Equal(t, uint64(0), info.Iteration)
	assert.False(t, info.Pending)

	// 停止后仍可重新启动，计数从头开始
	require.NoError(t, b.TimerStart("tick"))
	iterations = nil
	_, err = b.Loop(0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, iterations)
}

func TestTimer_Heartbeat(t *testing.T) {
	b := newTestBase(t)
	require.NoError(t, b.TimerAdd("heartbeat", 1, stopTimer, WithTimerScale(1)))
	info, _ := b.TimerInfo("heartbeat")
	assert.Equal(t, time.Microsecond, info.Timeout)
	assert.Equal(t, 1.0, info.Scale)

	require.NoError(t, b.TimerDelete("heartbeat"))
	assert.False(t, b.TimerExists("heartbeat"))
	assert.Equal(t, 0, b.NumEvents())

	err := b.TimerStart("heartbeat")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, b.TimerStop("heartbeat"))
	assert.NoError(t, b.TimerDelete("heartbeat"))
}

func TestTimer_ScaleOnlyAtCreation(t *testing.T) {
	b := newTestBase(t)
	require.NoError(t, b.TimerAdd("t", 2, stopTimer, WithTimerScale(1000), WithoutStart()))
	require.NoError(t, b.TimerAdd("t", 0, nil, WithTimerScale(1)))
	info, _ := b.TimerInfo("t")
	assert.Equal(t, 2*time.Millisecond, info.Timeout)
}

func TestTimer_TruncatesTowardZero(t *testing.T) {
	b := newTestBase(t)
	require.NoError(t, b.TimerAdd("t", 1.9, stopTimer, WithTimerScale(1)))
	info, _ := b.TimerInfo("t")
	assert.Equal(t, time.Microsecond, info.Timeout)
}

func TestTimer_ArgOverride(t *testing.T) {
	b := newTestBase(t)
	var got []any
	cb := func(f *TimerFiring) TimerAction {
		got = append(got, f.Arg)
		return TimerStop
	}
	require.NoError(t, b.TimerAdd("t", 0.001, cb, WithTimerArg("first")))
	_, err := b.Loop(0)
	require.NoError(t, err)

	// 没给 arg 时保留
	require.NoError(t, b.TimerAdd("t", 0, nil))
	_, err = b.Loop(0)
	require.NoError(t, err)

	// 显式给 nil 时覆盖
	require.NoError(t, b.TimerAdd("t", 0, nil, WithTimerArg(nil)))
	_, err = b.Loop(0)
	require.NoError(t, err)

	require.NoError(t, b.TimerStart("t", WithTimerArg(7)))
	_, err = b.Loop(0)
	require.NoError(t, err)

	assert.Equal(t, []any{"first", "first", nil, 7}, got)
}

func TestTimer_FiringPayload(t *testing.T) {
	b := newTestBase(t)
	var f TimerFiring
	require.NoError(t, b.TimerAdd("p", 0.001, func(got *TimerFiring) TimerAction {
		f = *got
		return TimerStop
	}))
	_, err := b.Loop(0)
	require.NoError(t, err)

	assert.Equal(t, "p", f.Name)
	assert.Same(t, b, f.Base)
	assert.Equal(t, Timeout, f.Events)
	assert.Equal(t, -1, f.Fd)
	assert.Equal(t, uint64(1), f.Iteration)
}

func TestTimer_HugeIntervalSaturates(t *testing.T) {
	b := newTestBase(t)
	require.NoError(t, b.TimerAdd("long", 1e300, stopTimer))
	info, _ := b.TimerInfo("long")
	assert.True(t, info.Pending)
	assert.Equal(t, time.Duration(maxTimerMicros)*time.Microsecond, info.Timeout)

	// 超大负值仍按负间隔处理
	err := b.TimerAdd("neg", -1e300, stopTimer)
	assert.ErrorIs(t, err, native.ErrNoTimeout)

	err = b.TimerAdd("nan", math.NaN(), stopTimer)
	assert.ErrorIs(t, err, native.ErrNoTimeout)
}

func TestTimer_NegativeIntervalFailsAtStart(t *testing.T) {
	b := newTestBase(t)
	err := b.TimerAdd("neg", -1, stopTimer)
	assert.ErrorIs(t, err, ErrOperation)
	assert.ErrorIs(t, err, native.ErrNoTimeout)
	assert.True(t, b.TimerExists("neg"))

	// 零间隔可以装载，下一轮立即触发
	require.NoError(t, b.TimerAdd("zero", 0, stopTimer))
	info, _ := b.TimerInfo("zero")
	assert.True(t, info.Pending)
}

func TestTimer_DeleteInsideCallback(t *testing.T) {
	b := newTestBase(t)
	calls := 0
	require.NoError(t, b.TimerAdd("self", 0.001, func(f *TimerFiring) TimerAction {
		calls++
		assert.NoError(t, f.Base.TimerDelete(f.Name))
		return TimerContinue
	}))
	n, err := b.Loop(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, calls)
	assert.False(t, b.TimerExists("self"))
}

func TestTimer_Stop(t *testing.T) {
	b := newTestBase(t)
	require.NoError(t, b.TimerAdd("t", 10, stopTimer))
	info, _ := b.TimerInfo("t")
	require.True(t, info.Pending)

	require.NoError(t, b.TimerStop("t"))
	info, _ = b.TimerInfo("t")
	assert.False(t, info.Pending)
	assert.True(t, b.TimerExists("t"))

	n, err := b.Loop(LoopNonBlock)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
