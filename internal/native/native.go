// Package native 是 evbase 的原生层：一个 Base 持有一个 poller，
// 一个 Event 对应一次 fd/信号/超时注册。上层只通过这里的几组原语
// （创建、配置、装载、卸载、释放）操作句柄，不直接接触 poller。
//
// 所有方法只能在驱动 Loop 的 goroutine 中调用；LoopBreak、LoopExit
// 与 Wake 相关的路径例外，可以从其它 goroutine 请求退出。
package native

import (
	"errors"
	"fmt"
	"strings"

	"github.com/legamerdc/evbase/poller"
)

// What 是事件兴趣/结果掩码
type What uint16

const (
	Timeout What = 0x01
	Read    What = 0x02
	Write   What = 0x04
	Signal  What = 0x08
	Persist What = 0x10

	allBits = Timeout | Read | Write | Signal | Persist
)

func (w What) String() string {
	if w == 0 {
		return "0"
	}
	var s []string
	names := []struct {
		bit  What
		name string
	}{{Timeout, "TIMEOUT"}, {Read, "READ"}, {Write, "WRITE"}, {Signal, "SIGNAL"}, {Persist, "PERSIST"}}
	for _, n := range names {
		if w&n.bit != 0 {
			s = append(s, n.name)
			w &^= n.bit
		}
	}
	if w != 0 {
		s = append(s, fmt.Sprintf("0x%x", uint16(w)))
	}
	return strings.Join(s, "|")
}

// LoopFlags 控制 Loop 的运行方式
type LoopFlags int

const (
	// LoopOnce 阻塞到有事件就绪，派发完后返回
	LoopOnce LoopFlags = 0x01
	// LoopNonBlock 只做一次不阻塞的轮询
	LoopNonBlock LoopFlags = 0x02
)

// MaxPriorities 优先级数量上限
const MaxPriorities = 256

var (
	ErrUnavailable   = poller.ErrUnavailable
	ErrFreed         = errors.New("native: handle already freed")
	ErrBusy          = errors.New("native: base still has bound events")
	ErrNoBase        = errors.New("native: event is not bound to a base")
	ErrNotConfigured = errors.New("native: event is not configured")
	ErrPending       = errors.New("native: event is pending or active")
	ErrBadDescriptor = errors.New("native: bad file descriptor")
	ErrBadMask       = errors.New("native: bad event mask")
	ErrBadSignal     = errors.New("native: bad signal number")
	ErrBadCallback   = errors.New("native: nil callback")
	ErrNoTimeout     = errors.New("native: timer event needs a non-negative timeout")
	ErrPriority      = errors.New("native: priority out of range")
	ErrNotRunning    = errors.New("native: loop is not running")
	ErrReentrant     = errors.New("native: loop is already running")
)
