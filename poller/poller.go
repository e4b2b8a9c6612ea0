package poller

import (
	"errors"
	"math"
	"time"
)

// FD 表示文件描述符。
type FD = int

// Handler 是 poller 的事件回调接口。
// 在调用 Wait 的 goroutine 中同步调用，要求无阻塞返回。
type Handler interface {
	OnReadable(fd FD)
	OnWritable(fd FD)
	OnClose(fd FD, err error)
}

// Poller 提供水平触发的就绪通知。
// 除 Wake 外，所有方法都只能在驱动 Wait 的 goroutine 中调用。
type Poller interface {
	Register(fd FD, readable, writable bool) error
	Mod(fd FD, readable, writable bool) error
	Unregister(fd FD) error
	// Wait 等待一轮就绪事件并回调 h；timeout < 0 表示无限等待，0 表示不阻塞。
	// 返回本轮回调的 fd 事件数（不含唤醒）。
	Wait(timeout time.Duration, h Handler) (int, error)
	// Wake 使阻塞中的 Wait 立即返回，可在任意 goroutine 调用。
	Wake() error
	Close() error
}

var (
	// ErrUnavailable 当前平台没有可用的原生 poller
	ErrUnavailable = errors.New("poller: native poller unavailable on this platform")

	// ErrClosed poller 已关闭
	ErrClosed = errors.New("poller: closed")
)

// DefaultMaxEvents 单轮 Wait 最多取回的事件数
const DefaultMaxEvents = 1024

// msec 把超时换算为毫秒，向上取整，避免 (0,1ms) 被截断成忙等。
func msec(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	// 先截断再取整，避免取整时溢出成负数
	if timeout > time.Duration(math.MaxInt32)*time.Millisecond {
		return math.MaxInt32
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}
