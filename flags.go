package evbase

import (
	"fmt"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/legamerdc/evbase/internal/native"
)

// What 是事件兴趣/结果掩码
type What = native.What

const (
	Timeout = native.Timeout
	Read    = native.Read
	Write   = native.Write
	Signal  = native.Signal
	Persist = native.Persist
)

// LoopFlags 控制 Loop 的运行方式
type LoopFlags = native.LoopFlags

const (
	LoopOnce     = native.LoopOnce
	LoopNonBlock = native.LoopNonBlock
)

// Forever 作为 Add 的超时表示不设超时
const Forever time.Duration = -1

// MaxPriority 是 PriorityInit 的默认参数，对应 MaxPriority+1 个优先级
const MaxPriority = 30

// SignalName 返回信号名，如 SIGINT；未知信号返回 "SIG<n>"
func SignalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return fmt.Sprintf("SIG%d", int(sig))
}
