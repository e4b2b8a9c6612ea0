package evbase

import (
	"errors"
	"fmt"

	"github.com/legamerdc/evbase/internal/native"
)

// Kind 是错误分类
type Kind uint8

const (
	KindUnavailable Kind = iota + 1
	KindAllocation
	KindConfiguration
	KindInvalidState
	KindOperation
	KindNotFound
)

var kindNames = map[Kind]string{
	KindUnavailable:   "unavailable",
	KindAllocation:    "allocation",
	KindConfiguration: "configuration",
	KindInvalidState:  "invalid state",
	KindOperation:     "operation",
	KindNotFound:      "not found",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

var (
	// ErrUnavailable 平台没有原生 poller
	ErrUnavailable = errors.New("evbase: native event polling unavailable")

	// ErrAllocation 原生上下文或句柄创建失败
	ErrAllocation = errors.New("evbase: allocation failed")

	// ErrConfiguration 参数被拒绝
	ErrConfiguration = errors.New("evbase: configuration rejected")

	// ErrInvalidState 句柄已释放或未绑定
	ErrInvalidState = errors.New("evbase: invalid state")

	// ErrOperation 运行期操作被原生层拒绝
	ErrOperation = errors.New("evbase: operation failed")

	// ErrNotFound 定时器名字不存在
	ErrNotFound = errors.New("evbase: not found")
)

var kindSentinels = map[Kind]error{
	KindUnavailable:   ErrUnavailable,
	KindAllocation:    ErrAllocation,
	KindConfiguration: ErrConfiguration,
	KindInvalidState:  ErrInvalidState,
	KindOperation:     ErrOperation,
	KindNotFound:      ErrNotFound,
}

// Error 是所有公开操作返回的错误
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := "evbase: " + e.Op
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrConfiguration) 这类判断按 Kind 命中
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func newError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func newErrorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// errFreed 是对已释放对象操作时的统一错误
func errFreed(op string) error {
	return &Error{Kind: KindInvalidState, Op: op, Msg: "resource already freed", Err: native.ErrFreed}
}

// wrapNative 按原生错误归类；fallback 用于无法归类的错误
func wrapNative(op string, fallback Kind, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, native.ErrFreed):
		return errFreed(op)
	case errors.Is(err, native.ErrNoBase):
		return newError(KindInvalidState, op, err)
	case errors.Is(err, native.ErrUnavailable):
		return newError(KindUnavailable, op, err)
	}
	return newError(fallback, op, err)
}

// tolerable 判断释放时可以忽略的错误
func tolerable(err error) bool {
	return err == nil || errors.Is(err, native.ErrFreed)
}
