package evbase

import (
	"go.uber.org/zap"

	"github.com/legamerdc/evbase/poller"
)

// Attachable 是可以挂到 Base 上、随 Base 一起释放的对象（Event、BufferEvent）
type Attachable interface {
	SetBase(b *Base) error
	Free() error

	attachID() uint64
	// detach 在 Base 释放或重建时调用；afterFork 为 true 时不得关闭 fd
	detach(afterFork bool) error
}

// Config 为 Base 的配置
type Config struct {
	InitPriority bool        `yaml:"init_priority"` // 创建时执行 PriorityInit(MaxPriority)
	MaxPriority  int         `yaml:"max_priority"`  // 优先级数 = MaxPriority+1
	MaxEvents    int         `yaml:"max_events"`    // 单轮 poll 的事件上限
	Logger       *zap.Logger `yaml:"-"`             // nil 时不输出日志
}

// DefaultConfig 提供一组可工作的默认值
func DefaultConfig() Config {
	return Config{
		InitPriority: true,
		MaxPriority:  MaxPriority,
		MaxEvents:    poller.DefaultMaxEvents,
	}
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
