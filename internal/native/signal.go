package native

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// signalSource 把 os/signal 的投递转成 Loop 里的激活。
// 转发 goroutine 只记录计数并唤醒 poller，真正的派发发生在 Loop 中。
// 每个信号值独占一个通道，增删一个信号不会影响其他信号的订阅。
type signalSource struct {
	wake    func() error
	events  map[int][]*Event
	watches map[int]*sigWatch

	mu     sync.Mutex
	caught map[int]int
}

type sigWatch struct {
	ch   chan os.Signal
	done chan struct{}
}

func newSignalSource(wake func() error) *signalSource {
	return &signalSource{
		wake:    wake,
		events:  make(map[int][]*Event),
		watches: make(map[int]*sigWatch),
		caught:  make(map[int]int),
	}
}

// validSignal 判断信号能否被监听；SIGKILL/SIGSTOP 无法捕获
func validSignal(signo int) bool {
	if signo <= 0 {
		return false
	}
	sig := syscall.Signal(signo)
	if sig == unix.SIGKILL || sig == unix.SIGSTOP {
		return false
	}
	return unix.SignalName(sig) != ""
}

func (s *signalSource) add(ev *Event) {
	signo := ev.fd
	s.events[signo] = append(s.events[signo], ev)
	if _, ok := s.watches[signo]; !ok {
		s.watch(signo)
	}
}

func (s *signalSource) del(ev *Event) {
	signo := ev.fd
	list := s.events[signo]
	for i, e := range list {
		if e == ev {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.events, signo)
		s.unwatch(signo)
		return
	}
	s.events[signo] = list
}

// watch 为 signo 单独订阅并启动转发
func (s *signalSource) watch(signo int) {
	w := &sigWatch{
		ch:   make(chan os.Signal, 16),
		done: make(chan struct{}),
	}
	signal.Notify(w.ch, syscall.Signal(signo))
	s.watches[signo] = w
	go s.forward(w.ch, w.done)
}

func (s *signalSource) unwatch(signo int) {
	w, ok := s.watches[signo]
	if !ok {
		return
	}
	signal.Stop(w.ch)
	close(w.done)
	delete(s.watches, signo)
}

func (s *signalSource) forward(ch <-chan os.Signal, done <-chan struct{}) {
	for {
		select {
		case sig := <-ch:
			signo, ok := sig.(syscall.Signal)
			if !ok {
				continue
			}
			s.mu.Lock()
			s.caught[int(signo)]++
			s.mu.Unlock()
			_ = s.wake()
		case <-done:
			return
		}
	}
}

// drain 取走已捕获的信号计数
func (s *signalSource) drain() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.caught) == 0 {
		return nil
	}
	c := s.caught
	s.caught = make(map[int]int)
	return c
}

func (s *signalSource) close() {
	for signo := range s.watches {
		s.unwatch(signo)
	}
}

// processSignals 激活收到信号的事件
func (b *Base) processSignals() {
	for signo := range b.sigs.drain() {
		list := append([]*Event(nil), b.sigs.events[signo]...)
		for _, ev := range list {
			b.activate(ev, Signal)
		}
	}
}
