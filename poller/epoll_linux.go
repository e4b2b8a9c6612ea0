//go:build linux

package poller

import (
	"errors"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

type epollPoller struct {
	efd    int
	wfd    int // eventfd for wakeup
	events []unix.EpollEvent
	closed bool
}

// New 创建 epoll poller；maxEvents <= 0 时取 DefaultMaxEvents。
func New(maxEvents int) (Poller, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	efd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(efd)
		return nil, err
	}
	p := &epollPoller{efd: efd, wfd: wfd, events: make([]unix.EpollEvent, maxEvents)}
	// 唤醒 fd 用边缘触发，每次都会读空
	ev := &unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(wfd)}
	if err := unix.EpollCtl(efd, unix.EPOLL_CTL_ADD, wfd, ev); err != nil {
		unix.Close(wfd)
		unix.Close(efd)
		return nil, err
	}
	return p, nil
}

func interest(readable, writable bool) uint32 {
	var flag uint32
	if readable {
		flag |= unix.EPOLLIN
	}
	if writable {
		flag |= unix.EPOLLOUT
	}
	return flag
}

func (p *epollPoller) Register(fd FD, readable, writable bool) error {
	if p.closed {
		return ErrClosed
	}
	ev := &unix.EpollEvent{Events: interest(readable, writable), Fd: int32(fd)}
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_ADD, fd, ev)
}

func (p *epollPoller) Mod(fd FD, readable, writable bool) error {
	if p.closed {
		return ErrClosed
	}
	ev := &unix.EpollEvent{Events: interest(readable, writable), Fd: int32(fd)}
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) Unregister(fd FD) error {
	if p.closed {
		return ErrClosed
	}
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(p.wfd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *epollPoller) Close() error {
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	unix.Close(p.wfd)
	return unix.Close(p.efd)
}

func (p *epollPoller) Wait(timeout time.Duration, h Handler) (int, error) {
	if p.closed {
		return 0, ErrClosed
	}
	defer runtime.KeepAlive(p)
	n, err := unix.EpollWait(p.efd, p.events, msec(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	var efdBuf [8]byte
	handled := 0
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Fd)
		if fd == p.wfd {
			// 清空 eventfd
			for {
				_, rerr := unix.Read(p.wfd, efdBuf[:])
				if rerr == unix.EAGAIN {
					break
				}
				if rerr != nil {
					return handled, rerr
				}
			}
			continue
		}
		handled++
		if (ev.Events & (unix.EPOLLERR | unix.EPOLLHUP)) != 0 {
			h.OnClose(fd, errors.New("epoll: err|hup"))
			continue
		}
		if (ev.Events & unix.EPOLLIN) != 0 {
			h.OnReadable(fd)
		}
		if (ev.Events & unix.EPOLLOUT) != 0 {
			h.OnWritable(fd)
		}
	}
	return handled, nil
}
