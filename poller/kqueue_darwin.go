//go:build darwin

package poller

import (
	"errors"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

const (
	kqRead  uint8 = 1
	kqWrite uint8 = 2
)

type kqueuePoller struct {
	kq     int
	wfd    int // 写端，用于唤醒
	rfd    int // 读端，注册到 kqueue
	events []unix.Kevent_t
	// 已注册的过滤器，Mod 只删除真实存在的过滤器
	filters map[int]uint8
	closed  bool
}

// New 创建 kqueue poller；maxEvents <= 0 时取 DefaultMaxEvents。
func New(maxEvents int) (Poller, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	// 使用管道作为唤醒
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		unix.Close(kq)
		return nil, err
	}
	rfd, wfd := p[0], p[1]
	_ = unix.SetNonblock(rfd, true)
	_ = unix.SetNonblock(wfd, true)
	unix.CloseOnExec(rfd)
	unix.CloseOnExec(wfd)
	kev := unix.Kevent_t{
		Ident:  uint64(rfd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}
	_, err = unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil)
	if err != nil {
		unix.Close(rfd)
		unix.Close(wfd)
		unix.Close(kq)
		return nil, err
	}
	return &kqueuePoller{
		kq:      kq,
		wfd:     wfd,
		rfd:     rfd,
		events:  make([]unix.Kevent_t, maxEvents),
		filters: make(map[int]uint8),
	}, nil
}

func (p *kqueuePoller) apply(fd FD, want uint8) error {
	have := p.filters[fd]
	var changes []unix.Kevent_t
	if have&kqRead != 0 && want&kqRead == 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if have&kqWrite != 0 && want&kqWrite == 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}
	if have&kqRead == 0 && want&kqRead != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD})
	}
	if have&kqWrite == 0 && want&kqWrite != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD})
	}
	if len(changes) > 0 {
		if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
			return err
		}
	}
	if want == 0 {
		delete(p.filters, fd)
	} else {
		p.filters[fd] = want
	}
	return nil
}

func mask(readable, writable bool) uint8 {
	var m uint8
	if readable {
		m |= kqRead
	}
	if writable {
		m |= kqWrite
	}
	return m
}

func (p *kqueuePoller) Register(fd FD, readable, writable bool) error {
	if p.closed {
		return ErrClosed
	}
	if _, ok := p.filters[fd]; ok {
		return unix.EEXIST
	}
	return p.apply(fd, mask(readable, writable))
}

func (p *kqueuePoller) Mod(fd FD, readable, writable bool) error {
	if p.closed {
		return ErrClosed
	}
	return p.apply(fd, mask(readable, writable))
}

func (p *kqueuePoller) Unregister(fd FD) error {
	if p.closed {
		return ErrClosed
	}
	return p.apply(fd, 0)
}

func (p *kqueuePoller) Wake() error {
	var b [1]byte
	b[0] = 1
	_, err := unix.Write(p.wfd, b[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *kqueuePoller) Close() error {
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	unix.Close(p.rfd)
	unix.Close(p.wfd)
	return unix.Close(p.kq)
}

func (p *kqueuePoller) Wait(timeout time.Duration, h Handler) (int, error) {
	if p.closed {
		return 0, ErrClosed
	}
	defer runtime.KeepAlive(p)
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	buf := make([]byte, 16)
	handled := 0
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Ident)
		if fd == p.rfd {
			for {
				_, rerr := unix.Read(p.rfd, buf)
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
		if (ev.Flags & unix.EV_ERROR) != 0 {
			h.OnClose(fd, unix.Errno(ev.Data))
			continue
		}
		switch ev.Filter {
		case unix.EVFILT_READ:
			h.OnReadable(fd)
			// 读完后若标记 EOF，再进行关闭回调
			if (ev.Flags & unix.EV_EOF) != 0 {
				h.OnClose(fd, errors.New("kqueue: eof"))
			}
		case unix.EVFILT_WRITE:
			h.OnWritable(fd)
		default:
			if (ev.Flags & unix.EV_EOF) != 0 {
				h.OnClose(fd, errors.New("kqueue: eof"))
			}
		}
	}
	return handled, nil
}
