//go:build linux || darwin

package netutil

import (
	"net"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

func SetNonblock(fd int, nonblock bool) error {
	return unix.SetNonblock(fd, nonblock)
}

func SetReusePort(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolInt(enable))
}

func SetReuseAddr(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolInt(enable))
}

func SetNoDelay(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolInt(enable))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Listen 创建非阻塞监听 socket，仅支持 tcp/tcp4/tcp6。
func Listen(network, address string, reusePort bool) (int, error) {
	fam := unix.AF_INET
	resolve := "tcp4"
	if strings.HasSuffix(network, "6") {
		fam = unix.AF_INET6
		resolve = "tcp6"
	}
	addr, err := net.ResolveTCPAddr(resolve, address)
	if err != nil {
		return -1, err
	}
	fd, err := unix.Socket(fam, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(fd)
	_ = SetReuseAddr(fd, true)
	if reusePort {
		_ = SetReusePort(fd, true)
	}
	if err := SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	var sa unix.Sockaddr
	if fam == unix.AF_INET6 {
		var sa6 unix.SockaddrInet6
		if addr.IP != nil {
			copy(sa6.Addr[:], addr.IP.To16())
		}
		sa6.Port = addr.Port
		sa = &sa6
	} else {
		var sa4 unix.SockaddrInet4
		if addr.IP != nil {
			copy(sa4.Addr[:], addr.IP.To4())
		}
		sa4.Port = addr.Port
		sa = &sa4
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// LocalPort 返回已绑定 socket 的本地端口
func LocalPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	}
	return 0, syscall.EAFNOSUPPORT
}
