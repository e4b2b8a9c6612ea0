//go:build linux

package netutil

import "golang.org/x/sys/unix"

// Pipe 创建非阻塞、close-on-exec 的管道，返回 (读端, 写端)。
func Pipe() (int, int, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	return p[0], p[1], nil
}

// Accept 接受一个连接，新 fd 为非阻塞。
func Accept(lfd int) (int, error) {
	fd, _, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, err
	}
	_ = SetNoDelay(fd, true)
	return fd, nil
}
