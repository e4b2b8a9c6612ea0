//go:build linux || darwin

package netutil

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPipe_NonBlocking(t *testing.T) {
	r, w, err := Pipe()
	require.NoError(t, err)
	defer unix.Close(r)
	defer unix.Close(w)

	buf := make([]byte, 8)
	_, err = unix.Read(r, buf)
	assert.ErrorIs(t, err, unix.EAGAIN)

	_, err = unix.Write(w, []byte("ok"))
	require.NoError(t, err)
	n, err := unix.Read(r, buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf[:n]))
}

func TestListenAccept(t *testing.T) {
	lfd, err := Listen("tcp", "127.0.0.1:0", false)
	require.NoError(t, err)
	defer unix.Close(lfd)

	port, err := LocalPort(lfd)
	require.NoError(t, err)
	require.NotZero(t, port)

	_, err = Accept(lfd)
	assert.ErrorIs(t, err, unix.EAGAIN)

	c, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), time.Second)
	require.NoError(t, err)
	defer c.Close()

	var fd int
	require.Eventually(t, func() bool {
		fd, err = Accept(lfd)
		return err == nil
	}, time.Second, 5*time.Millisecond)
	defer unix.Close(fd)

	nodelay, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY)
	require.NoError(t, err)
	assert.Equal(t, 1, nodelay)
}
