//go:build linux
// +build linux

package tcpbackend

import (
	"net"

	"golang.org/x/sys/unix"
)

// tuneSocket applies the keepalive/nodelay options the teacher's disk
// segment transfer path conditionally compiles for Linux (pkg/disk/flush_linux.go),
// here applied to a consumer-facing connection instead of a file descriptor.
func tuneSocket(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return
	}
	_ = rawConn.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	})
}
