//go:build !linux
// +build !linux

package tcpbackend

import "net"

// tuneSocket enables TCP_NODELAY and keepalive outside Linux through
// net.TCPConn's portable setters; other connection types are left alone.
func tuneSocket(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
		_ = tcpConn.SetKeepAlive(true)
	}
}
