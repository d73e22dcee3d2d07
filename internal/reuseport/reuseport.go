//go:build linux
// +build linux

package reuseport

import (
	"net"
)

// Config tunes the listening socket.
type Config struct {
	// ReusePort sets SO_REUSEPORT so several processes may bind the same address.
	ReusePort bool
	// Backlog caps the accept queue, zero or anything above somaxconn means somaxconn.
	Backlog int
}

// TCPSocket creates a non-blocking listening socket bound to addr.
// The returned address carries the port the kernel picked when addr asked for port 0.
func TCPSocket(proto, addr string, cfg Config) (int, net.Addr, error) {
	return tcpListen(proto, addr, cfg)
}
