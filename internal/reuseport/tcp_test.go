//go:build linux
// +build linux

package reuseport

import (
	"net"
	"testing"

	"golang.org/x/sys/unix"
	"shphttpd/errors"
)

func TestTCPSocketEphemeralPort(t *testing.T) {
	fd, addr, err := TCPSocket("tcp", "127.0.0.1:0", Config{ReusePort: true})
	if err != nil {
		t.Fatalf("TCPSocket: %v", err)
	}
	defer unix.Close(fd)

	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		t.Fatalf("addr is %T, want *net.TCPAddr", addr)
	}
	if tcpAddr.Port == 0 {
		t.Fatal("kernel-assigned port not reported")
	}

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		t.Fatalf("fcntl: %v", err)
	}
	if flags&unix.O_NONBLOCK == 0 {
		t.Fatal("listening socket is blocking")
	}

	c, err := net.Dial("tcp", tcpAddr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c.Close()
}

func TestTCPSocketRejectsUnknownProto(t *testing.T) {
	if _, _, err := TCPSocket("udp", "127.0.0.1:0", Config{}); err == nil {
		t.Fatal("expected an error for udp")
	}
	if _, err := tcpVersion("unix", &net.TCPAddr{}); err != errors.ErrUnsupportedTCPProtocol {
		t.Fatalf("tcpVersion: %v", err)
	}
}

func TestBacklogClamp(t *testing.T) {
	if backlog(0) != somaxconn {
		t.Fatal("zero backlog should mean somaxconn")
	}
	if backlog(somaxconn+1) != somaxconn {
		t.Fatal("backlog above somaxconn should clamp")
	}
	if somaxconn > 1 && backlog(1) != 1 {
		t.Fatal("small backlog should be kept")
	}
}
