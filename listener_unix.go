//go:build linux
// +build linux

package shphttpd

import (
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
	"shphttpd/errors"
	"shphttpd/internal/netpoll"
	"shphttpd/internal/reuseport"
)

type listener struct {
	once          sync.Once
	fd            int
	lnaddr        net.Addr
	reusePort     bool
	addr, network string
}

func (ln *listener) normalize() (err error) {
	switch ln.network {
	case "tcp", "tcp4", "tcp6":
		ln.fd, ln.lnaddr, err = reuseport.TCPSocket(ln.network, ln.addr, reuseport.Config{ReusePort: ln.reusePort})
		ln.network = "tcp"
	default:
		err = errors.ErrUnsupportedProtocol
	}
	return
}

func (ln *listener) close() {
	ln.once.Do(
		func() {
			if ln.fd > 0 {
				sniffErrorAndLog(os.NewSyscallError("close", unix.Close(ln.fd)))
			}
		})
}

func initListener(network, addr string, options *Options) (l *listener, err error) {
	l = &listener{network: network, addr: addr, reusePort: options.ReusePort}
	err = l.normalize()
	return
}

// inheritListener wraps a listening socket received from the parent process.
func inheritListener(fd int) (*listener, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, os.NewSyscallError("getsockname", err)
	}
	addr := netpoll.SockaddrToTCPOrUnixAddr(sa)
	if addr == nil {
		return nil, errors.ErrUnsupportedProtocol
	}
	return &listener{fd: fd, lnaddr: addr, network: "tcp", addr: addr.String()}, nil
}
