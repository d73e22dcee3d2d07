//go:build linux
// +build linux

package reuseport

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
	"shphttpd/errors"
	"shphttpd/internal/netpoll"
)

func tcpSockaddr(proto, addr string) (sa unix.Sockaddr, family int, err error) {
	var tcpAddr *net.TCPAddr
	if tcpAddr, err = net.ResolveTCPAddr(proto, addr); err != nil {
		return
	}

	var version string
	if version, err = tcpVersion(proto, tcpAddr); err != nil {
		return
	}

	switch version {
	case "tcp4":
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		if ip4 := tcpAddr.IP.To4(); ip4 != nil {
			copy(sa4.Addr[:], ip4)
		}
		sa, family = sa4, unix.AF_INET
	case "tcp6":
		sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(sa6.Addr[:], tcpAddr.IP.To16())
		if tcpAddr.Zone != "" {
			var iface *net.Interface
			if iface, err = net.InterfaceByName(tcpAddr.Zone); err != nil {
				return
			}
			sa6.ZoneId = uint32(iface.Index)
		}
		sa, family = sa6, unix.AF_INET6
	default:
		err = errors.ErrUnsupportedProtocol
	}
	return
}

// tcpVersion narrows "tcp" down to the family of the resolved IP, an empty host binds IPv4.
func tcpVersion(proto string, addr *net.TCPAddr) (string, error) {
	switch proto {
	case "tcp4", "tcp6":
		return proto, nil
	case "tcp":
		if addr.IP == nil || addr.IP.To4() != nil {
			return "tcp4", nil
		}
		return "tcp6", nil
	}
	return "", errors.ErrUnsupportedTCPProtocol
}

func tcpListen(proto, addr string, cfg Config) (fd int, netAddr net.Addr, err error) {
	var (
		family   int
		sockaddr unix.Sockaddr
	)
	if sockaddr, family, err = tcpSockaddr(proto, addr); err != nil {
		return
	}

	if fd, err = sysSocket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP); err != nil {
		err = os.NewSyscallError("socket", err)
		return
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
		}
	}()

	if err = os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)); err != nil {
		return
	}
	if cfg.ReusePort {
		if err = os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)); err != nil {
			return
		}
	}
	if err = os.NewSyscallError("bind", unix.Bind(fd, sockaddr)); err != nil {
		return
	}
	if err = os.NewSyscallError("listen", unix.Listen(fd, backlog(cfg.Backlog))); err != nil {
		return
	}

	var bound unix.Sockaddr
	if bound, err = unix.Getsockname(fd); err != nil {
		err = os.NewSyscallError("getsockname", err)
		return
	}
	netAddr = netpoll.SockaddrToTCPOrUnixAddr(bound)
	return
}
