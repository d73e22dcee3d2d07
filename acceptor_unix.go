//go:build linux
// +build linux

package shphttpd

import (
	"os"

	"golang.org/x/sys/unix"
	"shphttpd/errors"
	"shphttpd/internal/netpoll"
)

var busyReply = []byte("Internal server busy\n")

// loopAccept accepts every pending connection of the listener.
func (el *eventloop) loopAccept(fd int) error {
	for {
		nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return nil
			case unix.EINTR, unix.ECONNABORTED:
				continue
			case unix.EBADF, unix.EINVAL, unix.ENOTSOCK:
				return errors.ErrAcceptSocket
			}
			el.svr.logger.Warnf("failed to accept a connection: %v", os.NewSyscallError("accept4", err))
			return nil
		}

		if len(el.connections) >= el.svr.opts.MaxConnections {
			_, _ = unix.Write(nfd, busyReply)
			_ = unix.Close(nfd)
			el.svr.metrics.Rejected()
			el.svr.logger.Warnf("connection limit %d reached, refusing a new connection", el.svr.opts.MaxConnections)
			continue
		}

		if el.svr.opts.TCPKeepAlive > 0 {
			sniffErrorAndLog(netpoll.SetKeepAlive(nfd, int(el.svr.opts.TCPKeepAlive.Seconds())))
		}
		if el.svr.opts.TCPNoDelay {
			sniffErrorAndLog(netpoll.SetNoDelay(nfd, true))
		}

		el.nextID++
		c := newTCPConn(el.nextID, nfd, el, sa, netpoll.SockaddrToTCPOrUnixAddr(sa))
		if err = el.poller.AddOneShotRead(nfd); err != nil {
			_ = unix.Close(nfd)
			el.svr.logger.Errorf("failed to register connection: %v", err)
			continue
		}
		el.connections[nfd] = c
		el.touch(c)
		el.svr.metrics.ConnOpened()
		el.svr.logger.Debugf("connection %d accepted from %v", c.id, c.remoteAddr)
	}
}
