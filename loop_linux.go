//go:build linux
// +build linux

package shphttpd

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
	"shphttpd/errors"
	"shphttpd/internal/httpconn"
	"shphttpd/internal/netpoll"
	"shphttpd/internal/timer"
)

type eventloop struct {
	svr         *server         // server in loop
	poller      *netpoll.Poller // epoll
	connections map[int]*conn   // loop connections fd -> conn
	timers      *timer.Queue    // inactivity deadlines
	nextID      uint64          // id of the next accepted connection
}

func newEventLoop(svr *server, p *netpoll.Poller) *eventloop {
	return &eventloop{
		svr:         svr,
		poller:      p,
		connections: make(map[int]*conn),
		timers:      timer.New(),
	}
}

func (el *eventloop) handleEvent(fd int, ev uint32) error {
	c, ok := el.connections[fd]
	if !ok {
		return nil
	}
	// Hang-up and error are terminal, EPOLLRDHUP alone is not: the peer may have
	// half-closed after sending a whole request, which is still answered before close.
	if ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		return el.loopCloseConn(c, nil)
	}
	switch c.state {
	case stateWriting:
		if ev&netpoll.OutEvents != 0 {
			return el.loopWrite(c)
		}
	case stateReading:
		if ev&netpoll.InEvents != 0 {
			return el.loopRead(c)
		}
	}
	return nil
}

// loopRead moves bytes from the socket into the connection buffer. Edge-triggered
// registrations keep reading until the socket would block or the buffer is full.
func (el *eventloop) loopRead(c *conn) error {
	buf := c.parser.Buffer()
	read := 0
	for {
		free := buf.Free()
		if len(free) == 0 {
			break
		}
		n, err := unix.Read(c.fd, free)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		if err == nil && n == 0 && read > 0 {
			c.peerClosed = true
			break
		}
		if err != nil {
			return el.loopCloseConn(c, os.NewSyscallError("read", err))
		}
		if n == 0 {
			return el.loopCloseConn(c, errors.ErrConnectionClosed)
		}
		_ = buf.Commit(n)
		read += n
		if !el.poller.EdgeTriggered() {
			break
		}
	}

	if read == 0 && !buf.Full() {
		return el.armRead(c)
	}
	el.touch(c)
	return el.dispatch(c)
}

// dispatch hands c to a worker goroutine, or processes it right away when the loop runs
// in a worker process.
func (el *eventloop) dispatch(c *conn) error {
	c.state = stateProcessing
	if el.svr.pool == nil {
		c.Process()
		return nil
	}
	if err := el.svr.pool.Submit(c); err != nil {
		el.svr.metrics.Rejected()
		el.svr.logger.Warnf("dropping connection %d: %v", c.id, err)
		return el.loopCloseConn(c, nil)
	}
	return nil
}

// loopProcessed takes c back from the processing step.
func (el *eventloop) loopProcessed(c *conn) error {
	if el.connections[c.fd] != c {
		if c.out != nil {
			c.out.Release()
			c.out = nil
		}
		return nil
	}
	if c.res == httpconn.Incomplete {
		if c.peerClosed {
			return el.loopCloseConn(c, nil)
		}
		c.state = stateReading
		return el.armRead(c)
	}
	el.svr.metrics.Request(int(c.out.Status()))
	c.state = stateWriting
	if err := el.poller.ArmWrite(c.fd); err != nil {
		return el.loopCloseConn(c, err)
	}
	return nil
}

func (el *eventloop) loopWrite(c *conn) error {
	if _, err := c.out.Send(c.fd); err != nil {
		if err == unix.EAGAIN {
			if err = el.poller.ArmWrite(c.fd); err != nil {
				return el.loopCloseConn(c, err)
			}
			return nil
		}
		return el.loopCloseConn(c, os.NewSyscallError("writev", err))
	}

	keepAlive := c.out.KeepAlive()
	c.out.Release()
	c.out = nil
	if !keepAlive {
		return el.loopCloseConn(c, nil)
	}

	c.parser.Reset()
	c.state = stateReading
	// A pipelined request may already sit in the buffer.
	if c.parser.Buffered() > 0 {
		return el.dispatch(c)
	}
	if c.peerClosed {
		return el.loopCloseConn(c, nil)
	}
	return el.armRead(c)
}

func (el *eventloop) armRead(c *conn) error {
	if err := el.poller.ArmRead(c.fd); err != nil {
		return el.loopCloseConn(c, err)
	}
	return nil
}

func (el *eventloop) touch(c *conn) {
	if idle := el.svr.opts.IdleTimeout; idle > 0 {
		el.timers.Add(c.id, c.fd, time.Now().Add(idle))
	}
}

func (el *eventloop) loopCloseConn(c *conn, err error) error {
	if el.connections[c.fd] != c {
		return nil
	}
	delete(el.connections, c.fd)
	el.timers.Delete(c.id)
	_ = el.poller.Delete(c.fd)
	if c.out != nil && c.state != stateProcessing {
		c.out.Release()
		c.out = nil
	}
	sniffErrorAndLog(os.NewSyscallError("close", unix.Close(c.fd)))
	el.svr.metrics.ConnClosed()
	if err != nil {
		el.svr.logger.Debugf("connection %d closed: %v", c.id, err)
	}
	return nil
}

// loopSweep closes connections that have been idle past their deadline. A connection held by
// a worker is never closed under it, its deadline moves forward instead.
func (el *eventloop) loopSweep() error {
	now := time.Now()
	for _, e := range el.timers.PopExpired(now) {
		c, ok := el.connections[e.FD]
		if !ok || c.id != e.ID {
			continue
		}
		if c.state == stateProcessing {
			el.timers.Add(c.id, c.fd, now.Add(el.svr.opts.IdleTimeout))
			continue
		}
		el.svr.metrics.IdleReaped()
		el.svr.logger.Debugf("connection %d idle for %v, closing", c.id, el.svr.opts.IdleTimeout)
		_ = el.loopCloseConn(c, nil)
	}
	return nil
}

func (el *eventloop) loopTicker(done <-chan struct{}) {
	ticker := time.NewTicker(el.svr.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := el.poller.Trigger(el.loopSweep); err != nil {
				el.svr.logger.Warnf("failed to schedule idle sweep: %v", err)
			}
		}
	}
}

// closeAllConns runs after the reactor and the workers have stopped.
func (el *eventloop) closeAllConns() {
	for _, c := range el.connections {
		c.state = stateReading
		_ = el.loopCloseConn(c, nil)
	}
}
