//go:build linux
// +build linux

package shphttpd

import (
	"net"

	"golang.org/x/sys/unix"
	"shphttpd/internal/httpconn"
)

type connState int

const (
	stateReading    connState = iota // waiting for request bytes
	stateProcessing                  // held by a worker, the loop must not touch it
	stateWriting                     // waiting to write the response
)

type conn struct {
	id         uint64           // unique within the loop
	fd         int              // file descriptor
	el         *eventloop       // owner event-loop
	sa         unix.Sockaddr    // remote socket address
	remoteAddr net.Addr         // remote peer address
	parser     *httpconn.Parser // read buffer and request state machine
	res        httpconn.Result  // outcome of the last processing step
	out        *httpconn.Output // response being written
	state      connState        // which interest the connection waits for
	peerClosed bool             // the peer shut its write side, no more requests follow
}

func newTCPConn(id uint64, fd int, el *eventloop, sa unix.Sockaddr, remoteAddr net.Addr) *conn {
	p := httpconn.NewParser(el.svr.opts.ReadBufferCap)
	p.AllowBareLF(el.svr.opts.BareLF)
	return &conn{
		id:         id,
		fd:         fd,
		el:         el,
		sa:         sa,
		remoteAddr: remoteAddr,
		parser:     p,
	}
}

// Process parses the buffered bytes and, once the request is complete or malformed,
// builds its response. It runs on a worker and hands the connection back to the loop.
func (c *conn) Process() {
	c.res = c.parser.Advance()
	if c.res != httpconn.Incomplete {
		c.out = c.el.svr.assembler.Build(c.res, c.parser.Request())
	}

	el := c.el
	if el.svr.pool == nil {
		sniffErrorAndLog(el.loopProcessed(c))
		return
	}
	sniffErrorAndLog(el.poller.Trigger(func() error {
		return el.loopProcessed(c)
	}))
}
