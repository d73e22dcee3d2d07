// Package sigbridge turns signal delivery into readable bytes on a descriptor
// that an event loop polls next to its sockets.
package sigbridge

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Bridge owns a socketpair, every signal received is written as one byte on
// the write end and read back by whoever polls Fd.
type Bridge struct {
	rfd, wfd int
	ch       chan os.Signal
	done     chan struct{}
	once     sync.Once
}

// Open creates the channel pair before subscribing to sigs.
// SIGPIPE is ignored so that writing to a reset peer fails with EPIPE instead.
func Open(sigs ...os.Signal) (*Bridge, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, os.NewSyscallError("socketpair", err)
	}
	b := &Bridge{
		rfd:  fds[0],
		wfd:  fds[1],
		ch:   make(chan os.Signal, 16),
		done: make(chan struct{}),
	}
	signal.Ignore(syscall.SIGPIPE)
	if len(sigs) > 0 {
		signal.Notify(b.ch, sigs...)
	}
	go b.relay()
	return b, nil
}

func (b *Bridge) relay() {
	for {
		select {
		case <-b.done:
			return
		case s := <-b.ch:
			if sig, ok := s.(syscall.Signal); ok {
				_ = b.Raise(sig)
			}
		}
	}
}

// Fd is the read end to register with a poller.
func (b *Bridge) Fd() int { return b.rfd }

// Raise queues sig as if it had been delivered.
func (b *Bridge) Raise(sig syscall.Signal) error {
	for {
		_, err := unix.Write(b.wfd, []byte{byte(sig)})
		if err == unix.EINTR {
			continue
		}
		return os.NewSyscallError("write", err)
	}
}

// Drain returns every pending signal in delivery order.
func (b *Bridge) Drain() (sigs []syscall.Signal, err error) {
	var buf [64]byte
	for {
		n, rerr := unix.Read(b.rfd, buf[:])
		switch {
		case rerr == unix.EINTR:
			continue
		case rerr == unix.EAGAIN:
			return sigs, nil
		case rerr != nil:
			return sigs, os.NewSyscallError("read", rerr)
		case n == 0:
			return sigs, nil
		}
		for _, c := range buf[:n] {
			sigs = append(sigs, syscall.Signal(c))
		}
	}
}

// Close unsubscribes and closes both ends.
func (b *Bridge) Close() error {
	var err error
	b.once.Do(func() {
		signal.Stop(b.ch)
		close(b.done)
		if e := unix.Close(b.wfd); e != nil {
			err = os.NewSyscallError("close", e)
		}
		if e := unix.Close(b.rfd); e != nil && err == nil {
			err = os.NewSyscallError("close", e)
		}
	})
	return err
}
