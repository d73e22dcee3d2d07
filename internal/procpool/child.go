package procpool

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// Child is the worker-process view of the pool.
type Child struct {
	Index    int
	Listener int
	Ctl      int
	Config   []byte
}

// ChildFromEnv reports whether the current process was started by Spawn.
func ChildFromEnv() (*Child, bool, error) {
	v, ok := os.LookupEnv(EnvWorker)
	if !ok {
		return nil, false, nil
	}
	index, err := strconv.Atoi(v)
	if err != nil {
		return nil, true, err
	}
	c := &Child{
		Index:    index,
		Listener: ListenerFD,
		Ctl:      ControlFD,
		Config:   []byte(os.Getenv(EnvConfig)),
	}
	for _, fd := range [...]int{c.Listener, c.Ctl} {
		unix.CloseOnExec(fd)
		if err = unix.SetNonblock(fd, true); err != nil {
			return nil, true, os.NewSyscallError("fcntl", err)
		}
	}
	return c, true, nil
}

// Drain consumes pending notices and returns how many arrived.
// eof is set once the parent has gone away.
func (c *Child) Drain() (n int, eof bool, err error) {
	var buf [64]byte
	for {
		k, rerr := unix.Read(c.Ctl, buf[:])
		switch {
		case rerr == unix.EINTR:
			continue
		case rerr == unix.EAGAIN:
			return n, false, nil
		case rerr != nil:
			return n, false, os.NewSyscallError("read", rerr)
		case k == 0:
			return n, true, nil
		}
		n += k
	}
}

// Report tells the parent which signal is stopping this worker.
func (c *Child) Report(sig unix.Signal) error {
	for {
		_, err := unix.Write(c.Ctl, []byte{byte(sig)})
		if err == unix.EINTR {
			continue
		}
		return os.NewSyscallError("write", err)
	}
}

// ReadReports drains the bytes a worker wrote on its control channel fd,
// each one is a signal number. eof is set once the worker has closed its end.
func ReadReports(fd int) (sigs []unix.Signal, eof bool, err error) {
	var buf [16]byte
	for {
		k, rerr := unix.Read(fd, buf[:])
		switch {
		case rerr == unix.EINTR:
			continue
		case rerr == unix.EAGAIN:
			return sigs, false, nil
		case rerr != nil:
			return sigs, false, os.NewSyscallError("read", rerr)
		case k == 0:
			return sigs, true, nil
		}
		for _, b := range buf[:k] {
			sigs = append(sigs, unix.Signal(b))
		}
	}
}
