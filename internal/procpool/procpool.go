// Package procpool manages pre-started worker processes that share one listening socket.
//
// The parent never accepts. It picks a live worker round-robin and writes one byte on that
// worker's control channel, the worker then accepts on its inherited copy of the listener.
package procpool

import (
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"shphttpd/errors"
	"shphttpd/internal/logging"
	"shphttpd/internal/netpoll"
)

const (
	// EnvWorker carries the worker index into a child process.
	EnvWorker = "SHPHTTPD_WORKER"
	// EnvConfig carries the encoded server configuration into a child process.
	EnvConfig = "SHPHTTPD_WORKER_CONFIG"
	// ListenerFD is the descriptor of the inherited listening socket in a child.
	ListenerFD = 3
	// ControlFD is the descriptor of the child end of the control channel.
	ControlFD = 4
	// MaxWorkers bounds the number of worker processes.
	MaxWorkers = 16

	noticeByte = 1
)

// Worker describes one child process.
type Worker struct {
	Index int
	Pid   int
	Ctl   int // parent end of the control channel

	alive bool
	proc  *os.Process
}

// Pool is the parent's table of workers.
type Pool struct {
	mu      sync.Mutex
	workers []*Worker
	cursor  int
	logger  logging.Logger
}

// Spawn re-executes the current binary n times as worker processes.
// Each child inherits listenerFd as ListenerFD and its end of a fresh socketpair as ControlFD.
func Spawn(n, listenerFd int, config []byte, logger logging.Logger) (p *Pool, err error) {
	if n <= 0 || n > MaxWorkers {
		return nil, errors.ErrInvalidConfig
	}
	if logger == nil {
		logger = logging.DefaultLogger
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}

	p = &Pool{logger: logger}
	defer func() {
		if err != nil {
			p.Shutdown(unix.SIGKILL, time.Second)
			p.Close()
			p = nil
		}
	}()

	listener, err := netpoll.DupFile(listenerFd, "listener")
	if err != nil {
		return
	}
	defer func() {
		_ = listener.Close()
		// Handing a descriptor to a child switches the shared file description to blocking mode.
		if nbErr := unix.SetNonblock(listenerFd, true); nbErr != nil && err == nil {
			err = os.NewSyscallError("fcntl", nbErr)
		}
	}()

	for i := 0; i < n; i++ {
		var w *Worker
		if w, err = spawnOne(exe, i, listener, config); err != nil {
			return
		}
		p.workers = append(p.workers, w)
		logger.Infof("worker %d started with pid %d", w.Index, w.Pid)
	}
	return
}

func spawnOne(exe string, index int, listener *os.File, config []byte) (*Worker, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, os.NewSyscallError("socketpair", err)
	}
	if err = unix.SetNonblock(fds[0], true); err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, os.NewSyscallError("fcntl", err)
	}
	ctl := os.NewFile(uintptr(fds[1]), "control")
	defer ctl.Close()

	env := append(os.Environ(),
		EnvWorker+"="+strconv.Itoa(index),
		EnvConfig+"="+string(config))
	proc, err := os.StartProcess(exe, os.Args, &os.ProcAttr{
		Env:   env,
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr, listener, ctl},
	})
	if err != nil {
		_ = unix.Close(fds[0])
		return nil, err
	}
	return &Worker{Index: index, Pid: proc.Pid, Ctl: fds[0], alive: true, proc: proc}, nil
}

// Len is the number of workers, dead or alive.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Alive is the number of live workers.
func (p *Pool) Alive() (n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if w.alive {
			n++
		}
	}
	return
}

// PIDs lists the process ids of the live workers.
func (p *Pool) PIDs() (pids []int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if w.alive {
			pids = append(pids, w.Pid)
		}
	}
	return
}

// ControlFDs lists the parent ends of every control channel.
func (p *Pool) ControlFDs() (fds []int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		fds = append(fds, w.Ctl)
	}
	return
}

// Lookup finds the worker owning control descriptor fd.
func (p *Pool) Lookup(fd int) *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if w.Ctl == fd {
			return w
		}
	}
	return nil
}

// Next picks the first live worker at or after the cursor and moves the cursor past it.
func (p *Pool) Next() (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.workers)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		if w := p.workers[idx]; w.alive {
			p.cursor = (idx + 1) % n
			return w, nil
		}
	}
	return nil, errors.ErrNoLiveWorkers
}

// Assign hands one pending connection to a live worker.
// A worker whose channel is broken is marked dead and the next one is tried.
func (p *Pool) Assign() (*Worker, error) {
	for attempts := p.Len(); attempts > 0; attempts-- {
		w, err := p.Next()
		if err != nil {
			return nil, err
		}
		switch err = Notify(w.Ctl); err {
		case nil:
			return w, nil
		case unix.EAGAIN:
			p.logger.Warnf("worker %d is not draining its control channel", w.Index)
		default:
			p.logger.Errorf("worker %d control channel failed: %v", w.Index, err)
			p.markDead(w)
		}
	}
	if p.Alive() == 0 {
		return nil, errors.ErrNoLiveWorkers
	}
	return nil, errors.ErrQueueFull
}

// Notify writes the single "accept now" byte on fd.
func Notify(fd int) error {
	for {
		_, err := unix.Write(fd, []byte{noticeByte})
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

func (p *Pool) markDead(w *Worker) {
	p.mu.Lock()
	w.alive = false
	p.mu.Unlock()
}

// MarkDead takes the worker with the given pid out of rotation.
func (p *Pool) MarkDead(pid int) *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if w.Pid == pid {
			w.alive = false
			return w
		}
	}
	return nil
}

// Reap collects every worker that has exited without blocking and marks it dead.
func (p *Pool) Reap() (reaped []*Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if !w.alive || w.proc == nil {
			continue
		}
		var ws unix.WaitStatus
		pid, err := unix.Wait4(w.Pid, &ws, unix.WNOHANG, nil)
		if pid == w.Pid || err == unix.ECHILD {
			w.alive = false
			_ = w.proc.Release()
			reaped = append(reaped, w)
			if ws.Signaled() {
				p.logger.Warnf("worker %d (pid %d) killed by %v", w.Index, w.Pid, ws.Signal())
			} else {
				p.logger.Infof("worker %d (pid %d) exited with status %d", w.Index, w.Pid, ws.ExitStatus())
			}
		}
	}
	return
}

// Signal sends sig to every live worker.
func (p *Pool) Signal(sig unix.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if w.alive {
			if err := unix.Kill(w.Pid, sig); err != nil && err != unix.ESRCH {
				p.logger.Warnf("failed to signal worker %d: %v", w.Index, os.NewSyscallError("kill", err))
			}
		}
	}
}

// Shutdown forwards sig to the live workers and waits up to grace for them to exit,
// the ones still running after that are killed.
func (p *Pool) Shutdown(sig unix.Signal, grace time.Duration) {
	p.Signal(sig)
	deadline := time.Now().Add(grace)
	for p.Reap(); p.Alive() > 0 && time.Now().Before(deadline); p.Reap() {
		time.Sleep(10 * time.Millisecond)
	}
	if p.Alive() == 0 {
		return
	}

	p.Signal(unix.SIGKILL)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if w.alive && w.proc != nil {
			var ws unix.WaitStatus
			_, _ = unix.Wait4(w.Pid, &ws, 0, nil)
			_ = w.proc.Release()
			w.alive = false
		}
	}
}

// Close closes the parent ends of the control channels.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if w.Ctl >= 0 {
			_ = unix.Close(w.Ctl)
			w.Ctl = -1
		}
	}
}
