//go:build linux
// +build linux

package shphttpd

import (
	"runtime"
	"syscall"

	"shphttpd/errors"
	"shphttpd/internal/procpool"
)

// activateMainReactor runs the thread-pool reactor: it accepts, reads and writes every
// connection itself and leaves parsing and response building to the pool.
func (svr *server) activateMainReactor(lockOSThread bool) {
	if lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	defer svr.signalShutdown()

	el := svr.mainLoop
	err := el.poller.Polling(func(fd int, ev uint32) error {
		switch fd {
		case svr.ln.fd:
			return el.loopAccept(fd)
		case svr.sig.Fd():
			return svr.loopSignal()
		}
		return el.handleEvent(fd, ev)
	})
	svr.exit(err)
	svr.logger.Infof("Main reactor is exiting due to error: %v", err)
}

// activateParentReactor runs the process-pool parent: it never accepts, it only tells
// a worker that a connection is pending and watches the workers' lifecycle.
func (svr *server) activateParentReactor(lockOSThread bool) {
	if lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	defer svr.signalShutdown()

	err := svr.mainLoop.poller.Polling(func(fd int, ev uint32) error {
		switch fd {
		case svr.ln.fd:
			return svr.assignConnection()
		case svr.sig.Fd():
			return svr.loopSignal()
		}
		return svr.loopWorkerReport(fd)
	})
	svr.exit(err)
	svr.logger.Infof("Parent reactor is exiting due to error: %v", err)
}

// activateWorkerReactor runs inside a worker process. Notices from the parent trigger accepts,
// connections are processed inline.
func (svr *server) activateWorkerReactor(lockOSThread bool) {
	if lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	defer svr.signalShutdown()

	el := svr.mainLoop
	err := el.poller.Polling(func(fd int, ev uint32) error {
		switch fd {
		case svr.child.Ctl:
			n, eof, err := svr.child.Drain()
			if err != nil {
				return err
			}
			if eof {
				svr.logger.Warnf("parent process is gone, worker %d stopping", svr.child.Index)
				return errors.ErrServerShutdown
			}
			if n > 0 {
				return el.loopAccept(svr.ln.fd)
			}
			return nil
		case svr.sig.Fd():
			return svr.loopSignal()
		}
		return el.handleEvent(fd, ev)
	})
	svr.exit(err)
	svr.logger.Infof("Worker reactor is exiting due to error: %v", err)
}

func (svr *server) exit(err error) {
	if err != errors.ErrServerShutdown {
		svr.exitErr = err
	}
}

// loopSignal handles the signals queued on the bridge since the last wake-up.
func (svr *server) loopSignal() error {
	sigs, err := svr.sig.Drain()
	if err != nil {
		return err
	}
	for _, s := range sigs {
		switch s {
		case syscall.SIGCHLD:
			if svr.workers == nil {
				continue
			}
			svr.workers.Reap()
			alive := svr.workers.Alive()
			svr.metrics.WorkersAlive(alive)
			if alive == 0 {
				svr.logger.Errorf("every worker process has exited, no longer accepting connections")
				return errors.ErrNoLiveWorkers
			}
		case syscall.SIGTERM, syscall.SIGINT:
			svr.logger.Infof("received %v, shutting down", s)
			if svr.child != nil {
				sniffErrorAndLog(svr.child.Report(s))
			}
			return errors.ErrServerShutdown
		}
	}
	return nil
}

// assignConnection notifies the next live worker that the listener is readable.
func (svr *server) assignConnection() error {
	w, err := svr.workers.Assign()
	switch err {
	case nil:
		svr.logger.Debugf("connection assigned to worker %d", w.Index)
		return nil
	case errors.ErrNoLiveWorkers:
		svr.logger.Errorf("no live worker to take a new connection")
		return err
	default:
		svr.metrics.Rejected()
		svr.logger.Warnf("no worker could take a new connection: %v", err)
		return nil
	}
}

// loopWorkerReport reads what a worker wrote on its control channel.
func (svr *server) loopWorkerReport(fd int) error {
	w := svr.workers.Lookup(fd)
	if w == nil {
		return nil
	}
	sigs, eof, err := procpool.ReadReports(fd)
	for _, s := range sigs {
		svr.logger.Infof("worker %d (pid %d) is stopping on %v", w.Index, w.Pid, s)
	}
	if eof || err != nil {
		// The worker is gone, SIGCHLD takes it out of rotation.
		sniffErrorAndLog(svr.mainLoop.poller.Delete(fd))
	}
	return err
}
