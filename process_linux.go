//go:build linux
// +build linux

package shphttpd

import (
	"strconv"
	"syscall"

	"github.com/goccy/go-json"
	"shphttpd/internal/logging"
	"shphttpd/internal/procpool"
)

// startProcessPool spawns the workers and registers the listener edge-triggered,
// a notified worker accepts until the backlog is empty.
func (svr *server) startProcessPool() (err error) {
	if err = svr.openMainLoop(syscall.SIGCHLD, syscall.SIGTERM, syscall.SIGINT); err != nil {
		return
	}

	var config []byte
	if config, err = json.Marshal(svr.opts); err != nil {
		return
	}
	if svr.workers, err = procpool.Spawn(svr.opts.numWorkers(), svr.ln.fd, config, svr.logger); err != nil {
		return
	}
	svr.metrics.WorkersAlive(svr.workers.Alive())

	for _, fd := range svr.workers.ControlFDs() {
		if err = svr.mainLoop.poller.AddRead(fd); err != nil {
			return
		}
	}
	if err = svr.mainLoop.poller.AddEdgeRead(svr.ln.fd); err != nil {
		return
	}
	svr.startLoop(svr.activateParentReactor)
	return
}

// serveWorker is the body of a worker process.
func serveWorker(child *procpool.Child) error {
	options := loadOptions()
	if err := json.Unmarshal(child.Config, options); err != nil {
		return err
	}
	options.NumWorkers = 1
	options.MetricsAddr = ""

	ln, err := inheritListener(child.Listener)
	if err != nil {
		return err
	}

	svr := newServer(ln, options, logging.Named("worker-"+strconv.Itoa(child.Index)))
	svr.child = child
	if err = svr.openMainLoop(syscall.SIGTERM, syscall.SIGINT); err != nil {
		svr.cleanup()
		return err
	}
	if err = svr.mainLoop.poller.AddRead(child.Ctl); err != nil {
		svr.cleanup()
		return err
	}
	svr.startLoop(svr.activateWorkerReactor)

	svr.logger.Infof("worker %d serving on %s", child.Index, ln.lnaddr)
	svr.stop()
	return svr.exitErr
}
