//go:build linux
// +build linux

package shphttpd

import (
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"golang.org/x/sync/errgroup"
	"shphttpd/errors"
	"shphttpd/internal/httpconn"
	"shphttpd/internal/logging"
	"shphttpd/internal/metrics"
	"shphttpd/internal/netpoll"
	"shphttpd/internal/procpool"
	"shphttpd/internal/sigbridge"
	"shphttpd/internal/threadpool"
)

// workerGrace is how long the parent waits for workers to exit after forwarding SIGTERM.
const workerGrace = 5 * time.Second

type server struct {
	ln         *listener           // the listener for accepting new connections
	opts       *Options            // options with server
	once       sync.Once           // make sure only signalShutdown once
	shutdown   chan struct{}       // closed by signalShutdown
	group      errgroup.Group      // reactor, ticker and metrics goroutines
	logger     logging.Logger      // customized logger for logging info
	mainLoop   *eventloop          // the only event-loop of this process
	inShutdown int32               // whether the server is in shutdown
	exitErr    error               // why the reactor stopped, if not a shutdown request
	pool       *threadpool.Pool    // thread-pool dispatch, nil when connections are processed inline
	workers    *procpool.Pool      // process-pool parent only
	child      *procpool.Child     // process-pool worker only
	sig        *sigbridge.Bridge   // signals as readable bytes
	metrics    *metrics.Collector  // counters exported on MetricsAddr
	metricsSrv *fasthttp.Server    // serves metrics when MetricsAddr is set
	metricsLn  net.Listener        // listener of metricsSrv
	assembler  *httpconn.Assembler // builds responses from the document root
	protoAddr  string              // address Serve was called with
	boundAddr  string              // protoAddr with the port actually bound
}

// serverFarm maps both the requested and the bound address of each running server to it.
var serverFarm sync.Map

// register publishes svr for Stop. Several servers may be started with the same
// port-0 address, only the first of them owns that key, the bound address is unique.
func (svr *server) register(protoAddr string) {
	svr.protoAddr = protoAddr
	svr.boundAddr = svr.ln.network + "://" + svr.ln.lnaddr.String()
	serverFarm.Store(svr.boundAddr, svr)
	if protoAddr != svr.boundAddr {
		serverFarm.LoadOrStore(protoAddr, svr)
	}
}

func (svr *server) unregister() {
	serverFarm.CompareAndDelete(svr.boundAddr, svr)
	serverFarm.CompareAndDelete(svr.protoAddr, svr)
}

func newServer(ln *listener, options *Options, logger logging.Logger) *server {
	if logger == nil {
		logger = logging.DefaultLogger
	}
	return &server{
		ln:        ln,
		opts:      options,
		shutdown:  make(chan struct{}),
		logger:    logger,
		metrics:   metrics.New(),
		assembler: httpconn.NewAssembler(options.DocRoot),
	}
}

func (svr *server) isInShutdown() bool {
	return atomic.LoadInt32(&svr.inShutdown) == 1
}

// waitForShutdown waits for a signal to shutdown.
func (svr *server) waitForShutdown() {
	<-svr.shutdown
}

// signalShutdown signals the server to shut down.
func (svr *server) signalShutdown() {
	svr.once.Do(func() {
		close(svr.shutdown)
	})
}

// openMainLoop creates the event-loop and registers the signal bridge with it.
func (svr *server) openMainLoop(sigs ...syscall.Signal) (err error) {
	var p *netpoll.Poller
	if p, err = netpoll.OpenPoller(); err != nil {
		return
	}
	p.SetTriggerMode(svr.opts.EdgeTriggered)
	svr.mainLoop = newEventLoop(svr, p)

	osSigs := make([]os.Signal, len(sigs))
	for i, s := range sigs {
		osSigs[i] = s
	}
	if svr.sig, err = sigbridge.Open(osSigs...); err != nil {
		return
	}
	return p.AddRead(svr.sig.Fd())
}

func (svr *server) startThreadPool() (err error) {
	if svr.pool, err = threadpool.New(svr.opts.numWorkers(), svr.opts.QueueCap, svr.logger); err != nil {
		return
	}
	if err = svr.openMainLoop(syscall.SIGTERM, syscall.SIGINT); err != nil {
		return
	}
	if err = svr.mainLoop.poller.AddRead(svr.ln.fd); err != nil {
		return
	}
	svr.startLoop(svr.activateMainReactor)
	return
}

func (svr *server) startLoop(reactor func(lockOSThread bool)) {
	svr.group.Go(func() error {
		reactor(svr.opts.LockOSThread)
		return nil
	})
	if svr.opts.IdleTimeout > 0 {
		svr.group.Go(func() error {
			svr.mainLoop.loopTicker(svr.shutdown)
			return nil
		})
	}
}

func (svr *server) startMetrics() error {
	if svr.opts.MetricsAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", svr.opts.MetricsAddr)
	if err != nil {
		return err
	}
	svr.metricsLn = ln
	handler := fasthttpadaptor.NewFastHTTPHandler(svr.metrics.Handler())
	svr.metricsSrv = &fasthttp.Server{
		Name: "shphttpd-metrics",
		Handler: func(ctx *fasthttp.RequestCtx) {
			if string(ctx.Path()) != "/metrics" {
				ctx.NotFound()
				return
			}
			handler(ctx)
		},
	}
	svr.group.Go(func() error {
		if err := svr.metricsSrv.Serve(ln); err != nil {
			svr.logger.Errorf("metrics endpoint stopped: %v", err)
		}
		return nil
	})
	svr.logger.Infof("metrics served on %s", ln.Addr())
	return nil
}

func (svr *server) start() error {
	if err := svr.startMetrics(); err != nil {
		return err
	}
	switch svr.opts.Dispatch {
	case ProcessPool:
		return svr.startProcessPool()
	default:
		return svr.startThreadPool()
	}
}

// stop waits for the shutdown signal and tears the server down, the parent of a process pool
// forwards SIGTERM to its workers and waits for them.
func (svr *server) stop() {
	svr.waitForShutdown()

	if svr.mainLoop != nil {
		sniffErrorAndLog(svr.mainLoop.poller.Trigger(func() error {
			return errors.ErrServerShutdown
		}))
	}
	if svr.metricsSrv != nil {
		sniffErrorAndLog(svr.metricsSrv.Shutdown())
		_ = svr.metricsLn.Close()
	}

	// Wait on the reactor and its helpers to return.
	_ = svr.group.Wait()

	if svr.pool != nil {
		svr.pool.Close()
	}
	if svr.workers != nil {
		svr.workers.Shutdown(syscall.SIGTERM, workerGrace)
		svr.workers.Close()
		svr.metrics.WorkersAlive(0)
	}
	if svr.mainLoop != nil {
		svr.mainLoop.closeAllConns()
		sniffErrorAndLog(svr.mainLoop.poller.Close())
	}
	if svr.sig != nil {
		sniffErrorAndLog(svr.sig.Close())
	}
	svr.ln.close()

	atomic.StoreInt32(&svr.inShutdown, 1)
}

func (svr *server) cleanup() {
	svr.signalShutdown()
	svr.stop()
}

func serve(ln *listener, options *Options, protoAddr string) error {
	logger := options.Logger
	if logger == nil {
		logger = logging.With("dispatch", options.Dispatch.String())
	}
	svr := newServer(ln, options, logger)

	if err := svr.start(); err != nil {
		svr.logger.Errorf("shphttpd server is stopping with error: %v", err)
		svr.cleanup()
		return err
	}

	svr.register(protoAddr)

	s := Server{
		svr:        svr,
		Addr:       ln.lnaddr,
		Dispatch:   options.Dispatch,
		NumWorkers: options.numWorkers(),
	}
	if svr.workers != nil {
		s.WorkerPIDs = svr.workers.PIDs()
	}
	svr.logger.Infof("shphttpd listening on %s with %d workers", ln.lnaddr, s.NumWorkers)
	if options.Ready != nil {
		options.Ready(s)
	}

	svr.stop()
	svr.unregister()
	return svr.exitErr
}
