// Package shphttpd is a small static-file HTTP/1.1 server built directly on epoll.
//
// Connections are driven by a one-shot reactor and dispatched either to a bounded pool of
// goroutines or to pre-started worker processes that share the listening socket.
package shphttpd

import (
	"context"
	"net"
	"strings"
	"time"

	"shphttpd/errors"
	"shphttpd/internal/logging"
	"shphttpd/internal/procpool"
)

// shutdownPollInterval is how often Stop checks whether the server is down.
const shutdownPollInterval = 100 * time.Millisecond

// Server describes a running server.
type Server struct {
	svr *server

	// Addr is the bound listening address.
	Addr net.Addr

	// Dispatch is the dispatch mode.
	Dispatch DispatchMode

	// NumWorkers is the number of worker goroutines or processes.
	NumWorkers int

	// WorkerPIDs lists the worker processes in process-pool mode.
	WorkerPIDs []int
}

// CountConnections counts the connections of the thread-pool reactor. Process-pool
// connections live in worker processes and are not visible to the parent.
func (s Server) CountConnections() (count int) {
	if s.svr == nil || s.svr.mainLoop == nil {
		return 0
	}
	done := make(chan int, 1)
	if err := s.svr.mainLoop.poller.Trigger(func() error {
		done <- len(s.svr.mainLoop.connections)
		return nil
	}); err != nil {
		return 0
	}
	select {
	case count = <-done:
	case <-time.After(time.Second):
	}
	return
}

// IsWorker reports whether the current process was started as a process-pool worker.
// Such a process must call Serve, which then runs the worker reactor.
func IsWorker() bool {
	_, ok, _ := procpool.ChildFromEnv()
	return ok
}

// Serve starts handling HTTP requests on the specified address and blocks until the server stops.
//
// Address should use a scheme prefix and be formatted
// like `tcp://192.168.0.10:9851`. Valid network schemes:
//  tcp   - bind to both IPv4 and IPv6
//  tcp4  - IPv4
//  tcp6  - IPv6
//
// Serve returns nil after a termination signal or Stop, errors.ErrNoLiveWorkers when every
// worker process has died, and the setup error otherwise.
//
// A process started as a worker by a process-pool parent ignores the arguments and serves
// with the configuration handed down by its parent.
func Serve(protoAddr string, opts ...Option) (err error) {
	defer logging.Cleanup()

	child, isChild, err := procpool.ChildFromEnv()
	if isChild {
		if err != nil {
			return err
		}
		return serveWorker(child)
	}

	options := loadOptions(opts...)
	if err = options.validate(); err != nil {
		return
	}

	network, addr := parseProtoAddr(protoAddr)

	var ln *listener
	if ln, err = initListener(network, addr, options); err != nil {
		return
	}
	defer ln.close()

	return serve(ln, options, protoAddr)
}

// Stop gracefully shuts down the server started by Serve with the same protoAddr,
// waiting until it is down or ctx is done. protoAddr may also name the bound address,
// like `tcp://127.0.0.1:38017` for a server started on `tcp://127.0.0.1:0`.
func Stop(ctx context.Context, protoAddr string) error {
	s, ok := serverFarm.Load(protoAddr)
	if !ok {
		_, addr := parseProtoAddr(protoAddr)
		s, ok = serverFarm.Load("tcp://" + addr)
	}
	if !ok {
		return errors.ErrServerInShutdown
	}
	svr := s.(*server)
	svr.signalShutdown()
	defer svr.unregister()

	if svr.isInShutdown() {
		return errors.ErrServerInShutdown
	}

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()
	for {
		if svr.isInShutdown() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func parseProtoAddr(addr string) (network, address string) {
	network = "tcp"
	address = strings.ToLower(addr)
	if strings.Contains(address, "://") {
		pair := strings.SplitN(address, "://", 2)
		network = pair[0]
		address = pair[1]
	}
	return
}

func sniffErrorAndLog(err error) {
	if err != nil {
		logging.DefaultLogger.Errorf("%v", err)
	}
}
