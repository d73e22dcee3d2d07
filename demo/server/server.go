// Command server serves static files from a document root.
//
//	server [flags] ip_address port_number
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"shphttpd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// Process-pool workers are this same binary started again by the parent.
	if shphttpd.IsWorker() {
		if err := shphttpd.Serve(""); err != nil {
			fmt.Fprintf(os.Stderr, "worker: %v\n", err)
			return 1
		}
		return 0
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	var (
		mode     = fs.String("mode", "thread", "dispatch mode: thread or process")
		workers  = fs.Int("workers", 0, "worker goroutines or processes (0 picks the default)")
		queue    = fs.Int("queue", shphttpd.DefaultQueueCap, "thread pool queue capacity")
		root     = fs.String("root", ".", "document root")
		bufCap   = fs.Int("buffer", shphttpd.DefaultReadBufferCap, "read buffer size per connection")
		level    = fs.Bool("level", false, "register connections level-triggered")
		bareLF   = fs.Bool("lf", false, "accept LF-only line endings")
		idle     = fs.Duration("idle", 0, "close connections idle for this long (0 disables)")
		maxConns = fs.Int("max-conns", shphttpd.DefaultMaxConnections, "connection limit per reactor")
		metrics  = fs.String("metrics", "", "serve Prometheus metrics on this address")
	)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [flags] ip_address port_number\n", os.Args[0])
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return 1
	}

	var dispatch shphttpd.DispatchMode
	switch *mode {
	case "thread":
		dispatch = shphttpd.ThreadPool
	case "process":
		dispatch = shphttpd.ProcessPool
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		return 1
	}

	addr := "tcp://" + net.JoinHostPort(fs.Arg(0), fs.Arg(1))
	err := shphttpd.Serve(addr,
		shphttpd.WithDispatch(dispatch),
		shphttpd.WithNumWorkers(*workers),
		shphttpd.WithQueueCap(*queue),
		shphttpd.WithDocRoot(*root),
		shphttpd.WithReadBufferCap(*bufCap),
		shphttpd.WithEdgeTriggered(!*level),
		shphttpd.WithBareLF(*bareLF),
		shphttpd.WithIdleTimeout(*idle),
		shphttpd.WithTickInterval(time.Second),
		shphttpd.WithMaxConnections(*maxConns),
		shphttpd.WithMetricsAddr(*metrics),
		shphttpd.WithReady(func(s shphttpd.Server) {
			fmt.Printf("serving %s on %s (%s, %d workers)\n", *root, s.Addr, s.Dispatch, s.NumWorkers)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		return 1
	}
	return 0
}
