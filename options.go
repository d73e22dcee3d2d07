package shphttpd

import (
	"time"

	"shphttpd/errors"
	"shphttpd/internal/logging"
)

// DispatchMode selects how connections are handed to workers.
type DispatchMode int

const (
	// ThreadPool runs one reactor that reads and writes every connection and a bounded
	// pool of goroutines that parse requests and build responses.
	ThreadPool DispatchMode = iota
	// ProcessPool pre-starts worker processes sharing the listener, each running its own reactor.
	ProcessPool
)

func (m DispatchMode) String() string {
	switch m {
	case ThreadPool:
		return "thread-pool"
	case ProcessPool:
		return "process-pool"
	}
	return "unknown"
}

const (
	// DefaultThreads is the thread pool size.
	DefaultThreads = 8
	// DefaultProcesses is the process pool size.
	DefaultProcesses = 2
	// DefaultQueueCap bounds the thread pool queue.
	DefaultQueueCap = 10000
	// DefaultReadBufferCap is the per-connection read buffer size, and so the largest request accepted.
	DefaultReadBufferCap = 2048
	// DefaultMaxConnections is the per-reactor connection limit.
	DefaultMaxConnections = 65536
	// DefaultTickInterval is the period of the inactivity sweep.
	DefaultTickInterval = time.Second
)

// Option is a function that will set up option.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := &Options{
		Dispatch:       ThreadPool,
		QueueCap:       DefaultQueueCap,
		DocRoot:        ".",
		ReadBufferCap:  DefaultReadBufferCap,
		EdgeTriggered:  true,
		MaxConnections: DefaultMaxConnections,
		TickInterval:   DefaultTickInterval,
	}
	for _, option := range options {
		option(opts)
	}
	return opts
}

// Options are set when the server starts.
type Options struct {
	// Dispatch picks the thread pool or the process pool.
	Dispatch DispatchMode `json:"dispatch"`

	// NumWorkers is the number of worker goroutines or processes,
	// zero picks DefaultThreads or DefaultProcesses.
	NumWorkers int `json:"num_workers"`

	// QueueCap bounds the thread pool queue, connections arriving when it is full are dropped.
	QueueCap int `json:"queue_cap"`

	// DocRoot is the directory files are served from.
	DocRoot string `json:"doc_root"`

	// ReadBufferCap is the fixed size of each connection's read buffer.
	ReadBufferCap int `json:"read_buffer_cap"`

	// EdgeTriggered registers connections edge-triggered, reads then drain the socket.
	EdgeTriggered bool `json:"edge_triggered"`

	// BareLF accepts a lone LF as a line terminator.
	BareLF bool `json:"bare_lf"`

	// IdleTimeout closes connections that stay silent for that long, zero disables it.
	IdleTimeout time.Duration `json:"idle_timeout"`

	// TickInterval is how often idle connections are looked for.
	TickInterval time.Duration `json:"tick_interval"`

	// ReusePort sets SO_REUSEPORT on the listener.
	ReusePort bool `json:"reuse_port"`

	// TCPKeepAlive sets up a duration for (SO_KEEPALIVE) socket option.
	TCPKeepAlive time.Duration `json:"tcp_keep_alive"`

	// TCPNoDelay disables Nagle's algorithm on accepted connections.
	TCPNoDelay bool `json:"tcp_no_delay"`

	// LockOSThread is used to determine whether each reactor is locked to one OS thread.
	LockOSThread bool `json:"lock_os_thread"`

	// MaxConnections caps open connections per reactor, the ones above it are told the server is busy.
	MaxConnections int `json:"max_connections"`

	// MetricsAddr serves Prometheus metrics on /metrics when set.
	MetricsAddr string `json:"-"`

	// Logger is the customized logger for logging info, if it is not set,
	// default standard logger from zap will be used.
	Logger logging.Logger `json:"-"`

	// Ready is called once the server accepts connections.
	Ready func(Server) `json:"-"`
}

// WithOptions sets up all options.
func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

// WithDispatch selects the dispatch mode.
func WithDispatch(mode DispatchMode) Option {
	return func(opts *Options) {
		opts.Dispatch = mode
	}
}

// WithNumWorkers sets the number of worker goroutines or processes.
func WithNumWorkers(n int) Option {
	return func(opts *Options) {
		opts.NumWorkers = n
	}
}

// WithQueueCap sets the thread pool queue capacity.
func WithQueueCap(n int) Option {
	return func(opts *Options) {
		opts.QueueCap = n
	}
}

// WithDocRoot sets the directory files are served from.
func WithDocRoot(dir string) Option {
	return func(opts *Options) {
		opts.DocRoot = dir
	}
}

// WithReadBufferCap sets the per-connection read buffer size.
func WithReadBufferCap(n int) Option {
	return func(opts *Options) {
		opts.ReadBufferCap = n
	}
}

// WithEdgeTriggered toggles edge-triggered connection registration.
func WithEdgeTriggered(edge bool) Option {
	return func(opts *Options) {
		opts.EdgeTriggered = edge
	}
}

// WithBareLF accepts LF-only line endings.
func WithBareLF(v bool) Option {
	return func(opts *Options) {
		opts.BareLF = v
	}
}

// WithIdleTimeout sets the inactivity limit of a connection.
func WithIdleTimeout(d time.Duration) Option {
	return func(opts *Options) {
		opts.IdleTimeout = d
	}
}

// WithTickInterval sets how often idle connections are swept.
func WithTickInterval(d time.Duration) Option {
	return func(opts *Options) {
		opts.TickInterval = d
	}
}

// WithReusePort sets up SO_REUSEPORT socket option.
func WithReusePort(reusePort bool) Option {
	return func(opts *Options) {
		opts.ReusePort = reusePort
	}
}

// WithTCPKeepAlive sets up the SO_KEEPALIVE socket option with duration.
func WithTCPKeepAlive(tcpKeepAlive time.Duration) Option {
	return func(opts *Options) {
		opts.TCPKeepAlive = tcpKeepAlive
	}
}

// WithTCPNoDelay toggles TCP_NODELAY on accepted connections.
func WithTCPNoDelay(noDelay bool) Option {
	return func(opts *Options) {
		opts.TCPNoDelay = noDelay
	}
}

// WithLockOSThread sets up LockOSThread mode for I/O event-loops.
func WithLockOSThread(lockOSThread bool) Option {
	return func(opts *Options) {
		opts.LockOSThread = lockOSThread
	}
}

// WithMaxConnections sets the per-reactor connection limit.
func WithMaxConnections(n int) Option {
	return func(opts *Options) {
		opts.MaxConnections = n
	}
}

// WithMetricsAddr serves Prometheus metrics on addr.
func WithMetricsAddr(addr string) Option {
	return func(opts *Options) {
		opts.MetricsAddr = addr
	}
}

// WithLogger sets up a customized logger.
func WithLogger(logger logging.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithReady registers a hook called once the server is accepting.
func WithReady(ready func(Server)) Option {
	return func(opts *Options) {
		opts.Ready = ready
	}
}

func (opts *Options) numWorkers() int {
	if opts.NumWorkers > 0 {
		return opts.NumWorkers
	}
	if opts.Dispatch == ProcessPool {
		return DefaultProcesses
	}
	return DefaultThreads
}

func (opts *Options) validate() error {
	switch {
	case opts.Dispatch != ThreadPool && opts.Dispatch != ProcessPool,
		opts.Dispatch == ThreadPool && opts.QueueCap <= 0,
		opts.ReadBufferCap <= 0,
		opts.MaxConnections <= 0,
		opts.IdleTimeout < 0,
		opts.IdleTimeout > 0 && opts.TickInterval <= 0:
		return errors.ErrInvalidConfig
	}
	return nil
}
