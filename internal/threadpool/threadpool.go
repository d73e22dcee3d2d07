// Package threadpool runs connection processing steps on a fixed set of long-lived workers
// fed from a bounded queue.
package threadpool

import (
	"runtime/debug"
	"sync"

	"github.com/eapache/queue"
	"github.com/panjf2000/ants/v2"
	"shphttpd/errors"
	"shphttpd/internal/logging"
)

// Task is a unit of work run by exactly one worker.
type Task interface {
	Process()
}

// Pool is a bounded task queue paired with a counting signal.
// Submit never blocks, a full queue is reported to the caller instead.
type Pool struct {
	mu       sync.Mutex
	tasks    *queue.Queue
	capacity int
	closed   bool

	// sig holds one token per queued task.
	sig  chan struct{}
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	workers *ants.Pool
	logger  logging.Logger
}

// New starts workers goroutines serving a queue of at most capacity tasks.
func New(workers, capacity int, logger logging.Logger) (*Pool, error) {
	if workers <= 0 || capacity <= 0 {
		return nil, errors.ErrInvalidConfig
	}
	if logger == nil {
		logger = logging.DefaultLogger
	}
	p := &Pool{
		tasks:    queue.New(),
		capacity: capacity,
		sig:      make(chan struct{}, capacity),
		done:     make(chan struct{}),
		logger:   logger,
	}

	var err error
	p.workers, err = ants.NewPool(workers,
		ants.WithPreAlloc(true),
		ants.WithPanicHandler(func(v interface{}) {
			logger.Errorf("thread pool worker exited with panic: %v", v)
		}))
	if err != nil {
		return nil, err
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		if err = p.workers.Submit(p.work); err != nil {
			p.wg.Done()
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

// Submit queues t for a worker.
// It fails with errors.ErrQueueFull when capacity tasks are already waiting
// and with errors.ErrPoolClosed after Close.
func (p *Pool) Submit(t Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.ErrPoolClosed
	}
	if p.tasks.Length() >= p.capacity {
		p.mu.Unlock()
		return errors.ErrQueueFull
	}
	p.tasks.Add(t)
	p.mu.Unlock()

	// A token is only sent after its task is queued and only taken before the task is removed,
	// so the channel never holds more tokens than there are queued tasks.
	p.sig <- struct{}{}
	return nil
}

// Len is the number of tasks waiting for a worker.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasks.Length()
}

// Cap is the queue capacity.
func (p *Pool) Cap() int { return p.capacity }

// Workers is the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers.Cap() }

// Close stops the workers once their current task returns. Queued tasks are dropped.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.done)
		p.wg.Wait()
		p.workers.Release()
	})
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-p.sig:
		}
		p.mu.Lock()
		t := p.tasks.Remove().(Task)
		p.mu.Unlock()
		p.run(t)
	}
}

func (p *Pool) run(t Task) {
	defer func() {
		if v := recover(); v != nil {
			p.logger.Errorf("task panicked: %v\n%s", v, debug.Stack())
		}
	}()
	t.Process()
}
