package queue

import (
	"sync"

	"github.com/eapache/queue"
)

// Task is a asynchronous function.
type Task func() error

// AsyncTaskQueue is a queue storing asynchronous tasks.
type AsyncTaskQueue interface {
	Enqueue(Task)
	Dequeue() Task
	Empty() bool
}

// taskQueue keeps tasks in a growable ring buffer guarded by a mutex.
// Producers are worker goroutines handing connections back; the only
// consumer is the poller goroutine.
type taskQueue struct {
	mu    sync.Mutex
	tasks *queue.Queue
}

// NewTaskQueue instantiates an empty AsyncTaskQueue.
func NewTaskQueue() AsyncTaskQueue {
	return &taskQueue{tasks: queue.New()}
}

// Enqueue appends a task at the tail.
func (q *taskQueue) Enqueue(task Task) {
	q.mu.Lock()
	q.tasks.Add(task)
	q.mu.Unlock()
}

// Dequeue removes the head task, it returns nil when the queue is empty.
func (q *taskQueue) Dequeue() Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tasks.Length() == 0 {
		return nil
	}
	return q.tasks.Remove().(Task)
}

// Empty reports whether there is nothing left to run.
func (q *taskQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Length() == 0
}
