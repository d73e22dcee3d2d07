package threadpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shphttpd/errors"
)

type funcTask func()

func (f funcTask) Process() { f() }

func TestPoolRunsEveryTaskOnce(t *testing.T) {
	p, err := New(4, 100, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	var (
		wg   sync.WaitGroup
		hits [100]int32
	)
	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		if err := p.Submit(funcTask(func() {
			atomic.AddInt32(&hits[i], 1)
			wg.Done()
		})); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	wg.Wait()
	for i := range hits {
		if hits[i] != 1 {
			t.Fatalf("task %d ran %d times", i, hits[i])
		}
	}
}

func TestPoolRejectsBeyondCapacity(t *testing.T) {
	const capacity = 2
	p, err := New(1, capacity, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	started := make(chan struct{})
	gate := make(chan struct{})
	var ran int32
	if err := p.Submit(funcTask(func() {
		close(started)
		<-gate
		atomic.AddInt32(&ran, 1)
	})); err != nil {
		t.Fatal(err)
	}
	<-started

	var done sync.WaitGroup
	for i := 0; i < capacity; i++ {
		done.Add(1)
		if err := p.Submit(funcTask(func() {
			atomic.AddInt32(&ran, 1)
			done.Done()
		})); err != nil {
			t.Fatalf("Submit under capacity: %v", err)
		}
	}

	begin := time.Now()
	if err := p.Submit(funcTask(func() {})); err != errors.ErrQueueFull {
		t.Fatalf("Submit over capacity: %v, want ErrQueueFull", err)
	}
	if time.Since(begin) > time.Second {
		t.Fatal("rejecting a task blocked the caller")
	}
	if p.Len() != capacity {
		t.Fatalf("Len = %d, want %d", p.Len(), capacity)
	}

	close(gate)
	done.Wait()
	if atomic.LoadInt32(&ran) != capacity+1 {
		t.Fatalf("ran %d tasks", ran)
	}
}

func TestPoolSurvivesPanickingTask(t *testing.T) {
	p, err := New(1, 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.Submit(funcTask(func() { panic("boom") })); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	if err := p.Submit(funcTask(func() { close(done) })); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}

func TestPoolSubmitAfterClose(t *testing.T) {
	p, err := New(2, 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	p.Close()
	p.Close()
	if err := p.Submit(funcTask(func() {})); err != errors.ErrPoolClosed {
		t.Fatalf("Submit after Close: %v", err)
	}
}

func TestNewRejectsBadSizes(t *testing.T) {
	if _, err := New(0, 1, nil); err != errors.ErrInvalidConfig {
		t.Fatalf("zero workers: %v", err)
	}
	if _, err := New(1, 0, nil); err != errors.ErrInvalidConfig {
		t.Fatalf("zero capacity: %v", err)
	}
}
