// Package timer keeps per-connection inactivity deadlines ordered by expiry.
package timer

import (
	"container/heap"
	"time"
)

// Entry is the deadline of one connection.
type Entry struct {
	ID     uint64
	FD     int
	Expire time.Time

	index int
}

// Queue is a min-heap of entries with lookup by connection id.
// It is not safe for concurrent use, the owning event loop is its only user.
type Queue struct {
	h    entryHeap
	byID map[uint64]*Entry
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{byID: make(map[uint64]*Entry)}
}

// Len is the number of pending deadlines.
func (q *Queue) Len() int { return len(q.h) }

// Add schedules id to expire at expire, an existing entry for id is moved.
func (q *Queue) Add(id uint64, fd int, expire time.Time) {
	if e, ok := q.byID[id]; ok {
		e.FD = fd
		e.Expire = expire
		heap.Fix(&q.h, e.index)
		return
	}
	e := &Entry{ID: id, FD: fd, Expire: expire}
	heap.Push(&q.h, e)
	q.byID[id] = e
}

// Refresh moves the deadline of id, it reports false when id is unknown.
func (q *Queue) Refresh(id uint64, expire time.Time) bool {
	e, ok := q.byID[id]
	if !ok {
		return false
	}
	e.Expire = expire
	heap.Fix(&q.h, e.index)
	return true
}

// Delete drops the deadline of id.
func (q *Queue) Delete(id uint64) {
	e, ok := q.byID[id]
	if !ok {
		return
	}
	heap.Remove(&q.h, e.index)
	delete(q.byID, id)
}

// Next returns the earliest deadline without removing it.
func (q *Queue) Next() (Entry, bool) {
	if len(q.h) == 0 {
		return Entry{}, false
	}
	return *q.h[0], true
}

// PopExpired removes and returns, earliest first, every entry expiring at or before now.
func (q *Queue) PopExpired(now time.Time) (expired []Entry) {
	for len(q.h) > 0 && !q.h[0].Expire.After(now) {
		e := heap.Pop(&q.h).(*Entry)
		delete(q.byID, e.ID)
		expired = append(expired, *e)
	}
	return
}

type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool { return h[i].Expire.Before(h[j].Expire) }

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
