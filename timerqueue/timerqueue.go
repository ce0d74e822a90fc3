// Package timerqueue implements the reveal-time delay queue of spec.md
// §3/§4.6 (component C6): a priority queue ordered by absolute deadline
// with a blocking PopWhenReady.
//
// It is grounded on the TimerQueue call shape used throughout the teacher
// corpus (client2/arq.go's `a.timerQueue.Push(priority, surbID)` /
// `a.timerQueue.Peek()` / `a.timerQueue.Pop()`, and map/client/stream.go's
// `s.tq.Push(m)` where m implements a Priority() uint64 method). The
// katzenpost core/worker TimerQueue type itself was not retrieved into the
// example pack, so this is a from-scratch container/heap implementation
// of the same interface, adapted to carry a rmtp.ProdIndex instead of an
// opaque SURB identifier.
package timerqueue

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/Unidata/rmtp"
)

// ErrDisabled is returned by PopWhenReady once the queue has been
// disabled; per spec.md §4.6, no further prodindex is ever returned after
// that point.
var ErrDisabled = errors.New("timerqueue: disabled")

type entry struct {
	deadline time.Time
	index    rmtp.ProdIndex
}

type entryHeap []entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Queue is a blocking priority queue of (prodindex, deadline) pairs, safe
// for concurrent use by one pusher and one popper (the sender's
// send_product caller and the retention-timer thread, per spec.md §5).
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	heap     entryHeap
	disabled bool
}

// New returns an empty, enabled Queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push inserts prodindex with a deadline secondsFromNow in the future and
// wakes any blocked PopWhenReady caller.
func (q *Queue) Push(index rmtp.ProdIndex, secondsFromNow time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disabled {
		return
	}
	heap.Push(&q.heap, entry{deadline: time.Now().Add(secondsFromNow), index: index})
	q.cond.Broadcast()
}

// Size returns the number of pending entries.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// PopWhenReady blocks until the earliest entry's deadline has passed, then
// pops and returns it. It returns ErrDisabled immediately, or as soon as
// any in-progress wait is interrupted, once Disable has been called.
func (q *Queue) PopWhenReady() (rmtp.ProdIndex, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.disabled {
			return 0, ErrDisabled
		}
		if len(q.heap) == 0 {
			q.cond.Wait()
			continue
		}
		wait := time.Until(q.heap[0].deadline)
		if wait <= 0 {
			e := heap.Pop(&q.heap).(entry)
			return e.index, nil
		}

		// Wait with a timeout for either a new push/disable (cond signal)
		// or the deadline elapsing, whichever comes first. sync.Cond has
		// no timed wait, so a timer goroutine signals the same cond.
		timer := time.AfterFunc(wait, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		q.cond.Wait()
		timer.Stop()
	}
}

// Disable wakes every blocked PopWhenReady caller, who will then return
// ErrDisabled; used for shutdown (spec.md §4.6, §8 invariant 8).
func (q *Queue) Disable() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.disabled = true
	q.cond.Broadcast()
}
