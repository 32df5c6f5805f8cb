// Package job contains the in-process scheduling primitives of the job engine:
// the priority/delayed-visibility queue and the type-indexed handler router.
package job

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Clock reports the current time. The queue only reads it to decide visibility.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Ticket is the lightweight queue entry for one job. It is never persisted.
type Ticket struct {
	JobID     string
	Priority  int
	VisibleAt time.Time
	// Seq is assigned by the queue on Enqueue and breaks ties in FIFO order.
	Seq uint64
}

// QueueOptions configures a Queue.
type QueueOptions struct {
	Clock Clock
}

// Queue is a thread-safe priority queue with delayed visibility.
//
// Tickets are ordered by (VisibleAt asc, Priority desc, Seq asc). Dequeue blocks
// until the head ticket is visible or the context is done. Priority only decides
// between tickets with equal VisibleAt: a ticket normalized to an earlier now
// dequeues first even if a later one has higher priority.
type Queue struct {
	clock Clock

	mu      sync.Mutex
	items   ticketHeap
	nextSeq uint64

	// wake holds at most one pending signal; Enqueue never blocks on it.
	wake chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue(opts QueueOptions) *Queue {
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Queue{
		clock: clock,
		wake:  make(chan struct{}, 1),
	}
}

// Enqueue adds a ticket and wakes a waiting dequeuer. A VisibleAt in the past
// (or zero) is normalized to now.
func (q *Queue) Enqueue(t Ticket) Ticket {
	now := q.clock.Now()

	q.mu.Lock()
	if t.VisibleAt.IsZero() || t.VisibleAt.Before(now) {
		t.VisibleAt = now
	}
	q.nextSeq++
	t.Seq = q.nextSeq
	heap.Push(&q.items, t)
	q.mu.Unlock()

	q.signal()
	return t
}

// Dequeue removes and returns the next visible ticket, blocking until one is
// available. It returns ctx.Err() if the context is done first.
func (q *Queue) Dequeue(ctx context.Context) (Ticket, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return Ticket{}, err
		}

		t, wait, ok := q.tryPop()
		if ok {
			return t, nil
		}

		var timeout <-chan time.Time
		if wait > 0 {
			if timer == nil {
				timer = time.NewTimer(wait)
			} else {
				timer.Reset(wait)
			}
			timeout = timer.C
		}

		select {
		case <-ctx.Done():
			return Ticket{}, ctx.Err()
		case <-q.wake:
		case <-timeout:
		}
	}
}

// tryPop returns the head ticket if it is visible. Otherwise it reports how long
// until the head becomes visible, or zero when the queue is empty.
func (q *Queue) tryPop() (Ticket, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Ticket{}, 0, false
	}

	head := q.items[0]
	now := q.clock.Now()
	if head.VisibleAt.After(now) {
		return Ticket{}, head.VisibleAt.Sub(now), false
	}

	t := heap.Pop(&q.items).(Ticket)
	if len(q.items) > 0 {
		// Another dequeuer may be parked on wake while work remains.
		q.signal()
	}
	return t, 0, true
}

// Len returns the number of queued tickets, visible or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

type ticketHeap []Ticket

func (h ticketHeap) Len() int { return len(h) }

func (h ticketHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if !a.VisibleAt.Equal(b.VisibleAt) {
		return a.VisibleAt.Before(b.VisibleAt)
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Seq < b.Seq
}

func (h ticketHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *ticketHeap) Push(x any) { *h = append(*h, x.(Ticket)) }

func (h *ticketHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}
