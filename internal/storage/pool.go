package storage

import (
	"container/heap"
	"context"
	"math"
	"sync"
)

// Pool caps the number of concurrent connections BAR holds open
// against one storage server, queuing excess acquirers by priority so
// an interactive restore (high priority) jumps ahead of a scheduled
// backup's queued parts (low priority) competing for the same
// server (§4.6 connection pool with priority queues). No pack example
// carries a priority-queue library; container/heap is the standard
// way to build one in Go and needs no more than the waiterHeap below.
type Pool struct {
	mu      sync.Mutex
	max     int
	inUse   int
	waiters waiterHeap
	seq     int
}

// NewPool returns a Pool allowing at most max concurrent leases. A cap
// of 0 means unlimited (§4.6 "a server with cap 0 means unlimited");
// only a negative max is clamped up to 1.
func NewPool(max int) *Pool {
	if max == 0 {
		max = math.MaxInt
	} else if max < 0 {
		max = 1
	}
	return &Pool{max: max}
}

type waiter struct {
	priority int
	seq      int // tie-break: lower seq (older request) wins among equal priority
	ready    chan struct{}
}

type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }
func (h waiterHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority // higher priority first
	}
	return h[i].seq < h[j].seq
}
func (h waiterHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *waiterHeap) Push(x interface{}) { *h = append(*h, x.(*waiter)) }
func (h *waiterHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Lease is returned by Acquire; call Release exactly once to return
// the slot to the pool.
type Lease struct {
	p *Pool
}

// Release returns the lease's slot to the pool, waking the
// highest-priority waiter (if any).
func (l *Lease) Release() {
	l.p.mu.Lock()
	l.p.inUse--
	if l.p.waiters.Len() > 0 {
		w := heap.Pop(&l.p.waiters).(*waiter)
		l.p.inUse++
		close(w.ready)
	}
	l.p.mu.Unlock()
}

// Acquire blocks until a connection slot is available or ctx is
// cancelled, honoring priority among other blocked callers.
func (p *Pool) Acquire(ctx context.Context, priority int) (*Lease, error) {
	p.mu.Lock()
	if p.inUse < p.max {
		p.inUse++
		p.mu.Unlock()
		return &Lease{p: p}, nil
	}
	p.seq++
	w := &waiter{priority: priority, seq: p.seq, ready: make(chan struct{})}
	heap.Push(&p.waiters, w)
	p.mu.Unlock()

	select {
	case <-w.ready:
		return &Lease{p: p}, nil
	case <-ctx.Done():
		p.mu.Lock()
		for i, other := range p.waiters {
			if other == w {
				heap.Remove(&p.waiters, i)
				p.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		p.mu.Unlock()
		// Release already popped w (and counted its slot as in-use)
		// between ctx firing and us taking the lock; honor the grant
		// instead of leaking the slot.
		<-w.ready
		return &Lease{p: p}, nil
	}
}
