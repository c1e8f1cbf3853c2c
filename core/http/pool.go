package http

import (
	"sync"
	"sync/atomic"
)

// Pool is a fixed-capacity free list of preallocated contexts. It bounds
// allocation churn on the hot path: Acquire pops in O(1), and an empty free
// list degrades gracefully into a plain allocation (counted, never an error).
// Release resets the context and keeps it only while the free list is below
// capacity; contexts released beyond capacity are discarded to the GC, so the
// pool never holds more than its capacity.
//
// A context handed out by Acquire is exclusively owned by the caller until
// Release. Transports may dispatch from multiple goroutines, so the free list
// is mutex-protected.
type Pool struct {
	mu   sync.Mutex
	free []*Context
	cap  int

	acquires  atomic.Uint64
	overflows atomic.Uint64
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Capacity  int    `json:"capacity"`
	Free      int    `json:"free"`
	Acquires  uint64 `json:"acquires"`
	Overflows uint64 `json:"overflows"`
}

// NewPool creates a pool with capacity preallocated contexts.
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = 1024
	}
	p := &Pool{
		free: make([]*Context, capacity),
		cap:  capacity,
	}
	for i := range p.free {
		p.free[i] = NewContext()
	}
	return p
}

// Acquire pops a context from the free list, or allocates a fresh one when
// the list is empty (overflow).
func (p *Pool) Acquire() *Context {
	p.acquires.Add(1)

	p.mu.Lock()
	if n := len(p.free); n > 0 {
		c := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return c
	}
	p.mu.Unlock()

	p.overflows.Add(1)
	return NewContext()
}

// Release resets the context and returns it to the free list while below
// capacity. Beyond capacity the context is discarded.
func (p *Pool) Release(c *Context) {
	if c == nil {
		return
	}
	c.Reset()

	p.mu.Lock()
	if len(p.free) < p.cap {
		p.free = append(p.free, c)
	}
	p.mu.Unlock()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	free := len(p.free)
	p.mu.Unlock()

	return PoolStats{
		Capacity:  p.cap,
		Free:      free,
		Acquires:  p.acquires.Load(),
		Overflows: p.overflows.Load(),
	}
}
