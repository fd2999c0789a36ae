package worker

import (
	"runtime"
	"sync/atomic"
)

// Pool is a fixed-size collection of Workers. New contexts are assigned a
// worker round-robin at creation time; once assigned, a context's timers
// and I/O always run on the same worker, so a single FSM is never touched
// by two worker goroutines concurrently.
type Pool struct {
	workers []*Worker
	next    atomic.Uint64
}

// NewPool creates a Pool with n workers. n <= 0 defaults to GOMAXPROCS.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
		if n < 1 {
			n = 1
		}
	}
	p := &Pool{workers: make([]*Worker, n)}
	for i := range p.workers {
		p.workers[i] = newWorker(i)
	}
	return p
}

// Next returns the next worker in round-robin order.
func (p *Pool) Next() *Worker {
	i := p.next.Add(1) - 1
	return p.workers[i%uint64(len(p.workers))]
}

// Len returns the number of workers in the pool.
func (p *Pool) Len() int { return len(p.workers) }

// Close stops every worker and waits for its goroutine to exit.
func (p *Pool) Close() {
	for _, w := range p.workers {
		w.stop()
	}
}
