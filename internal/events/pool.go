package events

import (
	"context"
	"sync"

	"github.com/fastygo/storecore/domain"
)

type job struct {
	ctx     context.Context
	name    string
	handler Handler
	event   domain.Event
}

// Pool runs async handler invocations on a fixed set of workers fed by a
// bounded queue.
type Pool struct {
	queue chan job
	run   func(job)
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newPool(workers, size int, run func(job)) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if size <= 0 {
		size = 256
	}
	p := &Pool{
		queue: make(chan job, size),
		run:   run,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.queue {
		p.run(j)
	}
}

// submit enqueues without blocking. It reports false when the queue is full
// or the pool is closed.
func (p *Pool) submit(j job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- j:
		return true
	default:
		return false
	}
}

// Depth is the number of queued invocations.
func (p *Pool) Depth() int { return len(p.queue) }

// Capacity is the queue bound.
func (p *Pool) Capacity() int { return cap(p.queue) }

// close stops intake and waits for queued work to finish or ctx to expire.
func (p *Pool) close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
