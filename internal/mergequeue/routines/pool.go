// Package routines provides a pool of go-routines that execute queued
// functions.
package routines

import (
	"sync"
)

// Pool executes queued functions in a fixed number of go-routines.
// A Pool with a size of 1 executes the functions in the order they were
// queued.
type Pool struct {
	queue chan func()
	wg    sync.WaitGroup

	lock   sync.Mutex
	closed bool
}

// NewPool creates a pool and starts workers go-routines.
func NewPool(workers int) *Pool {
	if workers < 1 {
		panic("workers must be >0")
	}

	p := Pool{
		// unbounded queuing is achieved by the backlog slice in
		// the dispatcher, the channel is only the hand-over
		queue: make(chan func()),
	}

	backlog := make(chan func())
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(backlog)
	}

	go p.dispatch(backlog)

	return &p
}

// dispatch forwards queued functions to workers. It buffers functions when
// all workers are busy, Queue() never blocks for long.
func (p *Pool) dispatch(out chan<- func()) {
	var pending []func()

	in := p.queue
	for in != nil || len(pending) > 0 {
		var next func()
		var sendCh chan<- func()

		if len(pending) > 0 {
			next = pending[0]
			sendCh = out
		}

		select {
		case fn, open := <-in:
			if !open {
				in = nil
				continue
			}

			pending = append(pending, fn)

		case sendCh <- next:
			pending[0] = nil
			pending = pending[1:]
		}
	}

	close(out)
}

func (p *Pool) worker(in <-chan func()) {
	defer p.wg.Done()

	for fn := range in {
		fn()
	}
}

// Queue schedules fn for execution.
// It panics when it is called after Wait().
func (p *Pool) Queue(fn func()) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		panic("Queue() called on terminated pool")
	}

	p.queue <- fn
}

// TryQueue schedules fn for execution and returns true.
// If Wait() was called already, fn is not scheduled and false is returned.
func (p *Pool) TryQueue(fn func()) bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		return false
	}

	p.queue <- fn
	return true
}

// Wait waits until all queued functions were executed and terminates the
// go-routines of the pool.
// Afterwards Queue() must not be called anymore.
func (p *Pool) Wait() {
	p.lock.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.lock.Unlock()

	p.wg.Wait()
}
