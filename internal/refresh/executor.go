package refresh

import (
	"sync"
)

// Executor runs fetches away from the caller's goroutine.
type Executor interface {
	Go(fn func())
}

// GoExecutor starts a goroutine per task.
type GoExecutor struct{}

// Go runs fn on a new goroutine.
func (GoExecutor) Go(fn func()) {
	go fn()
}

// PoolExecutor runs tasks on a fixed set of workers, capping how many fetches
// hit the upstream at once across all containers sharing it.
type PoolExecutor struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPoolExecutor starts workers goroutines reading from a queue of the given size.
func NewPoolExecutor(workers, queue int) *PoolExecutor {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &PoolExecutor{tasks: make(chan func(), queue)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Go queues fn, blocking while the queue is full. After Close, fn runs on its
// own goroutine so late completions are never lost.
func (p *PoolExecutor) Go(fn func()) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		go fn()
		return
	}
	p.tasks <- fn
}

// Close stops accepting work and waits for queued tasks to finish.
func (p *PoolExecutor) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *PoolExecutor) worker() {
	defer p.wg.Done()
	for fn := range p.tasks {
		fn()
	}
}
