package worker

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

type task func()

// Pool runs tasks on a fixed set of workers. Tasks submitted with the same key
// always land on the same worker, so they run in submission order.
type Pool struct {
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	shards []chan task
}

// NewPool starts n workers, each with a queue of queueSize pending tasks
func NewPool(n, queueSize int) *Pool {
	if n <= 0 {
		n = 1
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &Pool{shards: make([]chan task, n)}
	for i := range p.shards {
		jobs := make(chan task, queueSize)
		p.shards[i] = jobs
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range jobs {
				job()
			}
		}()
	}
	return p
}

// Submit queues f behind every earlier task with the same key.
// It returns false once the pool is stopped.
func (p *Pool) Submit(key string, f task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.shards[p.shard(key)] <- f
	return true
}

// QueueDepth reports the number of tasks waiting across all workers
func (p *Pool) QueueDepth() int {
	depth := 0
	for _, jobs := range p.shards {
		depth += len(jobs)
	}
	return depth
}

// Stop refuses new tasks and waits for queued ones to finish
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, jobs := range p.shards {
		close(jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) shard(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(p.shards)))
}
