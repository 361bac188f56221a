package engine

import (
	"container/list"
	"sync"
)

// task is a job waiting for or running on a replica.
type task struct {
	job  Job
	call *call
}

// pool is the FIFO job queue shared by the replica workers.
type pool struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     *list.List
	replicas  int
	idle      int
	maxQueued int
	closed    bool
	nextID    uint64
	m         *metrics
}

func newPool(replicas, maxQueued int, m *metrics) *pool {
	p := &pool{queue: list.New(), replicas: replicas, idle: replicas, maxQueued: maxQueued, m: m}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// admit enqueues every task of a call, or none. A finite bound rejects the
// call once the queue already holds maxQueued jobs beyond the idle replicas.
func (p *pool) admit(tasks []*task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return newError(KindClosed, "generate", "handle is closed")
	}
	if p.maxQueued >= 0 && p.queue.Len() >= p.maxQueued+p.idle {
		p.m.overloaded.Inc()
		return newError(KindOverloaded, "generate", "%d jobs queued, %d of %d replicas idle, max_queued_batches %d",
			p.queue.Len(), p.idle, p.replicas, p.maxQueued)
	}
	for _, t := range tasks {
		p.nextID++
		t.job.ID = p.nextID
		p.queue.PushBack(t)
	}
	p.m.queued.Set(float64(p.queue.Len()))
	p.cond.Broadcast()
	return nil
}

// next blocks until a task is available. It returns nil once the pool is
// closed and drained.
func (p *pool) next() *task {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.queue.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	front := p.queue.Front()
	if front == nil {
		return nil
	}
	p.queue.Remove(front)
	p.idle--
	p.m.queued.Set(float64(p.queue.Len()))
	p.m.active.Set(float64(p.replicas - p.idle))
	return front.Value.(*task)
}

func (p *pool) done() {
	p.mu.Lock()
	p.idle++
	p.m.active.Set(float64(p.replicas - p.idle))
	p.mu.Unlock()
}

// remove drops the queued tasks of c and returns them.
func (p *pool) remove(c *call) []*task {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*task
	for e := p.queue.Front(); e != nil; {
		next := e.Next()
		if t := e.Value.(*task); t.call == c {
			p.queue.Remove(e)
			out = append(out, t)
		}
		e = next
	}
	p.m.queued.Set(float64(p.queue.Len()))
	return out
}

func (p *pool) close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *pool) counts() (queued, active int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len(), p.replicas - p.idle
}

func (p *pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
