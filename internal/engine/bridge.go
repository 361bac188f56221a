package engine

import (
	"fmt"
	"sync"
)

// bridge connects replica emits to one call's StepCallback.
type bridge struct {
	cb StepCallback
	m  *metrics

	mu       sync.Mutex
	last     []int
	finished []bool
	failure  error
}

func newBridge(cb StepCallback, n int, m *metrics) *bridge {
	b := &bridge{cb: cb, m: m, last: make([]int, n), finished: make([]bool, n)}
	for i := range b.last {
		b.last[i] = -1
	}
	return b
}

// emitter returns the EmitFunc for a job, or nil without a callback.
func (b *bridge) emitter(job *Job) EmitFunc {
	if b.cb == nil {
		return nil
	}
	return func(local int, ev StepEvent) bool {
		if local < 0 || local >= len(job.Indices) {
			b.fail(fmt.Errorf("step for unknown element %d of job %d", local, job.ID))
			return true
		}
		ev.BatchID = job.Indices[local]
		return b.deliver(ev)
	}
}

func (b *bridge) deliver(ev StepEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := ev.BatchID
	if b.failure != nil || b.finished[id] {
		return true
	}
	if ev.Step <= b.last[id] {
		b.failure = newError(KindEngineFailure, "callback", "element %d: step %d after step %d", id, ev.Step, b.last[id])
		return true
	}
	b.last[id] = ev.Step
	if ev.IsLast {
		b.finished[id] = true
	}
	b.m.steps.Inc()
	stop, err := b.invoke(ev)
	if err != nil {
		b.failure = err
		return true
	}
	if stop && !ev.IsLast {
		b.finished[id] = true
		return true
	}
	return false
}

func (b *bridge) invoke(ev StepEvent) (stop bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newError(KindEngineFailure, "callback", "panic: %v", r)
		}
	}()
	return b.cb(ev), nil
}

func (b *bridge) fail(err error) {
	b.mu.Lock()
	if b.failure == nil {
		b.failure = newError(KindEngineFailure, "callback", "%v", err)
	}
	b.mu.Unlock()
}

func (b *bridge) err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failure
}
