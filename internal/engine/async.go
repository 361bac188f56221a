package engine

import "context"

// AsyncResult is the pending outcome of GenerateAsync.
type AsyncResult struct {
	done    chan struct{}
	results []Result
	err     error
}

func newAsyncResult() *AsyncResult { return &AsyncResult{done: make(chan struct{})} }

func (a *AsyncResult) finish(res []Result, err error) {
	a.results, a.err = res, err
	close(a.done)
}

// Done is closed once the results are available.
func (a *AsyncResult) Done() <-chan struct{} { return a.done }

// Wait blocks until the call finishes or ctx ends. Ending ctx stops the
// wait only; cancel the context passed to GenerateAsync to stop decoding.
func (a *AsyncResult) Wait(ctx context.Context) ([]Result, error) {
	select {
	case <-a.done:
		return a.results, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
