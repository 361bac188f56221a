package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"batchgen/internal/decoding"
)

// call is one admitted generation request.
type call struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   decoding.Options
	bridge *bridge
	// results is indexed by batch id * NumHypotheses + hypothesis.
	results []Result

	mu      sync.Mutex
	pending int
	err     error
	done    chan struct{}
}

// complete records the end of one task. The first failure cancels the
// call's remaining tasks.
func (c *call) complete(err error) {
	err = classify(err)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil && c.err == nil && !(isContextErr(err) && c.ctx.Err() != nil) {
		c.err = err
		c.cancel()
	}
	c.pending--
	if c.pending == 0 {
		close(c.done)
	}
}

func (c *call) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// collect deep-copies a job's hypotheses into the call results.
func (c *call) collect(job *Job, out [][]Hypothesis) error {
	n := c.opts.NumHypotheses
	if len(out) != len(job.Indices) {
		return newError(KindEngineFailure, "generate", "job %d: replica returned %d results for %d inputs", job.ID, len(out), len(job.Indices))
	}
	for local, hyps := range out {
		if len(hyps) != n {
			return newError(KindEngineFailure, "generate", "job %d: input %d has %d hypotheses, want %d", job.ID, local, len(hyps), n)
		}
		id := job.Indices[local]
		for h, hy := range hyps {
			if len(hy.Tokens) != len(hy.IDs) {
				return fmt.Errorf("job %d: input %d: %d tokens but %d ids", job.ID, local, len(hy.Tokens), len(hy.IDs))
			}
			r := Result{
				BatchID:    id,
				Hypothesis: h,
				Tokens:     append(make([]string, 0, len(hy.Tokens)), hy.Tokens...),
				IDs:        append(make([]int, 0, len(hy.IDs)), hy.IDs...),
			}
			if c.opts.ReturnScores {
				r.Score, r.HasScore = hy.Score, true
			}
			c.results[id*n+h] = r
		}
	}
	return nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
