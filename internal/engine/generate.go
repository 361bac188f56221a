package engine

import (
	"context"
	"time"

	"batchgen/internal/decoding"
	"batchgen/internal/seqbuf"
)

// Generate decodes every sequence of batch and blocks until all of them are
// done. It returns NumHypotheses results per input, in input order.
// maxBatchSize bounds sub-batches in units of policy; 0 submits the batch as
// a single job.
func (h *Handle) Generate(ctx context.Context, batch *seqbuf.Buffer[string], maxBatchSize int, policy BatchType, opts decoding.Options) ([]Result, error) {
	return h.GenerateWithCallback(ctx, batch, maxBatchSize, policy, opts, nil)
}

// GenerateWithCallback is Generate with a step callback invoked on the
// decoding goroutine for every produced token.
func (h *Handle) GenerateWithCallback(ctx context.Context, batch *seqbuf.Buffer[string], maxBatchSize int, policy BatchType, opts decoding.Options, cb StepCallback) ([]Result, error) {
	c, release, err := h.submit(ctx, batch, maxBatchSize, policy, opts, cb)
	if err != nil || c == nil {
		return nil, err
	}
	defer release()
	return h.wait(ctx, c)
}

// GenerateAsync admits the batch and returns without waiting. Admission
// errors are returned directly; decoding errors come from Wait.
func (h *Handle) GenerateAsync(ctx context.Context, batch *seqbuf.Buffer[string], maxBatchSize int, policy BatchType, opts decoding.Options, cb StepCallback) (*AsyncResult, error) {
	c, release, err := h.submit(ctx, batch, maxBatchSize, policy, opts, cb)
	if err != nil {
		return nil, err
	}
	ar := newAsyncResult()
	if c == nil {
		ar.finish(nil, nil)
		return ar, nil
	}
	go func() {
		defer release()
		ar.finish(h.wait(ctx, c))
	}()
	return ar, nil
}

// submit validates and admits a call. A nil call with a nil error means
// the batch was empty.
func (h *Handle) submit(ctx context.Context, batch *seqbuf.Buffer[string], maxBatchSize int, policy BatchType, opts decoding.Options, cb StepCallback) (*call, func(), error) {
	if h.pool.isClosed() {
		return nil, nil, newError(KindClosed, "generate", "handle is closed")
	}
	if batch == nil || batch.Empty() {
		return nil, func() {}, nil
	}
	if err := opts.Validate(); err != nil {
		return nil, nil, wrapError(KindInvalidConfiguration, "generate", err)
	}
	if maxBatchSize < 0 {
		return nil, nil, newError(KindConfiguration, "generate", "max_batch_size must be >= 0, got %d", maxBatchSize)
	}
	if policy != BatchExamples && policy != BatchTokens {
		return nil, nil, newError(KindConfiguration, "generate", "unknown batch type %d", int(policy))
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	release := batch.Borrow()
	views := batch.Views()
	opts = opts.Clone()
	cctx, cancel := context.WithCancel(ctx)
	c := &call{
		ctx:     cctx,
		cancel:  cancel,
		opts:    opts,
		bridge:  newBridge(cb, len(views), h.metrics),
		results: make([]Result, len(views)*opts.NumHypotheses),
		done:    make(chan struct{}),
	}
	lengths := make([]int, len(views))
	for i, v := range views {
		lengths[i] = len(v)
	}
	groups := rebatch(lengths, maxBatchSize, policy)
	tasks := make([]*task, len(groups))
	for i, g := range groups {
		inputs := make([][]string, len(g))
		for j, idx := range g {
			inputs[j] = views[idx]
		}
		tasks[i] = &task{call: c, job: Job{
			Indices:         g,
			Inputs:          inputs,
			Options:         opts,
			DefaultEndToken: h.cfg.DefaultEndToken,
		}}
	}
	c.pending = len(tasks)
	if err := h.pool.admit(tasks); err != nil {
		cancel()
		release()
		if IsOverloaded(err) {
			h.overloadedTotal.Add(1)
			h.publish(EventOverloaded, map[string]any{"batch": len(views), "jobs": len(tasks)})
			h.log.Info().Int("batch", len(views)).Int("jobs", len(tasks)).Msg("engine event=overloaded")
		}
		return nil, nil, err
	}
	h.log.Debug().Int("batch", len(views)).Int("jobs", len(tasks)).Msg("engine event=admitted")
	return c, func() { cancel(); release() }, nil
}

// wait blocks until every task of c is done. If ctx ends first, queued
// tasks are withdrawn and active ones are cancelled.
func (h *Handle) wait(ctx context.Context, c *call) ([]Result, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		for range h.pool.remove(c) {
			h.metrics.batches.WithLabelValues(outcomeCancelled).Inc()
			c.complete(nil)
		}
		c.cancel()
		<-c.done
	}
	if err := c.failure(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.results, nil
}

// run executes one task on a replica.
func (h *Handle) run(rep Replica, t *task) {
	c := t.call
	if c.ctx.Err() != nil {
		h.metrics.batches.WithLabelValues(outcomeCancelled).Inc()
		c.complete(nil)
		return
	}
	start := time.Now()
	h.publish(EventJobStart, map[string]any{"job": t.job.ID, "size": len(t.job.Indices)})
	out, err := safeGenerate(c.ctx, rep, &t.job, c.bridge.emitter(&t.job))
	if berr := c.bridge.err(); berr != nil {
		err = berr
	}
	if err == nil {
		err = c.collect(&t.job, out)
	}
	h.metrics.duration.Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		h.batchesTotal.Add(1)
		h.metrics.batches.WithLabelValues(outcomeCompleted).Inc()
		h.publish(EventJobDone, map[string]any{"job": t.job.ID, "dur_ms": time.Since(start).Milliseconds()})
	case isContextErr(err) && c.ctx.Err() != nil:
		h.metrics.batches.WithLabelValues(outcomeCancelled).Inc()
		err = nil
	default:
		h.batchesTotal.Add(1)
		h.metrics.batches.WithLabelValues(outcomeFailed).Inc()
		h.publish(EventJobFailed, map[string]any{"job": t.job.ID, "error": err.Error()})
		h.log.Error().Err(err).Uint64("job", t.job.ID).Msg("engine event=job_failed")
	}
	c.complete(err)
}

func safeGenerate(ctx context.Context, rep Replica, job *Job, emit EmitFunc) (out [][]Hypothesis, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, newError(KindEngineFailure, "generate", "replica panic: %v", r)
		}
	}()
	out, err = rep.Generate(ctx, job, emit)
	if err != nil {
		return nil, err
	}
	return out, nil
}
