package engine

import (
	"context"

	"batchgen/internal/decoding"
	"batchgen/internal/seqbuf"
)

// ChannelCallback forwards events to ch without blocking. Events that do
// not fit are dropped.
func ChannelCallback(ch chan<- StepEvent) StepCallback {
	return channelCallback(ch, nil)
}

// ChannelCallback is the package ChannelCallback that also counts dropped
// events in the handle's metrics.
func (h *Handle) ChannelCallback(ch chan<- StepEvent) StepCallback {
	return channelCallback(ch, func() { h.metrics.dropped.Inc() })
}

func channelCallback(ch chan<- StepEvent, onDrop func()) StepCallback {
	return func(ev StepEvent) bool {
		select {
		case ch <- ev:
		default:
			if onDrop != nil {
				onDrop()
			}
		}
		return false
	}
}

// StopAfter stops each element after n of its events. The callback keeps
// per-element counts, so use a fresh one per call.
func StopAfter(n int) StepCallback {
	counts := map[int]int{}
	return func(ev StepEvent) bool {
		counts[ev.BatchID]++
		return counts[ev.BatchID] >= n
	}
}

// StopOnToken stops an element when it produces any of toks.
func StopOnToken(toks ...string) StepCallback {
	set := make(map[string]bool, len(toks))
	for _, t := range toks {
		set[t] = true
	}
	return func(ev StepEvent) bool { return set[ev.Token] }
}

// Chain calls every callback for every event and stops when any of them
// asks to.
func Chain(cbs ...StepCallback) StepCallback {
	return func(ev StepEvent) bool {
		stop := false
		for _, cb := range cbs {
			if cb != nil && cb(ev) {
				stop = true
			}
		}
		return stop
	}
}

// Stream runs a generation call in the background and delivers its step
// events on the returned channel, which holds up to buffer events and is
// closed after the call finishes. The decoding goroutine blocks while the
// channel is full; cancelling ctx unblocks it and stops every element.
func (h *Handle) Stream(ctx context.Context, batch *seqbuf.Buffer[string], maxBatchSize int, policy BatchType, opts decoding.Options, buffer int) (<-chan StepEvent, *AsyncResult, error) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan StepEvent, buffer)
	cb := func(ev StepEvent) bool {
		select {
		case ch <- ev:
			return false
		case <-ctx.Done():
			return true
		}
	}
	ar, err := h.GenerateAsync(ctx, batch, maxBatchSize, policy, opts, cb)
	if err != nil {
		close(ch)
		return nil, nil, err
	}
	out := newAsyncResult()
	go func() {
		<-ar.Done()
		close(ch)
		out.finish(ar.results, ar.err)
	}()
	return ch, out, nil
}
