package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"batchgen/internal/hashlm"
	"batchgen/internal/seqbuf"
)

type genFunc func(ctx context.Context, job *Job, emit EmitFunc) ([][]Hypothesis, error)

// fakeBackend is an in-memory backend whose replicas run gen.
type fakeBackend struct {
	devices  map[string]int
	failLoad int
	gen      genFunc

	mu       sync.Mutex
	loads    int
	replicas []*fakeReplica
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) DeviceCount(device string) int {
	if b.devices == nil {
		return 1
	}
	return b.devices[device]
}

func (b *fakeBackend) SupportsComputeType(device, ct string) bool { return ct != "int16" }

func (b *fakeBackend) Load(ctx context.Context, spec LoadSpec) (Replica, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads++
	if b.failLoad == b.loads {
		return nil, errors.New("weights corrupted")
	}
	r := &fakeReplica{b: b, spec: spec}
	b.replicas = append(b.replicas, r)
	return r, nil
}

type fakeReplica struct {
	b      *fakeBackend
	spec   LoadSpec
	closed atomic.Bool
}

func (r *fakeReplica) Generate(ctx context.Context, job *Job, emit EmitFunc) ([][]Hypothesis, error) {
	gen := r.b.gen
	if gen == nil {
		gen = echoGen(3)
	}
	return gen(ctx, job, emit)
}

func (r *fakeReplica) Close() error {
	r.closed.Store(true)
	return nil
}

// echoGen appends tokens t0..t{steps-1} to every input.
func echoGen(steps int) genFunc {
	return func(ctx context.Context, job *Job, emit EmitFunc) ([][]Hypothesis, error) {
		out := make([][]Hypothesis, len(job.Inputs))
		for i, in := range job.Inputs {
			toks := append([]string(nil), in...)
			ids := make([]int, len(toks))
			for s := 0; s < steps; s++ {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				tok := fmt.Sprintf("t%d", s)
				toks = append(toks, tok)
				ids = append(ids, s+1)
				if emit != nil && emit(i, StepEvent{Step: s, TokenID: s + 1, Token: tok, IsLast: s == steps-1}) {
					break
				}
			}
			hyps := make([]Hypothesis, job.Options.NumHypotheses)
			for h := range hyps {
				hyps[h] = Hypothesis{Tokens: toks, IDs: ids, Score: -float32(h)}
			}
			out[i] = hyps
		}
		return out, nil
	}
}

// blockGen reports each job on started and waits for release before
// echoing.
func blockGen(started chan<- *Job, release <-chan struct{}) genFunc {
	echo := echoGen(1)
	return func(ctx context.Context, job *Job, emit EmitFunc) ([][]Hypothesis, error) {
		started <- job
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return echo(ctx, job, emit)
	}
}

func openFake(t *testing.T, b *fakeBackend, mutate func(*Config)) *Handle {
	t.Helper()
	cfg := Config{ModelPath: "fake", InterThreads: 1, MaxQueuedBatches: -1, Backend: b}
	if mutate != nil {
		mutate(&cfg)
	}
	h, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func openHash(t *testing.T, mutate func(*Config)) *Handle {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "model")
	if err := hashlm.Create(dir, hashlm.CreateSpec{Seed: 11}); err != nil {
		t.Fatalf("create model: %v", err)
	}
	cfg := Config{ModelPath: dir, InterThreads: 2, IntraThreads: 2, MaxQueuedBatches: -1}
	if mutate != nil {
		mutate(&cfg)
	}
	h, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func batchOf(seqs ...[]string) *seqbuf.Buffer[string] {
	return seqbuf.FromSlices(seqs)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}
