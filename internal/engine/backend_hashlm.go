package engine

import (
	"context"
	"path/filepath"
	"sync"

	"batchgen/internal/hashlm"
)

// HashBackend serves hashlm model directories. Loaded models are shared by
// every replica opened on the same path.
type HashBackend struct {
	// Devices is the number of virtual devices per kind. Nil means one cpu.
	Devices map[string]int

	mu     sync.Mutex
	models map[string]*hashlm.Model
}

func NewHashBackend() *HashBackend { return &HashBackend{} }

func (b *HashBackend) Name() string { return hashlm.Architecture }

func (b *HashBackend) DeviceCount(device string) int {
	if b.Devices == nil {
		if device == DeviceCPU {
			return 1
		}
		return 0
	}
	return b.Devices[device]
}

// SupportsComputeType rejects half precision on cpu.
func (b *HashBackend) SupportsComputeType(device, ct string) bool {
	if device == DeviceCPU {
		return ct != "float16" && ct != "int8_float16"
	}
	return true
}

func (b *HashBackend) Load(ctx context.Context, spec LoadSpec) (Replica, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := filepath.Abs(spec.ModelPath)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.models[key]
	if !ok {
		m, err = hashlm.Load(spec.ModelPath)
		if err != nil {
			return nil, err
		}
		if b.models == nil {
			b.models = make(map[string]*hashlm.Model)
		}
		b.models[key] = m
	}
	return &hashReplica{runner: hashlm.NewRunner(m, spec.Threads)}, nil
}

// CacheStats sums static prompt cache counters over loaded models.
func (b *HashBackend) CacheStats() (hits, misses uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.models {
		h, mi := m.CacheStats()
		hits += h
		misses += mi
	}
	return hits, misses
}

type hashReplica struct {
	runner *hashlm.Runner
}

func (r *hashReplica) Generate(ctx context.Context, job *Job, emit EmitFunc) ([][]Hypothesis, error) {
	req := hashlm.Request{
		Inputs:          job.Inputs,
		Keys:            job.Indices,
		Options:         job.Options,
		DefaultEndToken: job.DefaultEndToken,
	}
	if emit != nil {
		withScores := job.Options.ReturnScores
		req.Emit = func(s hashlm.Step) bool {
			ev := StepEvent{Step: s.Step, TokenID: s.TokenID, Token: s.Token, IsLast: s.IsLast}
			if withScores {
				ev.LogProb, ev.HasLogProb = s.LogProb, true
			}
			return emit(s.Element, ev)
		}
	}
	out, err := r.runner.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	res := make([][]Hypothesis, len(out))
	for i, hs := range out {
		res[i] = make([]Hypothesis, len(hs))
		for j, h := range hs {
			res[i][j] = Hypothesis{Tokens: h.Tokens, IDs: h.IDs, Score: h.Score}
		}
	}
	return res, nil
}

func (r *hashReplica) Close() error { return nil }
