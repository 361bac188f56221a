package engine

import (
	"context"

	"batchgen/internal/decoding"
)

// Backend loads replicas of a model onto devices.
type Backend interface {
	Name() string
	// DeviceCount returns how many devices of the kind are available.
	DeviceCount(device string) int
	SupportsComputeType(device, computeType string) bool
	Load(ctx context.Context, spec LoadSpec) (Replica, error)
}

// LoadSpec describes one replica to load.
type LoadSpec struct {
	ModelPath   string
	Device      string
	DeviceIndex int
	ComputeType string
	// Threads is the per-replica thread count; 0 lets the backend decide.
	Threads int
}

// Replica runs one job at a time.
type Replica interface {
	// Generate decodes every input of job and returns NumHypotheses
	// hypotheses per input. emit is nil when the caller has no callback.
	Generate(ctx context.Context, job *Job, emit EmitFunc) ([][]Hypothesis, error)
	Close() error
}

// EmitFunc delivers a step of job input local. ev.BatchID is ignored.
// Returning true asks the replica to finalize that input.
type EmitFunc func(local int, ev StepEvent) (stop bool)

// Job is a sub-batch handed to a replica. Inputs are views into the
// caller's buffer and must not be modified.
type Job struct {
	ID      uint64
	Indices []int
	Inputs  [][]string
	Options decoding.Options
	// DefaultEndToken is the model's end token from its sidecar, or "".
	DefaultEndToken string
}

// Hypothesis is a backend result. Tokens and IDs are parallel.
type Hypothesis struct {
	Tokens []string
	IDs    []int
	Score  float32
}

// cacheStatser is implemented by backends with a static prompt cache.
type cacheStatser interface {
	CacheStats() (hits, misses uint64)
}
