//go:build !llama

package engine

import (
	"context"
	"errors"
)

// LlamaAvailable reports whether this binary was built with llama.cpp.
const LlamaAvailable = false

// ErrLlamaUnavailable is returned by LlamaBackend.Load in builds without the
// llama tag.
var ErrLlamaUnavailable = errors.New("llama backend not built; rebuild with -tags=llama")

// LlamaBackend runs GGUF models through go-llama.cpp when built with the
// llama tag.
type LlamaBackend struct {
	ContextSize int
	GPULayers   int
}

func (b *LlamaBackend) Name() string { return "llama" }

func (b *LlamaBackend) DeviceCount(device string) int { return 1 }

func (b *LlamaBackend) SupportsComputeType(device, ct string) bool { return true }

func (b *LlamaBackend) Load(ctx context.Context, spec LoadSpec) (Replica, error) {
	return nil, ErrLlamaUnavailable
}
