//go:build llama

package engine

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"

	"batchgen/internal/decoding"
	"batchgen/internal/tokenizer"
)

// LlamaAvailable reports whether this binary was built with llama.cpp.
const LlamaAvailable = true

// LlamaBackend runs GGUF models through go-llama.cpp, one model instance per
// replica. Inputs are detokenized into a text prompt; generated pieces have
// no ids (TokenID -1).
type LlamaBackend struct {
	ContextSize int
	// GPULayers is offloaded when the device is cuda.
	GPULayers int
}

func (b *LlamaBackend) Name() string { return "llama" }

func (b *LlamaBackend) DeviceCount(device string) int { return 1 }

// SupportsComputeType accepts every name; quantization is fixed by the file.
func (b *LlamaBackend) SupportsComputeType(device, ct string) bool { return true }

func (b *LlamaBackend) Load(ctx context.Context, spec LoadSpec) (Replica, error) {
	if strings.TrimSpace(spec.ModelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	mo := []llama.ModelOption{llama.SetContext(zn(b.ContextSize, 2048))}
	if spec.Device == DeviceCUDA && b.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(b.GPULayers))
	}
	m, err := llama.New(spec.ModelPath, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaReplica{model: m, threads: spec.Threads}, nil
}

type llamaReplica struct {
	model   *llama.LLama
	threads int
}

func (r *llamaReplica) Generate(ctx context.Context, job *Job, emit EmitFunc) ([][]Hypothesis, error) {
	o := job.Options
	if o.IsBeamSearch() || o.ReturnAlternatives {
		return nil, &decoding.InvalidConfigurationError{Field: "beam_size", Reason: "llama backend supports greedy and sampling only"}
	}
	out := make([][]Hypothesis, len(job.Inputs))
	for i, input := range job.Inputs {
		for h := 0; h < o.NumHypotheses; h++ {
			var e func(StepEvent) bool
			if emit != nil && h == 0 {
				local := i
				e = func(ev StepEvent) bool { return emit(local, ev) }
			}
			hyp, err := r.one(ctx, input, o, e)
			if err != nil {
				return nil, err
			}
			out[i] = append(out[i], hyp)
		}
	}
	return out, nil
}

// one generates a single continuation. Each piece is emitted when the next
// one arrives so that the final piece can carry IsLast.
func (r *llamaReplica) one(ctx context.Context, input []string, o decoding.Options, emit func(StepEvent) bool) (Hypothesis, error) {
	var pieces []string
	var pending *StepEvent
	stopped := false
	flush := func(last bool) {
		if pending == nil || emit == nil || stopped {
			return
		}
		pending.IsLast = last
		if emit(*pending) {
			stopped = true
		}
		pending = nil
	}
	r.model.SetTokenCallback(func(tok string) bool {
		if ctx.Err() != nil || stopped {
			return false
		}
		flush(false)
		if stopped {
			return false
		}
		pieces = append(pieces, tok)
		pending = &StepEvent{Step: len(pieces) - 1, TokenID: -1, Token: tok}
		return true
	})
	prompt := tokenizer.DecodeTokens(append(append([]string(nil), o.StaticPrompt...), input...))
	_, err := r.model.Predict(prompt, predictOptions(o, len(input), r.threads)...)
	if ctx.Err() != nil {
		return Hypothesis{}, ctx.Err()
	}
	if err != nil {
		return Hypothesis{}, err
	}
	flush(true)
	var h Hypothesis
	if o.IncludePromptInResult {
		h.Tokens = append(h.Tokens, input...)
		for range input {
			h.IDs = append(h.IDs, -1)
		}
	}
	for _, p := range pieces {
		h.Tokens = append(h.Tokens, p)
		h.IDs = append(h.IDs, -1)
	}
	if h.Tokens == nil {
		h.Tokens, h.IDs = []string{}, []int{}
	}
	return h, nil
}

func (r *llamaReplica) Close() error {
	if r.model != nil {
		r.model.Free()
		r.model = nil
	}
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts decoding options into go-llama.cpp options.
func predictOptions(o decoding.Options, inputLen, threads int) []llama.PredictOption {
	maxNew := o.MaxLength
	if o.IncludePromptInResult {
		maxNew -= inputLen
	}
	topK := o.SamplingTopK
	temp := o.SamplingTemperature
	if !o.IsSampling() {
		topK, temp = 1, 0
	}
	po := []llama.PredictOption{
		llama.SetTokens(max(1, maxNew)),
		llama.SetThreads(zn(threads, llama.DefaultOptions.Threads)),
		llama.SetTopP(zf(o.SamplingTopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(topK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(temp),
		llama.SetPenalty(zf(o.RepetitionPenalty, llama.DefaultOptions.Penalty)),
	}
	if o.Seed != 0 {
		po = append(po, llama.SetSeed(int(o.Seed)))
	}
	if len(o.EndToken.Tokens) > 0 {
		po = append(po, llama.SetStopWords(o.EndToken.Tokens...))
	}
	return po
}
