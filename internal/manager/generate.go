package manager

import (
	"context"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"batchgen/internal/decoding"
	"batchgen/internal/engine"
	"batchgen/internal/registry"
	"batchgen/internal/seqbuf"
	"batchgen/internal/tokenizer"
	"batchgen/pkg/types"
)

// Generate runs one generate request on the served model and writes NDJSON
// to w: one StepLine per decoding step when req.Stream is set, then a
// single FinalLine. flush, when non-nil, is called after every line.
func (m *Manager) Generate(ctx context.Context, req types.GenerateRequest, w io.Writer, flush func()) error {
	m.mu.RLock()
	h, tok, state := m.handle, m.tok, m.state
	m.mu.RUnlock()
	if h == nil {
		return notReadyError{state: state}
	}

	batch, err := m.inputs(req, tok)
	if err != nil {
		return err
	}
	opts, err := m.options(req)
	if err != nil {
		return err
	}
	if req.SuppressEOS {
		if err := m.SuppressEndToken(&opts); err != nil {
			return err
		}
	}
	policy := m.cfg.BatchType
	if req.BatchType != "" {
		if policy, err = engine.ParseBatchType(req.BatchType); err != nil {
			return err
		}
	}
	maxBatchSize := m.cfg.MaxBatchSize
	if req.MaxBatchSize > 0 {
		maxBatchSize = req.MaxBatchSize
	}

	rid := uuid.NewString()
	enc := json.NewEncoder(w)
	steps := 0
	var writeErr error
	var cb engine.StepCallback
	if req.Stream {
		cb = func(ev engine.StepEvent) bool {
			line := types.StepLine{Step: ev.Step, BatchID: ev.BatchID, TokenID: ev.TokenID, Token: ev.Token, IsLast: ev.IsLast}
			if ev.HasLogProb {
				lp := ev.LogProb
				line.LogProb = &lp
			}
			if err := enc.Encode(line); err != nil {
				writeErr = err
				return true
			}
			steps++
			if flush != nil {
				flush()
			}
			return false
		}
	}
	m.log.Debug().Str("request_id", rid).Int("batch", batch.Len()).Bool("stream", req.Stream).Msg("generate start")
	results, err := h.GenerateWithCallback(ctx, batch, maxBatchSize, policy, opts, cb)
	if err != nil {
		if engine.IsEngineFailure(err) {
			m.mu.Lock()
			m.err = err.Error()
			m.mu.Unlock()
		}
		return err
	}
	if writeErr != nil {
		return writeErr
	}
	final := types.FinalLine{Done: true, RequestID: rid, Results: group(results, batch.Len(), opts.NumHypotheses, tok), Steps: steps}
	if err := enc.Encode(final); err != nil {
		return err
	}
	if flush != nil {
		flush()
	}
	return nil
}

// inputs builds the token batch from either raw prompts or token lists.
func (m *Manager) inputs(req types.GenerateRequest, tok tokenizer.Tokenizer) (*seqbuf.Buffer[string], error) {
	switch {
	case len(req.Prompts) > 0 && len(req.Tokens) > 0:
		return nil, badRequestError{msg: "set either prompts or tokens, not both"}
	case len(req.Tokens) > 0:
		return seqbuf.FromSlices(req.Tokens), nil
	case len(req.Prompts) > 0:
		if tok == nil {
			return nil, badRequestError{msg: "model has no tokenizer; send tokens instead of prompts"}
		}
		b := seqbuf.New[string]()
		b.Reserve(len(req.Prompts))
		for i, p := range req.Prompts {
			if strings.TrimSpace(p) == "" {
				return nil, badRequestError{msg: fmt.Sprintf("prompt %d is empty", i)}
			}
			toks, _, err := tok.Encode(p, false)
			if err != nil {
				return nil, badRequestError{msg: fmt.Sprintf("prompt %d: %v", i, err)}
			}
			b.PushBack(toks)
		}
		return b, nil
	}
	return nil, badRequestError{msg: "prompts or tokens is required"}
}

// options merges the request options over the configured base. With
// MaxNewTokens the limit applies to generated tokens only and results hold
// the generated tokens without the prompt.
func (m *Manager) options(req types.GenerateRequest) (decoding.Options, error) {
	opts := m.cfg.Decoding.Clone()
	if len(req.Options) > 0 {
		if err := json.Unmarshal(req.Options, &opts); err != nil {
			return opts, badRequestError{msg: "invalid options: " + err.Error()}
		}
	}
	if req.MaxNewTokens > 0 {
		opts.IncludePromptInResult = false
		opts.MaxLength = req.MaxNewTokens
	}
	return opts, nil
}

// EndToken returns the end-of-sequence token of the served model as
// declared by its sidecar.
func (m *Manager) EndToken() (string, error) {
	m.mu.RLock()
	path, loaded, state := m.model.Path, m.handle != nil, m.state
	m.mu.RUnlock()
	if !loaded {
		return "", notReadyError{state: state}
	}
	return registry.DefaultEndToken(path)
}

// SuppressEndToken adds the model's end-of-sequence token to
// opts.SuppressSequences.
func (m *Manager) SuppressEndToken(opts *decoding.Options) error {
	eos, err := m.EndToken()
	if err != nil {
		if IsNotReady(err) {
			return err
		}
		return badRequestError{msg: "suppress_eos: " + err.Error()}
	}
	opts.SuppressSequences = append(opts.SuppressSequences, []string{eos})
	return nil
}

// group arranges engine results by input. Text is decoded when a tokenizer
// is available.
func group(results []engine.Result, n, hyps int, tok tokenizer.Tokenizer) []types.BatchResult {
	out := make([]types.BatchResult, n)
	for i := range out {
		out[i] = types.BatchResult{BatchID: i, Hypotheses: make([]types.Hypothesis, 0, hyps)}
	}
	for _, r := range results {
		hy := types.Hypothesis{Tokens: r.Tokens, IDs: r.IDs}
		if r.HasScore {
			s := r.Score
			hy.Score = &s
		}
		if tok != nil {
			hy.Text = text(tok, r)
		}
		out[r.BatchID].Hypotheses = append(out[r.BatchID].Hypotheses, hy)
	}
	return out
}

func text(tok tokenizer.Tokenizer, r engine.Result) string {
	for _, id := range r.IDs {
		if id < 0 {
			return tokenizer.DecodeTokens(r.Tokens)
		}
	}
	s, err := tok.Decode(r.IDs, true)
	if err != nil {
		return tokenizer.DecodeTokens(r.Tokens)
	}
	return s
}
