package hashlm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"batchgen/internal/decoding"
)

// Step is one generated token reported while decoding.
type Step struct {
	Element int
	Step    int
	TokenID int
	Token   string
	LogProb float32
	IsLast  bool
}

// Request is one batch of elements decoded with shared options.
type Request struct {
	Inputs [][]string
	// Keys identify elements for sampling seeds; defaults to the element index.
	Keys    []int
	Options decoding.Options
	// DefaultEndToken overrides the model's end-of-sequence token.
	DefaultEndToken string
	// Emit receives steps of the first hypothesis of each element. Returning
	// true stops that element. It may be called from several goroutines.
	Emit func(Step) bool
}

// Hypothesis is a decoded sequence. Tokens and IDs include the input when
// IncludePromptInResult is set.
type Hypothesis struct {
	Tokens []string
	IDs    []int
	Score  float32
}

// Runner decodes requests on a model, running at most threads elements at a
// time.
type Runner struct {
	m   *Model
	sem *semaphore.Weighted
}

func NewRunner(m *Model, threads int) *Runner {
	if threads < 1 {
		threads = 1
	}
	return &Runner{m: m, sem: semaphore.NewWeighted(int64(threads))}
}

func (r *Runner) Model() *Model { return r.m }

// Generate returns NumHypotheses hypotheses per input, in input order.
func (r *Runner) Generate(ctx context.Context, req Request) ([][]Hypothesis, error) {
	opts := req.Options
	ps, err := r.m.prefix(opts.StaticPrompt, opts.CacheStaticPrompt)
	if err != nil {
		return nil, &decoding.InvalidConfigurationError{Field: "static_prompt", Reason: err.Error()}
	}
	end, err := r.endIDs(opts, req.DefaultEndToken)
	if err != nil {
		return nil, err
	}
	seed := uint64(opts.Seed)
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	out := make([][]Hypothesis, len(req.Inputs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range req.Inputs {
		if err := r.sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer r.sem.Release(1)
			key := i
			if i < len(req.Keys) {
				key = req.Keys[i]
			}
			hs, err := r.element(gctx, req, i, key, ps, end, seed)
			if err != nil {
				return err
			}
			out[i] = hs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Runner) endIDs(opts decoding.Options, def string) (map[int]bool, error) {
	end := make(map[int]bool)
	for _, t := range opts.EndToken.Tokens {
		id, ok := r.m.Vocab.ID(t)
		if !ok {
			return nil, &decoding.InvalidConfigurationError{Field: "end_token", Reason: fmt.Sprintf("token %q is not in the vocabulary", t)}
		}
		end[id] = true
	}
	for _, id := range opts.EndToken.IDs {
		if id >= r.m.Vocab.Size() {
			return nil, &decoding.InvalidConfigurationError{Field: "end_token", Reason: fmt.Sprintf("id %d is outside the vocabulary", id)}
		}
		end[id] = true
	}
	if opts.EndToken.IsEmpty() && opts.StopAtDefaultEndToken {
		switch {
		case def != "":
			if id, ok := r.m.Vocab.ID(def); ok {
				end[id] = true
			}
		case r.m.EOS >= 0:
			end[r.m.EOS] = true
		}
	}
	return end, nil
}

func (r *Runner) element(ctx context.Context, req Request, idx, key int, ps prefixState, end map[int]bool, seed uint64) ([]Hypothesis, error) {
	opts := req.Options
	input, err := r.m.ids(req.Inputs[idx])
	if err != nil {
		return nil, fmt.Errorf("input %d: %w", idx, err)
	}
	start := r.m.advanceAll(ps.state, input)
	if len(input) == 0 && len(ps.ids) == 0 && r.m.BOS >= 0 {
		start = advance(start, r.m.BOS)
	}
	maxGen, minGen := opts.MaxLength, opts.MinLength
	if opts.IncludePromptInResult {
		maxGen -= len(input)
		minGen -= len(input)
	}
	run := &elemRun{
		m:      r.m,
		opts:   &opts,
		end:    end,
		input:  input,
		start:  start,
		maxGen: max(maxGen, 0),
		minGen: max(minGen, 0),
	}
	var emit emitFunc
	if req.Emit != nil {
		emit = func(step, id int, logp float32, last bool) bool {
			return req.Emit(Step{Element: idx, Step: step, TokenID: id, Token: r.m.Vocab.Token(id), LogProb: logp, IsLast: last})
		}
	}
	n := opts.NumHypotheses
	var hyps []hyp
	switch {
	case run.maxGen == 0:
	case opts.ReturnAlternatives:
		if opts.IsSampling() {
			run.rng = rand.New(rand.NewPCG(seed, uint64(key)))
		}
		hyps, err = run.alternatives(ctx, emit)
	case opts.IsBeamSearch():
		hyps, err = run.beamSearch(ctx)
		if err == nil && len(hyps) > 0 && emit != nil {
			if k := run.replay(hyps[0], emit); k >= 0 {
				run.truncate(hyps, k)
			}
		}
	default:
		limit := run.maxGen
		for h := 0; h < n; h++ {
			if opts.IsSampling() {
				run.rng = rand.New(rand.NewPCG(seed, uint64(key)*uint64(n)+uint64(h)))
			}
			var e emitFunc
			if h == 0 {
				e = emit
			}
			one, stopped, rerr := run.run(ctx, -1, limit, e)
			if rerr != nil {
				return nil, rerr
			}
			if stopped {
				limit = len(one.steps)
			}
			hyps = append(hyps, one)
		}
	}
	if err != nil {
		return nil, err
	}
	if len(hyps) > n {
		hyps = hyps[:n]
	}
	for len(hyps) < n {
		if len(hyps) == 0 {
			hyps = append(hyps, hyp{})
			continue
		}
		hyps = append(hyps, hyps[len(hyps)-1])
	}
	out := make([]Hypothesis, n)
	for i, h := range hyps {
		out[i] = r.assemble(req.Inputs[idx], input, h, opts.IncludePromptInResult)
	}
	return out, nil
}

func (r *Runner) assemble(toks []string, input []int, h hyp, withPrompt bool) Hypothesis {
	var out Hypothesis
	if withPrompt {
		out.Tokens = append(out.Tokens, toks...)
		out.IDs = append(out.IDs, input...)
	}
	for _, id := range h.gen {
		out.Tokens = append(out.Tokens, r.m.Vocab.Token(id))
		out.IDs = append(out.IDs, id)
	}
	if out.Tokens == nil {
		out.Tokens = []string{}
		out.IDs = []int{}
	}
	out.Score = h.score
	return out
}
