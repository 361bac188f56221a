package hashlm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"batchgen/internal/decoding"
	"batchgen/internal/registry"
)

func greedy(maxLen int) decoding.Options {
	o := decoding.Defaults()
	o.MaxLength = maxLen
	o.StopAtDefaultEndToken = false
	return o
}

func TestGenerateExactLength(t *testing.T) {
	r := NewRunner(newModel(t), 2)
	inputs := [][]string{{"▁hello"}, {"▁goodbye"}}
	opts := greedy(4)
	opts.MinLength = 1
	out, err := r.Generate(context.Background(), Request{Inputs: inputs, Options: opts})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(out))
	}
	for i, hs := range out {
		if len(hs) != 1 {
			t.Fatalf("element %d: %d hypotheses", i, len(hs))
		}
		h := hs[0]
		if len(h.IDs) != 4 || len(h.Tokens) != 4 {
			t.Fatalf("element %d: expected 4 tokens, got %v", i, h.Tokens)
		}
		if h.Tokens[0] != inputs[i][0] {
			t.Fatalf("element %d: prompt not included: %v", i, h.Tokens)
		}
	}
}

func TestGenerateWithoutPrompt(t *testing.T) {
	r := NewRunner(newModel(t), 1)
	opts := greedy(3)
	opts.IncludePromptInResult = false
	out, err := r.Generate(context.Background(), Request{Inputs: [][]string{{"▁the", "▁quick"}}, Options: opts})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := len(out[0][0].IDs); got != 3 {
		t.Fatalf("expected 3 generated tokens, got %d", got)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	m := newModel(t)
	r := NewRunner(m, 4)
	opts := decoding.Defaults()
	opts.MaxLength = 12
	opts.CacheStaticPrompt = false
	req := Request{Inputs: [][]string{{"▁the"}, {"▁a", "▁dog"}, {}}, Options: opts}
	a, err := r.Generate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewRunner(m, 1).Generate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("greedy decoding not reproducible:\n%v\n%v", a, b)
	}
}

func TestMinLengthEqualsMax(t *testing.T) {
	r := NewRunner(newModel(t), 1)
	opts := decoding.Defaults()
	opts.MaxLength = 6
	opts.MinLength = 6
	out, err := r.Generate(context.Background(), Request{Inputs: [][]string{{"▁fox"}}, Options: opts})
	if err != nil {
		t.Fatal(err)
	}
	h := out[0][0]
	if len(h.IDs) != 6 {
		t.Fatalf("expected 6 tokens, got %v", h.Tokens)
	}
	for _, tok := range h.Tokens {
		if tok == EosToken {
			t.Fatalf("end token emitted before min_length: %v", h.Tokens)
		}
	}
}

func TestEndTokenStopsAndIsDropped(t *testing.T) {
	m := newModel(t)
	r := NewRunner(m, 1)
	// every token ends decoding, so exactly one step runs
	all := make([]int, m.Vocab.Size())
	for i := range all {
		all[i] = i
	}
	opts := decoding.Defaults()
	opts.EndToken = decoding.EndTokenIDs(all...)
	var steps []Step
	out, err := r.Generate(context.Background(), Request{
		Inputs:  [][]string{{"▁a"}},
		Options: opts,
		Emit:    func(s Step) bool { steps = append(steps, s); return false },
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out[0][0].IDs) != 1 {
		t.Fatalf("end token should be dropped: %v", out[0][0].Tokens)
	}
	if len(steps) != 1 || !steps[0].IsLast {
		t.Fatalf("expected one final step, got %+v", steps)
	}

	opts.ReturnEndToken = true
	out, err = r.Generate(context.Background(), Request{Inputs: [][]string{{"▁a"}}, Options: opts})
	if err != nil {
		t.Fatal(err)
	}
	if len(out[0][0].IDs) != 2 {
		t.Fatalf("end token should be kept: %v", out[0][0].Tokens)
	}
}

func TestUnknownEndTokenRejected(t *testing.T) {
	r := NewRunner(newModel(t), 1)
	opts := decoding.Defaults()
	opts.EndToken = decoding.EndTokenString("<nope>")
	_, err := r.Generate(context.Background(), Request{Inputs: [][]string{{"▁a"}}, Options: opts})
	if !decoding.IsInvalidConfiguration(err) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
}

func TestBeamSearchHypotheses(t *testing.T) {
	r := NewRunner(newModel(t), 1)
	opts := decoding.Defaults()
	opts.BeamSize = 4
	opts.NumHypotheses = 3
	opts.MaxLength = 8
	opts.ReturnScores = true
	out, err := r.Generate(context.Background(), Request{Inputs: [][]string{{"▁hello"}}, Options: opts})
	if err != nil {
		t.Fatal(err)
	}
	hs := out[0]
	if len(hs) != 3 {
		t.Fatalf("expected 3 hypotheses, got %d", len(hs))
	}
	for i := 1; i < len(hs); i++ {
		if hs[i].Score > hs[i-1].Score {
			t.Fatalf("hypotheses not ordered by score: %v", hs)
		}
	}
	for _, h := range hs {
		if len(h.IDs) > 8 {
			t.Fatalf("hypothesis exceeds max_length: %v", h.Tokens)
		}
	}
}

func TestSamplingSeeded(t *testing.T) {
	m := newModel(t)
	opts := greedy(10)
	opts.SamplingTopK = 0
	opts.SamplingTemperature = 1.5
	opts.NumHypotheses = 2
	opts.Seed = 42
	req := Request{Inputs: [][]string{{"▁a"}, {"▁a"}}, Keys: []int{0, 1}, Options: opts}
	a, err := NewRunner(m, 2).Generate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewRunner(m, 2).Generate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed should reproduce samples")
	}
	if len(a[0]) != 2 {
		t.Fatalf("expected 2 sampled hypotheses")
	}
}

func TestAlternativesDistinctFirstToken(t *testing.T) {
	r := NewRunner(newModel(t), 1)
	opts := greedy(5)
	opts.IncludePromptInResult = false
	opts.ReturnAlternatives = true
	opts.NumHypotheses = 3
	out, err := r.Generate(context.Background(), Request{Inputs: [][]string{{"▁dog"}}, Options: opts})
	if err != nil {
		t.Fatal(err)
	}
	hs := out[0]
	if len(hs) != 3 {
		t.Fatalf("expected 3 alternatives, got %d", len(hs))
	}
	seen := map[int]bool{}
	for _, h := range hs {
		if len(h.IDs) != 5 {
			t.Fatalf("alternative not expanded to max_length: %v", h.Tokens)
		}
		if seen[h.IDs[0]] {
			t.Fatalf("duplicate first token %d", h.IDs[0])
		}
		seen[h.IDs[0]] = true
	}

	opts.MinAlternativeExpansionProb = 1
	out, err = r.Generate(context.Background(), Request{Inputs: [][]string{{"▁dog"}}, Options: opts})
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range out[0] {
		if len(h.IDs) != 1 {
			t.Fatalf("alternatives below the expansion threshold must stop: %v", h.Tokens)
		}
	}
}

func TestEmitStopFinalizesElement(t *testing.T) {
	r := NewRunner(newModel(t), 2)
	var mu sync.Mutex
	counts := map[int]int{}
	out, err := r.Generate(context.Background(), Request{
		Inputs:  [][]string{{"▁a"}, {"▁the"}},
		Options: greedy(6),
		Emit: func(s Step) bool {
			mu.Lock()
			defer mu.Unlock()
			counts[s.Element]++
			return s.Element == 0
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out[0][0].IDs) != 2 {
		t.Fatalf("stopped element should keep prompt plus one token: %v", out[0][0].Tokens)
	}
	if len(out[1][0].IDs) != 6 || counts[1] != 5 {
		t.Fatalf("sibling should run to max_length: %v (%d events)", out[1][0].Tokens, counts[1])
	}
}

func TestNoRepeatNgram(t *testing.T) {
	r := NewRunner(newModel(t), 1)
	opts := greedy(12)
	opts.NoRepeatNgramSize = 1
	out, err := r.Generate(context.Background(), Request{Inputs: [][]string{{"▁the"}}, Options: opts})
	if err != nil {
		t.Fatal(err)
	}
	seen := map[int]bool{}
	for _, id := range out[0][0].IDs {
		if seen[id] {
			t.Fatalf("token %d repeated: %v", id, out[0][0].Tokens)
		}
		seen[id] = true
	}
}

func TestSuppressAndDisableUnk(t *testing.T) {
	m := newModel(t)
	r := NewRunner(m, 1)
	base := greedy(10)
	base.IncludePromptInResult = false
	first, err := r.Generate(context.Background(), Request{Inputs: [][]string{{"▁a"}}, Options: base})
	if err != nil {
		t.Fatal(err)
	}
	banned := first[0][0].Tokens[0]
	opts := base
	opts.SuppressSequences = [][]string{{banned}}
	opts.DisableUnk = true
	out, err := r.Generate(context.Background(), Request{Inputs: [][]string{{"▁a"}}, Options: opts})
	if err != nil {
		t.Fatal(err)
	}
	for _, tok := range out[0][0].Tokens {
		if tok == banned || tok == UnkToken {
			t.Fatalf("suppressed token %q generated: %v", tok, out[0][0].Tokens)
		}
	}
}

func TestStaticPromptCache(t *testing.T) {
	m := newModel(t)
	r := NewRunner(m, 1)
	opts := greedy(3)
	opts.StaticPrompt = []string{BosToken, "▁hello"}
	req := Request{Inputs: [][]string{{"▁world"}}, Options: opts}
	a, err := r.Generate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Generate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if hits, misses := m.CacheStats(); hits != 1 || misses != 1 {
		t.Fatalf("cache stats hits=%d misses=%d", hits, misses)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("cached prefix changed output")
	}
	if a[0][0].Tokens[0] != "▁world" || len(a[0][0].IDs) != 3 {
		t.Fatalf("static prompt must not appear or count: %v", a[0][0].Tokens)
	}
	opts.CacheStaticPrompt = false
	if _, err := r.Generate(context.Background(), Request{Inputs: req.Inputs, Options: opts}); err != nil {
		t.Fatal(err)
	}
	if hits, misses := m.CacheStats(); hits != 1 || misses != 1 {
		t.Fatalf("uncached call touched the cache: hits=%d misses=%d", hits, misses)
	}
}

func TestUnknownInputMapsToUnk(t *testing.T) {
	r := NewRunner(newModel(t), 1)
	out, err := r.Generate(context.Background(), Request{Inputs: [][]string{{"▁zebra"}}, Options: greedy(2)})
	if err != nil {
		t.Fatal(err)
	}
	if out[0][0].IDs[0] != 0 || out[0][0].Tokens[0] != "▁zebra" {
		t.Fatalf("unexpected prompt mapping: %v %v", out[0][0].Tokens, out[0][0].IDs)
	}
}

func TestGenerateCanceled(t *testing.T) {
	r := NewRunner(newModel(t), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Generate(ctx, Request{Inputs: [][]string{{"▁a"}}, Options: greedy(5)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEmitStopCapsEveryHypothesis(t *testing.T) {
	cases := map[string]func(*decoding.Options){
		"beam": func(o *decoding.Options) { o.BeamSize = 4 },
		"sampling": func(o *decoding.Options) {
			o.SamplingTopK = 0
			o.Seed = 3
		},
		"alternatives": func(o *decoding.Options) { o.ReturnAlternatives = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := NewRunner(newModel(t), 1)
			opts := greedy(10)
			opts.IncludePromptInResult = false
			opts.NumHypotheses = 3
			mutate(&opts)
			events := 0
			out, err := r.Generate(context.Background(), Request{
				Inputs:  [][]string{{"▁the"}},
				Options: opts,
				Emit:    func(Step) bool { events++; return true },
			})
			if err != nil {
				t.Fatal(err)
			}
			if events != 1 {
				t.Fatalf("expected one event, got %d", events)
			}
			if len(out[0]) != 3 {
				t.Fatalf("expected 3 hypotheses, got %d", len(out[0]))
			}
			for i, h := range out[0] {
				if len(h.IDs) != 1 {
					t.Fatalf("hypothesis %d not capped at the stopped step: %v", i, h.Tokens)
				}
			}
		})
	}
}

func TestFinalEventMarkedLastWhenScoresRunOut(t *testing.T) {
	r := NewRunner(newModel(t), 1)
	opts := decoding.Defaults()
	opts.IncludePromptInResult = false
	opts.NoRepeatNgramSize = 1
	opts.MinLength = 50
	opts.MaxLength = 60
	var steps []Step
	out, err := r.Generate(context.Background(), Request{
		Inputs:  [][]string{{"▁the"}},
		Options: opts,
		Emit:    func(s Step) bool { steps = append(steps, s); return false },
	})
	if err != nil {
		t.Fatal(err)
	}
	n := len(out[0][0].IDs)
	if n == 0 || n >= 59 {
		t.Fatalf("expected decoding to end on masked scores, got %d tokens", n)
	}
	if len(steps) != n {
		t.Fatalf("expected %d events, got %d", n, len(steps))
	}
	for i, s := range steps {
		if s.IsLast != (i == n-1) {
			t.Fatalf("event %d: IsLast=%v", i, s.IsLast)
		}
	}
}

func TestUnknownTokenWithoutUnkFallback(t *testing.T) {
	m := newModel(t)
	cfg := `{"architecture": "hashlm", "bos_token": "<s>", "eos_token": "</s>", "seed": 7}`
	if err := os.WriteFile(filepath.Join(m.Dir, registry.ConfigFile), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := Load(m.Dir)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRunner(m, 1)
	_, err = r.Generate(context.Background(), Request{Inputs: [][]string{{"▁zebra"}}, Options: greedy(2)})
	if !errors.Is(err, decoding.ErrUnknownToken) {
		t.Fatalf("expected unknown token error for input, got %v", err)
	}
	opts := greedy(2)
	opts.StaticPrompt = []string{"▁zebra"}
	_, err = r.Generate(context.Background(), Request{Inputs: [][]string{{"▁a"}}, Options: opts})
	var ie *decoding.InvalidConfigurationError
	if !errors.As(err, &ie) || ie.Field != "static_prompt" {
		t.Fatalf("expected static_prompt configuration error, got %v", err)
	}
}
