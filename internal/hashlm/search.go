package hashlm

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"

	"batchgen/internal/decoding"
)

// hyp is one decoded continuation. steps holds every generated id including
// a trailing end token; gen is what the result keeps.
type hyp struct {
	steps []int
	lps   []float32
	gen   []int
	score float32
}

type emitFunc func(step, id int, logp float32, last bool) (stop bool)

// elemRun decodes a single batch element.
type elemRun struct {
	m      *Model
	opts   *decoding.Options
	end    map[int]bool
	input  []int
	start  uint64
	maxGen int
	minGen int
	rng    *rand.Rand
}

// scores fills out with constrained next-token log-probabilities for a
// history ending in state. seq is the input plus generated ids, ngen the
// number of generated ids. It reports false when every token is masked.
func (r *elemRun) scores(state uint64, seq []int, ngen int, out []float32) bool {
	r.m.logits(state, out)
	o := r.opts
	if o.RepetitionPenalty != 1 && o.RepetitionPenalty > 0 {
		seen := make(map[int]struct{}, len(seq))
		for _, t := range seq {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			if out[t] > 0 {
				out[t] /= o.RepetitionPenalty
			} else {
				out[t] *= o.RepetitionPenalty
			}
		}
	}
	if o.DisableUnk && r.m.UNK >= 0 {
		out[r.m.UNK] = negInf
	}
	if n := o.NoRepeatNgramSize; n > 0 && len(seq) >= n-1 {
		tail := seq[len(seq)-(n-1):]
		for i := 0; i+n <= len(seq); i++ {
			if equalInts(seq[i:i+n-1], tail) {
				out[seq[i+n-1]] = negInf
			}
		}
	}
	for _, sup := range r.suppressIDs() {
		k := len(sup) - 1
		if k == 0 || (len(seq) >= k && equalInts(seq[len(seq)-k:], sup[:k])) {
			out[sup[k]] = negInf
		}
	}
	if ngen < r.minGen {
		for id := range r.end {
			out[id] = negInf
		}
	}
	return logSoftmax(out)
}

func (r *elemRun) suppressIDs() [][]int {
	var out [][]int
	for _, s := range r.opts.SuppressSequences {
		ids := make([]int, 0, len(s))
		ok := true
		for _, t := range s {
			id, found := r.m.Vocab.ID(t)
			if !found {
				ok = false
				break
			}
			ids = append(ids, id)
		}
		if ok && len(ids) > 0 {
			out = append(out, ids)
		}
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// pick chooses the next token from log-probabilities.
func (r *elemRun) pick(lp []float32) int {
	if r.rng == nil || !r.opts.IsSampling() || r.opts.SamplingTemperature == 0 {
		return argmax(lp)
	}
	k := r.opts.SamplingTopK
	if k <= 0 || k > len(lp) {
		k = len(lp)
	}
	cand := topK(lp, k)
	if len(cand) == 0 {
		return -1
	}
	temp := float64(r.opts.SamplingTemperature)
	probs := make([]float64, len(cand))
	var sum float64
	for i, id := range cand {
		probs[i] = math.Exp(float64(lp[id]-lp[cand[0]]) / temp)
		sum += probs[i]
	}
	if p := float64(r.opts.SamplingTopP); p < 1 {
		var cum float64
		for i := range probs {
			cum += probs[i] / sum
			if cum >= p {
				probs = probs[:i+1]
				break
			}
		}
		sum = 0
		for _, q := range probs {
			sum += q
		}
	}
	x := r.rng.Float64() * sum
	for i, q := range probs {
		x -= q
		if x < 0 {
			return cand[i]
		}
	}
	return cand[len(probs)-1]
}

// run decodes one continuation. forced, when >= 0, is taken as the first
// token. limit caps the number of steps. The next token is picked before the
// current one is emitted so the final event always carries last. The bool
// result reports that emit ended the run before decoding finished.
func (r *elemRun) run(ctx context.Context, forced, limit int, emit emitFunc) (hyp, bool, error) {
	var h hyp
	seq := append([]int(nil), r.input...)
	state := r.start
	lp := make([]float32, r.m.Vocab.Size())
	if limit < 1 {
		return h, false, nil
	}
	if err := ctx.Err(); err != nil {
		return hyp{}, false, err
	}
	tok, tlp := r.next(state, seq, 0, lp, forced)
	for step := 0; tok >= 0; step++ {
		end := r.end[tok]
		h.steps = append(h.steps, tok)
		h.lps = append(h.lps, tlp)
		h.score += tlp
		if !end || r.opts.ReturnEndToken {
			h.gen = append(h.gen, tok)
		}
		seq = append(seq, tok)
		state = advance(state, tok)
		next, nlp := -1, float32(0)
		if !end && step < limit-1 {
			if err := ctx.Err(); err != nil {
				return hyp{}, false, err
			}
			next, nlp = r.next(state, seq, len(h.steps), lp, -1)
		}
		if emit != nil && emit(step, tok, tlp, next < 0) {
			return h, next >= 0, nil
		}
		tok, tlp = next, nlp
	}
	return h, false, nil
}

// next scores the position after seq and picks the following token, or
// returns -1 when every token is masked.
func (r *elemRun) next(state uint64, seq []int, ngen int, lp []float32, forced int) (int, float32) {
	if !r.scores(state, seq, ngen, lp) {
		return -1, 0
	}
	tok := forced
	if tok < 0 {
		tok = r.pick(lp)
	}
	if tok < 0 || isNegInf(lp[tok]) {
		return -1, 0
	}
	return tok, lp[tok]
}

type beam struct {
	seq   []int
	steps []int
	lps   []float32
	state uint64
	logp  float32
}

func (r *elemRun) normalize(logp float32, n int) float32 {
	if n < 1 {
		n = 1
	}
	return logp / float32(math.Pow(float64(n), float64(r.opts.LengthPenalty)))
}

func (r *elemRun) finish(steps []int, lps []float32, logp float32) hyp {
	h := hyp{
		steps: append([]int(nil), steps...),
		lps:   append([]float32(nil), lps...),
	}
	for _, t := range steps {
		if !r.end[t] || r.opts.ReturnEndToken {
			h.gen = append(h.gen, t)
		}
	}
	h.score = r.normalize(logp, len(steps))
	return h
}

// beamSearch keeps BeamSize live hypotheses and stops once
// NumHypotheses*Patience of them have finished.
func (r *elemRun) beamSearch(ctx context.Context) ([]hyp, error) {
	width := r.opts.BeamSize
	want := int(math.Ceil(float64(r.opts.NumHypotheses) * float64(r.opts.Patience)))
	beams := []beam{{seq: append([]int(nil), r.input...), state: r.start}}
	var finished []hyp
	lp := make([]float32, r.m.Vocab.Size())
	type cand struct {
		b    int
		tok  int
		tlp  float32
		logp float32
	}
	for step := 0; step < r.maxGen && len(beams) > 0 && len(finished) < want; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var cands []cand
		for bi, b := range beams {
			if !r.scores(b.state, b.seq, len(b.steps), lp) {
				continue
			}
			for _, t := range topK(lp, 2*width) {
				cands = append(cands, cand{b: bi, tok: t, tlp: lp[t], logp: b.logp + lp[t]})
			}
		}
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].logp > cands[j].logp })
		var next []beam
		for _, c := range cands {
			if len(next) == width {
				break
			}
			b := beams[c.b]
			steps := append(append([]int(nil), b.steps...), c.tok)
			lps := append(append([]float32(nil), b.lps...), c.tlp)
			if r.end[c.tok] {
				finished = append(finished, r.finish(steps, lps, c.logp))
				continue
			}
			next = append(next, beam{
				seq:   append(append([]int(nil), b.seq...), c.tok),
				steps: steps,
				lps:   lps,
				state: advance(b.state, c.tok),
				logp:  c.logp,
			})
		}
		beams = next
	}
	for _, b := range beams {
		finished = append(finished, r.finish(b.steps, b.lps, b.logp))
	}
	sort.SliceStable(finished, func(i, j int) bool { return finished[i].score > finished[j].score })
	return finished, nil
}

// replay emits the steps of h as the element's event stream. It returns the
// number of steps kept when a stop request cut the stream short, or -1.
func (r *elemRun) replay(h hyp, emit emitFunc) int {
	for i, t := range h.steps {
		last := i == len(h.steps)-1
		if emit(i, t, h.lps[i], last) && !last {
			return i + 1
		}
	}
	return -1
}

// truncate caps every hypothesis at n steps.
func (r *elemRun) truncate(hyps []hyp, n int) {
	for i := range hyps {
		if len(hyps[i].steps) > n {
			hyps[i] = r.finish(hyps[i].steps[:n], hyps[i].lps[:n], sum(hyps[i].lps[:n]))
		}
	}
}

func sum(x []float32) float32 {
	var s float32
	for _, v := range x {
		s += v
	}
	return s
}

// alternatives returns the NumHypotheses most likely first tokens, each
// continued with the configured search unless its probability is below
// MinAlternativeExpansionProb. A stop on the first alternative caps the
// others at the same length.
func (r *elemRun) alternatives(ctx context.Context, emit emitFunc) ([]hyp, error) {
	lp := make([]float32, r.m.Vocab.Size())
	if !r.scores(r.start, r.input, 0, lp) {
		return nil, nil
	}
	first := topK(lp, r.opts.NumHypotheses)
	out := make([]hyp, 0, len(first))
	stopAt := -1
	for i, tok := range first {
		limit := r.maxGen
		if float32(math.Exp(float64(lp[tok]))) < r.opts.MinAlternativeExpansionProb || r.end[tok] {
			limit = 1
		}
		if stopAt >= 0 && limit > stopAt {
			limit = stopAt
		}
		var e emitFunc
		if i == 0 {
			e = emit
		}
		h, stopped, err := r.run(ctx, tok, limit, e)
		if err != nil {
			return nil, err
		}
		if stopped {
			stopAt = len(h.steps)
		}
		out = append(out, h)
	}
	return out, nil
}
