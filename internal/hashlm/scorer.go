package hashlm

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// advance folds tok into the history state.
func advance(state uint64, tok int) uint64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], state)
	binary.LittleEndian.PutUint64(b[8:], uint64(tok))
	return xxhash.Sum64(b[:])
}

func (m *Model) advanceAll(state uint64, toks []int) uint64 {
	for _, t := range toks {
		state = advance(state, t)
	}
	return state
}

// logits fills out with raw next-token scores in [-4, 4) for state.
func (m *Model) logits(state uint64, out []float32) {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], state)
	for v := range out {
		binary.LittleEndian.PutUint64(b[8:], uint64(v))
		h := xxhash.Sum64(b[:])
		out[v] = float32(h>>40)/float32(1<<24)*8 - 4
	}
}

var negInf = float32(math.Inf(-1))

func isNegInf(x float32) bool { return math.IsInf(float64(x), -1) }

// logSoftmax normalizes x in place. Masked (-Inf) entries stay masked. It
// reports false when every entry is masked.
func logSoftmax(x []float32) bool {
	maxv := negInf
	for _, v := range x {
		if v > maxv {
			maxv = v
		}
	}
	if isNegInf(maxv) {
		return false
	}
	var sum float64
	for _, v := range x {
		if !isNegInf(v) {
			sum += math.Exp(float64(v - maxv))
		}
	}
	lse := maxv + float32(math.Log(sum))
	for i, v := range x {
		if !isNegInf(v) {
			x[i] = v - lse
		}
	}
	return true
}

func argmax(x []float32) int {
	best := -1
	for i, v := range x {
		if isNegInf(v) {
			continue
		}
		if best < 0 || v > x[best] {
			best = i
		}
	}
	return best
}

// topK returns the indices of the k highest finite entries, best first. Ties
// keep the lower index first.
func topK(x []float32, k int) []int {
	if k <= 0 {
		return nil
	}
	out := make([]int, 0, k)
	for i, v := range x {
		if isNegInf(v) {
			continue
		}
		pos := len(out)
		for pos > 0 && x[out[pos-1]] < v {
			pos--
		}
		if pos >= k {
			continue
		}
		if len(out) < k {
			out = append(out, 0)
		}
		copy(out[pos+1:], out[pos:len(out)-1])
		out[pos] = i
	}
	return out
}
