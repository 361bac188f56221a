// Package hashlm is a small deterministic language model used as the
// reference engine backend. Next-token scores are a pure function of the
// model seed and the full token history, computed with xxhash, so decoding
// is reproducible without shipping weights. The package implements the
// decoding strategies the engine exposes: greedy, beam search, sampling,
// alternatives, penalties and static prompt caching.
package hashlm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"batchgen/internal/common/fsutil"
	"batchgen/internal/decoding"
	"batchgen/internal/registry"
	"batchgen/internal/tokenizer"
)

// Architecture is the value config.json must carry.
const Architecture = "hashlm"

// ErrBadModel wraps every model directory problem.
var ErrBadModel = errors.New("invalid hashlm model")

// Model is a loaded, immutable model. It is safe for concurrent use.
type Model struct {
	Dir   string
	Vocab *tokenizer.Vocabulary
	BOS   int
	EOS   int
	UNK   int
	Seed  uint64

	init uint64

	mu       sync.Mutex
	prefixes map[uint64]prefixState
	hits     atomic.Uint64
	misses   atomic.Uint64
}

// Load reads a model directory: config.json plus vocabulary.txt or
// vocabulary.json.
func Load(dir string) (*Model, error) {
	dir, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	if !fsutil.PathExists(dir) {
		return nil, fmt.Errorf("%w: %s does not exist", ErrBadModel, dir)
	}
	sc, err := registry.ReadSidecar(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadModel, err)
	}
	if !strings.EqualFold(sc.Architecture, Architecture) {
		return nil, fmt.Errorf("%w: architecture %q is not %q", ErrBadModel, sc.Architecture, Architecture)
	}
	v, err := tokenizer.LoadVocabulary(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadModel, err)
	}
	if v.Size() == 0 {
		return nil, fmt.Errorf("%w: empty vocabulary", ErrBadModel)
	}
	if sc.VocabSize != 0 && sc.VocabSize != v.Size() {
		return nil, fmt.Errorf("%w: vocab_size %d does not match %d vocabulary entries", ErrBadModel, sc.VocabSize, v.Size())
	}
	m := &Model{
		Dir:      dir,
		Vocab:    v,
		BOS:      special(v, sc.BOS),
		EOS:      special(v, sc.EOS),
		UNK:      -1,
		Seed:     sc.Seed,
		prefixes: make(map[uint64]prefixState),
	}
	if sc.UNK != "" && v.SetUnknown(sc.UNK) {
		m.UNK = v.UnknownID()
	}
	v.MarkSpecial(sc.BOS, sc.EOS)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], m.Seed)
	m.init = xxhash.Sum64(b[:])
	return m, nil
}

func special(v *tokenizer.Vocabulary, tok string) int {
	if tok == "" {
		return -1
	}
	if id, ok := v.ID(tok); ok {
		return id
	}
	return -1
}

// EndToken returns the model's end-of-sequence token or "".
func (m *Model) EndToken() string { return m.Vocab.Token(m.EOS) }

// CacheStats reports static prompt cache hits and misses.
func (m *Model) CacheStats() (hits, misses uint64) {
	return m.hits.Load(), m.misses.Load()
}

// ids maps tokens to ids, falling back to the unknown token.
func (m *Model) ids(toks []string) ([]int, error) {
	out := make([]int, len(toks))
	for i, t := range toks {
		id := m.Vocab.Lookup(t)
		if id < 0 {
			return nil, fmt.Errorf("%w: %q and the model has no unknown token", decoding.ErrUnknownToken, t)
		}
		out[i] = id
	}
	return out, nil
}
