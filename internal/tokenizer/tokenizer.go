// Package tokenizer converts between text and the token pieces the engine
// consumes. Two implementations exist: a vocabulary tokenizer over a plain
// token list, and a HuggingFace tokenizer.json reader built with the
// hftokenizers tag.
package tokenizer

import (
	"errors"
	"fmt"
	"path/filepath"

	"batchgen/internal/common/fsutil"
	"batchgen/internal/registry"
)

// Tokenizer splits text into tokens and ids and joins ids back into text.
type Tokenizer interface {
	Encode(text string, addSpecial bool) ([]string, []int, error)
	Decode(ids []int, skipSpecial bool) (string, error)
}

// HFTokenizerFile is the HuggingFace tokenizer definition looked up by Open.
const HFTokenizerFile = "tokenizer.json"

// ErrUnsupported is returned when a model directory needs a tokenizer this
// binary was built without.
var ErrUnsupported = errors.New("tokenizer not supported in this build")

// openHF is set by the hftokenizers build.
var openHF func(path string) (Tokenizer, error)

// Open picks the tokenizer for a model directory. A tokenizer.json is used
// when the binary supports it; otherwise the directory's vocabulary file is
// used with special tokens taken from the model sidecar.
func Open(dir string) (Tokenizer, error) {
	dir, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	hf := filepath.Join(dir, HFTokenizerFile)
	if openHF != nil && fsutil.PathExists(hf) {
		return openHF(hf)
	}
	v, err := LoadVocabulary(dir)
	if err != nil {
		if fsutil.PathExists(hf) {
			return nil, fmt.Errorf("%s: %w", hf, ErrUnsupported)
		}
		return nil, err
	}
	sc, err := registry.ReadSidecar(dir)
	if err != nil && !errors.Is(err, registry.ErrNoSidecar) {
		return nil, err
	}
	return NewVocabTokenizer(v, sc.BOS, sc.EOS, sc.UNK), nil
}
