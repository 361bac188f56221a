//go:build hftokenizers

package tokenizer

import (
	"fmt"

	"github.com/daulet/tokenizers"
)

func init() { openHF = OpenHF }

// HFTokenizer wraps a HuggingFace tokenizer.json through the Rust bindings.
type HFTokenizer struct {
	tk *tokenizers.Tokenizer
}

// OpenHF loads a tokenizer.json file.
func OpenHF(path string) (Tokenizer, error) {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return &HFTokenizer{tk: tk}, nil
}

func (h *HFTokenizer) Encode(text string, addSpecial bool) ([]string, []int, error) {
	ids, toks := h.tk.Encode(text, addSpecial)
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return toks, out, nil
}

func (h *HFTokenizer) Decode(ids []int, skipSpecial bool) (string, error) {
	u := make([]uint32, len(ids))
	for i, id := range ids {
		if id < 0 {
			return "", fmt.Errorf("decode: negative id %d", id)
		}
		u[i] = uint32(id)
	}
	return h.tk.Decode(u, skipSpecial), nil
}

func (h *HFTokenizer) Close() error { return h.tk.Close() }
