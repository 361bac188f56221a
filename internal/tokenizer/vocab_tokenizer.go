package tokenizer

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// WordBoundary marks a token that starts a new word.
const WordBoundary = "▁"

// VocabTokenizer splits on whitespace and maps each word to the longest
// vocabulary pieces covering it, SentencePiece style.
type VocabTokenizer struct {
	vocab *Vocabulary
	bos   string
	eos   string
}

// NewVocabTokenizer wraps v. Empty special token names are skipped.
func NewVocabTokenizer(v *Vocabulary, bos, eos, unk string) *VocabTokenizer {
	if unk != "" {
		v.SetUnknown(unk)
	}
	v.MarkSpecial(bos, eos)
	return &VocabTokenizer{vocab: v, bos: bos, eos: eos}
}

func (t *VocabTokenizer) Vocabulary() *Vocabulary { return t.vocab }

// Encode tokenizes text. With addSpecial, the BOS token is prepended when the
// vocabulary has one.
func (t *VocabTokenizer) Encode(text string, addSpecial bool) ([]string, []int, error) {
	var toks []string
	var ids []int
	if addSpecial && t.bos != "" {
		if id, ok := t.vocab.ID(t.bos); ok {
			toks = append(toks, t.bos)
			ids = append(ids, id)
		}
	}
	for _, word := range strings.Fields(text) {
		pieces, pids, err := t.encodeWord(word)
		if err != nil {
			return nil, nil, err
		}
		toks = append(toks, pieces...)
		ids = append(ids, pids...)
	}
	return toks, ids, nil
}

func (t *VocabTokenizer) encodeWord(word string) ([]string, []int, error) {
	rest := WordBoundary + word
	var toks []string
	var ids []int
	for rest != "" {
		n := len(rest)
		for n > 0 {
			if id, ok := t.vocab.ID(rest[:n]); ok {
				toks = append(toks, rest[:n])
				ids = append(ids, id)
				break
			}
			// step back one rune
			_, size := utf8.DecodeLastRuneInString(rest[:n])
			n -= size
		}
		if n > 0 {
			rest = rest[n:]
			continue
		}
		unk := t.vocab.UnknownID()
		if unk < 0 {
			return nil, nil, fmt.Errorf("tokenize %q: no vocabulary piece for %q", word, rest)
		}
		_, size := utf8.DecodeRuneInString(rest)
		if strings.HasPrefix(rest, WordBoundary) {
			size = len(WordBoundary)
			if len(rest) > size {
				_, s2 := utf8.DecodeRuneInString(rest[size:])
				size += s2
			}
		}
		toks = append(toks, t.vocab.Token(unk))
		ids = append(ids, unk)
		rest = rest[size:]
	}
	return toks, ids, nil
}

// Decode joins the tokens of ids, turning word-boundary markers into spaces.
func (t *VocabTokenizer) Decode(ids []int, skipSpecial bool) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		if id < 0 || id >= t.vocab.Size() {
			return "", fmt.Errorf("decode: id %d out of range [0,%d)", id, t.vocab.Size())
		}
		if skipSpecial && t.vocab.IsSpecial(id) {
			continue
		}
		b.WriteString(t.vocab.Token(id))
	}
	return strings.TrimPrefix(strings.ReplaceAll(b.String(), WordBoundary, " "), " "), nil
}

// DecodeTokens is Decode over token strings.
func DecodeTokens(toks []string) string {
	return strings.TrimPrefix(strings.ReplaceAll(strings.Join(toks, ""), WordBoundary, " "), " ")
}
