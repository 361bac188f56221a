package tokenizer

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
)

// Vocabulary file names, in lookup order.
const (
	VocabTextFile = "vocabulary.txt"
	VocabJSONFile = "vocabulary.json"
)

// ErrNoVocabulary is returned when a model directory has no vocabulary file.
var ErrNoVocabulary = errors.New("no vocabulary file")

// Vocabulary maps token strings to dense ids.
type Vocabulary struct {
	tokens  []string
	index   map[string]int
	special map[int]bool
	unk     int
}

// NewVocabulary builds a vocabulary from tokens in id order. Duplicate tokens
// keep their first id.
func NewVocabulary(tokens []string) *Vocabulary {
	v := &Vocabulary{
		tokens:  append([]string(nil), tokens...),
		index:   make(map[string]int, len(tokens)),
		special: make(map[int]bool),
		unk:     -1,
	}
	for i, t := range v.tokens {
		if _, dup := v.index[t]; !dup {
			v.index[t] = i
		}
	}
	return v
}

// LoadVocabulary reads vocabulary.txt (one token per line) or
// vocabulary.json (array of strings) from dir.
func LoadVocabulary(dir string) (*Vocabulary, error) {
	if f, err := os.Open(filepath.Join(dir, VocabTextFile)); err == nil {
		defer f.Close()
		var toks []string
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			toks = append(toks, strings.TrimRight(sc.Text(), "\r"))
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read %s: %w", VocabTextFile, err)
		}
		return NewVocabulary(toks), nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("open %s: %w", VocabTextFile, err)
	}
	b, err := os.ReadFile(filepath.Join(dir, VocabJSONFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNoVocabulary)
		}
		return nil, fmt.Errorf("read %s: %w", VocabJSONFile, err)
	}
	var toks []string
	if err := json.Unmarshal(b, &toks); err != nil {
		return nil, fmt.Errorf("parse %s: %w", VocabJSONFile, err)
	}
	return NewVocabulary(toks), nil
}

func (v *Vocabulary) Size() int { return len(v.tokens) }

// Token returns the token for id, or "" when id is out of range.
func (v *Vocabulary) Token(id int) string {
	if id < 0 || id >= len(v.tokens) {
		return ""
	}
	return v.tokens[id]
}

// ID returns the id of tok.
func (v *Vocabulary) ID(tok string) (int, bool) {
	id, ok := v.index[tok]
	return id, ok
}

// Lookup returns the id of tok, falling back to the unknown token id. It
// returns -1 when tok is absent and no unknown token is set.
func (v *Vocabulary) Lookup(tok string) int {
	if id, ok := v.index[tok]; ok {
		return id
	}
	return v.unk
}

// SetUnknown designates tok as the unknown token. It reports false when tok
// is not in the vocabulary.
func (v *Vocabulary) SetUnknown(tok string) bool {
	id, ok := v.index[tok]
	if !ok {
		return false
	}
	v.unk = id
	v.special[id] = true
	return true
}

// UnknownID returns the unknown token id or -1.
func (v *Vocabulary) UnknownID() int { return v.unk }

// MarkSpecial flags tokens that Decode may skip. Unknown strings are ignored.
func (v *Vocabulary) MarkSpecial(toks ...string) {
	for _, t := range toks {
		if id, ok := v.index[t]; ok {
			v.special[id] = true
		}
	}
}

func (v *Vocabulary) IsSpecial(id int) bool { return v.special[id] }
