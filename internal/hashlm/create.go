package hashlm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"

	"batchgen/internal/common/fsutil"
	"batchgen/internal/registry"
	"batchgen/internal/tokenizer"
)

// Special tokens written by Create.
const (
	UnkToken = "<unk>"
	BosToken = "<s>"
	EosToken = "</s>"
)

// CreateSpec describes a synthetic model directory.
type CreateSpec struct {
	// Words become word-initial vocabulary pieces. Empty uses a small
	// built-in word list.
	Words []string
	Seed  uint64
}

var defaultWords = []string{
	"the", "a", "quick", "brown", "fox", "jumps", "over", "lazy", "dog",
	"hello", "world", "goodbye", "and", "of", "to", "in", "is", "it",
	"that", "was", "for", "on", "are", "with", "as", "at", "be", "this",
}

// Create writes config.json and vocabulary.txt for a hashlm model into dir.
func Create(dir string, spec CreateSpec) error {
	words := spec.Words
	if len(words) == 0 {
		words = defaultWords
	}
	vocab := []string{UnkToken, BosToken, EosToken}
	seen := map[string]bool{}
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		vocab = append(vocab, tokenizer.WordBoundary+w)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	cfg := map[string]any{
		"architecture": Architecture,
		"vocab_size":   len(vocab),
		"bos_token":    BosToken,
		"eos_token":    EosToken,
		"unk_token":    UnkToken,
		"seed":         spec.Seed,
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, registry.ConfigFile), append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	body := strings.Join(vocab, "\n") + "\n"
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, tokenizer.VocabTextFile), []byte(body), 0o644); err != nil {
		return fmt.Errorf("write vocabulary: %w", err)
	}
	return nil
}
