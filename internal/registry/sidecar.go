package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// Sidecar file names read from a model directory, in lookup order.
const (
	ConfigFile           = "config.json"
	GenerationConfigFile = "generation_config.json"
	TokenizerConfigFile  = "tokenizer_config.json"
)

// ErrNoSidecar is returned when a model directory holds none of the sidecar files.
var ErrNoSidecar = errors.New("no model sidecar found")

// Sidecar is the model-side metadata the engine and tokenizer need.
type Sidecar struct {
	Architecture string
	VocabSize    int
	BOS          string
	EOS          string
	UNK          string
	Seed         uint64
}

type sidecarFile struct {
	Architecture  string          `json:"architecture"`
	Architectures []string        `json:"architectures"`
	ModelType     string          `json:"model_type"`
	VocabSize     int             `json:"vocab_size"`
	Seed          uint64          `json:"seed"`
	BOS           json.RawMessage `json:"bos_token"`
	EOS           json.RawMessage `json:"eos_token"`
	UNK           json.RawMessage `json:"unk_token"`
}

// ReadSidecar reads config.json, generation_config.json and
// tokenizer_config.json from dir. Earlier files take precedence per field;
// missing files are skipped.
func ReadSidecar(dir string) (Sidecar, error) {
	var sc Sidecar
	found := false
	for _, name := range []string{ConfigFile, GenerationConfigFile, TokenizerConfigFile} {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Sidecar{}, fmt.Errorf("read %s: %w", name, err)
		}
		var f sidecarFile
		if err := json.Unmarshal(b, &f); err != nil {
			return Sidecar{}, fmt.Errorf("parse %s: %w", name, err)
		}
		found = true
		sc.merge(f)
	}
	if !found {
		return Sidecar{}, fmt.Errorf("%s: %w", dir, ErrNoSidecar)
	}
	return sc, nil
}

// DefaultEndToken returns the model's end-of-sequence token from dir.
func DefaultEndToken(dir string) (string, error) {
	sc, err := ReadSidecar(dir)
	if err != nil {
		return "", err
	}
	if sc.EOS == "" {
		return "", fmt.Errorf("%s: no eos_token in sidecar", dir)
	}
	return sc.EOS, nil
}

func (s *Sidecar) merge(f sidecarFile) {
	if s.Architecture == "" {
		switch {
		case f.Architecture != "":
			s.Architecture = f.Architecture
		case len(f.Architectures) > 0:
			s.Architecture = f.Architectures[0]
		default:
			s.Architecture = f.ModelType
		}
	}
	if s.VocabSize == 0 {
		s.VocabSize = f.VocabSize
	}
	if s.Seed == 0 {
		s.Seed = f.Seed
	}
	if s.BOS == "" {
		s.BOS = tokenString(f.BOS)
	}
	if s.EOS == "" {
		s.EOS = tokenString(f.EOS)
	}
	if s.UNK == "" {
		s.UNK = tokenString(f.UNK)
	}
}

// tokenString decodes a special token given either as a plain string or as
// an added-token object {"content": "..."}. Numeric ids yield "".
func tokenString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Content
	}
	return ""
}
