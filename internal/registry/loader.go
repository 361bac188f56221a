package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"batchgen/internal/common/fsutil"
	"batchgen/pkg/types"
)

// Scanner discovers models under a directory. Two layouts are recognised:
// model directories holding a config.json sidecar, and single *.gguf files
// served by the llama backend.
type Scanner struct{}

func NewScanner() *Scanner { return &Scanner{} }

// Scan lists the models found directly under dir, sorted by ID.
func (s *Scanner) Scan(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		name := e.Name()
		p := filepath.Join(abs, name)
		if e.IsDir() {
			if !fsutil.PathExists(filepath.Join(p, ConfigFile)) {
				continue
			}
			m := types.Model{ID: name, Name: name, Path: p, Format: types.FormatDir}
			if sc, err := ReadSidecar(p); err == nil {
				m.Family = sc.Architecture
				m.EOS = sc.EOS
			}
			models = append(models, m)
			continue
		}
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		models = append(models, types.Model{
			ID:     name,
			Name:   name,
			Path:   p,
			Quant:  quantFromName(name),
			Family: "llama",
			Format: types.FormatGGUF,
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// LoadDir is shorthand for NewScanner().Scan(dir).
func LoadDir(dir string) ([]types.Model, error) {
	return NewScanner().Scan(dir)
}

// Find returns the model with the given id.
func Find(models []types.Model, id string) (types.Model, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return types.Model{}, false
}

// quantFromName extracts a llama.cpp quantization suffix such as Q4_K_M
// from a file name like tinyllama.Q4_K_M.gguf.
func quantFromName(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	i := strings.LastIndexAny(stem, ".-")
	if i < 0 {
		return ""
	}
	q := strings.ToUpper(stem[i+1:])
	if len(q) < 2 || (q[0] != 'Q' && q[0] != 'F') || q[1] < '0' || q[1] > '9' {
		return ""
	}
	return q
}
