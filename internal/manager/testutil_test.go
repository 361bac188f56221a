package manager

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"batchgen/internal/engine"
	"batchgen/internal/hashlm"
	"batchgen/internal/registry"
	"batchgen/pkg/types"
)

// newModelsDir creates hashlm model directories named ids under a temp dir
// and returns the scanned registry.
func newModelsDir(t *testing.T, ids ...string) []types.Model {
	t.Helper()
	dir := t.TempDir()
	for i, id := range ids {
		if err := hashlm.Create(filepath.Join(dir, id), hashlm.CreateSpec{Seed: uint64(i + 3)}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	reg, err := registry.LoadDir(dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	return reg
}

// newReady returns a manager with the first model loaded.
func newReady(t *testing.T, mutate func(*ManagerConfig)) (*Manager, *engine.MemoryPublisher) {
	t.Helper()
	pub := engine.NewMemoryPublisher(0)
	cfg := ManagerConfig{
		Registry:     newModelsDir(t, "alpha", "beta"),
		DefaultModel: "alpha",
		Engine:       engine.Config{InterThreads: 2, MaxQueuedBatches: -1},
		Publisher:    pub,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m := NewWithConfig(cfg)
	t.Cleanup(func() { _ = m.Close() })
	if err := m.Ensure(testCtx(t), ""); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	return m, pub
}

// decodeLines splits an NDJSON body into step lines and the final line.
func decodeLines(t *testing.T, body []byte) ([]types.StepLine, types.FinalLine) {
	t.Helper()
	var steps []types.StepLine
	var final types.FinalLine
	sc := bufio.NewScanner(bytes.NewReader(body))
	sawFinal := false
	for sc.Scan() {
		line := sc.Bytes()
		if sawFinal {
			t.Fatalf("line after final line: %s", line)
		}
		var head struct {
			Done bool `json:"done"`
		}
		if err := json.Unmarshal(line, &head); err != nil {
			t.Fatalf("bad line %q: %v", line, err)
		}
		if head.Done {
			if err := json.Unmarshal(line, &final); err != nil {
				t.Fatalf("final line: %v", err)
			}
			sawFinal = true
			continue
		}
		var s types.StepLine
		if err := json.Unmarshal(line, &s); err != nil {
			t.Fatalf("step line: %v", err)
		}
		steps = append(steps, s)
	}
	if !sawFinal {
		t.Fatalf("no final line in %q", body)
	}
	return steps, final
}

// errWriter writes once, then returns an error on subsequent writes.
type errWriter struct{ wrote int }

func (e *errWriter) Write(p []byte) (int, error) {
	if e.wrote == 0 {
		e.wrote += len(p)
		return len(p), nil
	}
	return 0, errors.New("write fail")
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}
