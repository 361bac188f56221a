package manager

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"batchgen/internal/engine"
	"batchgen/internal/tokenizer"
	"batchgen/pkg/types"
)

// State is the lifecycle state of the served model.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

var timeNow = time.Now

// Manager serves one model at a time through an engine handle.
type Manager struct {
	cfg ManagerConfig
	log zerolog.Logger

	mu       sync.RWMutex
	state    State
	model    types.Model
	handle   *engine.Handle
	tok      tokenizer.Tokenizer
	err      string
	registry []types.Model

	startTime time.Time
}

// Ready reports whether a model is loaded and accepting requests.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady && m.handle != nil
}

// ListModels returns a copy of the registry.
func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Model, len(m.registry))
	copy(out, m.registry)
	return out
}

// Handle returns the current engine handle, or nil.
func (m *Manager) Handle() *engine.Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle
}

// Close closes the current handle. In-flight calls finish first.
func (m *Manager) Close() error {
	m.mu.Lock()
	h := m.handle
	m.handle, m.tok = nil, nil
	m.state = StateIdle
	m.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Close()
}

// Tokenizer returns the tokenizer of the current model, or nil when the
// model has none.
func (m *Manager) Tokenizer() tokenizer.Tokenizer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tok
}
