package manager

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"batchgen/internal/engine"
	"batchgen/internal/registry"
	"batchgen/internal/tokenizer"
	"batchgen/pkg/types"
)

// Manager lifecycle event names, published next to the engine's own.
const (
	EventLoadStart  = "load_start"
	EventLoadDone   = "load_done"
	EventLoadFailed = "load_failed"
)

// Ensure makes modelID the served model. An empty id means the default
// model. It is a no-op when the model is already loaded. The previous
// handle is closed once the new one is ready.
func (m *Manager) Ensure(ctx context.Context, modelID string) error {
	if modelID == "" {
		modelID = m.cfg.DefaultModel
		if modelID == "" {
			return ErrModelNotFound("(unspecified)")
		}
	}
	m.mu.RLock()
	loaded := m.state == StateReady && m.model.ID == modelID && m.handle != nil
	m.mu.RUnlock()
	if loaded {
		return nil
	}
	mdl, ok := registry.Find(m.ListModels(), modelID)
	if !ok {
		return ErrModelNotFound(modelID)
	}

	m.mu.Lock()
	m.state = StateLoading
	m.err = ""
	m.mu.Unlock()
	m.publish(EventLoadStart, mdl.ID, nil)
	start := time.Now()

	h, tok, err := m.open(ctx, mdl)
	if err != nil {
		m.mu.Lock()
		m.state = StateError
		m.err = err.Error()
		m.mu.Unlock()
		m.publish(EventLoadFailed, mdl.ID, map[string]any{"error": err.Error()})
		m.log.Error().Err(err).Str("model", mdl.ID).Msg("manager event=load_failed")
		return err
	}

	m.mu.Lock()
	prev := m.handle
	m.handle, m.tok, m.model = h, tok, mdl
	m.state = StateReady
	m.mu.Unlock()
	if prev != nil {
		if err := prev.Close(); err != nil {
			m.log.Warn().Err(err).Msg("close previous handle")
		}
	}
	m.publish(EventLoadDone, mdl.ID, map[string]any{"dur_ms": time.Since(start).Milliseconds()})
	m.log.Info().
		Str("model", mdl.ID).
		Str("format", mdl.Format).
		Int("replicas", h.NumReplicas()).
		Dur("dur", time.Since(start)).
		Msg("manager event=load_done")
	return nil
}

// Switch starts loading modelID in the background and returns an
// operation id. Progress is visible through Status.
func (m *Manager) Switch(modelID string) (string, error) {
	if modelID != "" {
		if _, ok := registry.Find(m.ListModels(), modelID); !ok {
			return "", ErrModelNotFound(modelID)
		}
	}
	op := uuid.NewString()
	go func() {
		_ = m.Ensure(context.Background(), modelID)
	}()
	return op, nil
}

// open builds the engine handle and the tokenizer for a model.
func (m *Manager) open(ctx context.Context, mdl types.Model) (*engine.Handle, tokenizer.Tokenizer, error) {
	cfg := m.cfg.Engine
	cfg.ModelPath = mdl.Path
	cfg.Backend = m.cfg.backendFor(mdl)
	cfg.DefaultEndToken = mdl.EOS

	var tok tokenizer.Tokenizer
	if mdl.Format == types.FormatDir {
		if cfg.DefaultEndToken == "" {
			eos, err := registry.DefaultEndToken(mdl.Path)
			if err != nil && !errors.Is(err, registry.ErrNoSidecar) {
				m.log.Warn().Err(err).Str("model", mdl.ID).Msg("no default end token")
			}
			cfg.DefaultEndToken = eos
		}
		t, err := tokenizer.Open(mdl.Path)
		if err != nil {
			m.log.Warn().Err(err).Str("model", mdl.ID).Msg("no tokenizer; prompts must be pre-tokenized")
		} else {
			tok = t
		}
	}
	h, err := engine.OpenContext(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return h, tok, nil
}

func (m *Manager) publish(name, model string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["model"] = model
	m.cfg.Publisher.Publish(engine.Event{Name: name, Fields: fields})
}
