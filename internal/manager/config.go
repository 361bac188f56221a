package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"batchgen/internal/decoding"
	"batchgen/internal/engine"
	"batchgen/pkg/types"
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Registry     []types.Model
	DefaultModel string
	// Engine is the template for every handle the manager opens. ModelPath,
	// Backend and DefaultEndToken are filled per model.
	Engine engine.Config
	// Decoding is the base the request options are merged over.
	Decoding     decoding.Options
	MaxBatchSize int
	BatchType    engine.BatchType
	// Backends maps a model format to the backend serving it. Missing
	// entries fall back to hashlm for directories and llama for gguf files.
	Backends   map[string]engine.Backend
	Logger     *zerolog.Logger
	Publisher  engine.EventPublisher
	Registerer prometheus.Registerer
}

// NewWithConfig constructs a Manager. No model is loaded until Ensure or
// Switch is called.
func NewWithConfig(cfg ManagerConfig) *Manager {
	if cfg.Engine.InterThreads == 0 {
		cfg.Engine.InterThreads = 1
	}
	if cfg.Decoding.BeamSize == 0 {
		cfg.Decoding = decoding.Defaults()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = nopPublisher{}
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	cfg.Engine.Logger = &log
	cfg.Engine.Publisher = cfg.Publisher
	cfg.Engine.Registerer = cfg.Registerer
	return &Manager{
		cfg:       cfg,
		state:     StateIdle,
		registry:  append([]types.Model(nil), cfg.Registry...),
		log:       log.With().Str("component", "manager").Logger(),
		startTime: timeNow(),
	}
}

func (cfg *ManagerConfig) backendFor(mdl types.Model) engine.Backend {
	if be, ok := cfg.Backends[mdl.Format]; ok && be != nil {
		return be
	}
	if mdl.Format == types.FormatGGUF {
		return &engine.LlamaBackend{}
	}
	return engine.NewHashBackend()
}

type nopPublisher struct{}

func (nopPublisher) Publish(engine.Event) {}
