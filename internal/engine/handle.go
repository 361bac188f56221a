package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"batchgen/pkg/types"
)

// Handle is a model replicated across worker goroutines. It is safe for
// concurrent use. Close must not be called while calls are in flight on
// other goroutines that still need results.
type Handle struct {
	id       string
	cfg      Config
	backend  Backend
	replicas []Replica
	pool     *pool
	metrics  *metrics
	log      zerolog.Logger

	workers         sync.WaitGroup
	batchesTotal    atomic.Uint64
	overloadedTotal atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// Open loads num_replicas = len(DeviceIndices) * InterThreads replicas and
// starts one worker per replica.
func Open(cfg Config) (*Handle, error) {
	return OpenContext(context.Background(), cfg)
}

// OpenContext is Open with a context bounding replica loading.
func OpenContext(ctx context.Context, cfg Config) (*Handle, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	be := cfg.Backend
	if be == nil {
		be = NewHashBackend()
		cfg.Backend = be
	}
	n := be.DeviceCount(cfg.Device)
	for _, idx := range cfg.DeviceIndices {
		if idx < 0 || idx >= n {
			return nil, newError(KindDevice, "open", "%s:%d unavailable, %d device(s) of that kind", cfg.Device, idx, n)
		}
	}
	if !be.SupportsComputeType(cfg.Device, cfg.ComputeType) {
		return nil, newError(KindLoad, "open", "compute type %s is not supported on %s by %s", cfg.ComputeType, cfg.Device, be.Name())
	}
	id := uuid.NewString()
	m, err := newMetrics(cfg.Registerer, id, be)
	if err != nil {
		return nil, wrapError(KindConfiguration, "open", err)
	}
	h := &Handle{
		id:      id,
		cfg:     cfg,
		backend: be,
		metrics: m,
		log:     cfg.Logger.With().Str("component", "engine").Str("handle", id).Logger(),
	}
	for _, idx := range cfg.DeviceIndices {
		for k := 0; k < cfg.InterThreads; k++ {
			rep, err := be.Load(ctx, LoadSpec{
				ModelPath:   cfg.ModelPath,
				Device:      cfg.Device,
				DeviceIndex: idx,
				ComputeType: cfg.ComputeType,
				Threads:     cfg.IntraThreads,
			})
			if err != nil {
				for _, r := range h.replicas {
					_ = r.Close()
				}
				m.unregister()
				return nil, wrapError(KindLoad, "open", err)
			}
			h.replicas = append(h.replicas, rep)
		}
	}
	h.pool = newPool(len(h.replicas), cfg.MaxQueuedBatches, m)
	for _, rep := range h.replicas {
		h.workers.Add(1)
		go h.worker(rep)
	}
	h.publish(EventOpen, map[string]any{
		"model":    cfg.ModelPath,
		"backend":  be.Name(),
		"device":   cfg.Device,
		"replicas": len(h.replicas),
	})
	h.log.Info().
		Str("model", cfg.ModelPath).
		Str("backend", be.Name()).
		Str("device", cfg.Device).
		Ints("indices", cfg.DeviceIndices).
		Str("compute_type", cfg.ComputeType).
		Int("replicas", len(h.replicas)).
		Msg("engine event=open")
	return h, nil
}

func (h *Handle) worker(rep Replica) {
	defer h.workers.Done()
	for {
		t := h.pool.next()
		if t == nil {
			return
		}
		h.run(rep, t)
		h.pool.done()
	}
}

// Close stops admission, lets queued and active jobs finish and releases
// the replicas. Later calls fail with KindClosed.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.pool.close()
		h.workers.Wait()
		var errs []error
		for _, r := range h.replicas {
			errs = append(errs, r.Close())
		}
		h.closeErr = errors.Join(errs...)
		h.metrics.unregister()
		h.publish(EventClose, nil)
		h.log.Info().Msg("engine event=close")
	})
	return h.closeErr
}

func (h *Handle) publish(name string, fields map[string]any) {
	h.cfg.Publisher.Publish(Event{Name: name, Handle: h.id, Fields: fields})
}

// ID identifies the handle in published events and metric labels.
func (h *Handle) ID() string { return h.id }

// Backend names the backend serving the replicas.
func (h *Handle) Backend() string { return h.backend.Name() }

// Device returns the configured device, such as "cpu".
func (h *Handle) Device() string { return h.cfg.Device }

// ComputeType returns the compute type the replicas were loaded with.
func (h *Handle) ComputeType() string { return h.cfg.ComputeType }

// NumReplicas is the number of loaded replicas.
func (h *Handle) NumReplicas() int { return len(h.replicas) }

// MaxQueuedBatches returns the queue bound; negative means unbounded.
func (h *Handle) MaxQueuedBatches() int { return h.cfg.MaxQueuedBatches }

// DeviceIndices returns a copy of the device indices.
func (h *Handle) DeviceIndices() []int {
	return append([]int(nil), h.cfg.DeviceIndices...)
}

// NumQueuedBatches is an advisory snapshot of jobs waiting for a replica.
func (h *Handle) NumQueuedBatches() int {
	q, _ := h.pool.counts()
	return q
}

// NumActiveBatches is an advisory snapshot of jobs decoding on a replica.
func (h *Handle) NumActiveBatches() int {
	_, a := h.pool.counts()
	return a
}

// Status reports the handle's configuration and counters.
func (h *Handle) Status() types.EngineStatus {
	q, a := h.pool.counts()
	return types.EngineStatus{
		ID:               h.id,
		Backend:          h.backend.Name(),
		Device:           h.cfg.Device,
		DeviceIndices:    h.DeviceIndices(),
		ComputeType:      h.cfg.ComputeType,
		NumReplicas:      len(h.replicas),
		QueuedBatches:    q,
		ActiveBatches:    a,
		MaxQueuedBatches: h.cfg.MaxQueuedBatches,
		BatchesTotal:     h.batchesTotal.Load(),
		OverloadedTotal:  h.overloadedTotal.Load(),
		Closed:           h.pool.isClosed(),
	}
}
