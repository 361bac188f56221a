package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Job outcomes recorded in batchgen_engine_batches_total.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)

type metrics struct {
	reg        prometheus.Registerer
	collectors []prometheus.Collector

	queued     prometheus.Gauge
	active     prometheus.Gauge
	batches    *prometheus.CounterVec
	overloaded prometheus.Counter
	steps      prometheus.Counter
	dropped    prometheus.Counter
	duration   prometheus.Histogram
}

// newMetrics builds the handle's collectors and registers them on reg with
// a handle label. A nil reg keeps them unregistered.
func newMetrics(reg prometheus.Registerer, handleID string, be Backend) (*metrics, error) {
	m := &metrics{
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "batchgen_engine_queued_batches",
			Help: "Jobs admitted and waiting for a replica.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "batchgen_engine_active_batches",
			Help: "Jobs currently decoding on a replica.",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batchgen_engine_batches_total",
			Help: "Jobs finished, by outcome.",
		}, []string{"outcome"}),
		overloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batchgen_engine_overloaded_total",
			Help: "Generation calls rejected by admission.",
		}),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batchgen_engine_steps_total",
			Help: "Step events delivered to callbacks.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batchgen_engine_dropped_events_total",
			Help: "Step events dropped by non-blocking channel callbacks.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "batchgen_engine_job_duration_seconds",
			Help:    "Time a job spends on a replica.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
	m.collectors = []prometheus.Collector{m.queued, m.active, m.batches, m.overloaded, m.steps, m.dropped, m.duration}
	if cs, ok := be.(cacheStatser); ok {
		m.collectors = append(m.collectors,
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "batchgen_engine_prompt_cache_hits_total",
				Help: "Static prompt cache hits.",
			}, func() float64 { h, _ := cs.CacheStats(); return float64(h) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "batchgen_engine_prompt_cache_misses_total",
				Help: "Static prompt cache misses.",
			}, func() float64 { _, mi := cs.CacheStats(); return float64(mi) }),
		)
	}
	if reg == nil {
		return m, nil
	}
	m.reg = prometheus.WrapRegistererWith(prometheus.Labels{"handle": handleID}, reg)
	for i, c := range m.collectors {
		if err := m.reg.Register(c); err != nil {
			for _, done := range m.collectors[:i] {
				m.reg.Unregister(done)
			}
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) unregister() {
	if m.reg == nil {
		return
	}
	for _, c := range m.collectors {
		m.reg.Unregister(c)
	}
}
