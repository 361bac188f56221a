package engine

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Device kinds.
const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

// ComputeTypes lists the accepted precision names.
var ComputeTypes = []string{"default", "auto", "float32", "int8", "int8_float16", "int16", "float16"}

// Config opens a Handle.
type Config struct {
	ModelPath string
	// Device is cpu or cuda; empty means cpu.
	Device string
	// DeviceIndices defaults to [0].
	DeviceIndices []int
	// ComputeType defaults to "default". ComputeTypeByDevice overrides it
	// for a device kind.
	ComputeType         string
	ComputeTypeByDevice map[string]string
	// InterThreads is the number of replicas per device index.
	InterThreads int
	// IntraThreads is the thread count of each replica; 0 means automatic.
	IntraThreads int
	// MaxQueuedBatches bounds queued jobs beyond idle replicas. Negative is
	// unbounded; 0 rejects calls once every replica is busy.
	MaxQueuedBatches int
	// Backend defaults to the hashlm backend.
	Backend Backend
	// DefaultEndToken is passed to replicas when the options leave the end
	// token empty.
	DefaultEndToken string
	Logger          *zerolog.Logger
	Publisher       EventPublisher
	// Registerer receives the handle's metrics; nil disables them.
	Registerer prometheus.Registerer
}

func (c *Config) normalize() error {
	c.Device = strings.ToLower(strings.TrimSpace(c.Device))
	if c.Device == "" {
		c.Device = DeviceCPU
	}
	if c.Device != DeviceCPU && c.Device != DeviceCUDA {
		return newError(KindDevice, "open", "unknown device %q", c.Device)
	}
	if len(c.DeviceIndices) == 0 {
		c.DeviceIndices = []int{0}
	}
	seen := make(map[int]bool, len(c.DeviceIndices))
	for _, idx := range c.DeviceIndices {
		if seen[idx] {
			return newError(KindConfiguration, "open", "device index %d listed twice", idx)
		}
		seen[idx] = true
	}
	if c.InterThreads <= 0 {
		return newError(KindConfiguration, "open", "inter_threads must be positive, got %d", c.InterThreads)
	}
	if c.IntraThreads < 0 {
		return newError(KindConfiguration, "open", "intra_threads must be >= 0, got %d", c.IntraThreads)
	}
	ct := c.ComputeType
	if v, ok := c.ComputeTypeByDevice[c.Device]; ok {
		ct = v
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "" {
		ct = "default"
	}
	if !validComputeType(ct) {
		return newError(KindConfiguration, "open", "unknown compute type %q", ct)
	}
	c.ComputeType = ct
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return nil
}

func validComputeType(ct string) bool {
	for _, v := range ComputeTypes {
		if v == ct {
			return true
		}
	}
	return false
}
