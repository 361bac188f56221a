package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"batchgen/internal/decoding"
)

// Config holds runtime parameters for the service and the CLI.
// Zero values mean "unspecified"; ApplyDefaults fills them in.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	Model     string `json:"model" yaml:"model" toml:"model"`

	Device        string `json:"device" yaml:"device" toml:"device"`
	DeviceIndices []int  `json:"device_indices" yaml:"device_indices" toml:"device_indices"`
	ComputeType   string `json:"compute_type" yaml:"compute_type" toml:"compute_type"`
	InterThreads  int    `json:"inter_threads" yaml:"inter_threads" toml:"inter_threads"`
	IntraThreads  int    `json:"intra_threads" yaml:"intra_threads" toml:"intra_threads"`
	// MaxQueuedBatches is a pointer so that an explicit 0 survives defaults.
	MaxQueuedBatches *int   `json:"max_queued_batches" yaml:"max_queued_batches" toml:"max_queued_batches"`
	MaxBatchSize     int    `json:"max_batch_size" yaml:"max_batch_size" toml:"max_batch_size"`
	BatchType        string `json:"batch_type" yaml:"batch_type" toml:"batch_type"`

	LogLevel        string `json:"log_level" yaml:"log_level" toml:"log_level"`
	MaxBodyBytes    int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	GenerateTimeout string `json:"generate_timeout" yaml:"generate_timeout" toml:"generate_timeout"`
	CORS            CORS   `json:"cors" yaml:"cors" toml:"cors"`

	// Decoding is the base for every request's decoding options. Fields left
	// out of the file keep their defaults.
	Decoding decoding.Options `json:"decoding" yaml:"decoding" toml:"decoding"`
}

// CORS configures cross-origin access to the HTTP API.
type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultAddr      = ":8080"
	DefaultModelsDir = "~/models/batchgen"
	DefaultDevice    = "cpu"
	DefaultLogLevel  = "info"
)

// Default returns a config with every default applied.
func Default() Config {
	var c Config
	c.Decoding = decoding.Defaults()
	c.ApplyDefaults()
	return c
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	cfg.Decoding = decoding.Defaults()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ApplyDefaults fills unspecified fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.InterThreads <= 0 {
		c.InterThreads = 1
	}
	if c.MaxQueuedBatches == nil {
		unbounded := -1
		c.MaxQueuedBatches = &unbounded
	}
	if c.BatchType == "" {
		c.BatchType = "examples"
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.CORS.Enabled {
		if len(c.CORS.Methods) == 0 {
			c.CORS.Methods = []string{"GET", "POST", "OPTIONS"}
		}
		if len(c.CORS.Headers) == 0 {
			c.CORS.Headers = []string{"Content-Type", "X-Log-Level"}
		}
		if len(c.CORS.Origins) == 0 {
			c.CORS.Origins = []string{"*"}
		}
	}
	if c.Decoding.BeamSize == 0 {
		c.Decoding = decoding.Defaults()
	}
}

// Queued returns the MaxQueuedBatches value, -1 when unset.
func (c Config) Queued() int {
	if c.MaxQueuedBatches == nil {
		return -1
	}
	return *c.MaxQueuedBatches
}
