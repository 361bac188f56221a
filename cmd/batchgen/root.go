package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"batchgen/internal/config"
	"batchgen/internal/engine"
	"batchgen/internal/manager"
	"batchgen/internal/registry"
)

// app carries the resolved configuration into every subcommand.
type app struct {
	configPath string
	cfg        config.Config
	log        zerolog.Logger
}

// flag values before they are merged into cfg
type flagValues struct {
	logLevel, modelsDir, model, device, deviceIndex, computeType, batchType string
	interThreads, intraThreads, maxQueued, maxBatchSize                     int
}

func newRootCmd() *cobra.Command { return newRootCmdWith(&app{cfg: config.Default()}) }

// newRootCmdWith builds the command tree around a, which receives the
// merged configuration before any subcommand runs.
func newRootCmdWith(a *app) *cobra.Command {
	var fv flagValues

	root := &cobra.Command{
		Use:           "batchgen",
		Short:         "Batched token generation over a pool of model replicas",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", os.Getenv("BATCHGEN_CONFIG"), "Config file (.yaml, .json or .toml)")
	pf.StringVar(&fv.logLevel, "log-level", config.DefaultLogLevel, "Log level: debug|info|warn|error")
	pf.StringVar(&fv.modelsDir, "models-dir", config.DefaultModelsDir, "Directory scanned for models")
	pf.StringVar(&fv.model, "model", "", "Model id; empty picks the only or first model")
	pf.StringVar(&fv.device, "device", config.DefaultDevice, "Device: cpu|cuda")
	pf.StringVar(&fv.deviceIndex, "device-index", "", "Comma separated device indices")
	pf.StringVar(&fv.computeType, "compute-type", "", "Compute type, e.g. default|float32|int8")
	pf.IntVar(&fv.interThreads, "inter-threads", 1, "Replicas per device index")
	pf.IntVar(&fv.intraThreads, "intra-threads", 0, "Threads per replica (0 = automatic)")
	pf.IntVar(&fv.maxQueued, "max-queued-batches", -1, "Queued calls allowed beyond idle replicas (-1 = unbounded)")
	pf.IntVar(&fv.maxBatchSize, "max-batch-size", 0, "Sub-batch bound (0 = whole batch)")
	pf.StringVar(&fv.batchType, "batch-type", "examples", "Unit of max-batch-size: examples|tokens")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if a.configPath != "" {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
		}
		if err := fv.apply(cmd, &a.cfg); err != nil {
			return err
		}
		a.cfg.ApplyDefaults()
		a.log = newLogger(cmd.ErrOrStderr(), a.cfg.LogLevel)
		return nil
	}

	root.AddCommand(
		newServeCmd(a),
		newGenerateCmd(a),
		newBatchCmd(a),
		newStatusCmd(a),
		newInitModelCmd(a),
	)
	return root
}

// apply copies the flags the user set over cfg, so that explicit flags win
// over the config file and unset flags keep its values.
func (fv *flagValues) apply(cmd *cobra.Command, cfg *config.Config) error {
	set := cmd.Flags().Changed
	if set("log-level") {
		cfg.LogLevel = fv.logLevel
	}
	if set("models-dir") {
		cfg.ModelsDir = fv.modelsDir
	}
	if set("model") {
		cfg.Model = fv.model
	}
	if set("device") {
		cfg.Device = fv.device
	}
	if set("device-index") {
		idx, err := parseInts(fv.deviceIndex)
		if err != nil {
			return fmt.Errorf("--device-index: %w", err)
		}
		cfg.DeviceIndices = idx
	}
	if set("compute-type") {
		cfg.ComputeType = fv.computeType
	}
	if set("inter-threads") {
		cfg.InterThreads = fv.interThreads
	}
	if set("intra-threads") {
		cfg.IntraThreads = fv.intraThreads
	}
	if set("max-queued-batches") {
		n := fv.maxQueued
		cfg.MaxQueuedBatches = &n
	}
	if set("max-batch-size") {
		cfg.MaxBatchSize = fv.maxBatchSize
	}
	if set("batch-type") {
		cfg.BatchType = fv.batchType
	}
	return nil
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(lvl).With().Timestamp().Logger()
}

// newManager builds a manager over the configured models directory and loads
// the configured model.
func (a *app) newManager(ctx context.Context, pub engine.EventPublisher, reg prometheus.Registerer) (*manager.Manager, error) {
	models, err := registry.LoadDir(a.cfg.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("load models: %w", err)
	}
	bt, err := engine.ParseBatchType(a.cfg.BatchType)
	if err != nil {
		return nil, err
	}
	def := a.cfg.Model
	if def == "" && len(models) > 0 {
		def = models[0].ID
	}
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Registry:     models,
		DefaultModel: def,
		Engine: engine.Config{
			Device:           a.cfg.Device,
			DeviceIndices:    a.cfg.DeviceIndices,
			ComputeType:      a.cfg.ComputeType,
			InterThreads:     a.cfg.InterThreads,
			IntraThreads:     a.cfg.IntraThreads,
			MaxQueuedBatches: a.cfg.Queued(),
		},
		Decoding:     a.cfg.Decoding,
		MaxBatchSize: a.cfg.MaxBatchSize,
		BatchType:    bt,
		Logger:       &a.log,
		Publisher:    pub,
		Registerer:   reg,
	})
	if err := mgr.Ensure(ctx, ""); err != nil {
		return mgr, err
	}
	return mgr, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInts(s string) ([]int, error) {
	parts := splitCSV(s)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
