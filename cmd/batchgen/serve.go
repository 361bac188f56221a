package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"batchgen/internal/engine"
	"batchgen/internal/httpapi"
)

// logPublisher writes handle and manager events to the service log.
type logPublisher struct{ log zerolog.Logger }

func (p logPublisher) Publish(e engine.Event) {
	ev := p.log.Debug()
	if e.Name == engine.EventJobFailed || e.Name == "load_failed" {
		ev = p.log.Warn()
	}
	ev.Str("event", e.Name).Str("handle", e.Handle).Fields(e.Fields).Msg("engine event")
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Addr = addr
			}
			if err := configureHTTP(a); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			httpapi.SetBaseContext(ctx)

			mgr, err := a.newManager(ctx, logPublisher{log: a.log}, prometheus.DefaultRegisterer)
			if mgr == nil {
				return err
			}
			if err != nil {
				// The service still starts; /readyz reports the failure.
				a.log.Error().Err(err).Msg("initial model load failed")
			}
			defer mgr.Close()

			srv := &http.Server{
				Addr:              a.cfg.Addr,
				Handler:           httpapi.NewMux(mgr),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				a.log.Info().Str("addr", a.cfg.Addr).Str("models_dir", a.cfg.ModelsDir).Msg("batchgen listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			a.log.Info().Msg("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				a.log.Warn().Err(err).Msg("graceful shutdown error")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	return cmd
}

// configureHTTP pushes the HTTP related config into the httpapi package.
func configureHTTP(a *app) error {
	httpapi.SetLogger(a.log)
	httpapi.SetDefaultLogLevel(a.cfg.LogLevel)
	if a.cfg.MaxBodyBytes > 0 {
		httpapi.SetMaxBodyBytes(a.cfg.MaxBodyBytes)
	}
	if a.cfg.GenerateTimeout != "" {
		d, err := time.ParseDuration(a.cfg.GenerateTimeout)
		if err != nil {
			return err
		}
		httpapi.SetGenerateTimeout(d)
	}
	c := a.cfg.CORS
	httpapi.SetCORSOptions(c.Enabled, c.Origins, c.Methods, c.Headers)
	return nil
}
