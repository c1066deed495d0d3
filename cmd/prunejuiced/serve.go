package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"prunejuice/internal/auth"
	"prunejuice/internal/config"
	"prunejuice/internal/engine"
	"prunejuice/internal/engine/diffusers"
	"prunejuice/internal/events"
	"prunejuice/internal/httpapi"
	"prunejuice/internal/manager"
	"prunejuice/internal/presets"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the generation API server",
		Long: "Start the HTTP API. A fresh bridge token is written to <token-dir>/" + auth.TokenFile +
			" on every start; send SIGHUP to rotate it.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), o.cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.flags.Addr, "addr", config.DefaultAddr, "HTTP listen address")
	f.StringVar(&o.flags.OutputDir, "output-dir", config.DefaultOutputDir, "Directory generated images are written to")
	f.StringVar(&o.flags.DefaultModel, "default-model", config.DefaultModel, "Model loaded when a request names none")
	f.StringVar(&o.flags.EngineURL, "engine-url", "", "Base URL of the diffusers worker, e.g. http://127.0.0.1:7861")
	f.IntVar(&o.flags.EngineTimeoutSeconds, "engine-timeout", config.DefaultEngineTimeoutSeconds, "Timeout in seconds for worker control calls (not loads or generations)")
	f.Float64Var(&o.flags.VRAMLimitGB, "vram-limit-gb", config.DefaultVRAMLimitGB, "Allocated device memory above which cached memory is released after a run")
	f.StringVar(&o.flags.TokenDir, "token-dir", ".", "Directory the bridge token file is written to")
	f.StringVar(&o.flags.PresetsFile, "presets-file", "", "YAML file with extra or replacement style presets")
	f.StringSliceVar(&o.flags.CORSOrigins, "cors-origins", nil, "Allowed CORS origins; empty disables CORS")
	f.Int64Var(&o.flags.MaxBodyBytes, "max-body-bytes", config.DefaultMaxBodyBytes, "Maximum JSON request body size")
	return cmd
}

// newRuntime selects the engine: the diffusers worker when a URL is
// configured, otherwise a runtime that fails every load.
func newRuntime(cfg config.Config) (engine.Runtime, error) {
	if cfg.EngineURL == "" {
		log.Warn().Msg("no engine_url configured; generation requests will fail until one is set")
		return engine.Unavailable{Reason: "no engine_url configured"}, nil
	}
	c, err := diffusers.New(diffusers.Options{
		BaseURL:        cfg.EngineURL,
		APIKey:         cfg.EngineAPIKey,
		RequestTimeout: time.Duration(cfg.EngineTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// originChecker allows websocket upgrades from the configured CORS origins
// and from clients that send no Origin (the companion process). Nil when no
// origins are configured.
func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed["*"] || allowed[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}

	styles := presets.Builtin()
	if cfg.PresetsFile != "" {
		if styles, err = presets.LoadFile(cfg.PresetsFile); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	gate, err := auth.Issue(cfg.TokenDir)
	if err != nil {
		return err
	}

	hub := events.NewHub(originChecker(cfg.CORSOrigins))
	defer hub.Close()

	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Runtime:        rt,
		VRAMLimitBytes: cfg.VRAMLimitBytes(),
		DefaultModel:   cfg.DefaultModel,
		ModelsDir:      cfg.ModelsDir,
		OutputDir:      cfg.OutputDir,
		Publisher:      hub,
	})

	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(len(cfg.CORSOrigins) > 0, cfg.CORSOrigins, nil, nil)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	httpapi.SetBaseContext(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr, httpapi.Options{Gate: gate, Styles: styles, Events: hub}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go rotateOnHangup(ctx, gate)

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("models_dir", cfg.ModelsDir).
			Str("output_dir", cfg.OutputDir).
			Str("default_model", cfg.DefaultModel).
			Str("token_file", gate.Path()).
			Msg("prunejuiced listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
	if err := mgr.Unload(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("unload on shutdown")
	}
	return nil
}

// rotateOnHangup issues a new bridge token on every SIGHUP until ctx ends.
func rotateOnHangup(ctx context.Context, gate *auth.Gate) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := gate.Rotate(); err != nil {
				log.Error().Err(err).Msg("rotate bridge token")
			}
		}
	}
}
