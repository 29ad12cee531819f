// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/StagOS/android-system-apex/internal/activation"
	"github.com/StagOS/android-system-apex/internal/api"
	"github.com/StagOS/android-system-apex/internal/api/middleware"
	"github.com/StagOS/android-system-apex/internal/apex"
	"github.com/StagOS/android-system-apex/internal/config"
	"github.com/StagOS/android-system-apex/internal/hooks"
	apexlog "github.com/StagOS/android-system-apex/internal/log"
	"github.com/StagOS/android-system-apex/internal/registry"
	"github.com/StagOS/android-system-apex/internal/server"
	"github.com/StagOS/android-system-apex/internal/session/model"
	"github.com/StagOS/android-system-apex/internal/session/store"
	"github.com/StagOS/android-system-apex/internal/telemetry"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until config is loaded.
	apexlog.Configure(apexlog.Config{
		Level:   "info",
		Service: "apexd",
		Version: version,
	})
	logger := apexlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	apexlog.Configure(apexlog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: version,
	})

	if err := run(ctx, cfg, *configPath, logger); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, configPath string, logger zerolog.Logger) error {
	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    cfg.LogService,
		ServiceVersion: version,
		Endpoint:       cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSampling,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	st, err := store.New(store.Options{Backend: cfg.SessionsBackend, Dir: cfg.SessionsDir()})
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn().Err(err).Msg("session store close")
		}
	}()

	reg, err := registry.New(cfg.ApexRoot)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	if err := reg.Restore(ctx); err != nil {
		return fmt.Errorf("restore active packages: %w", err)
	}

	verifier := apex.FileVerifier{}
	svc, err := server.New(server.Options{
		Store:       st,
		Registry:    reg,
		Verifier:    verifier,
		Mounter:     activation.DirMounter{},
		Classifier:  activation.DefaultClassifier,
		Hooks:       hooks.New(verifier, cfg.HookTimeout),
		PackagesDir: cfg.PackagesDir(),
	})
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	logStartupState(ctx, st, reg, logger)

	srv := api.New(api.Options{
		Addr:    cfg.ListenAddr,
		Service: svc,
		Logger:  apexlog.WithComponent("http"),
		Stack: middleware.StackConfig{
			EnableMetrics:    true,
			EnableLogging:    true,
			TracingService:   tracingService(cfg),
			RateLimitEnabled: cfg.RateLimitEnabled,
			RateLimitRPM:     cfg.RateLimitRPM,
		},
	})

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, func(next config.Config) {
				logger.Info().Msg("config file changed, restart to apply")
			})
			if err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("config watch stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func tracingService(cfg config.Config) string {
	if !cfg.TracingEnabled {
		return ""
	}
	return cfg.LogService
}

// logStartupState reports what survived the restart: active packages and
// session counts per state.
func logStartupState(ctx context.Context, st store.Store, reg *registry.Registry, logger zerolog.Logger) {
	counts := map[model.State]int{}
	sessions, err := st.List(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("list sessions at startup")
	}
	for _, s := range sessions {
		counts[s.State]++
	}
	ev := logger.Info().Int("active_packages", len(reg.List()))
	for state, n := range counts {
		ev = ev.Int("sessions_"+string(state), n)
	}
	ev.Msg("state restored")
}
