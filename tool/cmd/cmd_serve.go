// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/agent"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/tracer"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/util"
)

const shutdownTimeout = 5 * time.Second

//nolint:gochecknoglobals // Implementation of a CLI command
var commandServe = cli.Command{
	Name:        "serve",
	Description: "Load classes into the runtime and accept directives until interrupted",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to the agent configuration file",
		},
		&cli.StringSliceFlag{
			Name:  "classes",
			Usage: "Directories whose Go sources are loaded into the runtime",
		},
		&cli.StringSliceFlag{
			Name:  "classpath",
			Usage: "Directories of classes known but not loaded yet",
		},
		&cli.StringFlag{
			Name:  "listen",
			Usage: "Address of the admin HTTP server",
		},
		&cli.StringFlag{
			Name:  "extensions",
			Usage: "Directory of extension documents to watch",
		},
		&cli.StringFlag{
			Name:  "exporter",
			Usage: "Telemetry exporter (stdout, none)",
		},
	},
	Before: addLoggerPhaseAttribute,
	Action: func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := agent.LoadConfig(cmd.String("config"))
		if err != nil {
			return ex.Wrapf(err, "failed to load config with exit code %d", exitCodeFailure)
		}
		applyFlags(cfg, cmd)
		ctx = configureLogger(ctx, cmd, cfg)
		return serve(ctx, cfg, cmd.StringSlice("classes"))
	},
}

// configureLogger applies the configured log level unless the command line
// or the environment already chose one.
func configureLogger(ctx context.Context, cmd *cli.Command, cfg *agent.Config) context.Context {
	if cmd.Root().IsSet("log-level") || cfg.LogLevel == "" {
		return ctx
	}
	logger := initLogger(cmd.Root().ErrWriter, cfg.LogLevel).With("phase", cmd.Name)
	slog.SetDefault(logger)
	return util.ContextWithLogger(ctx, logger)
}

func applyFlags(cfg *agent.Config, cmd *cli.Command) {
	if cmd.IsSet("listen") {
		cfg.Listen = cmd.String("listen")
	}
	if cmd.IsSet("extensions") {
		cfg.ExtensionsDir = cmd.String("extensions")
	}
	if cmd.IsSet("exporter") {
		cfg.Exporter = cmd.String("exporter")
	}
	cfg.ClassDirs = append(cfg.ClassDirs, cmd.StringSlice("classpath")...)
}

// loadClasses defines every Go source found under dirs. A file that cannot
// be defined is skipped.
func loadClasses(ctx context.Context, a *agent.Agent, dirs []string) error {
	logger := util.LoggerFromContext(ctx)
	for _, dir := range dirs {
		files, err := util.ListFiles(dir, util.IsGoFile)
		if err != nil {
			return err
		}
		for _, file := range files {
			src, err1 := os.ReadFile(file)
			if err1 != nil {
				return ex.Wrapf(err1, "failed to read %s", file)
			}
			if _, err1 = a.Define(ctx, src); err1 != nil {
				logger.Warn("Skipped source", "file", file, "error", err1)
			}
		}
	}
	return nil
}

func serve(ctx context.Context, cfg *agent.Config, classes []string) error {
	logger := util.LoggerFromContext(ctx)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := tracer.Setup(ctx, tracer.SetupConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: Version,
		Exporter:       cfg.Exporter,
		Writer:         os.Stdout,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err1 := providers.Shutdown(shutdownCtx); err1 != nil {
			logger.Error("Failed to flush telemetry", "error", err1)
		}
	}()

	// Classes loaded below are known before the static sources are checked
	cfg.ClassDirs = append(cfg.ClassDirs, classes...)
	a, err := agent.New(cfg, providers)
	if err != nil {
		return err
	}
	if err = a.Start(ctx); err != nil {
		return err
	}
	if err = loadClasses(ctx, a, classes); err != nil {
		return err
	}
	logger.Info("Runtime ready", "classes", len(a.Runtime().LoadedClasses()))

	if cfg.ExtensionsDir != "" {
		w, err1 := agent.NewWatcher(a, cfg.ExtensionsDir, cfg.Debounce)
		if err1 != nil {
			return err1
		}
		w.Start(ctx)
		defer w.Stop()
	}

	srv := agent.NewServer(cfg.Listen, a, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	logger.Info("Admin server listening", "addr", cfg.Listen)

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
