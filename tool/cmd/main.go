// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/agent"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/util"
)

const (
	exitCodeFailure = 1
	exitCodeInvalid = 2
)

func initLogger(writer io.Writer, level string) *slog.Logger {
	// Create a custom handler with shorter time format
	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: util.ParseLogLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("06/1/2 15:04:05"))
				}
			}
			return a
		},
	})
	return slog.New(handler)
}

func addLoggerPhaseAttribute(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	logger := util.LoggerFromContext(ctx).With("phase", cmd.Name)
	return util.ContextWithLogger(ctx, logger), nil
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "otel-live",
		Usage: "Weave tracing into running code from declarative pointcuts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars(agent.EnvLogLevel),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logger := initLogger(cmd.Root().ErrWriter, cmd.String("log-level"))
			slog.SetDefault(logger)
			return util.ContextWithLogger(ctx, logger), nil
		},
		Commands: []*cli.Command{
			&commandServe,
			&commandValidate,
			&commandVersion,
		},
	}
}

func main() {
	app := newApp()
	app.ErrWriter = os.Stderr
	if err := app.Run(context.Background(), os.Args); err != nil {
		ex.Fatal(err)
	}
}
