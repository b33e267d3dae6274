// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/parse"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/pointcut"
)

//nolint:gochecknoglobals // Implementation of a CLI command
var commandValidate = cli.Command{
	Name:        "validate",
	Description: "Parse an extension document and print its directives",
	ArgsUsage:   "<file>",
	Before:      addLoggerPhaseAttribute,
	Action: func(_ context.Context, cmd *cli.Command) error {
		path := cmd.Args().First()
		if path == "" {
			return cli.Exit("missing extension file", exitCodeInvalid)
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			return ex.Wrapf(err, "failed to read %s", path)
		}
		doc, err := parse.Payload(payload)
		if err != nil {
			return cli.Exit(err.Error(), exitCodeInvalid)
		}
		src := pointcut.Source{Name: filepath.Base(path), Kind: pointcut.SourceDynamic}
		for _, d := range doc.Directives(src) {
			fmt.Fprintln(cmd.Root().Writer, d)
		}
		for _, w := range doc.Warnings {
			fmt.Fprintf(cmd.Root().Writer, "warning: %s\n", w)
		}
		for _, p := range doc.Problems {
			fmt.Fprintf(cmd.Root().Writer, "problem: %s\n", p)
		}
		if len(doc.Problems) > 0 {
			return cli.Exit(fmt.Sprintf("%d invalid pointcuts", len(doc.Problems)), exitCodeInvalid)
		}
		return nil
	},
}
