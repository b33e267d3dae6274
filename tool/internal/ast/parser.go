// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package ast

import (
	"bytes"
	"go/parser"
	"go/token"

	"github.com/dave/dst"
	"github.com/dave/dst/decorator"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
)

type AstParser struct {
	fset *token.FileSet
	dec  *decorator.Decorator
}

func NewAstParser() *AstParser {
	return &AstParser{
		fset: token.NewFileSet(),
	}
}

// ParseSource decodes a single Go source unit. The name only shows up in
// error messages and position information.
func (ap *AstParser) ParseSource(name string, src []byte) (*dst.File, error) {
	astFile, err := parser.ParseFile(ap.fset, name, src, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		return nil, ex.Wrapf(err, "failed to parse %s", name)
	}
	ap.dec = decorator.NewDecorator(ap.fset)
	dstFile, err := ap.dec.DecorateFile(astFile)
	if err != nil {
		return nil, ex.Wrapf(err, "failed to decorate %s", name)
	}
	return dstFile, nil
}

// Print renders the file back to Go source.
func Print(root *dst.File) ([]byte, error) {
	var buf bytes.Buffer
	restorer := decorator.NewRestorer()
	if err := restorer.Fprint(&buf, root); err != nil {
		return nil, ex.Wrapf(err, "failed to print %s", root.Name.Name)
	}
	return buf.Bytes(), nil
}
