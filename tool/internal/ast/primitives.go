// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package ast

import (
	"go/token"
	"strconv"

	"github.com/dave/dst"
)

const (
	IdentNil    = "nil"
	IdentIgnore = "_"
)

func Ident(name string) *dst.Ident {
	return &dst.Ident{
		Name: name,
	}
}

func StringLit(value string) *dst.BasicLit {
	return &dst.BasicLit{
		Kind:  token.STRING,
		Value: strconv.Quote(value),
	}
}

func CallTo(name string, args ...dst.Expr) *dst.CallExpr {
	return &dst.CallExpr{
		Fun:  Ident(name),
		Args: args,
	}
}

// DeferCallResult builds "defer call()", the call result is itself invoked on exit.
func DeferCallResult(call *dst.CallExpr) *dst.DeferStmt {
	return &dst.DeferStmt{Call: &dst.CallExpr{Fun: call}}
}

func StringLitValue(expr dst.Expr) (string, bool) {
	lit, ok := expr.(*dst.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", false
	}
	str, err := strconv.Unquote(lit.Value)
	if err != nil {
		return "", false
	}
	return str, true
}
