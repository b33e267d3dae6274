// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"slices"
	"strings"

	"github.com/dave/dst"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/ast"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/catalog"
)

const (
	// TracerFunc is the tracer entry point every woven method calls on entry.
	TracerFunc = "__otel_trace"
	traceLabel = "/* __OTEL_TRACE__ */"
)

// Point is a single weave request: the tracer entry point labelled ID goes
// into Method.
type Point struct {
	Method catalog.MethodDescriptor
	ID     string
}

// Site identifies a method inside a source unit.
type Site struct {
	Class     string
	Signature string
}

// Weaver injects tracer entry points into class source.
type Weaver interface {
	// Inject weaves every point into the method of class it names and returns
	// the new source. Points whose ID is already present are skipped.
	Inject(src []byte, class string, points ...Point) ([]byte, error)
	// Markers lists the woven IDs of every method in src, in entry order.
	Markers(src []byte) (map[Site][]string, error)
}

// DstWeaver rewrites Go source with dave/dst. Each woven method starts with
//
//	defer __otel_trace("<id>")()
//
// so the tracer observes both entry and exit of the call.
type DstWeaver struct{}

var _ Weaver = (*DstWeaver)(nil)

func NewDstWeaver() *DstWeaver {
	return &DstWeaver{}
}

func typeName(pkg, class string) (string, bool) {
	if !strings.HasPrefix(class, pkg+".") {
		return "", false
	}
	return strings.TrimPrefix(class, pkg+"."), true
}

func describe(fn *dst.FuncDecl) catalog.MethodDescriptor {
	return catalog.MethodDescriptor{
		Name:       fn.Name.Name,
		Params:     ast.FieldTypes(fn.Type.Params),
		ReturnType: ast.ResultType(fn.Type.Results),
	}
}

func findMethod(root *dst.File, recv string, m catalog.MethodDescriptor) *dst.FuncDecl {
	for _, fn := range ast.ListFuncDecls(root) {
		if fn.Name.Name != m.Name || ast.ReceiverTypeName(fn) != recv {
			continue
		}
		if describe(fn).Signature() == m.Signature() {
			return fn
		}
	}
	return nil
}

// traceID returns the label of a woven statement, or false if stmt was not
// produced by the weaver.
func traceID(stmt dst.Stmt) (string, bool) {
	deferStmt, ok := stmt.(*dst.DeferStmt)
	if !ok || !slices.Contains(deferStmt.Decs.Defer, traceLabel) {
		return "", false
	}
	call, ok := deferStmt.Call.Fun.(*dst.CallExpr)
	if !ok || len(call.Args) != 1 {
		return "", false
	}
	if fun, ok1 := call.Fun.(*dst.Ident); !ok1 || fun.Name != TracerFunc {
		return "", false
	}
	return ast.StringLitValue(call.Args[0])
}

// wovenIDs returns the labels of the woven statements leading fn's body.
func wovenIDs(fn *dst.FuncDecl) []string {
	ids := make([]string, 0)
	for _, stmt := range fn.Body.List {
		id, ok := traceID(stmt)
		if !ok {
			break
		}
		ids = append(ids, id)
	}
	return ids
}

func traceStmt(id string) *dst.DeferStmt {
	stmt := ast.DeferCallResult(ast.CallTo(TracerFunc, ast.StringLit(id)))
	stmt.Decs.Defer.Append(traceLabel)
	stmt.Decs.Before = dst.NewLine
	stmt.Decs.After = dst.NewLine
	return stmt
}

func (w *DstWeaver) Inject(src []byte, class string, points ...Point) ([]byte, error) {
	root, err := ast.NewAstParser().ParseSource(class, src)
	if err != nil {
		return nil, err
	}
	recv, ok := typeName(root.Name.Name, class)
	if !ok {
		return nil, ex.Newf("class %s is not declared in package %s", class, root.Name.Name)
	}
	changed := false
	for _, p := range points {
		fn := findMethod(root, recv, p.Method)
		if fn == nil {
			return nil, ex.Newf("method %s not found on class %s", p.Method.Signature(), class)
		}
		if fn.Body == nil {
			return nil, ex.Newf("method %s of class %s has no body", p.Method.Signature(), class)
		}
		ids := wovenIDs(fn)
		if slices.Contains(ids, p.ID) {
			continue
		}
		// New entry points stack after the existing ones
		at := len(ids)
		stmts := make([]dst.Stmt, 0, len(fn.Body.List)+1)
		stmts = append(stmts, fn.Body.List[:at]...)
		stmts = append(stmts, traceStmt(p.ID))
		stmts = append(stmts, fn.Body.List[at:]...)
		fn.Body.List = stmts
		changed = true
	}
	if !changed {
		return src, nil
	}
	return ast.Print(root)
}

func (w *DstWeaver) Markers(src []byte) (map[Site][]string, error) {
	root, err := ast.NewAstParser().ParseSource("class.go", src)
	if err != nil {
		return nil, err
	}
	markers := make(map[Site][]string)
	for _, fn := range ast.ListFuncDecls(root) {
		if !ast.HasReceiver(fn) || fn.Body == nil {
			continue
		}
		ids := wovenIDs(fn)
		if len(ids) == 0 {
			continue
		}
		site := Site{
			Class:     root.Name.Name + "." + ast.ReceiverTypeName(fn),
			Signature: describe(fn).Signature(),
		}
		markers[site] = ids
	}
	return markers, nil
}
