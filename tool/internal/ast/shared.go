// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package ast

import (
	"go/token"
	"strings"

	"github.com/dave/dst"
)

// -----------------------------------------------------------------------------
// AST Shared Utilities
//
// Lookup helpers used by the class scanner and the weaver. Both of them look
// at a Go source unit as a set of type declarations plus the methods bound to
// those types.

func ListFuncDecls(root *dst.File) []*dst.FuncDecl {
	funcDecls := make([]*dst.FuncDecl, 0)
	for _, decl := range root.Decls {
		funcDecl, ok := decl.(*dst.FuncDecl)
		if !ok {
			continue
		}
		funcDecls = append(funcDecls, funcDecl)
	}
	return funcDecls
}

func ListTypeSpecs(root *dst.File) []*dst.TypeSpec {
	specs := make([]*dst.TypeSpec, 0)
	for _, decl := range root.Decls {
		genDecl, ok := decl.(*dst.GenDecl)
		if !ok || genDecl.Tok != token.TYPE {
			continue
		}
		for _, spec := range genDecl.Specs {
			if typeSpec, ok1 := spec.(*dst.TypeSpec); ok1 {
				specs = append(specs, typeSpec)
			}
		}
	}
	return specs
}

// ListBlankAssertions returns the "var _ I = expr" specs of the file, Go's
// idiom for declaring that a type implements an interface.
func ListBlankAssertions(root *dst.File) []*dst.ValueSpec {
	specs := make([]*dst.ValueSpec, 0)
	for _, decl := range root.Decls {
		genDecl, ok := decl.(*dst.GenDecl)
		if !ok || genDecl.Tok != token.VAR {
			continue
		}
		for _, spec := range genDecl.Specs {
			vs, ok1 := spec.(*dst.ValueSpec)
			if !ok1 || vs.Type == nil || len(vs.Names) != 1 || len(vs.Values) != 1 {
				continue
			}
			if vs.Names[0].Name == IdentIgnore {
				specs = append(specs, vs)
			}
		}
	}
	return specs
}

func HasReceiver(fn *dst.FuncDecl) bool {
	return fn.Recv != nil && len(fn.Recv.List) > 0
}

// BaseTypeName strips pointers and type arguments from a type expression:
// *Cart, Cart, *Box[T] and Box[K, V] all yield the bare name. Qualified names
// keep their package selector.
func BaseTypeName(expr dst.Expr) string {
	switch e := expr.(type) {
	case *dst.StarExpr:
		return BaseTypeName(e.X)
	case *dst.ParenExpr:
		return BaseTypeName(e.X)
	case *dst.IndexExpr:
		return BaseTypeName(e.X)
	case *dst.IndexListExpr:
		return BaseTypeName(e.X)
	case *dst.Ident:
		return e.Name
	case *dst.SelectorExpr:
		if x, ok := e.X.(*dst.Ident); ok {
			return x.Name + "." + e.Sel.Name
		}
	}
	return ""
}

// ReceiverTypeName returns the base type name of a method receiver.
func ReceiverTypeName(fn *dst.FuncDecl) string {
	if !HasReceiver(fn) {
		return ""
	}
	return BaseTypeName(fn.Recv.List[0].Type)
}

// FieldTypes expands a field list into one type string per declared value,
// so "a, b int" yields two entries.
func FieldTypes(list *dst.FieldList) []string {
	types := make([]string, 0)
	if list == nil {
		return types
	}
	for _, field := range list.List {
		t := TypeString(field.Type)
		n := len(field.Names)
		if n == 0 {
			n = 1
		}
		for range n {
			types = append(types, t)
		}
	}
	return types
}

// ResultType renders a function result list: "" without results, the type
// itself for one result and "(A, B)" otherwise.
func ResultType(list *dst.FieldList) string {
	types := FieldTypes(list)
	switch len(types) {
	case 0:
		return ""
	case 1:
		return types[0]
	default:
		return "(" + strings.Join(types, ", ") + ")"
	}
}

// TypeString renders a type expression the way it is written in source.
func TypeString(expr dst.Expr) string {
	switch e := expr.(type) {
	case nil:
		return ""
	case *dst.Ident:
		return e.Name
	case *dst.SelectorExpr:
		return TypeString(e.X) + "." + e.Sel.Name
	case *dst.StarExpr:
		return "*" + TypeString(e.X)
	case *dst.ParenExpr:
		return "(" + TypeString(e.X) + ")"
	case *dst.Ellipsis:
		return "..." + TypeString(e.Elt)
	case *dst.ArrayType:
		if e.Len == nil {
			return "[]" + TypeString(e.Elt)
		}
		if _, ok := e.Len.(*dst.Ellipsis); ok {
			return "[...]" + TypeString(e.Elt)
		}
		return "[" + TypeString(e.Len) + "]" + TypeString(e.Elt)
	case *dst.BasicLit:
		return e.Value
	case *dst.MapType:
		return "map[" + TypeString(e.Key) + "]" + TypeString(e.Value)
	case *dst.ChanType:
		switch e.Dir {
		case dst.SEND:
			return "chan<- " + TypeString(e.Value)
		case dst.RECV:
			return "<-chan " + TypeString(e.Value)
		default:
			return "chan " + TypeString(e.Value)
		}
	case *dst.FuncType:
		s := "func(" + strings.Join(FieldTypes(e.Params), ", ") + ")"
		if r := ResultType(e.Results); r != "" {
			s += " " + r
		}
		return s
	case *dst.InterfaceType:
		if e.Methods == nil || len(e.Methods.List) == 0 {
			return "interface{}"
		}
		return "interface{...}"
	case *dst.StructType:
		if e.Fields == nil || len(e.Fields.List) == 0 {
			return "struct{}"
		}
		return "struct{...}"
	case *dst.IndexExpr:
		return TypeString(e.X) + "[" + TypeString(e.Index) + "]"
	case *dst.IndexListExpr:
		args := make([]string, 0, len(e.Indices))
		for _, idx := range e.Indices {
			args = append(args, TypeString(idx))
		}
		return TypeString(e.X) + "[" + strings.Join(args, ", ") + "]"
	}
	return "?"
}

// Markers returns the "//@Name" lines of a declaration's leading comments.
func Markers(decs dst.Decorations) []string {
	markers := make([]string, 0)
	for _, line := range decs {
		text := strings.TrimSpace(strings.TrimPrefix(line, "//"))
		if !strings.HasPrefix(text, "@") {
			continue
		}
		name := strings.TrimPrefix(text, "@")
		if i := strings.IndexAny(name, " \t("); i >= 0 {
			name = name[:i]
		}
		if name != "" {
			markers = append(markers, name)
		}
	}
	return markers
}
