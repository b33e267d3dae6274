// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"go/token"
	"strings"

	"github.com/dave/dst"
	lru "github.com/elastic/go-freelru"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/ast"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/util"
)

const defaultScanCacheSize = 1024

// Scanner decodes Go source units into class descriptors. Identical units are
// decoded once, results are cached by the xxh3 digest of the source.
type Scanner struct {
	cache *lru.SyncedLRU[uint64, []*ClassDescriptor]
}

func hashKey(k uint64) uint32 {
	return uint32(k ^ (k >> 32))
}

func NewScanner(size uint32) (*Scanner, error) {
	if size == 0 {
		size = defaultScanCacheSize
	}
	cache, err := lru.NewSynced[uint64, []*ClassDescriptor](size, hashKey)
	if err != nil {
		return nil, ex.Wrapf(err, "failed to create scan cache")
	}
	return &Scanner{cache: cache}, nil
}

// Scan returns every named type declared in src. Methods declared in the
// same unit are attached to their receiver type.
func (s *Scanner) Scan(src []byte) ([]*ClassDescriptor, error) {
	key := util.HashBytes(src)
	if classes, ok := s.cache.Get(key); ok {
		return classes, nil
	}
	root, err := ast.NewAstParser().ParseSource("class.go", src)
	if err != nil {
		return nil, err
	}
	classes := Describe(root)
	s.cache.Add(key, classes)
	return classes, nil
}

func qualify(pkg, name string) string {
	if name == "" || strings.Contains(name, ".") {
		return name
	}
	return pkg + "." + name
}

// Describe builds descriptors from an already decoded file.
func Describe(root *dst.File) []*ClassDescriptor {
	pkg := root.Name.Name
	classes := make([]*ClassDescriptor, 0)
	byName := make(map[string]*ClassDescriptor)
	for _, spec := range ast.ListTypeSpecs(root) {
		cls := &ClassDescriptor{
			Name:    qualify(pkg, spec.Name.Name),
			Package: pkg,
		}
		switch t := spec.Type.(type) {
		case *dst.StructType:
			cls.Super = qualify(pkg, firstEmbedded(t.Fields))
		case *dst.InterfaceType:
			cls.IsInterface = true
			cls.Interfaces, cls.Methods = interfaceMembers(pkg, t)
		}
		classes = append(classes, cls)
		byName[spec.Name.Name] = cls
	}
	for _, vs := range ast.ListBlankAssertions(root) {
		impl := assertedType(vs.Values[0])
		cls, ok := byName[impl]
		if !ok {
			continue
		}
		iface := qualify(pkg, ast.BaseTypeName(vs.Type))
		if iface != "" {
			cls.Interfaces = append(cls.Interfaces, iface)
		}
	}
	for _, fn := range ast.ListFuncDecls(root) {
		cls, ok := byName[ast.ReceiverTypeName(fn)]
		if !ok || cls.IsInterface {
			continue
		}
		cls.Methods = append(cls.Methods, MethodDescriptor{
			Name:        fn.Name.Name,
			Params:      ast.FieldTypes(fn.Type.Params),
			ReturnType:  ast.ResultType(fn.Type.Results),
			Annotations: ast.Markers(fn.Decs.Start),
		})
	}
	return classes
}

func firstEmbedded(fields *dst.FieldList) string {
	if fields == nil {
		return ""
	}
	for _, f := range fields.List {
		if len(f.Names) == 0 {
			return ast.BaseTypeName(f.Type)
		}
	}
	return ""
}

func interfaceMembers(pkg string, t *dst.InterfaceType) ([]string, []MethodDescriptor) {
	embedded := make([]string, 0)
	methods := make([]MethodDescriptor, 0)
	if t.Methods == nil {
		return embedded, methods
	}
	for _, f := range t.Methods.List {
		if len(f.Names) == 0 {
			if name := ast.BaseTypeName(f.Type); name != "" {
				embedded = append(embedded, qualify(pkg, name))
			}
			continue
		}
		ft, ok := f.Type.(*dst.FuncType)
		if !ok {
			continue
		}
		for _, n := range f.Names {
			methods = append(methods, MethodDescriptor{
				Name:       n.Name,
				Params:     ast.FieldTypes(ft.Params),
				ReturnType: ast.ResultType(ft.Results),
			})
		}
	}
	return embedded, methods
}

// assertedType extracts T from (*T)(nil), &T{} and T{}.
func assertedType(expr dst.Expr) string {
	switch e := expr.(type) {
	case *dst.CallExpr:
		if len(e.Args) == 1 {
			if id, ok := e.Args[0].(*dst.Ident); ok && id.Name == ast.IdentNil {
				return ast.BaseTypeName(e.Fun)
			}
		}
	case *dst.UnaryExpr:
		if e.Op == token.AND {
			return assertedType(e.X)
		}
	case *dst.CompositeLit:
		return ast.BaseTypeName(e.Type)
	}
	return ""
}
