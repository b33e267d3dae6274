// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shopSource = `package shop

import "context"

type Service interface {
	Named
	Checkout(ctx context.Context, id string) error
}

type Named interface {
	Name() string
}

type Base struct{}

func (b *Base) Name() string { return "base" }

type Cart struct {
	*Base
	items []string
}

var _ Service = (*Cart)(nil)

//@Trace
func (c *Cart) Checkout(ctx context.Context, id string) error { return nil }

func (c *Cart) Checkout2() {}

func (c Cart) Add(item string, qty int) {}

func (c Cart) Add2(item string) {}
`

func newScanner(t *testing.T) *Scanner {
	s, err := NewScanner(16)
	require.NoError(t, err)
	return s
}

func TestScan(t *testing.T) {
	classes, err := newScanner(t).Scan([]byte(shopSource))
	require.NoError(t, err)
	require.Equal(t, []string{"shop.Base", "shop.Cart", "shop.Named", "shop.Service"}, Names(classes))

	byName := make(map[string]*ClassDescriptor)
	for _, c := range classes {
		byName[c.Name] = c
	}
	cart := byName["shop.Cart"]
	assert.Equal(t, "shop", cart.Package)
	assert.Equal(t, "shop.Base", cart.Super)
	assert.Equal(t, []string{"shop.Service"}, cart.Interfaces)
	require.Len(t, cart.Methods, 4)
	assert.Equal(t, "Checkout(context.Context,string) error", cart.Methods[0].Signature())
	assert.True(t, cart.Methods[0].HasAnnotation("Trace"))
	assert.Equal(t, "Add(string,int)", cart.Methods[2].Signature())

	service := byName["shop.Service"]
	assert.True(t, service.IsInterface)
	assert.Equal(t, []string{"shop.Named"}, service.Interfaces)
	require.Len(t, service.Methods, 1)
	assert.Equal(t, "Checkout", service.Methods[0].Name)
}

func TestScanCachesIdenticalSource(t *testing.T) {
	s := newScanner(t)
	first, err := s.Scan([]byte(shopSource))
	require.NoError(t, err)
	second, err := s.Scan([]byte(shopSource))
	require.NoError(t, err)
	require.Same(t, first[0], second[0])

	_, err = s.Scan([]byte("package broken\nfunc ("))
	require.Error(t, err)
}

func TestAssertedTypeForms(t *testing.T) {
	src := `package p
type I interface{ M() }
type A struct{}
type B struct{}
type C struct{}
var _ I = A{}
var _ I = &B{}
var (
	_ I = (*C)(nil)
	_ = 42
)
`
	classes, err := newScanner(t).Scan([]byte(src))
	require.NoError(t, err)
	for _, c := range classes {
		if c.IsInterface {
			continue
		}
		assert.Equal(t, []string{"p.I"}, c.Interfaces, c.Name)
	}
}

func TestResolveMethodAndHierarchy(t *testing.T) {
	cp := NewClasspath(newScanner(t))
	_, err := cp.AddSource([]byte(shopSource))
	require.NoError(t, err)
	_, err = cp.AddSource([]byte(`package shop
type SpecialCart struct {
	Cart
}
func (s *SpecialCart) Add2(item string) {}
`))
	require.NoError(t, err)

	special, ok := cp.Lookup("shop.SpecialCart")
	require.True(t, ok)
	chain := Superclasses(cp, special)
	require.Len(t, chain, 2)
	assert.Equal(t, "shop.Cart", chain[0].Name)
	assert.Equal(t, "shop.Base", chain[1].Name)

	tests := []struct {
		name   string
		method string
		params []string
		want   []string
	}{
		{name: "inherited", method: "Name", params: nil, want: []string{"Name() string"}},
		{name: "overridden", method: "Add2", params: nil, want: []string{"Add2(string)"}},
		{name: "exact params", method: "Add", params: []string{"string", "int"}, want: []string{"Add(string,int)"}},
		{name: "wrong params", method: "Add", params: []string{"string"}, want: []string{}},
		{name: "zero arg", method: "Checkout2", params: []string{}, want: []string{"Checkout2()"}},
		{name: "missing", method: "Nope", params: nil, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make([]string, 0)
			for _, m := range ResolveMethod(cp, special, tt.method, tt.params) {
				got = append(got, m.Signature())
			}
			assert.Equal(t, tt.want, got)
		})
	}

	declarer, ok := Declarer(cp, special, "Name() string")
	require.True(t, ok)
	assert.Equal(t, "shop.Base", declarer.Name)
}

func TestSuperclassCycle(t *testing.T) {
	cp := NewClasspath(newScanner(t))
	cp.Add(
		&ClassDescriptor{Name: "p.A", Super: "p.B"},
		&ClassDescriptor{Name: "p.B", Super: "p.A"},
	)
	a, _ := cp.Lookup("p.A")
	chain := Superclasses(cp, a)
	require.Len(t, chain, 1)
	assert.Equal(t, "p.B", chain[0].Name)
}

func TestChain(t *testing.T) {
	first := NewClasspath(newScanner(t))
	second := NewClasspath(newScanner(t))
	first.Add(&ClassDescriptor{Name: "p.A", Package: "first"})
	second.Add(&ClassDescriptor{Name: "p.A", Package: "second"}, &ClassDescriptor{Name: "p.B"})

	h := Chain(first, second)
	a, ok := h.Lookup("p.A")
	require.True(t, ok)
	assert.Equal(t, "first", a.Package)
	_, ok = h.Lookup("p.B")
	assert.True(t, ok)
	_, ok = h.Lookup("p.C")
	assert.False(t, ok)
}

func TestScanDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cart.go"), []byte(shopSource), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cart_test.go"), []byte("package shop\ntype Ignored struct{}"), 0o644))

	cp := NewClasspath(newScanner(t))
	files, err := cp.ScanDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
	_, ok := cp.Lookup("shop.Cart")
	assert.True(t, ok)
	_, ok = cp.Lookup("shop.Ignored")
	assert.False(t, ok)
	assert.Len(t, cp.Classes(), 4)
}
