// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/catalog"
)

const cartSource = `package shop

type Cart struct {
	items []string
}

func (c *Cart) Add(item string) {
	c.items = append(c.items, item)
}

func (c *Cart) Add2(item string, qty int) {}

func (c *Cart) Total() (int, error) {
	return len(c.items), nil
}

type Order struct{}

func (o Order) Add(item string) {}
`

var (
	add   = catalog.MethodDescriptor{Name: "Add", Params: []string{"string"}}
	total = catalog.MethodDescriptor{Name: "Total", Params: []string{}, ReturnType: "(int, error)"}
)

func TestInject(t *testing.T) {
	w := NewDstWeaver()
	out, err := w.Inject([]byte(cartSource), "shop.Cart", Point{Method: add, ID: "a1"}, Point{Method: total, ID: "t1"})
	require.NoError(t, err)
	text := string(out)
	assert.Contains(t, text, `__otel_trace("a1")()`)
	assert.Contains(t, text, `__otel_trace("t1")()`)

	markers, err := w.Markers(out)
	require.NoError(t, err)
	assert.Equal(t, map[Site][]string{
		{Class: "shop.Cart", Signature: "Add(string)"}:          {"a1"},
		{Class: "shop.Cart", Signature: "Total() (int, error)"}: {"t1"},
	}, markers)
}

func TestInjectIsIdempotent(t *testing.T) {
	w := NewDstWeaver()
	once, err := w.Inject([]byte(cartSource), "shop.Cart", Point{Method: add, ID: "a1"})
	require.NoError(t, err)
	twice, err := w.Inject(once, "shop.Cart", Point{Method: add, ID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, string(once), string(twice))
	assert.Equal(t, 1, strings.Count(string(twice), "__otel_trace"))

	stacked, err := w.Inject(twice, "shop.Cart", Point{Method: add, ID: "a2"})
	require.NoError(t, err)
	markers, err := w.Markers(stacked)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, markers[Site{Class: "shop.Cart", Signature: "Add(string)"}])
}

func TestInjectPicksReceiverAndOverload(t *testing.T) {
	w := NewDstWeaver()
	out, err := w.Inject([]byte(cartSource), "shop.Order", Point{Method: add, ID: "o1"})
	require.NoError(t, err)
	markers, err := w.Markers(out)
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Contains(t, markers, Site{Class: "shop.Order", Signature: "Add(string)"})
}

func TestInjectErrors(t *testing.T) {
	w := NewDstWeaver()
	tests := []struct {
		name   string
		src    string
		class  string
		method catalog.MethodDescriptor
		errMsg string
	}{
		{"unknown method", cartSource, "shop.Cart", catalog.MethodDescriptor{Name: "Remove", Params: []string{}}, "method Remove() not found on class shop.Cart"},
		{"overload mismatch", cartSource, "shop.Cart", catalog.MethodDescriptor{Name: "Add", Params: []string{"int"}}, "not found"},
		{"other package", cartSource, "store.Cart", add, "not declared in package shop"},
		{"broken source", "package shop\nfunc (", "shop.Cart", add, "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.Inject([]byte(tt.src), tt.class, Point{Method: tt.method, ID: "x"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNoPointsKeepsSource(t *testing.T) {
	out, err := NewDstWeaver().Inject([]byte(cartSource), "shop.Cart")
	require.NoError(t, err)
	assert.Equal(t, cartSource, string(out))

	markers, err := NewDstWeaver().Markers(out)
	require.NoError(t, err)
	assert.Empty(t, markers)
}
