// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/catalog"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/instrument"
)

const shopSource = `package shop

type Base struct{}

func (b *Base) Name() string { return "base" }

type Cart struct {
	Base
}

func (c *Cart) Add(item string) {}

func (c *Cart) Add2(item string, qty int) {}

func (c *Cart) Get() int { return 0 }

func (c *Cart) Get2(i int) int { return i }
`

// weaveAll weaves every method of the configured classes, labelled with the
// method name.
type weaveAll struct {
	mu      sync.Mutex
	classes map[string]bool
	fail    map[string]bool
	calls   []string
}

func (w *weaveAll) Transform(_ context.Context, cls *catalog.ClassDescriptor, original []byte, firstLoad bool) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	mode := "retransform"
	if firstLoad {
		mode = "load"
	}
	w.calls = append(w.calls, mode+":"+cls.Name)
	if w.fail[cls.Name] {
		return nil, ex.Newf("cannot weave %s", cls.Name)
	}
	if !w.classes[cls.Name] {
		return original, nil
	}
	points := make([]instrument.Point, 0, len(cls.Methods))
	for _, m := range cls.Methods {
		points = append(points, instrument.Point{Method: m, ID: m.Name})
	}
	return instrument.NewDstWeaver().Inject(original, cls.Name, points...)
}

type call struct {
	site instrument.Site
	id   string
	err  error
}

type recorder struct {
	mu     sync.Mutex
	enters []call
	exits  []call
}

func (r *recorder) Enter(ctx context.Context, site instrument.Site, id string) (context.Context, func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enters = append(r.enters, call{site: site, id: id})
	return ctx, func(err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.exits = append(r.exits, call{site: site, id: id, err: err})
	}
}

func newRuntime(t *testing.T, w *weaveAll, d Dispatcher) *Runtime {
	scanner, err := catalog.NewScanner(8)
	require.NoError(t, err)
	r := New(scanner, instrument.NewDstWeaver(), WithConcurrency(2))
	r.AddTransformer(w)
	if d != nil {
		r.SetDispatcher(d)
	}
	return r
}

func TestDefine(t *testing.T) {
	w := &weaveAll{classes: map[string]bool{"shop.Cart": true}}
	r := newRuntime(t, w, nil)
	ctx := context.Background()

	names, err := r.Define(ctx, []byte(shopSource))
	require.NoError(t, err)
	assert.Equal(t, []string{"shop.Base", "shop.Cart"}, names)
	assert.Equal(t, []string{"shop.Base", "shop.Cart"}, catalog.Names(r.LoadedClasses()))
	assert.ElementsMatch(t, []string{"load:shop.Base", "load:shop.Cart"}, w.calls)

	cart, ok := r.Installed("shop.Cart")
	require.True(t, ok)
	assert.Contains(t, string(cart), `__otel_trace("Add")()`)
	base, ok := r.Installed("shop.Base")
	require.True(t, ok)
	assert.Equal(t, shopSource, string(base))

	_, err = r.Define(ctx, []byte(shopSource))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already defined")

	_, err = r.Define(ctx, []byte("package broken\nfunc ("))
	require.Error(t, err)
}

func TestDefineSurvivesFailingTransformer(t *testing.T) {
	w := &weaveAll{fail: map[string]bool{"shop.Cart": true}}
	r := newRuntime(t, w, nil)
	_, err := r.Define(context.Background(), []byte(shopSource))
	require.NoError(t, err)
	installed, ok := r.Installed("shop.Cart")
	require.True(t, ok)
	assert.Equal(t, shopSource, string(installed))
}

func TestRetransform(t *testing.T) {
	w := &weaveAll{classes: map[string]bool{}}
	r := newRuntime(t, w, nil)
	ctx := context.Background()
	_, err := r.Define(ctx, []byte(shopSource))
	require.NoError(t, err)

	w.mu.Lock()
	w.classes["shop.Cart"] = true
	w.classes["shop.Base"] = true
	w.fail = map[string]bool{"shop.Base": true}
	w.mu.Unlock()

	out := r.Retransform(ctx, []string{"shop.Cart", "shop.Base", "shop.Missing"})
	assert.Equal(t, []string{"shop.Cart"}, out.Retransformed)
	require.Len(t, out.Failed, 2)
	assert.Contains(t, out.Failed["shop.Base"].Error(), "cannot weave shop.Base")
	assert.Contains(t, out.Failed["shop.Missing"].Error(), "not loaded")

	base, _ := r.Installed("shop.Base")
	assert.Equal(t, shopSource, string(base))

	// Retransforming always starts over from the defined source
	w.mu.Lock()
	w.classes["shop.Cart"] = false
	w.mu.Unlock()
	out = r.Retransform(ctx, []string{"shop.Cart"})
	assert.Equal(t, []string{"shop.Cart"}, out.Retransformed)
	cart, _ := r.Installed("shop.Cart")
	assert.Equal(t, shopSource, string(cart))
}

func TestInvoke(t *testing.T) {
	w := &weaveAll{classes: map[string]bool{"shop.Cart": true, "shop.Base": true}}
	rec := &recorder{}
	r := newRuntime(t, w, rec)
	ctx := context.Background()
	_, err := r.Define(ctx, []byte(shopSource))
	require.NoError(t, err)

	boom := errors.New("boom")
	ran := false
	err = r.Invoke(ctx, "shop.Cart", "Add", func(context.Context) error {
		ran = true
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, ran)
	require.Len(t, rec.enters, 1)
	assert.Equal(t, instrument.Site{Class: "shop.Cart", Signature: "Add(string)"}, rec.enters[0].site)
	require.Len(t, rec.exits, 1)
	assert.ErrorIs(t, rec.exits[0].err, boom)

	// inherited methods run the superclass code
	require.NoError(t, r.Invoke(ctx, "shop.Cart", "Name", nil))
	assert.Equal(t, instrument.Site{Class: "shop.Base", Signature: "Name() string"}, rec.enters[1].site)

	require.NoError(t, r.Invoke(ctx, "shop.Cart", "Get2(int) int", nil))
	assert.Equal(t, "Get2", rec.enters[2].id)

	tests := []struct {
		class, method, errMsg string
	}{
		{"shop.Order", "Add", "not loaded"},
		{"shop.Cart", "Remove", "method Remove not found on class shop.Cart"},
		{"shop.Cart", "Get(int) int", "not found"},
	}
	for _, tt := range tests {
		err = r.Invoke(ctx, tt.class, tt.method, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), tt.errMsg)
	}
	assert.Len(t, rec.enters, 3)
}

func TestInvokeWithoutWeaving(t *testing.T) {
	rec := &recorder{}
	r := newRuntime(t, &weaveAll{}, rec)
	ctx := context.Background()
	_, err := r.Define(ctx, []byte(shopSource))
	require.NoError(t, err)
	require.NoError(t, r.Invoke(ctx, "shop.Cart", "Add", nil))
	assert.Empty(t, rec.enters)
}

func TestInvokeAmbiguous(t *testing.T) {
	src := `package p
type A struct{}
func (a A) M() {}
type B struct{ A }
func (b B) M(x int) {}
`
	r := newRuntime(t, &weaveAll{}, nil)
	ctx := context.Background()
	_, err := r.Define(ctx, []byte(src))
	require.NoError(t, err)
	err = r.Invoke(ctx, "p.B", "M", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
	require.NoError(t, r.Invoke(ctx, "p.B", "M()", nil))
}
