// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package weave

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/catalog"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/instrument"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/parse"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/pointcut"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/registry"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/vm"
)

const shopSource = `package shop

type Named interface {
	Name() string
}

type Service interface {
	Named
	Checkout() error
}

type B struct{}

func (b *B) F() {}

func (b *B) G(x int) string { return "" }

type C struct {
	B
}

func (c *C) F() {}

type D struct {
	*C
}

func (d *D) F() {}

type X struct{}

func (x *X) F() {}

func (x *X) H(s string) {}

type Impl struct{}

var _ Service = (*Impl)(nil)

func (i *Impl) Checkout() error { return nil }

func (i *Impl) Name() string { return "impl" }
`

const lateSource = `package shop

type Late struct{}

var _ Service = (*Late)(nil)

func (l *Late) Checkout() error { return nil }

func (l *Late) Name() string { return "late" }
`

// effects counts the invocations that found provenance for their method.
type effects struct {
	mu   sync.Mutex
	drv  *Driver
	hits map[Key]int
}

func (e *effects) Enter(ctx context.Context, site instrument.Site, _ string) (context.Context, func(error)) {
	if _, ok := e.drv.Lookup(site.Class, site.Signature); ok {
		e.mu.Lock()
		e.hits[Key{Class: site.Class, Method: site.Signature}]++
		e.mu.Unlock()
	}
	return ctx, func(error) {}
}

func (e *effects) count(class, method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hits[Key{Class: class, Method: method}]
}

// failingWeaver refuses to weave one class.
type failingWeaver struct {
	instrument.Weaver
	fail string
}

func (w *failingWeaver) Inject(src []byte, class string, points ...instrument.Point) ([]byte, error) {
	if class == w.fail {
		return nil, ex.Newf("cannot weave %s", class)
	}
	return w.Weaver.Inject(src, class, points...)
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	runtime   *vm.Runtime
	classpath *catalog.Classpath
	driver    *Driver
	effects   *effects
}

func newHarness(t *testing.T, weaver instrument.Weaver) *harness {
	scanner, err := catalog.NewScanner(32)
	require.NoError(t, err)
	if weaver == nil {
		weaver = instrument.NewDstWeaver()
	}
	rt := vm.New(scanner, instrument.NewDstWeaver(), vm.WithConcurrency(4))
	cp := catalog.NewClasspath(scanner)
	drv := NewDriver(registry.New(), rt, cp, weaver)
	rt.AddTransformer(drv)
	fx := &effects{drv: drv, hits: make(map[Key]int)}
	rt.SetDispatcher(fx)
	h := &harness{t: t, ctx: context.Background(), runtime: rt, classpath: cp, driver: drv, effects: fx}
	h.define(shopSource)
	return h
}

func (h *harness) define(src string) {
	_, err := h.runtime.Define(h.ctx, []byte(src))
	require.NoError(h.t, err)
}

func (h *harness) submit(name, payload string) Outcome {
	src := pointcut.Source{Name: name, Kind: pointcut.SourceDynamic}
	doc, err := parse.XML([]byte(payload))
	require.NoError(h.t, err)
	return h.driver.Submit(h.ctx, src, doc.Directives(src))
}

// invoke calls class.method and reports whether a woven effect was observed.
func (h *harness) invoke(class, method, declarer, signature string) bool {
	before := h.effects.count(declarer, signature)
	require.NoError(h.t, h.runtime.Invoke(h.ctx, class, method, nil))
	return h.effects.count(declarer, signature) > before
}

func pointcuts(blocks ...string) string {
	xml := "<extension><instrumentation>"
	for _, b := range blocks {
		xml += "<pointcut>" + b + "</pointcut>"
	}
	return xml + "</instrumentation></extension>"
}

func classBlock(class string, sub bool, methods ...string) string {
	b := fmt.Sprintf(`<className includeSubclasses="%t">%s</className>`, sub, class)
	for _, m := range methods {
		b += m
	}
	return b
}

func methodAny(name string) string { return "<method><name>" + name + "</name></method>" }

func methodZeroArg(name string) string {
	return "<method><name>" + name + "</name><parameters/></method>"
}

func TestSourceRegistrationAndRemoval(t *testing.T) {
	h := newHarness(t, nil)

	out := h.submit("A", pointcuts(classBlock("shop.X", false, methodZeroArg("F"))))
	assert.Equal(t, 1, out.Specified)
	assert.Empty(t, out.Problems)
	assert.Equal(t, []string{"shop.X"}, out.Retransformed)
	assert.True(t, h.invoke("shop.X", "F", "shop.X", "F()"))

	rec, ok := h.driver.Lookup("shop.X", "F()")
	require.True(t, ok)
	assert.Equal(t, []pointcut.Source{{Name: "A", Kind: pointcut.SourceDynamic}}, rec.Sources)
	assert.Equal(t, "Custom/shop.X/F", rec.MetricName)
	assert.Equal(t, WeaveID("shop.X", "F()"), rec.ID)

	out = h.submit("A", pointcuts())
	assert.Equal(t, 0, out.Specified)
	assert.Empty(t, out.Problems)
	assert.Equal(t, []string{"shop.X"}, out.Retransformed)
	assert.False(t, h.invoke("shop.X", "F", "shop.X", "F()"))
	_, ok = h.driver.Lookup("shop.X", "F()")
	assert.False(t, ok)

	installed, _ := h.runtime.Installed("shop.X")
	assert.Equal(t, shopSource, string(installed))
	assert.Empty(t, h.driver.Snapshot().Sources())
}

func TestIdenticalResubmissionIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	payload := pointcuts(classBlock("shop.X", false, methodAny("F"), methodAny("H")))

	first := h.submit("A", payload)
	assert.Equal(t, []string{"shop.X"}, first.Retransformed)
	installed, _ := h.runtime.Installed("shop.X")

	second := h.submit("A", payload)
	assert.Equal(t, first.Specified, second.Specified)
	assert.Empty(t, second.Retransformed)
	again, _ := h.runtime.Installed("shop.X")
	assert.Equal(t, string(installed), string(again))
}

func TestInvalidMethodBesideValidSibling(t *testing.T) {
	h := newHarness(t, nil)
	out := h.submit("A", pointcuts(classBlock("shop.X", false, methodAny("Nope"), methodZeroArg("F"))))
	assert.Equal(t, 1, out.Specified)
	require.Len(t, out.Problems, 1)
	assert.Contains(t, out.Problems[0], "shop.X")
	assert.Contains(t, out.Problems[0], "Nope")
	assert.Equal(t, []string{"shop.X"}, out.Retransformed)
	assert.True(t, h.invoke("shop.X", "F", "shop.X", "F()"))
}

func TestValidation(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.classpath.AddSource([]byte(lateSource))
	require.NoError(t, err)

	out := h.submit("A", pointcuts(
		classBlock("shop.Missing", false, methodAny("F")),
		classBlock("shop.Late", false, methodAny("Checkout")),
		classBlock("shop.C", false, methodAny("G")),
		classBlock("shop.X", false, methodZeroArg("H")),
	))
	assert.Equal(t, 4, out.Specified)
	assert.Equal(t, []string{
		"class shop.Missing not found",
		"method H() not found on class shop.X",
	}, out.Problems)
	// G is inherited by C, it resolves but is only woven where it is declared
	assert.Empty(t, out.Retransformed)

	h.define(lateSource)
	assert.True(t, h.invoke("shop.Late", "Checkout", "shop.Late", "Checkout() error"))
}

func TestIncludeSubclasses(t *testing.T) {
	h := newHarness(t, nil)
	out := h.submit("A", pointcuts(classBlock("shop.B", true, methodAny("F"))))
	assert.Equal(t, []string{"shop.B", "shop.C", "shop.D"}, out.Retransformed)
	assert.True(t, h.invoke("shop.B", "F", "shop.B", "F()"))
	assert.True(t, h.invoke("shop.C", "F", "shop.C", "F()"))
	assert.True(t, h.invoke("shop.D", "F", "shop.D", "F()"))

	out = h.submit("A", pointcuts(classBlock("shop.B", false, methodAny("F"))))
	assert.Equal(t, []string{"shop.C", "shop.D"}, out.Retransformed)
	assert.True(t, h.invoke("shop.B", "F", "shop.B", "F()"))
	assert.False(t, h.invoke("shop.C", "F", "shop.C", "F()"))
	assert.False(t, h.invoke("shop.D", "F", "shop.D", "F()"))
}

func TestInterfaceSelectorCoversLaterLoadedClasses(t *testing.T) {
	h := newHarness(t, nil)
	out := h.submit("A", pointcuts(`<interfaceName>shop.Named</interfaceName>`+methodAny("Name")))
	assert.Empty(t, out.Problems)
	assert.Equal(t, []string{"shop.Impl"}, out.Retransformed)
	assert.True(t, h.invoke("shop.Impl", "Name", "shop.Impl", "Name() string"))

	h.define(lateSource)
	assert.True(t, h.invoke("shop.Late", "Name", "shop.Late", "Name() string"))
	assert.False(t, h.invoke("shop.Late", "Checkout", "shop.Late", "Checkout() error"))
	rec, ok := h.driver.Lookup("shop.Late", "Name() string")
	require.True(t, ok)
	assert.Equal(t, "A", rec.Sources[0].Name)
}

func TestRemovalKeepsSurvivingDirectives(t *testing.T) {
	h := newHarness(t, nil)
	h.submit("A", pointcuts(
		classBlock("shop.X", false, methodAny("F")),
		classBlock("shop.X", false, methodAny("H")),
	))
	assert.True(t, h.invoke("shop.X", "H", "shop.X", "H(string)"))

	out := h.submit("A", pointcuts(classBlock("shop.X", false, methodAny("F"))))
	assert.Equal(t, []string{"shop.X"}, out.Retransformed)
	assert.False(t, h.invoke("shop.X", "H", "shop.X", "H(string)"))
	assert.True(t, h.invoke("shop.X", "F", "shop.X", "F()"))
}

func TestSharedMethodAcrossSources(t *testing.T) {
	h := newHarness(t, nil)
	h.submit("A", `<extension><instrumentation><pointcut metricNameFormat="A/F">`+
		classBlock("shop.X", false, methodAny("F"))+`</pointcut></instrumentation></extension>`)
	out := h.submit("B", `<extension><instrumentation><pointcut transactionStartPoint="true" metricNameFormat="B/F">`+
		classBlock("shop.X", false, methodAny("F"))+`</pointcut></instrumentation></extension>`)
	// F already carries an entry point, only its provenance changes
	assert.Empty(t, out.Retransformed)

	rec, ok := h.driver.Lookup("shop.X", "F()")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, []string{rec.Sources[0].Name, rec.Sources[1].Name})
	assert.True(t, rec.Dispatcher)
	assert.Equal(t, "A/F", rec.MetricName)

	out = h.submit("A", "")
	assert.Empty(t, out.Retransformed)
	rec, ok = h.driver.Lookup("shop.X", "F()")
	require.True(t, ok)
	require.Len(t, rec.Sources, 1)
	assert.Equal(t, "B", rec.Sources[0].Name)
	assert.Equal(t, "B/F", rec.MetricName)
	assert.True(t, h.invoke("shop.X", "F", "shop.X", "F()"))

	out = h.submit("B", "")
	assert.Equal(t, []string{"shop.X"}, out.Retransformed)
	assert.False(t, h.invoke("shop.X", "F", "shop.X", "F()"))
}

func TestAnnotationSelector(t *testing.T) {
	h := newHarness(t, nil)
	h.define(`package tagged

type Job struct{}

//@Trace
func (j *Job) Run() {}

func (j *Job) Stop() {}
`)
	out := h.submit("A", pointcuts(`<methodAnnotation>Trace</methodAnnotation>`))
	assert.Equal(t, []string{"tagged.Job"}, out.Retransformed)
	assert.True(t, h.invoke("tagged.Job", "Run", "tagged.Job", "Run()"))
	assert.False(t, h.invoke("tagged.Job", "Stop", "tagged.Job", "Stop()"))
}

func TestFailedRetransformDoesNotAbortOthers(t *testing.T) {
	h := newHarness(t, &failingWeaver{Weaver: instrument.NewDstWeaver(), fail: "shop.X"})
	out := h.submit("A", pointcuts(
		classBlock("shop.X", false, methodAny("F")),
		classBlock("shop.B", false, methodAny("F")),
	))
	assert.Equal(t, []string{"shop.B", "shop.X"}, out.Retransformed)
	require.Len(t, out.Problems, 1)
	assert.Contains(t, out.Problems[0], "failed to retransform class shop.X")

	assert.True(t, h.invoke("shop.B", "F", "shop.B", "F()"))
	assert.False(t, h.invoke("shop.X", "F", "shop.X", "F()"))
	_, ok := h.driver.Lookup("shop.X", "F()")
	assert.False(t, ok)
}

func TestDisabledPointcutIsNotWoven(t *testing.T) {
	h := newHarness(t, nil)
	out := h.submit("A", `<extension><instrumentation><pointcut enabled="false">`+
		classBlock("shop.X", false, methodAny("F"))+`</pointcut></instrumentation></extension>`)
	assert.Equal(t, 1, out.Specified)
	assert.Empty(t, out.Retransformed)
	assert.False(t, h.invoke("shop.X", "F", "shop.X", "F()"))
}

func TestConcurrentSubmissions(t *testing.T) {
	h := newHarness(t, nil)
	methods := []string{"F", "H"}
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("S%d", i)
			h.submit(name, pointcuts(classBlock("shop.X", false, methodAny(methods[i%2]))))
		}()
	}
	wg.Wait()

	for _, sig := range []string{"F()", "H(string)"} {
		rec, ok := h.driver.Lookup("shop.X", sig)
		require.True(t, ok, sig)
		assert.Len(t, rec.Sources, 4)
	}
	markers, err := instrument.NewDstWeaver().Markers(func() []byte {
		b, _ := h.runtime.Installed("shop.X")
		return b
	}())
	require.NoError(t, err)
	assert.Len(t, markers, 2)
	assert.Len(t, h.driver.Store().Records(), 2)
}

// gatedWeaver blocks the first weave of one class until released.
type gatedWeaver struct {
	instrument.Weaver
	class   string
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedWeaver(class string) *gatedWeaver {
	return &gatedWeaver{
		Weaver:  instrument.NewDstWeaver(),
		class:   class,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (w *gatedWeaver) Inject(src []byte, class string, points ...instrument.Point) ([]byte, error) {
	if class == w.class && w.armed.CompareAndSwap(true, false) {
		close(w.entered)
		<-w.release
	}
	return w.Weaver.Inject(src, class, points...)
}

func directivesOf(t *testing.T, name, payload string) (pointcut.Source, []*pointcut.Directive) {
	src := pointcut.Source{Name: name, Kind: pointcut.SourceDynamic}
	doc, err := parse.XML([]byte(payload))
	require.NoError(t, err)
	return src, doc.Directives(src)
}

func waitFor(t *testing.T, done <-chan error, what string) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("%s did not complete", what)
	}
}

func TestClassLoadDuringSubmission(t *testing.T) {
	w := newGatedWeaver("shop.X")
	h := newHarness(t, w)
	w.armed.Store(true)

	src, dirs := directivesOf(t, "A", pointcuts(
		classBlock("shop.X", false, methodAny("F")),
		`<interfaceName>shop.Service</interfaceName>`+methodAny("Checkout"),
	))
	submitted := make(chan Outcome, 1)
	go func() { submitted <- h.driver.Submit(h.ctx, src, dirs) }()
	<-w.entered

	// The submission is stuck weaving shop.X: loading and lookups go on
	loaded := make(chan error, 1)
	go func() {
		_, err := h.runtime.Define(h.ctx, []byte(lateSource))
		loaded <- err
	}()
	waitFor(t, loaded, "loading shop.Late")
	assert.True(t, h.invoke("shop.Late", "Checkout", "shop.Late", "Checkout() error"))
	_, ok := h.driver.Lookup("shop.X", "F()")
	assert.False(t, ok)

	close(w.release)
	out := <-submitted
	assert.Empty(t, out.Problems)
	assert.Equal(t, []string{"shop.Impl", "shop.X"}, out.Retransformed)
	assert.True(t, h.invoke("shop.X", "F", "shop.X", "F()"))
}

func TestUnrelatedClassLoadsDoNotWait(t *testing.T) {
	const slowSource = "package slow\n\ntype P struct{}\n\nfunc (p *P) Run() {}\n"
	const fastSource = "package fast\n\ntype Q struct{}\n\nfunc (q *Q) Run() {}\n"

	w := newGatedWeaver("slow.P")
	h := newHarness(t, w)
	h.submit("A", pointcuts(
		classBlock("slow.P", false, methodAny("Run")),
		classBlock("fast.Q", false, methodAny("Run")),
	))
	w.armed.Store(true)

	slow := make(chan error, 1)
	go func() {
		_, err := h.runtime.Define(h.ctx, []byte(slowSource))
		slow <- err
	}()
	<-w.entered

	fast := make(chan error, 1)
	go func() {
		_, err := h.runtime.Define(h.ctx, []byte(fastSource))
		fast <- err
	}()
	waitFor(t, fast, "loading fast.Q")
	assert.True(t, h.invoke("fast.Q", "Run", "fast.Q", "Run()"))

	close(w.release)
	waitFor(t, slow, "loading slow.P")
	assert.True(t, h.invoke("slow.P", "Run", "slow.P", "Run()"))
}

func TestInheritedCallWithoutSubclasses(t *testing.T) {
	h := newHarness(t, nil)
	out := h.submit("A", pointcuts(classBlock("shop.B", false, methodAny("F"), methodAny("G"))))
	assert.Empty(t, out.Problems)
	assert.Equal(t, []string{"shop.B"}, out.Retransformed)

	// C overrides F, the override is not woven
	assert.False(t, h.invoke("shop.C", "F", "shop.C", "F()"))
	// C inherits G, the call runs the woven code of B
	assert.True(t, h.invoke("shop.C", "G", "shop.B", "G(int) string"))
	_, ok := h.driver.Lookup("shop.C", "G(int) string")
	assert.False(t, ok)
}
