package ui

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"livenote/internal/jsloop"
	"livenote/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type commit struct {
	html string
	err  error
}

type harness struct {
	t       *testing.T
	loop    *jsloop.Loop
	r       *Renderer
	commits chan commit
}

// newHarness starts a loop with a renderer whose React namespace and catalog
// are installed as globals.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, loop: jsloop.New(), commits: make(chan commit, 16)}
	t.Cleanup(h.loop.Stop)

	h.call(func(rt *goja.Runtime) error {
		h.r = NewRenderer(rt, h.loop, func(out string, err error) { h.commits <- commit{out, err} })
		react, err := h.r.React()
		if err != nil {
			return err
		}
		_ = rt.Set("React", react)
		_ = rt.Set("h", react.Get("createElement"))
		for name, v := range h.r.Catalog() {
			_ = rt.Set(name, v)
		}
		return nil
	})
	return h
}

func (h *harness) call(fn func(rt *goja.Runtime) error) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, h.loop.Call(ctx, fn))
}

// mount evaluates src, which must evaluate to a component, and mounts it.
func (h *harness) mount(src string) (string, error) {
	h.t.Helper()
	var out string
	var mountErr error
	h.call(func(rt *goja.Runtime) error {
		comp, err := rt.RunString(src)
		if err != nil {
			return err
		}
		out, mountErr = h.r.Mount(comp)
		return nil
	})
	return out, mountErr
}

func (h *harness) dispatch(id string, payload map[string]interface{}) {
	h.t.Helper()
	h.call(func(*goja.Runtime) error { return h.r.Dispatch(id, payload) })
}

func (h *harness) next() commit {
	h.t.Helper()
	select {
	case c := <-h.commits:
		return c
	case <-time.After(3 * time.Second):
		h.t.Fatal("no render committed")
		return commit{}
	}
}

// =============================================================================
// HOST ELEMENTS
// =============================================================================

func TestRenderHostAttributes(t *testing.T) {
	h := newHarness(t)
	out, err := h.mount(`(function App() {
		return h("div", { className: "box", style: { marginTop: 4, opacity: 0.5, backgroundColor: "red" }, "data-x": "1" },
			h("label", { htmlFor: "in" }, "Name"),
			h("input", { id: "in", disabled: true, readOnly: false }),
			null, false, 42);
	})`)
	require.NoError(t, err)

	assert.Contains(t, out, `class="box"`)
	assert.Contains(t, out, `style="background-color:red;margin-top:4px;opacity:0.5"`)
	assert.Contains(t, out, `data-x="1"`)
	assert.Contains(t, out, `<label for="in">Name</label>`)
	assert.Contains(t, out, `disabled=""`)
	assert.NotContains(t, out, "readonly")
	assert.Contains(t, out, "42")
}

func TestRenderEscapesText(t *testing.T) {
	h := newHarness(t)
	out, err := h.mount(`(function App() { return h("p", null, "<script>alert(1)</script>"); })`)
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
}

func TestRenderFragmentAndArrays(t *testing.T) {
	h := newHarness(t)
	out, err := h.mount(`(function List() {
		return h(React.Fragment, null, ["a", "b"].map(function (x) { return h("li", { key: x }, x); }));
	})`)
	require.NoError(t, err)
	assert.Equal(t, "<li>a</li><li>b</li>", out)
}

func TestRenderPlainObjectChild(t *testing.T) {
	h := newHarness(t)
	_, err := h.mount(`(function Bad() { return h("div", null, { b: 1, a: 2 }); })`)
	require.Error(t, err)

	f := types.AsFailure(err, types.RuntimeFailure)
	assert.Equal(t, types.ObjectRenderFailure, f.Kind)
	assert.Equal(t, []string{"a", "b"}, f.Keys)
}

func TestRenderThrowingComponent(t *testing.T) {
	h := newHarness(t)
	_, err := h.mount(`(function Boom() { throw new TypeError("nope"); })`)
	require.Error(t, err)
	f := types.AsFailure(err, types.RuntimeFailure)
	assert.Equal(t, types.RuntimeFailure, f.Kind)
	assert.Equal(t, "TypeError: nope", f.Message)
	assert.NotEmpty(t, f.Stack)
}

// =============================================================================
// HOOKS AND EVENTS
// =============================================================================

func TestUseStateAndDispatch(t *testing.T) {
	h := newHarness(t)
	out, err := h.mount(`(function Counter() {
		var s = React.useState(0);
		return h("button", { onClick: function () { s[1](function (n) { return n + 1; }); } }, "count " + s[0]);
	})`)
	require.NoError(t, err)
	assert.Contains(t, out, "count 0")

	var ids []string
	h.call(func(*goja.Runtime) error { ids = h.r.Handlers(); return nil })
	require.Len(t, ids, 1)
	assert.True(t, strings.HasSuffix(ids[0], "#click"))
	assert.Contains(t, out, HandlerAttrPrefix+`click="`+ids[0]+`"`)

	h.call(func(*goja.Runtime) error {
		require.NoError(t, h.r.Dispatch(ids[0], nil))
		return h.r.Dispatch(ids[0], map[string]interface{}{"value": "x"})
	})
	c := h.next()
	require.NoError(t, c.err)
	assert.Contains(t, c.html, "count 2", "updates before the pass coalesce")
}

func TestDispatchUnknownHandler(t *testing.T) {
	h := newHarness(t)
	_, err := h.mount(`(function A() { return null; })`)
	require.NoError(t, err)
	h.call(func(*goja.Runtime) error {
		assert.Error(t, h.r.Dispatch("0:A#click", nil))
		return nil
	})
}

func TestUseEffectDepsAndCleanup(t *testing.T) {
	h := newHarness(t)
	_, err := h.mount(`globalThis.log = [];
	(function Eff() {
		var s = React.useState("a");
		React.useEffect(function () {
			log.push("run " + s[0]);
			return function () { log.push("clean " + s[0]); };
		}, [s[0]]);
		React.useEffect(function () { log.push("every"); });
		return h("i", { onClick: function () { s[1]("b"); } });
	})`)
	require.NoError(t, err)

	var id string
	h.call(func(*goja.Runtime) error { id = h.r.Handlers()[0]; return nil })
	h.dispatch(id, nil)
	require.NoError(t, h.next().err)

	h.call(func(*goja.Runtime) error { h.r.Dispose(); return nil })

	var log []string
	h.call(func(rt *goja.Runtime) error {
		return rt.ExportTo(rt.Get("log"), &log)
	})
	assert.Equal(t, []string{"run a", "every", "clean a", "run b", "every", "clean b"}, log)
}

func TestUseRefMemoContext(t *testing.T) {
	h := newHarness(t)
	out, err := h.mount(`(function () {
		var Theme = React.createContext("light");
		function Leaf() {
			var ref = React.useRef(0);
			ref.current++;
			var doubled = React.useMemo(function () { return 21 * 2; }, []);
			return h("span", null, React.useContext(Theme) + ":" + doubled + ":" + ref.current);
		}
		return function App() {
			return h("div", null, h(Leaf), h(Theme.Provider, { value: "dark" }, h(Leaf)));
		};
	})()`)
	require.NoError(t, err)
	assert.Equal(t, "<div><span>light:42:1</span><span>dark:42:1</span></div>", out)
}

func TestClassComponent(t *testing.T) {
	h := newHarness(t)
	_, err := h.mount(`globalThis.events = [];
	(function () {
		function Clock(props) {
			React.Component.call(this, props);
			this.state = { ticks: 0 };
		}
		Clock.prototype = Object.create(React.Component.prototype);
		Clock.prototype.componentDidMount = function () {
			events.push("mounted");
			this.setState({ ticks: 1 }, function () { events.push("after"); });
		};
		Clock.prototype.componentWillUnmount = function () { events.push("unmounted"); };
		Clock.prototype.render = function () { return h("b", null, "t" + this.state.ticks); };
		return Clock;
	})()`)
	require.NoError(t, err)

	c := h.next()
	require.NoError(t, c.err)
	assert.Equal(t, "<b>t1</b>", c.html)

	h.call(func(*goja.Runtime) error { h.r.Dispose(); return nil })
	var events []string
	h.call(func(rt *goja.Runtime) error { return rt.ExportTo(rt.Get("events"), &events) })
	assert.Equal(t, []string{"mounted", "after", "unmounted"}, events)
}

func TestHookOutsideComponent(t *testing.T) {
	h := newHarness(t)
	h.call(func(rt *goja.Runtime) error {
		_, err := rt.RunString(`React.useState(1)`)
		assert.Error(t, err)
		return nil
	})
}

// =============================================================================
// NATIVES
// =============================================================================

func TestDelayedMount(t *testing.T) {
	h := newHarness(t)
	var out string
	var err error
	h.call(func(rt *goja.Runtime) error {
		inner, _ := rt.RunString(`(function Chart() { return h("svg", { width: 10 }); })`)
		wrapped := h.r.H(DelayedMount(20*time.Millisecond), nil, h.r.NewElement(inner, nil))
		comp := rt.ToValue(func(goja.FunctionCall) goja.Value { return wrapped })
		out, err = h.r.Mount(comp)
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, out, "min-height:400px")
	assert.NotContains(t, out, "<svg")

	c := h.next()
	require.NoError(t, c.err)
	assert.Contains(t, c.html, `<svg width="10">`)
}

func TestDefinitions(t *testing.T) {
	h := newHarness(t)
	var out string
	h.call(func(rt *goja.Runtime) error {
		val, _ := rt.RunString(`({ rate: 0.5, fmt: function () {}, tags: [] })`)
		comp := rt.ToValue(func(goja.FunctionCall) goja.Value {
			return h.r.H(Definitions("X", val), nil)
		})
		var err error
		out, err = h.r.Mount(comp)
		return err
	})
	assert.Contains(t, out, "live-definitions")
	assert.Contains(t, out, "<code>rate</code>: number")
	assert.Contains(t, out, "<code>fmt</code>: function")
	assert.Contains(t, out, "<code>tags</code>: array")
}

func TestCatalogTabsAndSwitch(t *testing.T) {
	h := newHarness(t)
	out, err := h.mount(`(function App() {
		return h(Card, { className: "wide" },
			h(Tabs, { defaultValue: "one" },
				h(TabsList, null, h(TabsTrigger, { value: "one" }, "One"), h(TabsTrigger, { value: "two" }, "Two")),
				h(TabsContent, { value: "one" }, "first"),
				h(TabsContent, { value: "two" }, "second")),
			h(Switch, { defaultChecked: false }),
			h(PieChart, { width: 300, data: [{ v: 1 }], onClick: function () {} }));
	})`)
	require.NoError(t, err)
	assert.Contains(t, out, `class="live-card wide"`)
	assert.Contains(t, out, "first")
	assert.NotContains(t, out, "second")
	assert.Contains(t, out, `aria-checked="false"`)
	assert.Contains(t, out, `data-widget="PieChart"`)
	assert.Contains(t, out, `data-props="{&#34;data&#34;:[{&#34;v&#34;:1}],&#34;width&#34;:300}"`)

	var trigger string
	h.call(func(*goja.Runtime) error {
		for _, id := range h.r.Handlers() {
			if strings.Contains(id, "0.1:TabsTrigger") {
				trigger = id
			}
		}
		return nil
	})
	require.NotEmpty(t, trigger)
	h.dispatch(trigger, nil)
	c := h.next()
	require.NoError(t, c.err)
	assert.Contains(t, c.html, "second")
	assert.NotContains(t, c.html, "first")
}

func TestCatalogNames(t *testing.T) {
	names := CatalogNames()
	assert.Contains(t, names, "ResponsiveContainer")
	assert.Contains(t, names, "CardTitle")
	assert.Contains(t, names, "TrendingDown")
	assert.IsIncreasing(t, names)
}

// =============================================================================
// PANELS
// =============================================================================

func TestErrorPanel(t *testing.T) {
	f := types.NewFailure(types.SyntaxFailure, "Unexpected <").WithLocation(3, 7).WithStack("at line 3")
	out := ErrorPanel(f)
	assert.Contains(t, out, "Syntax error")
	assert.Contains(t, out, "Unexpected &lt;")
	assert.Contains(t, out, "line 3, column 7")
	assert.Contains(t, out, "<details")
	assert.Contains(t, out, HandlerAttrPrefix+`click="`+RetryHandlerID+`"`)

	obj := types.NewFailure(types.ObjectRenderFailure, "plain object")
	obj.Keys = []string{"x", "y"}
	out = ErrorPanel(obj)
	assert.Contains(t, out, "<code>x</code>")
	assert.NotContains(t, out, RetryHandlerID)

	assert.Empty(t, ErrorPanel(nil))
}
