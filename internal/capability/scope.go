// Package capability assembles the bindings a snippet executes against. The
// scope is the only channel between snippet code and the host: every side
// effect goes through a function installed here.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"

	"livenote/internal/config"
	"livenote/internal/document"
	"livenote/internal/logging"
	"livenote/internal/market"
	"livenote/internal/picker"
	"livenote/internal/rewrite"
	"livenote/internal/storage"
	"livenote/internal/types"
	"livenote/internal/ui"
)

// Notifier shows transient messages to the user. Notify may be called from
// any goroutine.
type Notifier interface {
	Notify(doc, message string)
}

// LogNotifier writes notices to the scope log.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(doc, message string) {
	logging.ScopeWarn("[%s] %s", doc, message)
}

// Env is everything a scope is built from. Renderer, Document and Docs are
// required; the rest degrade gracefully when nil.
type Env struct {
	Renderer    *ui.Renderer
	Document    string
	Frontmatter map[string]interface{} // snapshot taken by the host
	Docs        document.Store
	Storage     *storage.Manager
	Market      *market.Service
	MarketStore market.Store
	Analyzer    market.Analyzer // order-block annotations; nil rejects analyzeOrderBlocks
	Picker      picker.Picker
	Notifier    Notifier

	Theme      string // dark or light
	MountDelay time.Duration
	Extensions []string // readFile picker allow-list
	UsesThree  bool
}

// Scope is a flat binding table. Names are sorted; Values[i] binds Names[i].
type Scope struct {
	Names  []string
	Values []goja.Value
}

// Lookup returns the value bound to name.
func (s Scope) Lookup(name string) (goja.Value, bool) {
	i := sort.SearchStrings(s.Names, name)
	if i < len(s.Names) && s.Names[i] == name {
		return s.Values[i], true
	}
	return nil, false
}

type builder struct {
	env      Env
	rt       *goja.Runtime
	r        *ui.Renderer
	bindings map[string]goja.Value
}

// Build assembles the scope for one render. It performs no I/O; reads and
// writes happen inside the installed functions when snippet code calls them.
func Build(env Env) (Scope, error) {
	if env.Renderer == nil {
		return Scope{}, fmt.Errorf("capability scope needs a renderer")
	}
	if env.Notifier == nil {
		env.Notifier = LogNotifier{}
	}
	if env.Picker == nil {
		env.Picker = picker.None{}
	}
	if env.Theme == "" {
		env.Theme = config.ThemeDark
	}
	if len(env.Extensions) == 0 {
		env.Extensions = picker.DefaultExtensions
	}
	b := &builder{env: env, rt: env.Renderer.Runtime(), r: env.Renderer, bindings: map[string]goja.Value{}}

	react, err := b.r.React()
	if err != nil {
		return Scope{}, fmt.Errorf("build React namespace: %w", err)
	}
	b.set("React", react)
	for name, hook := range b.r.Hooks() {
		b.set(name, hook)
	}
	for name, v := range b.r.Catalog() {
		b.set(name, v)
	}

	b.set("useStorage", b.useStorage)
	b.set("useMarketData", b.useMarketData)
	b.set("analyzeOrderBlocks", b.analyzeOrderBlocks)
	b.set("readFile", b.readFile)
	b.set("getFrontmatter", b.getFrontmatter)
	b.set("updateFrontmatter", b.updateFrontmatter)
	b.set("notify", b.notify)
	b.set("Notice", b.noticeCtor)
	b.set("noteContext", b.noteContext())
	b.set("getTheme", b.getTheme)
	b.set("getChartTheme", b.getTheme)
	b.set("getChartDefaults", b.getChartDefaults)
	b.set("console", b.console())
	b.set(rewrite.HarnessName, b.harness())
	if env.UsesThree {
		three, err := b.three()
		if err != nil {
			return Scope{}, fmt.Errorf("build THREE bundle: %w", err)
		}
		b.set("THREE", three)
		logging.Scope("3D bundle included for %s", env.Document)
	}

	s := Scope{Names: types.SortedKeys(b.bindings)}
	s.Values = make([]goja.Value, len(s.Names))
	for i, name := range s.Names {
		s.Values[i] = b.bindings[name]
	}
	logging.Get(logging.CategoryScope).Debug("Built scope for %s with %d bindings", env.Document, len(s.Names))
	return s, nil
}

func (b *builder) set(name string, v interface{}) {
	if gv, ok := v.(goja.Value); ok {
		b.bindings[name] = gv
		return
	}
	b.bindings[name] = b.rt.ToValue(v)
}

// =============================================================================
// VALUE CONVERSION
// =============================================================================

// toJS turns a Go value into native JS values (real arrays and objects, not
// wrapped Go maps) by a JSON round trip.
func toJS(rt *goja.Runtime, v interface{}) goja.Value {
	switch x := v.(type) {
	case nil:
		return goja.Null()
	case goja.Value:
		return x
	case string, bool, int, int64, float64:
		return rt.ToValue(x)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return rt.ToValue(v)
	}
	parse, _ := goja.AssertFunction(rt.Get("JSON").ToObject(rt).Get("parse"))
	out, err := parse(goja.Undefined(), rt.ToValue(string(data)))
	if err != nil {
		return rt.ToValue(v)
	}
	return out
}

// export turns a JS value into YAML-friendly Go values.
func export(v goja.Value) interface{} {
	if ui.IsNullish(v) {
		return nil
	}
	return v.Export()
}

// promise runs work off the loop and settles a JS promise with its result.
func (b *builder) promise(work func(ctx context.Context) (interface{}, error)) goja.Value {
	p, resolve, reject := b.rt.NewPromise()
	b.r.Loop().Async(func(ctx context.Context) func(*goja.Runtime) {
		v, err := work(ctx)
		return func(rt *goja.Runtime) {
			if err != nil {
				reject(rt.NewGoError(err))
				return
			}
			resolve(toJS(rt, v))
		}
	})
	return b.rt.ToValue(p)
}

func argString(call goja.FunctionCall, i int) string {
	return types.ExtractString(export(call.Argument(i)))
}

// argBool accepts booleans and "true"/"false"; anything else is read by JS
// truthiness.
func argBool(call goja.FunctionCall, i int) bool {
	v := call.Argument(i)
	if b, ok := types.ExtractBool(export(v)); ok {
		return b
	}
	return !ui.IsNullish(v) && v.ToBoolean()
}

// target resolves an optional document path argument against the current one.
func (b *builder) target(call goja.FunctionCall, i int) string {
	if p := argString(call, i); p != "" {
		return document.Clean(p)
	}
	return b.env.Document
}

// =============================================================================
// CONTEXT AND PRESENTATION
// =============================================================================

func (b *builder) noteContext() goja.Value {
	fm := b.env.Frontmatter
	if fm == nil {
		fm = map[string]interface{}{}
	}
	obj := b.rt.NewObject()
	_ = obj.Set("path", b.env.Document)
	_ = obj.Set("basename", document.Basename(b.env.Document))
	_ = obj.Set("frontmatter", toJS(b.rt, fm))
	return obj
}

func (b *builder) getTheme(goja.FunctionCall) goja.Value {
	return b.rt.ToValue(b.env.Theme)
}

// ChartDefaults returns the chart margin and colours for a theme.
func ChartDefaults(theme string) map[string]interface{} {
	bg, fg := "#ffffff", "#000000"
	if theme == config.ThemeDark {
		bg, fg = "#1a1b1e", "#ffffff"
	}
	return map[string]interface{}{
		"margin": map[string]interface{}{"top": 10, "right": 30, "left": 0, "bottom": 0},
		"style":  map[string]interface{}{"backgroundColor": bg, "color": fg},
	}
}

func (b *builder) getChartDefaults(goja.FunctionCall) goja.Value {
	return toJS(b.rt, ChartDefaults(b.env.Theme))
}

func (b *builder) notify(call goja.FunctionCall) goja.Value {
	b.env.Notifier.Notify(b.env.Document, argString(call, 0))
	return goja.Undefined()
}

func (b *builder) noticeCtor(call goja.ConstructorCall) *goja.Object {
	b.env.Notifier.Notify(b.env.Document, call.Argument(0).String())
	return nil
}

func (b *builder) console() goja.Value {
	log := logging.Get(logging.CategorySnippet)
	obj := b.rt.NewObject()
	line := func(call goja.FunctionCall) string {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		return fmt.Sprintf("[%s] %s", b.env.Document, strings.Join(parts, " "))
	}
	method := func(emit func(string, ...interface{})) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			emit("%s", line(call))
			return goja.Undefined()
		}
	}
	_ = obj.Set("log", method(log.Info))
	_ = obj.Set("info", method(log.Info))
	_ = obj.Set("debug", method(log.Debug))
	_ = obj.Set("warn", method(log.Warn))
	_ = obj.Set("error", method(log.Error))
	return obj
}
