package ui

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"golang.org/x/net/html"

	"livenote/internal/jsloop"
	"livenote/internal/logging"
	"livenote/internal/types"
)

// CommitFunc receives the HTML of every committed render pass, or the
// render-phase error that prevented it.
type CommitFunc func(html string, err error)

// instance is the state behind one component at one tree position.
type instance struct {
	path     string
	hooks    []interface{}
	class    *goja.Object
	didMount bool
}

// Renderer expands a component tree into HTML and keeps hook state between
// passes. All methods run on the loop goroutine.
type Renderer struct {
	rt   *goja.Runtime
	loop *jsloop.Loop

	onCommit CommitFunc

	root      goja.Value
	instances map[string]*instance
	visited   map[string]bool
	handlers  map[string]goja.Callable

	current   *instance
	hookIndex int

	effects     []func()
	afterCommit []func()
	contexts    map[*ContextRef][]goja.Value

	react    *goja.Object
	fragment goja.Value

	scheduled bool
	disposed  bool
	passes    int
}

// NewRenderer creates a renderer bound to one loop's runtime.
func NewRenderer(rt *goja.Runtime, loop *jsloop.Loop, onCommit CommitFunc) *Renderer {
	if onCommit == nil {
		onCommit = func(string, error) {}
	}
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	return &Renderer{
		rt:        rt,
		loop:      loop,
		onCommit:  onCommit,
		instances: map[string]*instance{},
		handlers:  map[string]goja.Callable{},
		contexts:  map[*ContextRef][]goja.Value{},
	}
}

// Runtime returns the goja runtime the renderer is bound to.
func (r *Renderer) Runtime() *goja.Runtime { return r.rt }

// Loop returns the event loop the renderer schedules on.
func (r *Renderer) Loop() *jsloop.Loop { return r.loop }

// Passes returns the number of committed render passes.
func (r *Renderer) Passes() int { return r.passes }

// Mount renders component as the root and returns the first pass's HTML.
func (r *Renderer) Mount(component goja.Value) (string, error) {
	r.root = component
	return r.pass()
}

// Invalidate schedules a re-render on the loop. Repeated calls before the
// pass runs coalesce.
func (r *Renderer) Invalidate() {
	if r.scheduled || r.disposed || r.root == nil {
		return
	}
	r.scheduled = true
	r.loop.Schedule(func(*goja.Runtime) {
		r.scheduled = false
		if r.disposed {
			return
		}
		out, err := r.pass()
		r.onCommit(out, err)
	})
}

// Dispose unmounts every component, running effect cleanups and
// componentWillUnmount.
func (r *Renderer) Dispose() {
	if r.disposed {
		return
	}
	r.disposed = true
	for path, inst := range r.instances {
		r.unmount(inst)
		delete(r.instances, path)
	}
	r.handlers = map[string]goja.Callable{}
}

func (r *Renderer) pass() (out string, err error) {
	timer := logging.StartTimer(logging.CategoryRender, "render pass")
	defer timer.Stop()

	defer func() {
		if rec := recover(); rec != nil {
			err = panicFailure(rec)
		}
	}()

	r.visited = map[string]bool{}
	r.handlers = map[string]goja.Callable{}
	r.effects = nil

	rootEl := r.rt.ToValue(&Element{Type: r.root, Props: r.rt.NewObject()})
	nodes, err := r.renderValue(rootEl, "0")
	if err != nil {
		return "", err
	}

	for path, inst := range r.instances {
		if !r.visited[path] {
			r.unmount(inst)
			delete(r.instances, path)
		}
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		if err := html.Render(&buf, n); err != nil {
			return "", types.WrapFailure(types.RuntimeFailure, err)
		}
	}
	r.passes++

	// Callbacks queued by effects wait for the pass those effects trigger.
	callbacks := r.afterCommit
	r.afterCommit = nil
	for _, fn := range r.effects {
		fn()
	}
	for _, fn := range callbacks {
		fn()
	}
	return buf.String(), nil
}

// =============================================================================
// TREE EXPANSION
// =============================================================================

func (r *Renderer) renderValue(v goja.Value, path string) ([]*html.Node, error) {
	if IsNullish(v) {
		return nil, nil
	}
	switch x := v.Export().(type) {
	case bool:
		return nil, nil
	case string:
		return []*html.Node{{Type: html.TextNode, Data: x}}, nil
	case int64, float64:
		return []*html.Node{{Type: html.TextNode, Data: v.String()}}, nil
	case *Element:
		return r.renderElement(x, path)
	case *Native:
		return nil, nil
	}
	if _, ok := goja.AssertFunction(v); ok {
		// functions are not valid children
		return nil, nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return []*html.Node{{Type: html.TextNode, Data: v.String()}}, nil
	}
	if obj.ClassName() == "Array" {
		return r.renderArray(obj, path)
	}
	keys := obj.Keys()
	sort.Strings(keys)
	f := types.NewFailure(types.ObjectRenderFailure,
		"Objects are not valid as a UI child (found: object with keys {%s})", strings.Join(keys, ", "))
	f.Keys = keys
	return nil, f
}

func (r *Renderer) renderArray(arr *goja.Object, path string) ([]*html.Node, error) {
	n := int(arr.Get("length").ToInteger())
	var out []*html.Node
	for i := 0; i < n; i++ {
		child := arr.Get(strconv.Itoa(i))
		childPath := path + "." + strconv.Itoa(i)
		if el, ok := AsElement(child); ok && el.Key != "" {
			childPath = path + ".$" + el.Key
		}
		nodes, err := r.renderValue(child, childPath)
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
	}
	return out, nil
}

func (r *Renderer) renderElement(el *Element, path string) ([]*html.Node, error) {
	props := el.Props
	if props == nil {
		props = r.rt.NewObject()
	}

	if tag, ok := el.Type.Export().(string); ok {
		return r.renderHost(tag, props, path)
	}
	if n, ok := AsNative(el.Type); ok {
		return r.renderNative(n, props, path)
	}
	fn, ok := goja.AssertFunction(el.Type)
	if !ok {
		return nil, types.NewFailure(types.RuntimeFailure,
			"element type is invalid: expected a string or a component but got %s", TypeName(el.Type))
	}
	ctor := el.Type.(*goja.Object)
	if isClassComponent(ctor) {
		return r.renderClass(ctor, props, path)
	}
	return r.renderFunction(fn, ctor, props, path)
}

func componentName(obj *goja.Object) string {
	if name := obj.Get("displayName"); !IsNullish(name) {
		return name.String()
	}
	if name := obj.Get("name"); !IsNullish(name) && name.String() != "" {
		return name.String()
	}
	return "Anonymous"
}

func isClassComponent(ctor *goja.Object) bool {
	proto, ok := ctor.Get("prototype").(*goja.Object)
	if !ok || proto == nil {
		return false
	}
	if v := proto.Get("isReactComponent"); !IsNullish(v) {
		return true
	}
	_, hasRender := goja.AssertFunction(proto.Get("render"))
	return hasRender
}

// enter makes the instance at path current for hook calls.
func (r *Renderer) enter(path string) (restore func(), inst *instance) {
	inst, ok := r.instances[path]
	if !ok {
		inst = &instance{path: path}
		r.instances[path] = inst
	}
	r.visited[path] = true

	prev, prevIndex := r.current, r.hookIndex
	r.current, r.hookIndex = inst, 0
	return func() { r.current, r.hookIndex = prev, prevIndex }, inst
}

func (r *Renderer) renderFunction(fn goja.Callable, obj *goja.Object, props *goja.Object, path string) ([]*html.Node, error) {
	path = path + ":" + componentName(obj)
	restore, _ := r.enter(path)
	res, err := fn(goja.Undefined(), props)
	restore()
	if err != nil {
		return nil, jsFailure(err)
	}
	return r.renderValue(res, path+"/0")
}

func (r *Renderer) renderClass(ctor *goja.Object, props *goja.Object, path string) ([]*html.Node, error) {
	path = path + ":" + componentName(ctor)
	restore, inst := r.enter(path)
	defer restore()

	if inst.class == nil {
		obj, err := r.rt.New(ctor, props)
		if err != nil {
			return nil, jsFailure(err)
		}
		inst.class = obj
	} else {
		_ = inst.class.Set("props", props)
	}

	render, ok := goja.AssertFunction(inst.class.Get("render"))
	if !ok {
		return nil, types.NewFailure(types.RuntimeFailure, "class component %s has no render method", componentName(ctor))
	}
	res, err := render(inst.class)
	if err != nil {
		return nil, jsFailure(err)
	}

	if !inst.didMount {
		inst.didMount = true
		obj := inst.class
		r.effects = append(r.effects, func() {
			if fn, ok := goja.AssertFunction(obj.Get("componentDidMount")); ok {
				if _, err := fn(obj); err != nil {
					logging.RenderError("componentDidMount: %v", err)
				}
			}
		})
	}
	return r.renderValue(res, path+"/0")
}

func (r *Renderer) renderNative(n *Native, props *goja.Object, path string) ([]*html.Node, error) {
	if n.provider != nil {
		ref := n.provider
		r.contexts[ref] = append(r.contexts[ref], props.Get("value"))
		defer func() { r.contexts[ref] = r.contexts[ref][:len(r.contexts[ref])-1] }()
		return r.renderValue(props.Get("children"), path+":Provider")
	}

	path = path + ":" + n.Name
	restore, _ := r.enter(path)
	res, err := n.Render(r, props)
	restore()
	if err != nil {
		return nil, err
	}
	return r.renderValue(res, path+"/0")
}

func (r *Renderer) unmount(inst *instance) {
	for _, h := range inst.hooks {
		if e, ok := h.(*effectSlot); ok {
			e.runCleanup()
		}
	}
	if inst.class != nil {
		if fn, ok := goja.AssertFunction(inst.class.Get("componentWillUnmount")); ok {
			if _, err := fn(inst.class); err != nil {
				logging.RenderError("componentWillUnmount: %v", err)
			}
		}
	}
}

// =============================================================================
// EVENTS
// =============================================================================

// Handlers returns the ids of the handlers registered by the last pass.
func (r *Renderer) Handlers() []string {
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dispatch invokes a registered handler with an event object built from
// payload. State updates it makes schedule a re-render.
func (r *Renderer) Dispatch(id string, payload map[string]interface{}) error {
	h, ok := r.handlers[id]
	if !ok {
		return fmt.Errorf("unknown handler %q", id)
	}
	ev := r.rt.NewObject()
	target := r.rt.NewObject()
	for k, v := range payload {
		_ = ev.Set(k, v)
		if k == "value" || k == "checked" {
			_ = target.Set(k, v)
		}
	}
	_ = ev.Set("target", target)
	_ = ev.Set("currentTarget", target)
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	_ = ev.Set("preventDefault", noop)
	_ = ev.Set("stopPropagation", noop)

	if _, err := h(goja.Undefined(), ev); err != nil {
		return jsFailure(err)
	}
	return nil
}

// =============================================================================
// ERRORS
// =============================================================================

// jsFailure converts a goja error into a RuntimeFailure, keeping Failures
// thrown from Go intact.
func jsFailure(err error) error {
	if ex, ok := err.(*goja.Exception); ok {
		if f, ok := ex.Value().Export().(*types.Failure); ok {
			return f
		}
		msg := ex.Value().String()
		if obj, ok := ex.Value().(*goja.Object); ok {
			if m := obj.Get("message"); !IsNullish(m) {
				msg = m.String()
				if name := obj.Get("name"); !IsNullish(name) && name.String() != "Error" {
					msg = name.String() + ": " + msg
				}
			}
		}
		f := types.WrapFailure(types.RuntimeFailure, err)
		if f.Kind == types.RuntimeFailure && f.Unwrap() == err {
			f.Message = msg
			f = f.WithStack(ex.String())
		}
		return f
	}
	return types.AsFailure(err, types.RuntimeFailure)
}

func logRenderError(op string, err error) {
	logging.RenderError("%s: %v", op, jsFailure(err))
}

func panicFailure(rec interface{}) error {
	if f, ok := rec.(*types.Failure); ok {
		return f
	}
	if err, ok := rec.(error); ok {
		return jsFailure(err)
	}
	if v, ok := rec.(goja.Value); ok {
		msg := v.String()
		if obj, ok := v.(*goja.Object); ok {
			if m := obj.Get("message"); !IsNullish(m) {
				msg = m.String()
			}
		}
		return types.NewFailure(types.RuntimeFailure, "%s", msg)
	}
	return types.NewFailure(types.RuntimeFailure, "render panicked: %v", rec)
}
