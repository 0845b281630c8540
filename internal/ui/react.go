package ui

import (
	"strconv"

	"github.com/dop251/goja"
)

// classPrelude defines Component and PureComponent in JS so that snippet
// classes can extend them with ordinary class syntax.
const classPrelude = `(function (invalidate) {
  function Component(props) {
    this.props = props || {};
    this.state = this.state || {};
  }
  Component.prototype.isReactComponent = {};
  Component.prototype.setState = function (partial, callback) {
    var next = typeof partial === "function" ? partial(this.state, this.props) : partial;
    if (next != null) this.state = Object.assign({}, this.state, next);
    invalidate(callback);
  };
  Component.prototype.forceUpdate = function (callback) { invalidate(callback); };
  function PureComponent(props) { Component.call(this, props); }
  PureComponent.prototype = Object.create(Component.prototype);
  PureComponent.prototype.constructor = PureComponent;
  function forwardRef(render) {
    var fn = function (props) { return render(props, props && props.ref !== undefined ? props.ref : null); };
    fn.displayName = render.displayName || render.name || "ForwardRef";
    return fn;
  }
  function memo(component) { return component; }
  return { Component: Component, PureComponent: PureComponent, forwardRef: forwardRef, memo: memo };
})`

// React builds the React-compatible namespace object bound to this renderer.
func (r *Renderer) React() (*goja.Object, error) {
	if r.react != nil {
		return r.react, nil
	}
	rt := r.rt

	factory, err := rt.RunString(classPrelude)
	if err != nil {
		return nil, err
	}
	mk, _ := goja.AssertFunction(factory)
	classes, err := mk(goja.Undefined(), rt.ToValue(r.classInvalidate))
	if err != nil {
		return nil, err
	}
	cls := classes.ToObject(rt)

	obj := rt.NewObject()
	set := func(name string, v interface{}) { _ = obj.Set(name, v) }
	set("createElement", r.createElement)
	set("cloneElement", r.cloneElement)
	set("isValidElement", func(call goja.FunctionCall) goja.Value {
		_, ok := AsElement(call.Argument(0))
		return rt.ToValue(ok)
	})
	set("createContext", r.createContext)
	set("Fragment", r.Fragment())
	set("Children", r.children())
	for _, name := range []string{"Component", "PureComponent", "forwardRef", "memo"} {
		set(name, cls.Get(name))
	}
	for name, hook := range r.Hooks() {
		set(name, hook)
	}
	r.react = obj
	return obj, nil
}

// Hooks returns the hook functions by their exported names.
func (r *Renderer) Hooks() map[string]func(goja.FunctionCall) goja.Value {
	return map[string]func(goja.FunctionCall) goja.Value{
		"useState":        r.useState,
		"useReducer":      r.useReducer,
		"useEffect":       r.useEffect,
		"useLayoutEffect": r.useEffect,
		"useRef":          r.useRef,
		"useMemo":         r.useMemo,
		"useCallback":     r.useCallback,
		"useContext":      r.useContext,
	}
}

func (r *Renderer) classInvalidate(call goja.FunctionCall) goja.Value {
	if cb, ok := goja.AssertFunction(call.Argument(0)); ok {
		r.afterCommit = append(r.afterCommit, func() {
			if _, err := cb(goja.Undefined()); err != nil {
				logRenderError("setState callback", err)
			}
		})
	}
	r.Invalidate()
	return goja.Undefined()
}

// =============================================================================
// ELEMENTS
// =============================================================================

func (r *Renderer) createElement(call goja.FunctionCall) goja.Value {
	typ := call.Argument(0)
	if IsNullish(typ) {
		panic(r.rt.NewTypeError("createElement: type is invalid, expected a string or a component but got %s", TypeName(typ)))
	}
	props := r.rt.NewObject()
	if cfg, ok := call.Argument(1).(*goja.Object); ok && !IsNullish(call.Argument(1)) {
		for _, k := range cfg.Keys() {
			_ = props.Set(k, cfg.Get(k))
		}
	}
	var children []goja.Value
	if len(call.Arguments) > 2 {
		children = call.Arguments[2:]
	}
	return r.NewElement(typ, props, children...)
}

// NewElement builds an element. Children replace props.children when given.
func (r *Renderer) NewElement(typ goja.Value, props *goja.Object, children ...goja.Value) goja.Value {
	if props == nil {
		props = r.rt.NewObject()
	}
	switch len(children) {
	case 0:
	case 1:
		_ = props.Set("children", children[0])
	default:
		vals := make([]interface{}, len(children))
		for i, c := range children {
			vals[i] = c
		}
		_ = props.Set("children", r.rt.NewArray(vals...))
	}
	el := &Element{Type: typ, Props: props}
	if k := props.Get("key"); !IsNullish(k) {
		el.Key = k.String()
	}
	return r.rt.ToValue(el)
}

// H builds a host or native element from Go. attrs may hold Go values or
// goja values.
func (r *Renderer) H(typ interface{}, attrs map[string]interface{}, children ...goja.Value) goja.Value {
	props := r.rt.NewObject()
	for k, v := range attrs {
		_ = props.Set(k, v)
	}
	return r.NewElement(r.rt.ToValue(typ), props, children...)
}

// Text wraps a Go string as a child value.
func (r *Renderer) Text(s string) goja.Value { return r.rt.ToValue(s) }

func (r *Renderer) cloneElement(call goja.FunctionCall) goja.Value {
	el, ok := AsElement(call.Argument(0))
	if !ok {
		panic(r.rt.NewTypeError("cloneElement expects an element"))
	}
	props := r.rt.NewObject()
	if el.Props != nil {
		for _, k := range el.Props.Keys() {
			_ = props.Set(k, el.Props.Get(k))
		}
	}
	if extra, ok := call.Argument(1).(*goja.Object); ok && !IsNullish(call.Argument(1)) {
		for _, k := range extra.Keys() {
			_ = props.Set(k, extra.Get(k))
		}
	}
	var children []goja.Value
	if len(call.Arguments) > 2 {
		children = call.Arguments[2:]
	}
	if IsNullish(props.Get("key")) && el.Key != "" {
		_ = props.Set("key", el.Key)
	}
	return r.NewElement(el.Type, props, children...)
}

func (r *Renderer) createContext(call goja.FunctionCall) goja.Value {
	ref := &ContextRef{Default: call.Argument(0)}
	ref.Provider = &Native{Name: "Provider", provider: ref}
	ref.Consumer = &Native{Name: "Consumer", Render: func(r *Renderer, props *goja.Object) (goja.Value, error) {
		fn, ok := goja.AssertFunction(props.Get("children"))
		if !ok {
			return goja.Null(), nil
		}
		return fn(goja.Undefined(), r.ContextValue(ref))
	}}
	return r.rt.ToValue(ref)
}

// Fragment returns the shared Fragment component.
func (r *Renderer) Fragment() goja.Value {
	if r.fragment == nil {
		r.fragment = r.rt.ToValue(&Native{Name: "Fragment", Render: func(_ *Renderer, props *goja.Object) (goja.Value, error) {
			return props.Get("children"), nil
		}})
	}
	return r.fragment
}

// children implements the commonly used parts of React.Children.
func (r *Renderer) children() *goja.Object {
	rt := r.rt
	toArray := func(v goja.Value) []interface{} {
		if IsNullish(v) {
			return nil
		}
		if obj, ok := v.(*goja.Object); ok && obj.ClassName() == "Array" {
			n := int(obj.Get("length").ToInteger())
			out := make([]interface{}, 0, n)
			for i := 0; i < n; i++ {
				if c := obj.Get(strconv.Itoa(i)); !IsNullish(c) {
					out = append(out, c)
				}
			}
			return out
		}
		return []interface{}{v}
	}
	obj := rt.NewObject()
	_ = obj.Set("toArray", func(call goja.FunctionCall) goja.Value {
		return rt.NewArray(toArray(call.Argument(0))...)
	})
	_ = obj.Set("count", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(len(toArray(call.Argument(0))))
	})
	_ = obj.Set("map", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			panic(rt.NewTypeError("Children.map expects a function"))
		}
		items := toArray(call.Argument(0))
		out := make([]interface{}, 0, len(items))
		for i, c := range items {
			v, err := fn(goja.Undefined(), rt.ToValue(c), rt.ToValue(i))
			if err != nil {
				panic(err)
			}
			out = append(out, v)
		}
		return rt.NewArray(out...)
	})
	_ = obj.Set("only", func(call goja.FunctionCall) goja.Value {
		items := toArray(call.Argument(0))
		if len(items) != 1 {
			panic(rt.NewTypeError("React.Children.only expected to receive a single element child"))
		}
		return rt.ToValue(items[0])
	})
	return obj
}
