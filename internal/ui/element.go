// Package ui is the server-side rendering surface for snippets: a small
// React-compatible element model, hooks keyed by tree position, and HTML
// serialisation through golang.org/x/net/html.
package ui

import (
	"github.com/dop251/goja"
)

// Element is what React.createElement returns.
type Element struct {
	Type  goja.Value   `json:"type"`
	Props *goja.Object `json:"props"`
	Key   string       `json:"key"`
}

// Native is a component implemented in Go. Render runs with the component's
// hook frame active, so it may use the Renderer's hook helpers.
type Native struct {
	Name   string
	Render func(r *Renderer, props *goja.Object) (goja.Value, error)

	// provider is set for Context.Provider natives.
	provider *ContextRef
}

// ContextRef is the value returned by React.createContext.
type ContextRef struct {
	Default  goja.Value `json:"-"`
	Provider *Native    `json:"Provider"`
	Consumer *Native    `json:"Consumer"`
}

// AsElement returns the Element behind v, if any.
func AsElement(v goja.Value) (*Element, bool) {
	if v == nil {
		return nil, false
	}
	el, ok := v.Export().(*Element)
	return el, ok
}

// AsNative returns the Native behind v, if any.
func AsNative(v goja.Value) (*Native, bool) {
	if v == nil {
		return nil, false
	}
	n, ok := v.Export().(*Native)
	return n, ok
}

// IsNullish reports undefined or null (or a Go nil).
func IsNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

// TypeName mirrors JS typeof, with arrays and null named separately.
func TypeName(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if _, ok := goja.AssertFunction(v); ok {
		return "function"
	}
	switch v.Export().(type) {
	case string:
		return "string"
	case int64, float64:
		return "number"
	case bool:
		return "boolean"
	case []interface{}:
		return "array"
	case *Element:
		return "element"
	}
	if obj, ok := v.(*goja.Object); ok && obj.ClassName() == "Array" {
		return "array"
	}
	return "object"
}
