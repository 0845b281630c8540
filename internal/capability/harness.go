package capability

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"livenote/internal/logging"
	"livenote/internal/ui"
)

// MissingEntityError is the JS error name thrown when the detected entity
// evaluates to undefined.
const MissingEntityError = "MissingEntityError"

// delayedMountMarkers in a component's source mean it measures its container.
var delayedMountMarkers = []string{"ResponsiveContainer", "svg"}

func (b *builder) harness() goja.Value {
	obj := b.rt.NewObject()
	_ = obj.Set("classify", b.classify)
	return obj
}

// classify(value, name, snippet) turns the snippet's top-level value into
// something the renderer can mount.
func (b *builder) classify(call goja.FunctionCall) goja.Value {
	rt := b.rt
	value := call.Argument(0)
	name := argString(call, 1)

	if value == nil || goja.IsUndefined(value) {
		msg := fmt.Sprintf("Component %q was matched but is undefined. Code context: %s", name, argString(call, 2))
		e, err := rt.New(rt.Get("Error"), rt.ToValue(msg))
		if err != nil {
			panic(rt.NewTypeError(msg))
		}
		_ = e.Set("name", MissingEntityError)
		panic(e)
	}

	if _, ok := goja.AssertFunction(value); ok {
		src := value.String()
		for _, marker := range delayedMountMarkers {
			if strings.Contains(src, marker) {
				logging.Get(logging.CategoryScope).Debug("%s wrapped in delayed mount (%s)", name, marker)
				return rt.ToValue(b.delayed(name, value))
			}
		}
		return value
	}

	if _, ok := ui.AsElement(value); ok {
		return rt.ToValue(&ui.Native{Name: name, Render: func(*ui.Renderer, *goja.Object) (goja.Value, error) {
			return value, nil
		}})
	}
	if _, ok := ui.AsNative(value); ok {
		return value
	}

	logging.Get(logging.CategoryScope).Debug("%s is a definitions block (%s)", name, ui.TypeName(value))
	return rt.ToValue(ui.Definitions(name, value))
}

func (b *builder) delayed(name string, component goja.Value) *ui.Native {
	mount := b.rt.ToValue(ui.DelayedMount(b.env.MountDelay))
	return &ui.Native{Name: name, Render: func(r *ui.Renderer, props *goja.Object) (goja.Value, error) {
		return r.H(mount, nil, r.NewElement(component, props)), nil
	}}
}
