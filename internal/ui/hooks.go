package ui

import (
	"strconv"

	"github.com/dop251/goja"
)

// =============================================================================
// HOOK SLOTS
// =============================================================================
//
// Hook state lives on the instance at the current tree position and is
// addressed by call order, so a component must call the same hooks in the
// same order on every pass. A slot whose type changed between passes is
// replaced rather than reused.

type stateSlot struct {
	value  goja.Value
	setter goja.Value
}

type effectSlot struct {
	deps      []goja.Value
	hasDeps   bool
	key       string
	started   bool
	cleanup   goja.Callable
	goCleanup func()
}

func (e *effectSlot) runCleanup() {
	if e.cleanup != nil {
		fn := e.cleanup
		e.cleanup = nil
		if _, err := fn(goja.Undefined()); err != nil {
			logRenderError("effect cleanup", err)
		}
	}
	if e.goCleanup != nil {
		fn := e.goCleanup
		e.goCleanup = nil
		fn()
	}
}

type refSlot struct {
	obj *goja.Object
}

type memoSlot struct {
	deps    []goja.Value
	hasDeps bool
	value   goja.Value
}

// Slot returns the hook slot of type T at the current position, creating it
// with init on the first pass. It panics outside a component render.
func Slot[T any](r *Renderer, init func() T) T {
	inst := r.current
	if inst == nil {
		panic(r.rt.NewTypeError("Invalid hook call: hooks can only be called inside the body of a function component"))
	}
	i := r.hookIndex
	r.hookIndex++
	if i < len(inst.hooks) {
		if s, ok := inst.hooks[i].(T); ok {
			return s
		}
		s := init()
		inst.hooks[i] = s
		return s
	}
	s := init()
	inst.hooks = append(inst.hooks, s)
	return s
}

// Effect runs fn after the pass commits whenever key differs from the
// previous pass. The func fn returns, if any, runs before the next run and
// on unmount.
func (r *Renderer) Effect(key string, fn func() func()) {
	slot := Slot(r, func() *effectSlot { return &effectSlot{} })
	if slot.started && slot.key == key {
		return
	}
	slot.started = true
	slot.key = key
	r.effects = append(r.effects, func() {
		slot.runCleanup()
		slot.goCleanup = fn()
	})
}

// OnMount runs fn once after the first commit of the current component.
func (r *Renderer) OnMount(fn func() func()) {
	r.Effect("", fn)
}

// =============================================================================
// JS HOOKS
// =============================================================================

func (r *Renderer) useState(call goja.FunctionCall) goja.Value {
	slot := Slot(r, func() *stateSlot {
		s := &stateSlot{}
		init := call.Argument(0)
		if fn, ok := goja.AssertFunction(init); ok {
			v, err := fn(goja.Undefined())
			if err != nil {
				panic(err)
			}
			init = v
		}
		s.value = init
		s.setter = r.rt.ToValue(func(c goja.FunctionCall) goja.Value {
			next := c.Argument(0)
			if fn, ok := goja.AssertFunction(next); ok {
				v, err := fn(goja.Undefined(), s.value)
				if err != nil {
					panic(err)
				}
				next = v
			}
			if next.SameAs(s.value) {
				return goja.Undefined()
			}
			s.value = next
			r.Invalidate()
			return goja.Undefined()
		})
		return s
	})
	return r.rt.NewArray(slot.value, slot.setter)
}

func (r *Renderer) useReducer(call goja.FunctionCall) goja.Value {
	reducer, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(r.rt.NewTypeError("useReducer expects a reducer function"))
	}
	slot := Slot(r, func() *stateSlot {
		s := &stateSlot{value: call.Argument(1)}
		if initFn, ok := goja.AssertFunction(call.Argument(2)); ok {
			v, err := initFn(goja.Undefined(), s.value)
			if err != nil {
				panic(err)
			}
			s.value = v
		}
		return s
	})
	// The reducer may close over props, so the dispatcher always uses the
	// latest one.
	slot.setter = r.rt.ToValue(func(c goja.FunctionCall) goja.Value {
		next, err := reducer(goja.Undefined(), slot.value, c.Argument(0))
		if err != nil {
			panic(err)
		}
		if !next.SameAs(slot.value) {
			slot.value = next
			r.Invalidate()
		}
		return goja.Undefined()
	})
	return r.rt.NewArray(slot.value, slot.setter)
}

func (r *Renderer) useEffect(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(r.rt.NewTypeError("useEffect expects a function"))
	}
	deps, hasDeps := r.depsOf(call.Argument(1))
	slot := Slot(r, func() *effectSlot { return &effectSlot{} })
	if slot.started && hasDeps && slot.hasDeps && sameDeps(slot.deps, deps) {
		return goja.Undefined()
	}
	slot.started = true
	slot.deps, slot.hasDeps = deps, hasDeps
	r.effects = append(r.effects, func() {
		slot.runCleanup()
		res, err := fn(goja.Undefined())
		if err != nil {
			logRenderError("effect", err)
			return
		}
		if c, ok := goja.AssertFunction(res); ok {
			slot.cleanup = c
		}
	})
	return goja.Undefined()
}

func (r *Renderer) useRef(call goja.FunctionCall) goja.Value {
	slot := Slot(r, func() *refSlot {
		obj := r.rt.NewObject()
		_ = obj.Set("current", call.Argument(0))
		return &refSlot{obj: obj}
	})
	return slot.obj
}

func (r *Renderer) useMemo(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(r.rt.NewTypeError("useMemo expects a function"))
	}
	deps, hasDeps := r.depsOf(call.Argument(1))
	slot := Slot(r, func() *memoSlot { return &memoSlot{} })
	if slot.value != nil && hasDeps && slot.hasDeps && sameDeps(slot.deps, deps) {
		return slot.value
	}
	v, err := fn(goja.Undefined())
	if err != nil {
		panic(err)
	}
	slot.value, slot.deps, slot.hasDeps = v, deps, hasDeps
	return v
}

func (r *Renderer) useCallback(call goja.FunctionCall) goja.Value {
	deps, hasDeps := r.depsOf(call.Argument(1))
	slot := Slot(r, func() *memoSlot { return &memoSlot{} })
	if slot.value != nil && hasDeps && slot.hasDeps && sameDeps(slot.deps, deps) {
		return slot.value
	}
	slot.value, slot.deps, slot.hasDeps = call.Argument(0), deps, hasDeps
	return slot.value
}

func (r *Renderer) useContext(call goja.FunctionCall) goja.Value {
	ref, ok := call.Argument(0).Export().(*ContextRef)
	if !ok {
		panic(r.rt.NewTypeError("useContext expects a context created by createContext"))
	}
	return r.ContextValue(ref)
}

// ContextValue returns the innermost provided value for ref, or its default.
func (r *Renderer) ContextValue(ref *ContextRef) goja.Value {
	if stack := r.contexts[ref]; len(stack) > 0 {
		return stack[len(stack)-1]
	}
	if ref.Default == nil {
		return goja.Undefined()
	}
	return ref.Default
}

func (r *Renderer) depsOf(v goja.Value) ([]goja.Value, bool) {
	if IsNullish(v) {
		return nil, false
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	n := int(obj.Get("length").ToInteger())
	deps := make([]goja.Value, n)
	for i := range deps {
		deps[i] = obj.Get(strconv.Itoa(i))
	}
	return deps, true
}

func sameDeps(a, b []goja.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].SameAs(b[i]) {
			return false
		}
	}
	return true
}
