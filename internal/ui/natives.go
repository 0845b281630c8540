package ui

import (
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// =============================================================================
// MOUNT WRAPPERS
// =============================================================================

type mountState struct {
	ready bool
}

// DelayedMount renders a full-width placeholder and mounts its children only
// after delay has elapsed on the loop. Charts that measure their container
// need the container to exist first.
func DelayedMount(delay time.Duration) *Native {
	return &Native{Name: "DelayedMount", Render: func(r *Renderer, props *goja.Object) (goja.Value, error) {
		st := Slot(r, func() *mountState { return &mountState{} })
		r.OnMount(func() func() {
			t := r.loop.SetTimeout(delay, func(*goja.Runtime) {
				st.ready = true
				r.Invalidate()
			})
			return func() { r.loop.ClearTimeout(t) }
		})
		attrs := map[string]interface{}{
			"className": "live-delayed-mount",
			"style":     map[string]interface{}{"width": "100%", "minHeight": "400px"},
		}
		if !st.ready {
			return r.H("div", attrs), nil
		}
		return r.H("div", attrs, props.Get("children")), nil
	}}
}

// Definitions renders a non-component value as a list of its keys and their
// types.
func Definitions(name string, value goja.Value) *Native {
	return &Native{Name: "Definitions", Render: func(r *Renderer, _ *goja.Object) (goja.Value, error) {
		var items []goja.Value
		if obj, ok := value.(*goja.Object); ok && !IsNullish(value) {
			for _, k := range obj.Keys() {
				items = append(items, r.H("li", map[string]interface{}{"key": k},
					r.H("code", nil, r.Text(k)), r.Text(": "+TypeName(obj.Get(k)))))
			}
		}
		if len(items) == 0 {
			items = append(items, r.H("li", nil, r.Text(TypeName(value))))
		}
		list := make([]interface{}, len(items))
		for i, it := range items {
			list[i] = it
		}
		return r.H("div", map[string]interface{}{"className": "live-definitions"},
			r.H("div", map[string]interface{}{"className": "live-definitions-title"}, r.Text(name)),
			r.H("ul", nil, r.rt.NewArray(list...)),
		), nil
	}}
}

// =============================================================================
// CATALOG
// =============================================================================

// Widgets that render as data-carrying placeholders for the page script.
var (
	chartWidgets = []string{
		"ResponsiveContainer", "PieChart", "Pie", "Cell", "Tooltip", "Legend",
		"ComposedChart", "BarChart", "LineChart", "AreaChart", "XAxis", "YAxis",
		"CartesianGrid", "Bar", "Line", "Area", "ReferenceLine",
	}
	iconWidgets = []string{"Upload", "Activity", "AlertCircle", "TrendingUp", "TrendingDown"}
)

// cardParts map card component names to their host tag and class.
var cardParts = map[string][2]string{
	"Card":            {"div", "live-card"},
	"CardHeader":      {"div", "live-card-header"},
	"CardTitle":       {"h3", "live-card-title"},
	"CardDescription": {"p", "live-card-description"},
	"CardContent":     {"div", "live-card-content"},
	"CardFooter":      {"div", "live-card-footer"},
	"TabsList":        {"div", "live-tabs-list"},
}

// Catalog returns the UI components snippets may reference by name.
func (r *Renderer) Catalog() map[string]goja.Value {
	out := map[string]goja.Value{}
	for name, part := range cardParts {
		out[name] = r.rt.ToValue(hostAlias(name, part[0], part[1]))
	}
	for _, name := range chartWidgets {
		out[name] = r.rt.ToValue(widget(name, "div", "live-widget"))
	}
	for _, name := range iconWidgets {
		out[name] = r.rt.ToValue(widget(name, "span", "live-icon"))
	}
	out["Switch"] = r.rt.ToValue(switchWidget())

	tabs := &ContextRef{Default: goja.Undefined()}
	tabs.Provider = &Native{Name: "Provider", provider: tabs}
	out["Tabs"] = r.rt.ToValue(tabsRoot(tabs))
	out["TabsTrigger"] = r.rt.ToValue(tabsTrigger(tabs))
	out["TabsContent"] = r.rt.ToValue(tabsContent(tabs))
	return out
}

// CatalogNames lists the catalog in a stable order.
func CatalogNames() []string {
	names := append([]string{}, chartWidgets...)
	names = append(names, iconWidgets...)
	for name := range cardParts {
		names = append(names, name)
	}
	names = append(names, "Switch", "Tabs", "TabsTrigger", "TabsContent")
	sort.Strings(names)
	return names
}

func hostAlias(name, tag, class string) *Native {
	return &Native{Name: name, Render: func(r *Renderer, props *goja.Object) (goja.Value, error) {
		attrs := map[string]interface{}{}
		for _, k := range props.Keys() {
			if k != "children" {
				attrs[k] = props.Get(k)
			}
		}
		attrs["className"] = joinClass(class, props.Get("className"))
		return r.H(tag, attrs, props.Get("children")), nil
	}}
}

func widget(name, tag, class string) *Native {
	return &Native{Name: name, Render: func(r *Renderer, props *goja.Object) (goja.Value, error) {
		data, err := json.Marshal(plainProps(props))
		if err != nil {
			data = []byte("{}")
		}
		attrs := map[string]interface{}{
			"className":   joinClass(class, props.Get("className")),
			"data-widget": name,
			"data-props":  string(data),
		}
		return r.H(tag, attrs, props.Get("children")), nil
	}}
}

type toggleState struct {
	on bool
}

func switchWidget() *Native {
	return &Native{Name: "Switch", Render: func(r *Renderer, props *goja.Object) (goja.Value, error) {
		st := Slot(r, func() *toggleState { return &toggleState{on: truthy(props.Get("defaultChecked"))} })
		controlled := !IsNullish(props.Get("checked"))
		on := st.on
		if controlled {
			on = truthy(props.Get("checked"))
		}
		onChange, _ := goja.AssertFunction(props.Get("onCheckedChange"))
		disabled := truthy(props.Get("disabled"))

		state := "unchecked"
		if on {
			state = "checked"
		}
		attrs := map[string]interface{}{
			"type":         "button",
			"role":         "switch",
			"aria-checked": strconv.FormatBool(on),
			"data-state":   state,
			"disabled":     disabled,
			"className":    joinClass("live-switch", props.Get("className")),
			"onClick": func(goja.FunctionCall) goja.Value {
				if disabled {
					return goja.Undefined()
				}
				next := !on
				if !controlled {
					st.on = next
					r.Invalidate()
				}
				if onChange != nil {
					if _, err := onChange(goja.Undefined(), r.rt.ToValue(next)); err != nil {
						panic(err)
					}
				}
				return goja.Undefined()
			},
		}
		if id := props.Get("id"); !IsNullish(id) {
			attrs["id"] = id
		}
		return r.H("button", attrs, r.H("span", map[string]interface{}{"className": "live-switch-thumb"})), nil
	}}
}

type tabsState struct {
	value string
}

func tabsRoot(ctx *ContextRef) *Native {
	return &Native{Name: "Tabs", Render: func(r *Renderer, props *goja.Object) (goja.Value, error) {
		st := Slot(r, func() *tabsState {
			s := &tabsState{}
			if d := props.Get("defaultValue"); !IsNullish(d) {
				s.value = d.String()
			}
			return s
		})
		active := st.value
		controlled := !IsNullish(props.Get("value"))
		if controlled {
			active = str(props.Get("value"))
		}
		onChange, _ := goja.AssertFunction(props.Get("onValueChange"))

		value := r.rt.NewObject()
		_ = value.Set("value", active)
		_ = value.Set("select", func(call goja.FunctionCall) goja.Value {
			next := call.Argument(0).String()
			if next == active {
				return goja.Undefined()
			}
			if !controlled {
				st.value = next
				r.Invalidate()
			}
			if onChange != nil {
				if _, err := onChange(goja.Undefined(), r.rt.ToValue(next)); err != nil {
					panic(err)
				}
			}
			return goja.Undefined()
		})

		body := r.H("div", map[string]interface{}{
			"className":  joinClass("live-tabs", props.Get("className")),
			"data-value": active,
		}, props.Get("children"))
		return r.H(ctx.Provider, map[string]interface{}{"value": value}, body), nil
	}}
}

func tabsTrigger(ctx *ContextRef) *Native {
	return &Native{Name: "TabsTrigger", Render: func(r *Renderer, props *goja.Object) (goja.Value, error) {
		tabs, _ := r.ContextValue(ctx).(*goja.Object)
		value := str(props.Get("value"))
		active := tabs != nil && str(tabs.Get("value")) == value
		state := "inactive"
		if active {
			state = "active"
		}
		attrs := map[string]interface{}{
			"type":          "button",
			"role":          "tab",
			"aria-selected": strconv.FormatBool(active),
			"data-state":    state,
			"className":     joinClass("live-tabs-trigger", props.Get("className")),
		}
		if tabs != nil {
			if sel, ok := goja.AssertFunction(tabs.Get("select")); ok {
				attrs["onClick"] = func(goja.FunctionCall) goja.Value {
					if _, err := sel(goja.Undefined(), r.rt.ToValue(value)); err != nil {
						panic(err)
					}
					return goja.Undefined()
				}
			}
		}
		return r.H("button", attrs, props.Get("children")), nil
	}}
}

func tabsContent(ctx *ContextRef) *Native {
	return &Native{Name: "TabsContent", Render: func(r *Renderer, props *goja.Object) (goja.Value, error) {
		tabs, _ := r.ContextValue(ctx).(*goja.Object)
		if tabs == nil || str(tabs.Get("value")) != str(props.Get("value")) {
			return goja.Null(), nil
		}
		return r.H("div", map[string]interface{}{
			"role":      "tabpanel",
			"className": joinClass("live-tabs-content", props.Get("className")),
		}, props.Get("children")), nil
	}}
}

func truthy(v goja.Value) bool {
	return !IsNullish(v) && v.ToBoolean()
}

func str(v goja.Value) string {
	if IsNullish(v) {
		return ""
	}
	return v.String()
}

func joinClass(base string, extra goja.Value) string {
	if IsNullish(extra) || extra.String() == "" {
		return base
	}
	return base + " " + extra.String()
}

// plainProps exports props without children, functions or elements, so the
// result is JSON-encodable.
func plainProps(props *goja.Object) map[string]interface{} {
	out := map[string]interface{}{}
	for _, k := range props.Keys() {
		if k == "children" || k == "key" || k == "ref" || k == "className" {
			continue
		}
		if v, ok := plainValue(props.Get(k).Export()); ok {
			out[k] = v
		}
	}
	return out
}

func plainValue(v interface{}) (interface{}, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case *Element, *Native, *ContextRef:
		return nil, false
	case map[string]interface{}:
		m := make(map[string]interface{}, len(x))
		for k, e := range x {
			if pv, ok := plainValue(e); ok {
				m[k] = pv
			}
		}
		return m, true
	case []interface{}:
		s := make([]interface{}, 0, len(x))
		for _, e := range x {
			if pv, ok := plainValue(e); ok {
				s = append(s, pv)
			}
		}
		return s, true
	case string:
		return strings.TrimSpace(x), true
	}
	if reflect.TypeOf(v).Kind() == reflect.Func {
		return nil, false
	}
	return v, true
}
