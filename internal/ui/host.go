package ui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HandlerAttrPrefix prefixes the attribute that carries a handler id, e.g.
// data-live-onclick="0.1#click".
const HandlerAttrPrefix = "data-live-on"

var attrAliases = map[string]string{
	"className":  "class",
	"htmlFor":    "for",
	"tabIndex":   "tabindex",
	"readOnly":   "readonly",
	"maxLength":  "maxlength",
	"colSpan":    "colspan",
	"rowSpan":    "rowspan",
	"viewBox":    "viewBox",
	"strokeWidth": "stroke-width",
	"fillOpacity": "fill-opacity",
	"textAnchor": "text-anchor",
}

// unitless CSS properties take bare numbers.
var unitless = map[string]bool{
	"opacity": true, "zIndex": true, "flex": true, "flexGrow": true, "flexShrink": true,
	"fontWeight": true, "lineHeight": true, "order": true, "zoom": true, "gridColumn": true, "gridRow": true,
}

func (r *Renderer) renderHost(tag string, props *goja.Object, path string) ([]*html.Node, error) {
	node := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}

	keys := props.Keys()
	sort.Strings(keys)
	var children goja.Value
	for _, key := range keys {
		val := props.Get(key)
		switch {
		case key == "children":
			children = val
		case key == "key" || key == "ref":
		case key == "dangerouslySetInnerHTML":
			if obj, ok := val.(*goja.Object); ok {
				if raw := obj.Get("__html"); !IsNullish(raw) {
					frag, err := html.ParseFragment(strings.NewReader(raw.String()), &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div})
					if err == nil {
						for _, n := range frag {
							node.AppendChild(n)
						}
					}
				}
			}
		case key == "style":
			if css := styleString(val); css != "" {
				node.Attr = append(node.Attr, html.Attribute{Key: "style", Val: css})
			}
		case isHandlerProp(key):
			fn, ok := goja.AssertFunction(val)
			if !ok {
				continue
			}
			event := strings.ToLower(key[2:])
			id := path + "#" + event
			r.handlers[id] = fn
			node.Attr = append(node.Attr, html.Attribute{Key: HandlerAttrPrefix + event, Val: id})
		default:
			if attr, ok := attrValue(key, val); ok {
				node.Attr = append(node.Attr, attr)
			}
		}
	}

	if node.FirstChild == nil {
		kids, err := r.renderValue(children, path)
		if err != nil {
			return nil, err
		}
		for _, k := range kids {
			node.AppendChild(k)
		}
	}
	return []*html.Node{node}, nil
}

func isHandlerProp(key string) bool {
	return len(key) > 2 && strings.HasPrefix(key, "on") && unicode.IsUpper(rune(key[2]))
}

func attrValue(key string, val goja.Value) (html.Attribute, bool) {
	if IsNullish(val) {
		return html.Attribute{}, false
	}
	if _, isFn := goja.AssertFunction(val); isFn {
		return html.Attribute{}, false
	}
	name := key
	if alias, ok := attrAliases[key]; ok {
		name = alias
	} else if !strings.HasPrefix(key, "data-") && !strings.HasPrefix(key, "aria-") {
		name = strings.ToLower(key)
	}
	switch x := val.Export().(type) {
	case bool:
		if !x {
			return html.Attribute{}, false
		}
		return html.Attribute{Key: name}, true
	case string:
		return html.Attribute{Key: name, Val: x}, true
	case int64, float64:
		return html.Attribute{Key: name, Val: val.String()}, true
	}
	if _, ok := val.(*goja.Object); ok {
		return html.Attribute{}, false
	}
	return html.Attribute{Key: name, Val: val.String()}, true
}

func styleString(val goja.Value) string {
	obj, ok := val.(*goja.Object)
	if !ok {
		if IsNullish(val) {
			return ""
		}
		return val.String()
	}
	keys := obj.Keys()
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		v := obj.Get(k)
		if IsNullish(v) {
			continue
		}
		var s string
		switch x := v.Export().(type) {
		case int64:
			s = strconv.FormatInt(x, 10)
			if !unitless[k] && x != 0 {
				s += "px"
			}
		case float64:
			s = v.String()
			if !unitless[k] && x != 0 {
				s += "px"
			}
		case bool:
			continue
		default:
			s = v.String()
		}
		parts = append(parts, fmt.Sprintf("%s:%s", kebab(k), s))
	}
	return strings.Join(parts, ";")
}

func kebab(s string) string {
	if strings.HasPrefix(s, "--") {
		return s
	}
	var b strings.Builder
	for i, c := range s {
		if unicode.IsUpper(c) {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(c))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
