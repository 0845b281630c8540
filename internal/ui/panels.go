package ui

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"livenote/internal/types"
)

// RetryHandlerID is the handler id carried by the retry button of an error
// panel. The render host routes it to Retry instead of into the runtime.
const RetryHandlerID = "retry"

func el(tag string, class string, children ...*html.Node) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	if class != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: class})
	}
	for _, c := range children {
		n.AppendChild(c)
	}
	return n
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func renderNodes(nodes ...*html.Node) string {
	var buf bytes.Buffer
	for _, n := range nodes {
		_ = html.Render(&buf, n)
	}
	return buf.String()
}

// ErrorPanel renders a failure as a visible panel with a retry control and
// a collapsed stack.
func ErrorPanel(f *types.Failure) string {
	if f == nil {
		return ""
	}
	if f.Kind == types.ObjectRenderFailure {
		return ObjectPanel(f)
	}

	title := "Render error"
	switch f.Kind {
	case types.SyntaxFailure:
		title = "Syntax error"
	case types.MissingEntityFailure:
		title = "Nothing to render"
	}

	panel := el("div", "live-error live-error-"+string(f.Kind),
		el("div", "live-error-title", text(title)),
		el("pre", "live-error-message", text(f.Message)),
	)
	panel.Attr = append(panel.Attr, html.Attribute{Key: "role", Val: "alert"})
	if f.Location != nil {
		panel.AppendChild(el("div", "live-error-location", text(f.Location.String())))
	}
	if f.Stack != "" {
		details := el("details", "live-error-stack",
			el("summary", "", text("Stack")),
			el("pre", "", text(f.Stack)),
		)
		panel.AppendChild(details)
	}
	retry := el("button", "live-retry", text("Retry"))
	retry.Attr = append(retry.Attr,
		html.Attribute{Key: "type", Val: "button"},
		html.Attribute{Key: HandlerAttrPrefix + "click", Val: RetryHandlerID},
	)
	panel.AppendChild(retry)
	return renderNodes(panel)
}

// ObjectPanel explains that plain data reached the display and lists its keys.
func ObjectPanel(f *types.Failure) string {
	list := el("ul", "live-object-keys")
	for _, k := range f.Keys {
		list.AppendChild(el("li", "", el("code", "", text(k))))
	}
	panel := el("div", "live-error live-error-object_render",
		el("div", "live-error-title", text("Cannot display a plain object")),
		el("p", "", text("The snippet produced data instead of UI. Keys: "+strings.Join(f.Keys, ", "))),
		list,
	)
	panel.Attr = append(panel.Attr, html.Attribute{Key: "role", Val: "alert"})
	return renderNodes(panel)
}

// SlowNotice is shown while a render is still in progress.
func SlowNotice() string {
	return renderNodes(el("div", "live-slow-notice", text("Still rendering…")))
}

// Loading is the placeholder for a block that has not rendered yet.
func Loading() string {
	return renderNodes(el("div", "live-loading", text("Loading…")))
}
