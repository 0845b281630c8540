// Package rewrite turns an author's snippet into a self-contained async body
// that always assigns its result to a single well-known identifier.
package rewrite

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"livenote/internal/document"
	"livenote/internal/logging"
	"livenote/internal/transpile"
	"livenote/internal/types"
)

// Reserved identifiers used by the wrapper. Author code must not bind them.
const (
	ResultName  = "__liveResult"
	HarnessName = "__harness"
	WrapperName = "WrappedComponent"
	SafeName    = "UserComponent"
)

// ReservedNames lists identifiers the wrapper owns.
var ReservedNames = []string{ResultName, HarnessName, WrapperName}

// DefaultMaxImportDepth caps include recursion.
const DefaultMaxImportDepth = 10

const snippetPreview = 100

// Context describes where a snippet came from.
type Context struct {
	DocumentPath   string
	MaxImportDepth int
}

// Result is the rewritten snippet.
type Result struct {
	Body       string // async IIFE assigned to ResultName
	Entity     string // name after any collision rename
	EntityKind EntityKind
	Dialect    transpile.Dialect
	UsesThree  bool
	Includes   []Inclusion
	Warnings   []string
	// LineOffset is the number of Body lines before the author's first line.
	LineOffset int
}

// Rewriter is safe for concurrent use.
type Rewriter struct {
	docs document.Store
	lang string
}

// New creates a Rewriter that resolves includes through docs. lang is the
// fenced block tag of snippet blocks.
func New(docs document.Store, lang string) *Rewriter {
	if lang == "" {
		lang = "react"
	}
	return &Rewriter{docs: docs, lang: lang}
}

// Rewrite processes raw snippet text. It fails with MissingEntityFailure when
// no entity can be located.
func (r *Rewriter) Rewrite(ctx context.Context, raw string, rc Context) (Result, error) {
	timer := logging.StartTimer(logging.CategoryRewrite, "rewrite "+rc.DocumentPath)
	defer timer.Stop()

	maxDepth := rc.MaxImportDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxImportDepth
	}

	code := StripModuleSyntax(raw)

	st := &includeState{visited: map[string]bool{}}
	prefix := ""
	if r.docs != nil {
		prefix, code = r.expandIncludes(ctx, code, rc.DocumentPath, 0, maxDepth, st)
	} else {
		code = includeRe.ReplaceAllString(code, "")
	}

	entity, ok := DetectEntity(code)
	if !ok {
		return Result{}, types.NewFailure(types.MissingEntityFailure,
			"no component, class or definitions object found in snippet: %s", preview(code))
	}

	name := entity.Name
	if isReserved(name) {
		code = renameIdentifier(code, name, SafeName)
		logging.Rewrite("renamed reserved identifier %s to %s", name, SafeName)
		name = SafeName
	}

	res := Result{
		Entity:     name,
		EntityKind: entity.Kind,
		Dialect:    transpile.SniffDialect(raw),
		UsesThree:  UsesThree(raw),
		Includes:   st.resolved,
		Warnings:   st.warnings,
	}
	res.Body = wrap(prefix, code, name, preview(prefix+code))
	res.LineOffset = 1 + strings.Count(prefix, "\n")
	logging.Rewrite("rewrote %s: entity=%s kind=%s dialect=%s includes=%d",
		rc.DocumentPath, name, entity.Kind, res.Dialect, len(st.resolved))
	return res, nil
}

func wrap(prefix, code, name, snippet string) string {
	quotedName, _ := json.Marshal(name)
	quotedSnippet, _ := json.Marshal(snippet)

	var b strings.Builder
	b.WriteString(ResultName + " = (async () => {\n")
	b.WriteString(prefix)
	b.WriteString(code)
	b.WriteString("\n;\n")
	fmt.Fprintf(&b, "const %s = %s.classify(typeof %s === \"undefined\" ? undefined : %s, %s, %s);\n",
		WrapperName, HarnessName, name, name, quotedName, quotedSnippet)
	b.WriteString("return " + WrapperName + ";\n")
	b.WriteString("})();\n")
	return b.String()
}

func preview(code string) string {
	code = strings.TrimSpace(code)
	r := []rune(code)
	if len(r) <= snippetPreview {
		return code
	}
	return string(r[:snippetPreview]) + "..."
}

func isReserved(name string) bool {
	for _, n := range ReservedNames {
		if n == name {
			return true
		}
	}
	return false
}

func renameIdentifier(code, from, to string) string {
	re := regexp.MustCompile(`(^|[^\w$.])` + regexp.QuoteMeta(from) + `\b`)
	return re.ReplaceAllString(code, "${1}"+to)
}

var threeRe = regexp.MustCompile(`\bTHREE\b|from\s+['"]three['"]|\bnew\s+(?:WebGLRenderer|PerspectiveCamera|OrthographicCamera|Scene|BoxGeometry|SphereGeometry|MeshStandardMaterial|MeshBasicMaterial|Mesh)\b`)

// UsesThree reports whether the snippet needs the 3D bundle.
func UsesThree(raw string) bool {
	return threeRe.MatchString(raw)
}
