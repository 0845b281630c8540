package rewrite

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"livenote/internal/document"
	"livenote/internal/logging"
)

// include("notes/lib", 1)  include('lib.md')
var includeRe = regexp.MustCompile(`(?m)^[ \t]*include\(\s*["']([^"']+)["']\s*(?:,\s*(\d+)\s*)?\)[ \t]*;?[ \t]*$`)

// Inclusion is one resolved include directive.
type Inclusion struct {
	Path  string
	Index int
	Depth int
}

// Key identifies an inclusion in the visited set.
func (i Inclusion) Key() string {
	return fmt.Sprintf("%s#%d", i.Path, i.Index)
}

type includeState struct {
	visited  map[string]bool
	resolved []Inclusion
	warnings []string
}

func (st *includeState) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	st.warnings = append(st.warnings, msg)
	logging.RewriteWarn("%s", msg)
}

// expandIncludes removes include directives from code and returns the
// rewritten bodies of their targets, in directive order, as a prefix.
func (r *Rewriter) expandIncludes(ctx context.Context, code, fromDoc string, depth, maxDepth int, st *includeState) (prefix, rest string) {
	matches := includeRe.FindAllStringSubmatch(code, -1)
	rest = includeRe.ReplaceAllString(code, "")
	if len(matches) == 0 {
		return "", rest
	}

	var b strings.Builder
	for _, m := range matches {
		if ctx.Err() != nil {
			st.warn("include expansion cancelled: %v", ctx.Err())
			break
		}
		inc := Inclusion{Path: m[1], Depth: depth + 1}
		if m[2] != "" {
			inc.Index, _ = strconv.Atoi(m[2])
		}
		if inc.Depth > maxDepth {
			st.warn("include depth %d exceeds limit %d, skipping %s", inc.Depth, maxDepth, inc.Key())
			continue
		}
		resolvedPath, ok := r.resolveInclude(inc.Path, fromDoc)
		if !ok {
			st.warn("include target %q not found (from %s)", inc.Path, fromDoc)
			continue
		}
		inc.Path = resolvedPath
		if st.visited[inc.Key()] {
			logging.Get(logging.CategoryRewrite).Debug("include %s already visited, skipping", inc.Key())
			continue
		}
		st.visited[inc.Key()] = true

		blocks, err := r.docs.Blocks(inc.Path, r.lang)
		if err != nil {
			st.warn("include %s: %v", inc.Key(), err)
			continue
		}
		if inc.Index < 0 || inc.Index >= len(blocks) {
			st.warn("include %s: block index out of range (document has %d)", inc.Key(), len(blocks))
			continue
		}

		body := StripModuleSyntax(blocks[inc.Index].Body)
		nestedPrefix, nestedRest := r.expandIncludes(ctx, body, inc.Path, inc.Depth, maxDepth, st)
		st.resolved = append(st.resolved, inc)
		logging.Rewrite("included %s at depth %d", inc.Key(), inc.Depth)

		b.WriteString(nestedPrefix)
		b.WriteString("// include ")
		b.WriteString(inc.Key())
		b.WriteString("\n")
		b.WriteString(nestedRest)
		b.WriteString("\n")
	}
	return b.String(), rest
}

// resolveInclude tries the path as vault-relative, then relative to the
// including document. A missing extension means markdown.
func (r *Rewriter) resolveInclude(target, fromDoc string) (string, bool) {
	if path.Ext(target) == "" {
		target += ".md"
	}
	candidates := []string{document.Clean(target)}
	if dir := document.Dir(fromDoc); dir != "" && !strings.HasPrefix(target, "/") {
		candidates = append(candidates, document.Clean(dir+"/"+target))
	}
	for _, c := range candidates {
		if r.docs.Exists(c) {
			return c, true
		}
	}
	return "", false
}
