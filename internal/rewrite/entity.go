package rewrite

import (
	"regexp"
)

// EntityKind says how a detected entity was declared.
type EntityKind string

const (
	EntityFunction    EntityKind = "function"
	EntityArrow       EntityKind = "arrow"
	EntityFuncExpr    EntityKind = "function_expression"
	EntityWrapper     EntityKind = "wrapper" // memo / forwardRef
	EntityClass       EntityKind = "class"
	EntityDefinitions EntityKind = "definitions" // plain object/array/class literal
)

// Entity is the binding a snippet exposes as its result.
type Entity struct {
	Name   string
	Kind   EntityKind
	Offset int
}

type entityPattern struct {
	kind EntityKind
	re   *regexp.Regexp
}

const ident = `([A-Za-z_$][\w$]*)`

var componentPatterns = []entityPattern{
	{EntityFunction, regexp.MustCompile(`\b(?:async\s+)?function\s*\*?\s*` + ident + `\s*(?:<[^>(]*>)?\s*\(`)},
	{EntityArrow, regexp.MustCompile(`\b(?:const|let|var)\s+` + ident + `\s*(?::[^=;\n]+)?=\s*(?:async\s+)?(?:<[^>(]*>\s*)?(?:\([^)]*\)|[A-Za-z_$][\w$]*)\s*(?::[^=;\n]+?)?\s*=>`)},
	{EntityFuncExpr, regexp.MustCompile(`\b(?:const|let|var)\s+` + ident + `\s*(?::[^=;\n]+)?=\s*(?:async\s+)?function\b`)},
	{EntityWrapper, regexp.MustCompile(`\b(?:const|let|var)\s+` + ident + `\s*(?::[^=;\n]+)?=\s*(?:React\.)?(?:memo|forwardRef)\s*(?:<[^>(]*>)?\s*\(`)},
	{EntityClass, regexp.MustCompile(`\bclass\s+` + ident + `(?:\s*<[^>{]*>)?\s+extends\s+(?:React\.)?(?:Component|PureComponent)\b`)},
	{EntityClass, regexp.MustCompile(`\b(?:const|let|var)\s+` + ident + `\s*=\s*class\s+(?:[A-Za-z_$][\w$]*\s+)?extends\s+(?:React\.)?(?:Component|PureComponent)\b`)},
}

var definitionPatterns = []entityPattern{
	{EntityDefinitions, regexp.MustCompile(`\b(?:const|let|var)\s+` + ident + `\s*(?::[^=;\n]+)?=\s*[{\[]`)},
	{EntityDefinitions, regexp.MustCompile(`\bclass\s+` + ident + `\b`)},
}

// DetectEntity finds the earliest top-level component binding, falling back
// to a plain object or class literal. ok is false when nothing matches.
// Capitalised names win over earlier lower-case helpers.
func DetectEntity(code string) (Entity, bool) {
	top := topLevelMask(code)
	if e, ok := earliest(code, top, componentPatterns, true); ok {
		return e, true
	}
	if e, ok := earliest(code, top, componentPatterns, false); ok {
		return e, true
	}
	return earliest(code, top, definitionPatterns, false)
}

func earliest(code string, top []bool, patterns []entityPattern, capitalised bool) (Entity, bool) {
	best := Entity{Offset: -1}
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(code, -1) {
			if !top[loc[0]] {
				continue
			}
			name := code[loc[2]:loc[3]]
			if capitalised && !(name[0] >= 'A' && name[0] <= 'Z') {
				continue
			}
			if best.Offset < 0 || loc[0] < best.Offset {
				best = Entity{Name: name, Kind: p.kind, Offset: loc[0]}
			}
			break
		}
	}
	return best, best.Offset >= 0
}

// topLevelMask marks byte offsets that sit at brace depth zero outside of
// strings, template literals and comments.
func topLevelMask(code string) []bool {
	mask := make([]bool, len(code)+1)
	depth := 0
	const (
		normal = iota
		lineComment
		blockComment
		single
		double
		template
	)
	state := normal
	for i := 0; i < len(code); i++ {
		c := code[i]
		mask[i] = state == normal && depth == 0
		switch state {
		case normal:
			switch c {
			case '/':
				if i+1 < len(code) && code[i+1] == '/' {
					state = lineComment
				} else if i+1 < len(code) && code[i+1] == '*' {
					state = blockComment
				}
			case '\'':
				state = single
			case '"':
				state = double
			case '`':
				state = template
			case '{', '(', '[':
				depth++
			case '}', ')', ']':
				if depth > 0 {
					depth--
				}
			}
		case lineComment:
			if c == '\n' {
				state = normal
			}
		case blockComment:
			if c == '*' && i+1 < len(code) && code[i+1] == '/' {
				i++
				mask[i] = false
				state = normal
			}
		case single, double, template:
			switch {
			case c == '\\':
				i++
				if i < len(code) {
					mask[i] = false
				}
			case c == '\n' && state != template:
				// an apostrophe in JSX text is not a string
				state = normal
			case c == closer(state, single, double):
				state = normal
			}
		}
	}
	mask[len(code)] = state == normal && depth == 0
	return mask
}

func closer(state, single, double int) byte {
	switch state {
	case single:
		return '\''
	case double:
		return '"'
	default:
		return '`'
	}
}
