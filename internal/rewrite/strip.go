package rewrite

import (
	"regexp"
	"strings"
)

// DefaultExportName binds an anonymous default export.
const DefaultExportName = "DefaultExport"

// Import/export stripping is textual. Unusual formatting (imports split by
// comments, exports inside template strings) can slip through.
var (
	// import X from "y";  import {a, b} from "y";  import * as n from "y";  import type T from "y"
	importFromRe = regexp.MustCompile(`(?m)^[ \t]*import\s+(?:type\s+)?[^;'"]*?\s*from\s*['"][^'"\n]+['"][ \t]*;?[ \t]*$`)
	// import "side-effect";
	importBareRe = regexp.MustCompile(`(?m)^[ \t]*import\s*['"][^'"\n]+['"][ \t]*;?[ \t]*$`)
	// const x = await import("y");  import("y");
	importDynRe = regexp.MustCompile(`(?m)^[ \t]*(?:(?:const|let|var)\s+[^=\n]+=\s*)?(?:await\s+)?import\s*\([^)]*\)[ \t]*;?[ \t]*$`)

	exportDefaultRe = regexp.MustCompile(`(?m)^([ \t]*)export\s+default\s+`)
	exportDeclRe    = regexp.MustCompile(`(?m)^([ \t]*)export\s+((?:async\s+)?function|const|let|var|class|interface|type|enum|abstract\s+class)\b`)
	exportListRe    = regexp.MustCompile(`(?m)^[ \t]*export\s*\{[^}]*\}(?:\s*from\s*['"][^'"\n]+['"])?[ \t]*;?[ \t]*$`)
	exportStarRe    = regexp.MustCompile(`(?m)^[ \t]*export\s*\*\s*(?:as\s+\w+\s+)?from\s*['"][^'"\n]+['"][ \t]*;?[ \t]*$`)

	// export default Name;  leaves a dangling expression statement
	bareIdentStmtRe = regexp.MustCompile(`(?m)^[ \t]*[A-Za-z_$][\w$]*[ \t]*;?[ \t]*$`)
	// export default () => ...  has no name of its own
	anonymousDefaultRe = regexp.MustCompile(`^(?:async\s+)?(?:\(|[A-Za-z_$][\w$]*\s*=>|function\s*\(|class\s+extends\b|class\s*\{|(?:React\.)?(?:memo|forwardRef)\s*\(|\{|\[)`)
)

// StripModuleSyntax removes import declarations and turns export
// declarations into plain local declarations.
func StripModuleSyntax(code string) string {
	for _, re := range []*regexp.Regexp{importFromRe, importBareRe, importDynRe, exportListRe, exportStarRe} {
		code = re.ReplaceAllStringFunc(code, keepNewlines)
	}
	code = exportDeclRe.ReplaceAllString(code, "$1$2")
	code = stripExportDefault(code)
	return code
}

// keepNewlines blanks a match but keeps its line breaks so diagnostics still
// point at the author's lines.
func keepNewlines(match string) string {
	return strings.Repeat("\n", strings.Count(match, "\n"))
}

// stripExportDefault drops "export default". When what follows is a bare
// identifier the whole statement is dropped since the name is declared
// elsewhere. An anonymous value is bound to DefaultExportName.
func stripExportDefault(code string) string {
	locs := exportDefaultRe.FindAllStringSubmatchIndex(code, -1)
	if len(locs) == 0 {
		return code
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		b.WriteString(code[last:loc[0]])
		b.WriteString(code[loc[2]:loc[3]])
		rest := code[loc[1]:]
		lineEnd := strings.IndexByte(rest, '\n')
		if lineEnd < 0 {
			lineEnd = len(rest)
		}
		if bareIdentStmtRe.MatchString(rest[:lineEnd]) && !isKeywordLine(rest[:lineEnd]) {
			last = loc[1] + lineEnd
			continue
		}
		if anonymousDefaultRe.MatchString(rest) {
			b.WriteString("const " + DefaultExportName + " = ")
		}
		last = loc[1]
	}
	b.WriteString(code[last:])
	return b.String()
}

func isKeywordLine(line string) bool {
	word := strings.TrimRight(strings.TrimSpace(line), ";")
	switch word {
	case "function", "class", "async":
		return true
	}
	return false
}
