// Package transpile compiles rewritten JSX/TSX snippet bodies to plain ES2017.
package transpile

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"livenote/internal/logging"
	"livenote/internal/types"
)

// Dialect is the source flavour picked by SniffDialect.
type Dialect string

const (
	// Plain is markup plus plain JS.
	Plain Dialect = "plain"
	// TypedOrJSX is markup plus type annotations.
	TypedOrJSX Dialect = "typed"
)

// SniffDialect treats the raw text as typed when it contains a colon, the
// word "interface" or an angle bracket. A ternary or object literal is
// therefore classified as typed too.
func SniffDialect(raw string) Dialect {
	if strings.Contains(raw, ":") || strings.Contains(raw, "interface") || strings.Contains(raw, "<") {
		return TypedOrJSX
	}
	return Plain
}

// CompiledUnit is executable code with no syntax extensions left.
type CompiledUnit struct {
	Code    string
	Dialect Dialect
}

// Options mirror the two compiler presets.
func options(d Dialect) api.TransformOptions {
	opts := api.TransformOptions{
		Loader:      api.LoaderJSX,
		Target:      api.ES2017,
		JSX:         api.JSXTransform,
		JSXFactory:  "React.createElement",
		JSXFragment: "React.Fragment",
		Sourcefile:  "snippet.jsx",
		LogLevel:    api.LogLevelSilent,
		Charset:     api.CharsetUTF8,
	}
	if d == TypedOrJSX {
		opts.Loader = api.LoaderTSX
		opts.Sourcefile = "snippet.tsx"
	}
	return opts
}

// Compile transpiles a rewritten body. Syntax errors become SyntaxFailure
// carrying the first diagnostic's line and column.
func Compile(rewritten string, dialect Dialect) (CompiledUnit, error) {
	timer := logging.StartTimer(logging.CategoryTranspile, "compile")
	defer timer.Stop()

	result := api.Transform(rewritten, options(dialect))
	if len(result.Errors) > 0 {
		return CompiledUnit{}, diagnosticFailure(result.Errors)
	}
	for _, w := range result.Warnings {
		logging.Transpile("warning: %s", w.Text)
	}
	return CompiledUnit{Code: string(result.Code), Dialect: dialect}, nil
}

func diagnosticFailure(msgs []api.Message) *types.Failure {
	first := msgs[0]
	f := types.NewFailure(types.SyntaxFailure, "%s", first.Text)
	if first.Location != nil {
		f = f.WithLocation(first.Location.Line, first.Location.Column)
		if first.Location.LineText != "" {
			f = f.WithStack(first.Location.LineText)
		}
	}
	if len(msgs) > 1 {
		f.Message += " (and " + plural(len(msgs)-1, "more error") + ")"
	}
	logging.Transpile("syntax failure: %s", f.Error())
	return f
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}
