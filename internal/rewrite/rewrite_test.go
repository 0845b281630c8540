package rewrite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livenote/internal/document"
	"livenote/internal/transpile"
	"livenote/internal/types"
)

func vault(t *testing.T, files map[string]string) *document.FSStore {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
	s, err := document.NewFSStore(dir)
	require.NoError(t, err)
	return s
}

func fenced(body string) string {
	return "```react\n" + body + "\n```\n"
}

// =============================================================================
// IMPORT / EXPORT STRIPPING
// =============================================================================

func TestStripModuleSyntax(t *testing.T) {
	src := `import React, { useState } from 'react';
import {
  LineChart,
  Line,
} from "recharts";
import * as d3 from 'd3'
import './styles.css';
const lib = await import('lodash');
export const helper = 1;
export function Thing() { return null; }
export default function App() { return <div/>; }
export { helper as h };
`
	out := StripModuleSyntax(src)
	assert.NotContains(t, out, "import")
	assert.NotContains(t, out, "export")
	assert.Contains(t, out, "const helper = 1;")
	assert.Contains(t, out, "function Thing()")
	assert.Contains(t, out, "function App()")
	assert.Equal(t, strings.Count(src, "\n"), strings.Count(out, "\n"), "line structure is kept")
}

func TestStripModuleSyntax_ExportDefaultIdentifier(t *testing.T) {
	out := StripModuleSyntax("const App = () => null;\nexport default App;\n")
	assert.NotContains(t, out, "export")
	assert.Equal(t, 1, strings.Count(out, "App"))
}

func TestStripModuleSyntax_AnonymousDefault(t *testing.T) {
	out := StripModuleSyntax("export default () => <div/>;\n")
	assert.Contains(t, out, "const DefaultExport = () => <div/>;")

	e, ok := DetectEntity(out)
	require.True(t, ok)
	assert.Equal(t, DefaultExportName, e.Name)
}

// =============================================================================
// ENTITY DETECTION
// =============================================================================

func TestDetectEntity(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
		kind EntityKind
	}{
		{"function declaration", "function Dashboard() { return <div/> }", "Dashboard", EntityFunction},
		{"arrow", "const Chart = () => <svg/>", "Chart", EntityArrow},
		{"arrow with props", "const Card = ({ title }) => <h1>{title}</h1>", "Card", EntityArrow},
		{"typed arrow", "const Card: React.FC<Props> = ({ title }: Props) => <h1/>", "Card", EntityArrow},
		{"function expression", "const Widget = function () { return null }", "Widget", EntityFuncExpr},
		{"memo", "const Fast = React.memo(() => <b/>)", "Fast", EntityWrapper},
		{"forwardRef", "const Input = forwardRef((p, ref) => <input ref={ref}/>)", "Input", EntityWrapper},
		{"class component", "class Clock extends React.Component { render() { return null } }", "Clock", EntityClass},
		{"definitions object", "const X = { a: 1, b: 2 }", "X", EntityDefinitions},
		{"capitalised wins over helper", "const fmt = (n) => n.toFixed(2);\nfunction Table() { return null }", "Table", EntityFunction},
		{"nested declarations ignored", "function Outer() {\n  function Inner() {}\n  return null\n}", "Outer", EntityFunction},
		{"apostrophe in jsx text", "const Note = () => <p>Don't panic</p>;\nconst Other = () => null", "Note", EntityArrow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := DetectEntity(tt.code)
			require.True(t, ok)
			assert.Equal(t, tt.want, e.Name)
			assert.Equal(t, tt.kind, e.Kind)
		})
	}
}

func TestDetectEntity_CommentsAndStrings(t *testing.T) {
	code := "// function Fake() {}\nconst s = \"class Nope extends React.Component\";\nconst Real = () => null"
	e, ok := DetectEntity(code)
	require.True(t, ok)
	assert.Equal(t, "Real", e.Name)
}

func TestDetectEntity_None(t *testing.T) {
	_, ok := DetectEntity("console.log('hello');\n1 + 2;")
	assert.False(t, ok)
}

// =============================================================================
// REWRITE
// =============================================================================

func TestRewrite_WrapsEntity(t *testing.T) {
	r := New(nil, "react")
	res, err := r.Rewrite(context.Background(), "import React from 'react';\nexport default function Hello() { return <div>hi</div>; }", Context{DocumentPath: "a.md"})
	require.NoError(t, err)

	assert.Equal(t, "Hello", res.Entity)
	assert.Equal(t, transpile.TypedOrJSX, res.Dialect)
	assert.True(t, strings.HasPrefix(res.Body, ResultName+" = (async () => {"))
	assert.Contains(t, res.Body, HarnessName+`.classify(typeof Hello === "undefined" ? undefined : Hello, "Hello"`)
	assert.Contains(t, res.Body, "return "+WrapperName)
	assert.NotContains(t, res.Body, "import React")
	assert.Equal(t, 1, res.LineOffset)

	_, err = transpile.Compile(res.Body, res.Dialect)
	assert.NoError(t, err)
}

func TestRewrite_ReservedNameRenamed(t *testing.T) {
	r := New(nil, "")
	res, err := r.Rewrite(context.Background(), "const WrappedComponent = () => <div/>;", Context{})
	require.NoError(t, err)
	assert.Equal(t, SafeName, res.Entity)
	assert.Contains(t, res.Body, "const UserComponent = () =>")
	assert.Equal(t, 1, strings.Count(res.Body, "const "+WrapperName))
}

func TestRewrite_MissingEntity(t *testing.T) {
	r := New(nil, "")
	_, err := r.Rewrite(context.Background(), "let x = 1 + 2;\nconsole.log(x)", Context{})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.MissingEntityFailure))
	assert.Contains(t, err.Error(), "console.log")
}

func TestRewrite_DefinitionsBlock(t *testing.T) {
	r := New(nil, "")
	res, err := r.Rewrite(context.Background(), "const X = { a: 1, b: 2 }", Context{})
	require.NoError(t, err)
	assert.Equal(t, "X", res.Entity)
	assert.Equal(t, EntityDefinitions, res.EntityKind)
}

func TestRewrite_Idempotent(t *testing.T) {
	r := New(nil, "")
	raw := "const A = () => <div>{1}</div>"
	first, err := r.Rewrite(context.Background(), raw, Context{})
	require.NoError(t, err)
	second, err := r.Rewrite(context.Background(), raw, Context{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestUsesThree(t *testing.T) {
	assert.True(t, UsesThree("import * as THREE from 'three'"))
	assert.True(t, UsesThree("const r = new WebGLRenderer()"))
	assert.False(t, UsesThree("const A = () => <div/>"))
}

// =============================================================================
// INCLUDES
// =============================================================================

func TestRewrite_Include(t *testing.T) {
	docs := vault(t, map[string]string{
		"lib/helpers.md": "# Helpers\n" +
			fenced("export const fmt = (n) => n.toFixed(2);") +
			fenced("export const double = (n) => n * 2;"),
	})
	r := New(docs, "react")

	raw := "include(\"lib/helpers\", 1);\nconst View = () => <span>{double(2)}</span>;"
	res, err := r.Rewrite(context.Background(), raw, Context{DocumentPath: "notes/main.md"})
	require.NoError(t, err)

	require.Len(t, res.Includes, 1)
	assert.Equal(t, "lib/helpers.md", res.Includes[0].Path)
	assert.Equal(t, 1, res.Includes[0].Index)
	assert.Contains(t, res.Body, "const double = (n) => n * 2;")
	assert.NotContains(t, res.Body, "toFixed")
	assert.NotContains(t, res.Body, "include(")
	assert.Less(t, strings.Index(res.Body, "const double"), strings.Index(res.Body, "const View"))
	assert.Equal(t, "View", res.Entity)
	assert.Greater(t, res.LineOffset, 1)
}

func TestRewrite_IncludeRelativeToDocument(t *testing.T) {
	docs := vault(t, map[string]string{
		"notes/shared.md": fenced("const shared = 42;"),
	})
	r := New(docs, "react")
	res, err := r.Rewrite(context.Background(), "include('shared')\nconst A = () => shared", Context{DocumentPath: "notes/a.md"})
	require.NoError(t, err)
	require.Len(t, res.Includes, 1)
	assert.Equal(t, "notes/shared.md", res.Includes[0].Path)
}

func TestRewrite_IncludeCycle(t *testing.T) {
	docs := vault(t, map[string]string{
		"a.md": fenced("include('b')\nconst fromA = 1;"),
		"b.md": fenced("include('a')\nconst fromB = 2;"),
	})
	r := New(docs, "react")
	res, err := r.Rewrite(context.Background(), "include('a')\nconst Main = () => null", Context{DocumentPath: "main.md"})
	require.NoError(t, err)

	assert.Len(t, res.Includes, 2)
	assert.Equal(t, 1, strings.Count(res.Body, "const fromA"))
	assert.Equal(t, 1, strings.Count(res.Body, "const fromB"))
}

func TestRewrite_IncludeDepthCap(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 5; i++ {
		files[fmt.Sprintf("d%d.md", i)] = fenced(fmt.Sprintf("include('d%d')\nconst v%d = %d;", i+1, i, i))
	}
	files["d5.md"] = fenced("const v5 = 5;")
	docs := vault(t, files)

	r := New(docs, "react")
	res, err := r.Rewrite(context.Background(), "include('d0')\nconst Main = () => null", Context{MaxImportDepth: 3})
	require.NoError(t, err, "exceeding the depth cap does not fail the render")

	assert.Len(t, res.Includes, 3)
	assert.Contains(t, res.Body, "const v2")
	assert.NotContains(t, res.Body, "const v3")
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "exceeds limit")
}

func TestRewrite_IncludeMissingDegrades(t *testing.T) {
	docs := vault(t, map[string]string{"one.md": fenced("const x = 1;")})
	r := New(docs, "react")

	res, err := r.Rewrite(context.Background(), "include('nowhere')\ninclude('one', 4)\nconst Main = () => null", Context{})
	require.NoError(t, err)
	assert.Empty(t, res.Includes)
	assert.Len(t, res.Warnings, 2)
}
