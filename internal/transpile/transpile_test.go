package transpile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livenote/internal/types"
)

func TestSniffDialect(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Dialect
	}{
		{"jsx markup", "const A = () => <div/>", TypedOrJSX},
		{"type annotation", "function f(x: number) { return x }", TypedOrJSX},
		{"interface keyword", "interface Props { a }", TypedOrJSX},
		{"plain function", "function f(x) { return x * 2 }", Plain},
		// known imprecision: an object literal colon counts as typed
		{"object literal", "const X = { a: 1 }", TypedOrJSX},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SniffDialect(tt.raw))
		})
	}
}

func TestCompile_JSX(t *testing.T) {
	unit, err := Compile(`__liveResult = (async () => { const A = () => <div className="x">hi</div>; return A; })();`, TypedOrJSX)
	require.NoError(t, err)
	assert.Contains(t, unit.Code, "React.createElement")
	assert.NotContains(t, unit.Code, "<div")
	assert.Equal(t, TypedOrJSX, unit.Dialect)
}

func TestCompile_Fragment(t *testing.T) {
	unit, err := Compile(`const A = () => <><b/></>;`, TypedOrJSX)
	require.NoError(t, err)
	assert.Contains(t, unit.Code, "React.Fragment")
}

func TestCompile_StripsTypes(t *testing.T) {
	unit, err := Compile(`interface P { n: number }
const f = (p: P): number => p.n;`, TypedOrJSX)
	require.NoError(t, err)
	assert.NotContains(t, unit.Code, "interface")
	assert.NotContains(t, unit.Code, ": number")
}

func TestCompile_SyntaxError(t *testing.T) {
	_, err := Compile("const A = () => {\n  return <div>;\n", TypedOrJSX)
	require.Error(t, err)

	var f *types.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, types.SyntaxFailure, f.Kind)
	require.NotNil(t, f.Location)
	assert.GreaterOrEqual(t, f.Location.Line, 2)
	assert.NotEmpty(t, f.Message)
}

func TestPlural(t *testing.T) {
	assert.Equal(t, "1 more error", plural(1, "more error"))
	assert.Equal(t, "3 more errors", plural(3, "more error"))
}
