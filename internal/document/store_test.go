package document

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleNote = `---
title: Trading journal
tags:
  - markets
# keep me
rating: 4
---
# Journal

Some text.

` + "```react" + `
const Hello = () => <div>hi</div>;
` + "```" + `

` + "```go" + `
package main
` + "```" + `

` + "```react" + `
function Second() { return <p>2</p>; }
` + "```" + `
`

func newVault(t *testing.T, files map[string]string) *FSStore {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
	s, err := NewFSStore(dir)
	require.NoError(t, err)
	return s
}

func TestExtractBlocks(t *testing.T) {
	blocks := ExtractBlocks(sampleNote, "react")
	require.Len(t, blocks, 2)

	assert.Equal(t, 0, blocks[0].Index)
	assert.Contains(t, blocks[0].Body, "const Hello")
	assert.Equal(t, 1, blocks[1].Index)
	assert.Contains(t, blocks[1].Body, "function Second")
	assert.Greater(t, blocks[1].Line, blocks[0].Line)

	all := ExtractBlocks(sampleNote, "")
	assert.Len(t, all, 3)
}

func TestParseFrontmatter(t *testing.T) {
	fm, body, err := ParseFrontmatter(sampleNote)
	require.NoError(t, err)
	assert.Equal(t, "Trading journal", fm["title"])
	assert.Equal(t, int64(4), fm["rating"])
	assert.Equal(t, []interface{}{"markets"}, fm["tags"])
	assert.True(t, strings.HasPrefix(body, "# Journal"))

	fm, body, err = ParseFrontmatter("no metadata here")
	require.NoError(t, err)
	assert.Empty(t, fm)
	assert.Equal(t, "no metadata here", body)
}

func TestSetFrontmatterValue_PreservesSiblings(t *testing.T) {
	updated, err := SetFrontmatterValue(sampleNote, []string{"react_data", "count"}, 3)
	require.NoError(t, err)

	fm, body, err := ParseFrontmatter(updated)
	require.NoError(t, err)
	assert.Equal(t, "Trading journal", fm["title"])
	assert.Equal(t, int64(4), fm["rating"])
	assert.Equal(t, map[string]interface{}{"count": int64(3)}, fm["react_data"])
	assert.Contains(t, updated, "# keep me")
	assert.True(t, strings.HasPrefix(body, "# Journal"))

	// order of existing keys is unchanged
	assert.Less(t, strings.Index(updated, "title:"), strings.Index(updated, "rating:"))
	assert.Less(t, strings.Index(updated, "rating:"), strings.Index(updated, "react_data:"))
}

func TestSetFrontmatterValue_ReplaceAndNested(t *testing.T) {
	updated, err := SetFrontmatterValue(sampleNote, []string{"rating"}, map[string]interface{}{"a": []interface{}{1, "x"}})
	require.NoError(t, err)
	fm, _, err := ParseFrontmatter(updated)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": []interface{}{int64(1), "x"}}, fm["rating"])
}

func TestSetFrontmatterValue_NoExistingBlock(t *testing.T) {
	updated, err := SetFrontmatterValue("# Plain\n", []string{"k"}, "v")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(updated, "---\nk: v\n---\n# Plain"))
}

func TestSetFrontmatterValue_KeepsCRLF(t *testing.T) {
	crlf := "---\r\ntitle: Windows note\r\n---\r\n# Body\r\n\r\nline two\r\n"

	_, body, ok := SplitFrontmatter(crlf)
	require.True(t, ok)
	assert.Equal(t, "# Body\r\n\r\nline two\r\n", body)

	updated, err := SetFrontmatterValue(crlf, []string{"react_data", "mode"}, "wide")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(updated, "---\r\n# Body\r\n\r\nline two\r\n"))
	assert.NotContains(t, strings.ReplaceAll(updated, "\r\n", ""), "\n")

	fm, _, err := ParseFrontmatter(updated)
	require.NoError(t, err)
	assert.Equal(t, "Windows note", fm["title"])
	assert.Equal(t, map[string]interface{}{"mode": "wide"}, fm["react_data"])

	updated, err = SetFrontmatterValue("# Plain\r\nmore\r\n", []string{"k"}, "v")
	require.NoError(t, err)
	assert.Equal(t, "---\r\nk: v\r\n---\r\n# Plain\r\nmore\r\n", updated)

	blocks := ExtractBlocks("---\r\na: 1\r\n---\r\n```react\r\nconst X = 1;\r\n```\r\n", "react")
	require.Len(t, blocks, 1)
	assert.Equal(t, "const X = 1;\n", blocks[0].Body)
}

func TestFSStore_ReadWriteFrontmatter(t *testing.T) {
	s := newVault(t, map[string]string{"notes/a.md": sampleNote})

	assert.True(t, s.Exists("notes/a.md"))
	assert.False(t, s.Exists("notes/missing.md"))

	_, err := s.Read("notes/missing.md")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetFrontmatter("notes/a.md", []string{"react_data", "items"}, []interface{}{"a", "b"}))
	fm, err := s.Frontmatter("notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, fm["react_data"].(map[string]interface{})["items"])

	blocks, err := s.Blocks("notes/a.md", "react")
	require.NoError(t, err)
	assert.Len(t, blocks, 2)

	list, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"notes/a.md"}, list)
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, "a/b.md", Clean("/a/./b.md"))
	assert.Equal(t, "b.md", Clean("../b.md"))
	assert.Equal(t, "b", Basename("a/b.md"))
	assert.Equal(t, "a", Dir("a/b.md"))
	assert.Equal(t, "", Dir("b.md"))
}
