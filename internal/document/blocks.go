package document

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Block is one fenced code block of a recognised language.
type Block struct {
	Index int    // position among blocks of the same language, 0-based
	Lang  string // info-string language tag
	Body  string
	Line  int // 1-based line of the opening fence within the body
}

var parser = goldmark.New().Parser()

// ExtractBlocks finds fenced blocks tagged lang in document order. Frontmatter
// is skipped. An empty lang returns every fenced block.
func ExtractBlocks(content, lang string) []Block {
	source := []byte(Body(content))
	root := parser.Parse(text.NewReader(source))

	var blocks []Block
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fcb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		blockLang := string(fcb.Language(source))
		if lang != "" && !strings.EqualFold(blockLang, lang) {
			return ast.WalkSkipChildren, nil
		}
		blocks = append(blocks, Block{
			Index: len(blocks),
			Lang:  blockLang,
			Body:  BlockBody(fcb, source),
			Line:  fenceLine(fcb, source),
		})
		return ast.WalkSkipChildren, nil
	})
	return blocks
}

// BlockBody concatenates the raw lines of a fenced block.
func BlockBody(fcb *ast.FencedCodeBlock, source []byte) string {
	var b strings.Builder
	lines := fcb.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}

func fenceLine(fcb *ast.FencedCodeBlock, source []byte) int {
	if fcb.Lines().Len() == 0 {
		return 0
	}
	start := fcb.Lines().At(0).Start
	// The fence itself sits on the line above the first content line.
	return strings.Count(string(source[:start]), "\n")
}
