package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"livenote/internal/config"
	"livenote/internal/document"
	"livenote/internal/logging"
)

// Page is a rendered document: its markdown body with one live host per
// snippet block.
type Page struct {
	Document string
	Title    string

	rc    *Context
	mu    sync.Mutex
	body  []byte // markdown body without frontmatter
	hosts []*Host
}

// RenderPage mounts every snippet block of doc and waits for them to settle,
// up to the configured settle timeout. Blocks still working when it expires
// are composed in their current state.
func (c *Context) RenderPage(ctx context.Context, doc string, observer Observer) (*Page, error) {
	timer := logging.StartTimer(logging.CategoryRender, "page "+doc)
	defer timer.Stop()

	doc = document.Clean(doc)
	content, err := c.Docs.Read(doc)
	if err != nil {
		return nil, err
	}
	fm, _, err := document.ParseFrontmatter(content)
	if err != nil {
		logging.Get(logging.CategoryDocument).Warn("%s: %v", doc, err)
		fm = map[string]interface{}{}
	}

	p := &Page{Document: doc, Title: document.Basename(doc), rc: c, body: []byte(document.Body(content))}
	if t, ok := fm["title"].(string); ok && t != "" {
		p.Title = t
	}

	for _, b := range document.ExtractBlocks(content, c.Config.Render.Language) {
		h, err := c.NewHost(doc, b.Index, observer)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.hosts = append(p.hosts, h)
		h.Render(b.Body)
	}
	logging.Render("page %s: %d snippet blocks", doc, len(p.hosts))

	if err := p.Settle(ctx, c.Config.GetSettleTimeout()); err != nil {
		logging.Get(logging.CategoryRender).Warn("page %s did not settle: %v", doc, err)
	}
	return p, nil
}

// Hosts returns the page's hosts in block order.
func (p *Page) Hosts() []*Host {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Host(nil), p.hosts...)
}

// Settle waits for every host to go idle.
func (p *Page) Settle(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range p.Hosts() {
		h := h
		g.Go(func() error { return h.WaitIdle(gctx) })
	}
	return g.Wait()
}

// Update replaces the source of the page. Blocks whose text changed are
// re-rendered in place; added or removed blocks rebuild the host list.
func (p *Page) Update(content string, observer Observer) error {
	body := document.Body(content)
	blocks := document.ExtractBlocks(content, p.rc.Config.Render.Language)

	p.mu.Lock()
	p.body = []byte(body)
	hosts := p.hosts
	var stale []*Host
	if len(hosts) > len(blocks) {
		stale = hosts[len(blocks):]
		hosts = hosts[:len(blocks)]
	}
	p.hosts = hosts
	p.mu.Unlock()

	for _, h := range stale {
		h.Dispose()
	}
	for i, b := range blocks {
		if i < len(hosts) {
			if hosts[i].Source() != b.Body || hosts[i].State() == StateErrored {
				hosts[i].Render(b.Body)
			}
			continue
		}
		h, err := p.rc.NewHost(p.Document, b.Index, observer)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.hosts = append(p.hosts, h)
		p.mu.Unlock()
		h.Render(b.Body)
	}
	return nil
}

// Body composes the markdown body with each snippet block replaced by its
// host container.
func (p *Page) Body() (string, error) {
	p.mu.Lock()
	source := p.body
	hosts := append([]*Host(nil), p.hosts...)
	p.mu.Unlock()

	br := &blockRenderer{lang: p.rc.Config.Render.Language, hosts: hosts}
	md := goldmark.New(goldmark.WithRendererOptions(
		renderer.WithNodeRenderers(util.Prioritized(br, 100)),
	))
	var buf bytes.Buffer
	if err := md.Convert(source, &buf); err != nil {
		return "", fmt.Errorf("compose %s: %w", p.Document, err)
	}
	return buf.String(), nil
}

// HTMLOptions customise the full page document.
type HTMLOptions struct {
	Script string // extra inline script, e.g. the live-update client
}

// HTML returns a complete HTML document for the page.
func (p *Page) HTML(opts HTMLOptions) (string, error) {
	body, err := p.Body()
	if err != nil {
		return "", err
	}
	theme := p.rc.Theme()

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(p.Title))
	b.WriteString("<style>" + pageCSS + "</style>\n")
	if p.rc.Config.Render.MathTypesetting {
		b.WriteString(mathJax)
	}
	b.WriteString("</head>\n")
	fmt.Fprintf(&b, "<body class=\"theme-%s\" data-live-document=\"%s\">\n<main class=\"live-page\">\n",
		theme, html.EscapeString(p.Document))
	b.WriteString(body)
	b.WriteString("</main>\n")
	if opts.Script != "" {
		b.WriteString("<script>" + opts.Script + "</script>\n")
	}
	b.WriteString("</body>\n</html>\n")
	return b.String(), nil
}

// Close disposes every host of the page.
func (p *Page) Close() {
	p.mu.Lock()
	hosts := p.hosts
	p.hosts = nil
	p.mu.Unlock()
	for _, h := range hosts {
		h.Dispose()
	}
}

// =============================================================================
// GOLDMARK RENDERER
// =============================================================================

// blockRenderer replaces snippet fences with host containers, in order, and
// renders every other fence as a plain code block.
type blockRenderer struct {
	lang  string
	hosts []*Host
	next  int
}

func (r *blockRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFenced)
}

func (r *blockRenderer) renderFenced(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)
	lang := string(n.Language(source))

	if strings.EqualFold(lang, r.lang) && r.next < len(r.hosts) {
		_, _ = w.WriteString(r.hosts[r.next].HTML())
		_ = w.WriteByte('\n')
		r.next++
		return ast.WalkSkipChildren, nil
	}

	_, _ = w.WriteString("<pre><code")
	if lang != "" {
		_, _ = w.WriteString(` class="language-`)
		_, _ = w.Write(util.EscapeHTML([]byte(lang)))
		_ = w.WriteByte('"')
	}
	_ = w.WriteByte('>')
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		_, _ = w.Write(util.EscapeHTML(seg.Value(source)))
	}
	_, _ = w.WriteString("</code></pre>\n")
	return ast.WalkSkipChildren, nil
}

const mathJax = `<script>window.MathJax = { options: { processHtmlClass: "live-math" } };</script>
<script id="MathJax-script" async src="https://cdn.jsdelivr.net/npm/mathjax@3/es5/tex-mml-chtml.js"></script>
`

var pageCSS = strings.Join([]string{
	"body{font-family:system-ui,sans-serif;margin:0}",
	".live-page{max-width:960px;margin:0 auto;padding:1rem 2rem}",
	"body.theme-" + config.ThemeDark + "{background:#1a1b1e;color:#fff}",
	"body.theme-" + config.ThemeLight + "{background:#fff;color:#000}",
	".live-container{margin:1rem 0}",
	".live-error{border:1px solid #e5484d;border-radius:6px;padding:.75rem;background:rgba(229,72,77,.08)}",
	".live-error-title{font-weight:600;margin-bottom:.5rem}",
	".live-error-message{white-space:pre-wrap;margin:0}",
	".live-slow-notice,.live-loading{opacity:.7;font-style:italic}",
	".live-definitions{font-family:monospace}",
	".live-card{border:1px solid rgba(128,128,128,.4);border-radius:8px;padding:1rem}",
	".live-notice{position:fixed;bottom:1rem;right:1rem;padding:.5rem 1rem;border-radius:6px;background:#333;color:#fff}",
}, "\n")
