package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"livenote/internal/config"
	"livenote/internal/document"
	"livenote/internal/picker"
	"livenote/internal/render"
)

var (
	renderFormat      string
	renderOut         string
	renderInteractive bool
)

var renderCmd = &cobra.Command{
	Use:   "render [note]",
	Short: "Render a note with its live snippets",
	Long: `Mounts every snippet of the note, waits for them to settle and writes the
composed page.

Formats:
  html      a standalone HTML document (default)
  terminal  the note as styled terminal output, snippets as text`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVarP(&renderFormat, "format", "f", "html", "Output format: html, terminal")
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "", "Write to file instead of stdout")
	renderCmd.Flags().BoolVarP(&renderInteractive, "interactive", "i", false, "Answer readFile() prompts with a file chooser")
}

func runRender(cmd *cobra.Command, args []string) error {
	doc, err := docArg(args[0])
	if err != nil {
		return err
	}
	docs, err := openVault()
	if err != nil {
		return err
	}

	var opts []render.Option
	if renderInteractive {
		opts = append(opts, render.WithPicker(picker.NewTUI()))
	}
	rc, err := render.NewContext(cfg, docs, opts...)
	if err != nil {
		return err
	}
	defer rc.Close()

	ctx, cancel := commandContext(timeout)
	defer cancel()

	page, err := rc.RenderPage(ctx, doc, nil)
	if err != nil {
		return err
	}
	defer page.Close()

	failed := 0
	for _, h := range page.Hosts() {
		if f := h.Failure(); f != nil {
			failed++
			logger.Warn("snippet failed", zap.String("doc", doc), zap.Int("block", h.Block),
				zap.String("kind", string(f.Kind)), zap.String("error", f.Message))
		}
	}

	var out string
	switch renderFormat {
	case "html":
		out, err = page.HTML(render.HTMLOptions{})
	case "terminal":
		out, err = terminalPage(docs, page, rc.Theme())
	default:
		return fmt.Errorf("unknown format %q (valid: html, terminal)", renderFormat)
	}
	if err != nil {
		return err
	}

	if renderOut == "" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), out)
		return err
	}
	if err := os.WriteFile(renderOut, []byte(out), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", renderOut, err)
	}
	logger.Info("rendered", zap.String("doc", doc), zap.String("out", renderOut),
		zap.Int("snippets", len(page.Hosts())), zap.Int("failed", failed))
	return nil
}

// terminalPage renders the note's markdown with glamour, each snippet fence
// replaced by the text of its rendered output.
func terminalPage(docs document.Store, page *render.Page, theme string) (string, error) {
	content, err := docs.Read(page.Document)
	if err != nil {
		return "", err
	}
	body := document.Body(content)

	hosts := page.Hosts()
	var md strings.Builder
	lines := strings.Split(body, "\n")
	next := 0
	for i := 0; i < len(lines); i++ {
		fence, lang := fenceOpen(lines[i])
		if fence == "" {
			md.WriteString(lines[i] + "\n")
			continue
		}
		j := i + 1
		for j < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[j]), fence) {
			j++
		}
		if strings.EqualFold(lang, cfg.Render.Language) && next < len(hosts) {
			md.WriteString(snippetQuote(hosts[next]))
			next++
		} else {
			end := j
			if end < len(lines) {
				end++
			}
			md.WriteString(strings.Join(lines[i:end], "\n") + "\n")
		}
		i = j
	}

	style := "dark"
	if theme == config.ThemeLight {
		style = "light"
	}
	r, err := glamour.NewTermRenderer(glamour.WithStandardStyle(style), glamour.WithWordWrap(100))
	if err != nil {
		return "", err
	}
	return r.Render(md.String())
}

func fenceOpen(line string) (fence, lang string) {
	t := strings.TrimSpace(line)
	for _, f := range []string{"```", "~~~"} {
		if strings.HasPrefix(t, f) {
			info := strings.TrimSpace(strings.TrimLeft(t, f[:1]))
			if i := strings.IndexAny(info, " \t{"); i >= 0 {
				info = info[:i]
			}
			return f, info
		}
	}
	return "", ""
}

func snippetQuote(h *render.Host) string {
	var b strings.Builder
	if f := h.Failure(); f != nil {
		fmt.Fprintf(&b, "> **%s**: %s\n", f.Kind, f.Message)
		if f.Location != nil {
			fmt.Fprintf(&b, ">\n> at %s\n", f.Location)
		}
		return b.String() + "\n"
	}
	text := htmlText(h.Inner())
	if text == "" {
		text = "(empty)"
	}
	for _, l := range strings.Split(text, "\n") {
		b.WriteString("> " + l + "\n")
	}
	return b.String() + "\n"
}

var blockTags = map[string]bool{
	"div": true, "p": true, "li": true, "tr": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "pre": true, "section": true, "ul": true, "ol": true, "table": true, "br": true,
}

// htmlText flattens rendered markup into lines of text.
func htmlText(fragment string) string {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{Type: html.ElementNode, Data: "div"})
	if err != nil {
		return fragment
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			b.WriteString("\n")
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	var out []string
	for _, l := range strings.Split(b.String(), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
