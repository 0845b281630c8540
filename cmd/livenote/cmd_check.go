package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"livenote/internal/document"
	"livenote/internal/render"
	"livenote/internal/rewrite"
	"livenote/internal/transpile"
	"livenote/internal/types"
)

var checkRun bool

var checkCmd = &cobra.Command{
	Use:   "check [notes...]",
	Short: "Check the snippets of notes for errors",
	Long: `Rewrites and compiles every snippet without running it, and reports syntax
errors and snippets with nothing to render. With --run each note is also
mounted so runtime failures show up. Without arguments the whole vault is
checked.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkRun, "run", false, "Also execute snippets and report runtime failures")
}

var (
	checkTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	checkOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	checkFail  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	checkDim   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	checkBox   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).MarginBottom(1)
)

// diagnostic is the check result of one snippet.
type diagnostic struct {
	block   document.Block
	failure *types.Failure
	entity  string
}

func runCheck(cmd *cobra.Command, args []string) error {
	docs, err := openVault()
	if err != nil {
		return err
	}

	var targets []string
	if len(args) == 0 {
		if targets, err = docs.List(); err != nil {
			return err
		}
	}
	for _, a := range args {
		d, err := docArg(a)
		if err != nil {
			return err
		}
		targets = append(targets, d)
	}

	ctx, cancel := commandContext(timeout)
	defer cancel()

	var rc *render.Context
	if checkRun {
		if rc, err = render.NewContext(cfg, docs); err != nil {
			return err
		}
		defer rc.Close()
	}
	rw := rewrite.New(docs, cfg.Render.Language)

	total, failed := 0, 0
	for _, doc := range targets {
		diags, err := checkDocument(ctx, docs, rw, rc, doc)
		if err != nil {
			return err
		}
		if len(diags) == 0 {
			continue
		}
		total += len(diags)
		for _, d := range diags {
			if d.failure != nil {
				failed++
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), checkBox.Render(formatDiagnostics(doc, diags)))
	}

	summary := fmt.Sprintf("%d snippets in %d notes, %d failing", total, len(targets), failed)
	if failed > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), checkFail.Render(summary))
		return errors.New("some snippets failed")
	}
	fmt.Fprintln(cmd.OutOrStdout(), checkOK.Render(summary))
	return nil
}

func checkDocument(ctx context.Context, docs document.Store, rw *rewrite.Rewriter, rc *render.Context, doc string) ([]diagnostic, error) {
	blocks, err := docs.Blocks(doc, cfg.Render.Language)
	if err != nil {
		return nil, err
	}
	diags := make([]diagnostic, len(blocks))
	for i, b := range blocks {
		diags[i].block = b
		res, err := rw.Rewrite(ctx, b.Body, rewrite.Context{DocumentPath: doc, MaxImportDepth: cfg.Render.MaxIncludeDepth})
		if err != nil {
			diags[i].failure = types.AsFailure(err, types.SyntaxFailure)
			continue
		}
		diags[i].entity = res.Entity
		if _, err := transpile.Compile(res.Body, res.Dialect); err != nil {
			f := types.AsFailure(err, types.SyntaxFailure)
			if f.Location != nil && f.Location.Line > res.LineOffset {
				f.Location.Line -= res.LineOffset
			}
			diags[i].failure = f
		}
	}
	if rc == nil || len(blocks) == 0 {
		return diags, nil
	}

	page, err := rc.RenderPage(ctx, doc, nil)
	if err != nil {
		return nil, err
	}
	defer page.Close()
	for i, h := range page.Hosts() {
		if i < len(diags) && diags[i].failure == nil {
			diags[i].failure = h.Failure()
		}
	}
	return diags, nil
}

func formatDiagnostics(doc string, diags []diagnostic) string {
	var b strings.Builder
	b.WriteString(checkTitle.Render(doc))
	for _, d := range diags {
		b.WriteString("\n")
		where := checkDim.Render(fmt.Sprintf("#%d line %d", d.block.Index, d.block.Line))
		if d.failure == nil {
			name := d.entity
			if name == "" {
				name = "snippet"
			}
			fmt.Fprintf(&b, "%s %s %s", checkOK.Render("ok  "), where, name)
			continue
		}
		msg := d.failure.Message
		if d.failure.Location != nil {
			msg = fmt.Sprintf("%s (at %s)", msg, d.failure.Location)
		}
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			msg = msg[:i]
		}
		fmt.Fprintf(&b, "%s %s %s: %s", checkFail.Render("FAIL"), where, d.failure.Kind, msg)
	}
	return b.String()
}
