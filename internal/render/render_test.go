package render

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"livenote/internal/config"
	"livenote/internal/document"
	"livenote/internal/types"
	"livenote/internal/ui"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const noteText = "---\ntitle: Demo note\nready: false\n---\n# Demo\n\nSome text.\n"

type env struct {
	t    *testing.T
	rc   *Context
	docs *document.FSStore
}

func newEnv(t *testing.T, mutate func(*config.Config)) *env {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.md"), []byte(noteText), 0o644))
	docs, err := document.NewFSStore(dir)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Render.PersistDebounce = "5ms"
	cfg.Render.MountDelay = "1ms"
	if mutate != nil {
		mutate(cfg)
	}
	rc, err := NewContext(cfg, docs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return &env{t: t, rc: rc, docs: docs}
}

func (e *env) host(observer Observer) *Host {
	e.t.Helper()
	h, err := e.rc.NewHost("note.md", 0, observer)
	require.NoError(e.t, err)
	return h
}

func (e *env) idle(h *Host) {
	e.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(e.t, h.WaitIdle(ctx))
}

func TestHostMountsComponent(t *testing.T) {
	e := newEnv(t, nil)
	h := e.host(nil)
	assert.Equal(t, StateCreated, h.State())

	h.Render(`export default function Hello() { return <p className="hi">hello from {noteContext.basename}</p>; }`)
	e.idle(h)

	require.Equal(t, StateMounted, h.State(), "%v", h.Failure())
	out := h.HTML()
	assert.Contains(t, out, `<p class="hi">hello from note</p>`)
	assert.Contains(t, out, "theme-dark")
	assert.Contains(t, out, `data-live-state="mounted"`)
}

func TestHostFailures(t *testing.T) {
	cases := []struct {
		name   string
		source string
		kind   types.FailureKind
		panel  string
	}{
		{"syntax", "function Broken() { return <div>; }", types.SyntaxFailure, "Syntax error"},
		{"no entity", "// nothing to see\nlet x = 1;\n", types.MissingEntityFailure, "Nothing to render"},
		{"runtime", `function Boom() { throw new Error("kaboom"); }`, types.RuntimeFailure, "kaboom"},
		{"plain object", `function Data() { return { open: 1, close: 2 }; }`, types.ObjectRenderFailure, "Cannot display a plain object"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, nil)
			h := e.host(nil)
			h.Render(tc.source)
			e.idle(h)

			require.Equal(t, StateErrored, h.State())
			require.NotNil(t, h.Failure())
			assert.Equal(t, tc.kind, h.Failure().Kind)
			assert.Contains(t, h.HTML(), tc.panel)
		})
	}
}

func TestHostSyntaxLocationIsRelativeToSnippet(t *testing.T) {
	e := newEnv(t, nil)
	h := e.host(nil)
	h.Render("function Broken() {\n  return <div>;\n}")
	e.idle(h)

	f := h.Failure()
	require.NotNil(t, f)
	require.NotNil(t, f.Location)
	assert.GreaterOrEqual(t, f.Location.Line, 1)
	assert.LessOrEqual(t, f.Location.Line, 3)
}

func TestHostDefinitionsBlock(t *testing.T) {
	e := newEnv(t, nil)
	h := e.host(nil)
	h.Render(`const X = { a: 1, b: 2 }`)
	e.idle(h)

	require.Equal(t, StateMounted, h.State(), "%v", h.Failure())
	assert.Contains(t, h.Inner(), "<code>a</code>")
	assert.Contains(t, h.Inner(), "<code>b</code>")
}

func TestHostRenderIsIdempotent(t *testing.T) {
	e := newEnv(t, nil)
	src := `function List() { return <ul>{[1, 2, 3].map(n => <li key={n}>{n * 2}</li>)}</ul>; }`

	a := e.host(nil)
	a.Render(src)
	e.idle(a)
	b := e.host(nil)
	b.Render(src)
	e.idle(b)

	assert.Equal(t, StateMounted, a.State())
	assert.Equal(t, a.Inner(), b.Inner())
	assert.Contains(t, a.Inner(), "<li>6</li>")
}

func TestHostLastRenderWins(t *testing.T) {
	e := newEnv(t, nil)
	h := e.host(nil)

	first := h.Render(`const start = Date.now();
while (Date.now() - start < 300) {}
function Old() { return <span>old</span>; }`)
	second := h.Render(`function New() { return <span>new</span>; }`)
	assert.Greater(t, second, first)
	e.idle(h)

	require.Equal(t, StateMounted, h.State())
	assert.Contains(t, h.Inner(), "new")
	assert.NotContains(t, h.Inner(), "old")
	assert.Equal(t, second, h.Generation())
}

func TestHostRetry(t *testing.T) {
	e := newEnv(t, nil)
	h := e.host(nil)
	h.Render(`const Flaky = noteContext.frontmatter.ready ? function () { return <b>ready</b>; } : undefined;`)
	e.idle(h)
	require.Equal(t, StateErrored, h.State())
	assert.Equal(t, types.MissingEntityFailure, h.Failure().Kind)

	require.NoError(t, e.docs.SetFrontmatter("note.md", []string{"ready"}, true))
	require.NoError(t, h.Dispatch(context.Background(), ui.RetryHandlerID, nil))
	e.idle(h)

	require.Equal(t, StateMounted, h.State(), "%v", h.Failure())
	assert.Contains(t, h.Inner(), "<b>ready</b>")
	assert.Equal(t, uint64(2), h.Generation())
}

var clickAttr = regexp.MustCompile(`data-live-onclick="([^"]+)"`)

func TestHostDispatchEvent(t *testing.T) {
	e := newEnv(t, nil)
	h := e.host(nil)
	h.Render(`function Counter() {
  const [n, setN] = useState(0);
  return <button onClick={() => setN(n + 1)}>clicked {n}</button>;
}`)
	e.idle(h)
	require.Equal(t, StateMounted, h.State(), "%v", h.Failure())

	m := clickAttr.FindStringSubmatch(h.Inner())
	require.Len(t, m, 2)
	require.NoError(t, h.Dispatch(context.Background(), m[1], nil))
	e.idle(h)
	assert.Contains(t, h.Inner(), "clicked 1")

	assert.Error(t, h.Dispatch(context.Background(), "no-such-handler", nil))
}

func TestHostStorageFlushedOnDispose(t *testing.T) {
	e := newEnv(t, func(cfg *config.Config) { cfg.Render.PersistDebounce = "1h" })
	h := e.host(nil)
	h.Render(`function Prefs() {
  const [mode, setMode] = useStorage("mode", "compact");
  useEffect(() => { setMode("wide"); }, []);
  return <span>{mode}</span>;
}`)
	e.idle(h)
	assert.Contains(t, h.Inner(), "wide")

	h.Dispose()
	assert.Equal(t, StateDisposed, h.State())
	assert.Empty(t, h.Inner())

	fm, err := e.docs.Frontmatter("note.md")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"mode": "wide"}, fm["react_data"])
	assert.Equal(t, "Demo note", fm["title"])

	assert.Zero(t, h.Render("function X() { return null; }"))
}

type snapshots struct {
	mu   sync.Mutex
	html []string
}

func (s *snapshots) HostUpdated(h *Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.html = append(s.html, h.Inner())
}

func (s *snapshots) any(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.html {
		if strings.Contains(h, substr) {
			return true
		}
	}
	return false
}

func TestHostSlowNotice(t *testing.T) {
	e := newEnv(t, func(cfg *config.Config) { cfg.Render.SlowNotice = "20ms" })
	obs := &snapshots{}
	h := e.host(obs)
	h.Render(`const start = Date.now();
while (Date.now() - start < 200) {}
function Slow() { return <i>done</i>; }`)
	e.idle(h)

	assert.True(t, obs.any("live-slow-notice"))
	assert.Contains(t, h.Inner(), "<i>done</i>")
}

func TestThemePropagation(t *testing.T) {
	e := newEnv(t, nil)
	obs := &snapshots{}
	h := e.host(obs)
	assert.Contains(t, h.HTML(), "theme-dark")

	e.rc.ReportTheme(config.ThemeLight)
	assert.Contains(t, h.HTML(), "theme-light")
	assert.Equal(t, config.ThemeLight, e.rc.Theme())

	assert.Equal(t, config.ThemeDark, ResolveTheme(config.ThemeDark, config.ThemeLight))
	assert.Equal(t, config.ThemeLight, ResolveTheme(config.ThemeLight, ""))
	assert.Equal(t, config.ThemeDark, ResolveTheme(config.ThemeAuto, ""))
}

const pageText = `---
title: Dashboard
---
# Dashboard

Intro paragraph.

` + "```react" + `
function One() { return <div>first block</div>; }
` + "```" + `

` + "```go" + `
fmt.Println("<not rendered>")
` + "```" + `

` + "```react" + `
function Two() { return <div>second block</div>; }
` + "```" + `
`

func TestRenderPage(t *testing.T) {
	e := newEnv(t, func(cfg *config.Config) { cfg.Render.MathTypesetting = true })
	require.NoError(t, os.WriteFile(filepath.Join(e.docs.Root(), "dash.md"), []byte(pageText), 0o644))

	page, err := e.rc.RenderPage(context.Background(), "dash.md", nil)
	require.NoError(t, err)
	defer page.Close()

	require.Len(t, page.Hosts(), 2)
	assert.Equal(t, "Dashboard", page.Title)

	body, err := page.Body()
	require.NoError(t, err)
	first := strings.Index(body, "first block")
	second := strings.Index(body, "second block")
	assert.True(t, first > 0 && second > first, body)
	assert.Contains(t, body, "<h1>Dashboard</h1>")
	assert.Contains(t, body, `<pre><code class="language-go">fmt.Println(&quot;&lt;not rendered&gt;&quot;)`)
	assert.Contains(t, body, "live-math")

	full, err := page.HTML(HTMLOptions{Script: "console.log(1)"})
	require.NoError(t, err)
	assert.Contains(t, full, "<title>Dashboard</title>")
	assert.Contains(t, full, "MathJax-script")
	assert.Contains(t, full, `<body class="theme-dark"`)
	assert.Contains(t, full, "<script>console.log(1)</script>")
}

func TestPageUpdate(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(e.docs.Root(), "dash.md"), []byte(pageText), 0o644))
	page, err := e.rc.RenderPage(context.Background(), "dash.md", nil)
	require.NoError(t, err)
	defer page.Close()
	firstHost := page.Hosts()[0]
	gen := firstHost.Generation()

	updated := strings.Replace(pageText, "second block", "changed block", 1)
	updated = updated + "\n```react\nfunction Three() { return <div>third block</div>; }\n```\n"
	require.NoError(t, page.Update(updated, nil))
	require.NoError(t, page.Settle(context.Background(), 10*time.Second))

	hosts := page.Hosts()
	require.Len(t, hosts, 3)
	assert.Equal(t, gen, firstHost.Generation(), "unchanged block is not re-rendered")
	body, err := page.Body()
	require.NoError(t, err)
	assert.Contains(t, body, "changed block")
	assert.Contains(t, body, "third block")

	require.NoError(t, page.Update(noteText, nil))
	assert.Empty(t, page.Hosts())
	assert.Equal(t, StateDisposed, firstHost.State())
}

func TestRenderPageMissingDocument(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.rc.RenderPage(context.Background(), "nope.md", nil)
	assert.ErrorIs(t, err, document.ErrNotFound)
}
