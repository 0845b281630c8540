package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"livenote/internal/config"
	"livenote/internal/document"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const counterNote = "---\ntitle: Counter\n---\n# Counter\n\n```react\n" +
	"function Counter() {\n" +
	"  const [n, setN] = useState(0);\n" +
	"  return <button onClick={() => setN(n + 1)}>clicked {n}</button>;\n" +
	"}\n```\n"

type fixture struct {
	t   *testing.T
	dir string
	srv *Server
	ts  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "counter.md"), []byte(counterNote), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "plain.md"), []byte("# Plain\n"), 0o644))

	docs, err := document.NewFSStore(dir)
	require.NoError(t, err)
	cfg := config.DefaultConfig()
	cfg.Server.Watch = false
	cfg.Render.PersistDebounce = "5ms"

	srv, err := New(cfg, docs)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Close()
		ts.Close()
	})
	return &fixture{t: t, dir: dir, srv: srv, ts: ts}
}

func (f *fixture) get(path string) (int, string) {
	f.t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	return resp.StatusCode, string(b)
}

func (f *fixture) dial(doc string) *websocket.Conn {
	f.t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws?doc=" + doc
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = conn.Close() })

	hello := f.read(conn, msgHello)
	require.NotEmpty(f.t, hello.Session)
	return conn
}

// read returns the next message of type typ, skipping others.
func (f *fixture) read(conn *websocket.Conn, typ string) message {
	f.t.Helper()
	require.NoError(f.t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for {
		var msg message
		require.NoError(f.t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestIndexListsDocuments(t *testing.T) {
	f := newFixture(t)
	code, body := f.get("/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `href="/doc/counter.md"`)
	assert.Contains(t, body, `href="/doc/sub/plain.md"`)

	code, body = f.get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)
}

func TestDocumentPage(t *testing.T) {
	f := newFixture(t)
	code, body := f.get("/doc/counter.md")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "<title>Counter</title>")
	assert.Contains(t, body, "clicked 0")
	assert.Contains(t, body, `data-live-state="mounted"`)
	assert.Contains(t, body, "new WebSocket")

	code, _ = f.get("/doc/missing.md")
	assert.Equal(t, http.StatusNotFound, code)
}

var hostID = regexp.MustCompile(`data-live-id="([^"]+)"`)
var clickID = regexp.MustCompile(`data-live-onclick="([^"]+)"`)

func TestSocketDispatchesEvents(t *testing.T) {
	f := newFixture(t)
	_, page := f.get("/doc/counter.md")
	host := hostID.FindStringSubmatch(page)
	handler := clickID.FindStringSubmatch(page)
	require.Len(t, host, 2)
	require.Len(t, handler, 2)

	conn := f.dial("counter.md")
	require.Eventually(t, func() bool { return f.srv.Sessions() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(message{Type: msgEvent, Host: host[1], Handler: handler[1]}))
	update := f.read(conn, msgHost)
	assert.Equal(t, host[1], update.Host)
	assert.Contains(t, update.HTML, "clicked 1")

	require.NoError(t, conn.WriteJSON(message{Type: msgEvent, Host: "stale", Handler: handler[1]}))
	notice := f.read(conn, msgNotice)
	assert.Contains(t, notice.Message, "no longer mounted")
}

func TestSocketThemeReport(t *testing.T) {
	f := newFixture(t)
	f.get("/doc/counter.md")
	conn := f.dial("counter.md")

	require.NoError(t, conn.WriteJSON(message{Type: msgTheme, Theme: config.ThemeLight}))
	var theme, update *message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for theme == nil || update == nil {
		var msg message
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg.Type {
		case msgTheme:
			theme = &msg
		case msgHost:
			update = &msg
		}
	}
	assert.Equal(t, config.ThemeLight, theme.Theme)
	assert.Contains(t, update.HTML, "theme-light")
}

func TestSocketRejectsUnknownDocument(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws?doc=nope.md"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReloadPushesPage(t *testing.T) {
	f := newFixture(t)
	f.get("/doc/counter.md")
	conn := f.dial("counter.md")

	edited := strings.Replace(counterNote, "# Counter", "# Counter v2", 1)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "counter.md"), []byte(edited), 0o644))
	f.srv.Reload("counter.md")

	page := f.read(conn, msgPage)
	assert.Contains(t, page.HTML, "Counter v2")
	assert.Contains(t, page.HTML, "clicked 0")
}

func TestNotifyReachesViewers(t *testing.T) {
	f := newFixture(t)
	f.get("/doc/counter.md")
	conn := f.dial("counter.md")

	f.srv.Notify("counter.md", "Saved")
	assert.Equal(t, "Saved", f.read(conn, msgNotice).Message)
}

func TestWatcherDebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "notes"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".livenote"), 0o755))

	var mu sync.Mutex
	var changed []string
	w, err := NewWatcher(dir, 30*time.Millisecond, func(doc string) {
		mu.Lock()
		defer mu.Unlock()
		changed = append(changed, doc)
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(t.Context()))
	defer w.Stop()
	assert.True(t, w.IsWatching())

	path := filepath.Join(dir, "notes", "a.md")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", i+1)), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes", "ignored.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".livenote", "hidden.md"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changed) > 0
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"notes/a.md"}, changed)
	assert.Equal(t, 1, w.Stats().Changes)
}
