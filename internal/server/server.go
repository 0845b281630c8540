// Package server is the live preview: it serves composed pages over HTTP and
// keeps every open page in sync through a websocket. Snippet events and
// retries flow back to the render hosts; vault edits re-render the page.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/html"
	"golang.org/x/sync/singleflight"

	"livenote/internal/config"
	"livenote/internal/document"
	"livenote/internal/logging"
	"livenote/internal/render"
)

// Server hosts live pages for one vault.
type Server struct {
	cfg      *config.Config
	docs     document.Store
	rc       *render.Context
	upgrader websocket.Upgrader
	loads    singleflight.Group

	mu         sync.Mutex
	pages      map[string]*render.Page
	sessions   map[string]*session
	watcher    *Watcher
	httpServer *http.Server
	listener   net.Listener
	closed     bool
}

// New builds a server and its render context. The server is the context's
// notifier so snippet notices reach the open pages.
func New(cfg *config.Config, docs document.Store, opts ...render.Option) (*Server, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Server{
		cfg:      cfg,
		docs:     docs,
		pages:    map[string]*render.Page{},
		sessions: map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameHost,
		},
	}
	rc, err := render.NewContext(cfg, docs, append([]render.Option{render.WithNotifier(s)}, opts...)...)
	if err != nil {
		return nil, err
	}
	s.rc = rc
	return s, nil
}

// Context returns the render context shared by the server's pages.
func (s *Server) Context() *render.Context { return s.rc }

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /doc/{path...}", s.handleDocument)
	mux.HandleFunc("GET /ws", s.handleSocket)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Listen binds the configured address. Addr is valid afterwards.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr reports the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Server.Addr
}

// Run serves until ctx is cancelled, then shuts down and releases every page.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		ln = s.listener
		s.mu.Unlock()
	}

	if s.cfg.Server.Watch {
		w, err := NewWatcher(s.docs.Root(), s.cfg.GetDebounce(), s.Reload)
		if err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			w.Stop()
			return fmt.Errorf("start watcher: %w", err)
		}
		s.mu.Lock()
		s.watcher = w
		s.mu.Unlock()
	}

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logging.Server("serving %s on http://%s", s.docs.Root(), ln.Addr())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Close stops the watcher, drops every session and disposes every page.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	w := s.watcher
	sessions := make([]*session, 0, len(s.sessions))
	for _, ss := range s.sessions {
		sessions = append(sessions, ss)
	}
	pages := s.pages
	s.pages = map[string]*render.Page{}
	s.mu.Unlock()

	if w != nil {
		w.Stop()
	}
	for _, ss := range sessions {
		ss.close()
	}
	for _, p := range pages {
		p.Close()
	}
	return s.rc.Close()
}

// =============================================================================
// PAGES
// =============================================================================

// page returns the live page for doc, rendering it on first use. Concurrent
// first requests share one render.
func (s *Server) page(ctx context.Context, doc string) (*render.Page, error) {
	doc = document.Clean(doc)
	s.mu.Lock()
	if p, ok := s.pages[doc]; ok {
		s.mu.Unlock()
		return p, nil
	}
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("server closed")
	}
	s.mu.Unlock()

	v, err, _ := s.loads.Do(doc, func() (interface{}, error) {
		p, err := s.rc.RenderPage(ctx, doc, s.observer(doc))
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.pages[doc]; ok {
			go p.Close()
			return existing, nil
		}
		s.pages[doc] = p
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*render.Page), nil
}

// observer forwards host changes to every session viewing doc.
func (s *Server) observer(doc string) render.Observer {
	return render.ObserverFunc(func(h *render.Host) {
		s.broadcast(doc, message{Type: msgHost, Host: h.ID, HTML: h.HTML()})
	})
}

// Reload re-reads doc and updates its live page. Unchanged snippet blocks
// keep their instances.
func (s *Server) Reload(doc string) {
	doc = document.Clean(doc)
	s.mu.Lock()
	p := s.pages[doc]
	s.mu.Unlock()
	if p == nil {
		return
	}

	content, err := s.docs.Read(doc)
	if err != nil {
		logging.Get(logging.CategoryServer).Warn("reload %s: %v", doc, err)
		s.broadcast(doc, message{Type: msgNotice, Message: "Document is no longer available"})
		return
	}
	if err := p.Update(content, s.observer(doc)); err != nil {
		logging.ServerError("update %s: %v", doc, err)
		s.broadcast(doc, message{Type: msgNotice, Message: err.Error()})
		return
	}
	body, err := p.Body()
	if err != nil {
		logging.ServerError("compose %s: %v", doc, err)
		return
	}
	s.broadcast(doc, message{Type: msgPage, HTML: body})
}

// Notify implements capability.Notifier.
func (s *Server) Notify(doc, msg string) {
	logging.Get(logging.CategoryServer).Warn("[%s] %s", doc, msg)
	s.broadcast(doc, message{Type: msgNotice, Message: msg})
}

// =============================================================================
// HTTP
// =============================================================================

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	docs, err := s.docs.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sort.Strings(docs)

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>livenote</title>\n</head>\n<body>\n<ul>\n")
	for _, d := range docs {
		fmt.Fprintf(&b, "<li><a href=\"/doc/%s\">%s</a></li>\n", html.EscapeString(d), html.EscapeString(d))
	}
	b.WriteString("</ul>\n</body>\n</html>\n")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	doc := document.Clean(r.PathValue("path"))
	if !s.docs.Exists(doc) {
		http.NotFound(w, r)
		return
	}
	p, err := s.page(r.Context(), doc)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, document.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	out, err := p.HTML(render.HTMLOptions{Script: clientScript})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(out))
}

// sameHost accepts websocket upgrades from pages served by this server and
// from non-browser clients.
func sameHost(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://") == r.Host
}
