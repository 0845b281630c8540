package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"livenote/internal/document"
	"livenote/internal/logging"
)

// Message types exchanged over /ws.
const (
	msgHello  = "hello"  // server: session id
	msgHost   = "host"   // server: one container changed
	msgPage   = "page"   // server: the composed body changed
	msgNotice = "notice" // server: transient message
	msgTheme  = "theme"  // both: effective theme / reported preference
	msgEvent  = "event"  // client: a UI event for a handler
	msgRetry  = "retry"  // client: retry an errored host
)

// message is the single wire shape; unused fields are omitted.
type message struct {
	Type    string                 `json:"type"`
	Session string                 `json:"session,omitempty"`
	Host    string                 `json:"host,omitempty"`
	Handler string                 `json:"handler,omitempty"`
	HTML    string                 `json:"html,omitempty"`
	Message string                 `json:"message,omitempty"`
	Theme   string                 `json:"theme,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
	eventRate    = 30 // events per second per session
	eventBurst   = 60
)

// session is one websocket connection viewing one document.
type session struct {
	id      string
	doc     string
	conn    *websocket.Conn
	send    chan message
	limiter *rate.Limiter

	once sync.Once
	done chan struct{}
}

func (ss *session) close() {
	ss.once.Do(func() {
		close(ss.done)
		_ = ss.conn.Close()
	})
}

// enqueue queues msg without blocking; a full buffer drops the message.
func (ss *session) enqueue(msg message) {
	select {
	case ss.send <- msg:
	case <-ss.done:
	default:
		logging.Get(logging.CategoryServer).Warn("session %s send buffer full, dropping %s", ss.id, msg.Type)
	}
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	doc := document.Clean(r.URL.Query().Get("doc"))
	if doc == "" || !s.docs.Exists(doc) {
		http.Error(w, "unknown document", http.StatusNotFound)
		return
	}
	if _, err := s.page(r.Context(), doc); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.ServerError("upgrade: %v", err)
		return
	}
	ss := &session{
		id:      uuid.NewString(),
		doc:     doc,
		conn:    conn,
		send:    make(chan message, sendBuffer),
		limiter: rate.NewLimiter(rate.Limit(eventRate), eventBurst),
		done:    make(chan struct{}),
	}
	if !s.addSession(ss) {
		ss.close()
		return
	}
	logging.Server("session %s opened for %s", ss.id, doc)

	ss.enqueue(message{Type: msgHello, Session: ss.id, Theme: s.rc.Theme()})
	err = s.serveSession(context.Background(), ss)
	s.removeSession(ss)
	if err != nil && !isClosure(err) {
		logging.Get(logging.CategoryServer).Warn("session %s ended: %v", ss.id, err)
	}
	logging.Server("session %s closed", ss.id)
}

func (s *Server) addSession(ss *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[ss.id] = ss
	return true
}

func (s *Server) removeSession(ss *session) {
	s.mu.Lock()
	delete(s.sessions, ss.id)
	s.mu.Unlock()
	ss.close()
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// broadcast queues msg on every session viewing doc. An empty doc reaches
// every session.
func (s *Server) broadcast(doc string, msg message) {
	s.mu.Lock()
	targets := make([]*session, 0, len(s.sessions))
	for _, ss := range s.sessions {
		if doc == "" || ss.doc == doc {
			targets = append(targets, ss)
		}
	}
	s.mu.Unlock()
	for _, ss := range targets {
		ss.enqueue(msg)
	}
}

// serveSession runs the reader and writer until either ends.
func (s *Server) serveSession(ctx context.Context, ss *session) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer ss.close()
		return s.readLoop(gctx, ss)
	})
	g.Go(func() error {
		defer ss.close()
		return writeLoop(gctx, ss)
	})
	return g.Wait()
}

func writeLoop(ctx context.Context, ss *session) error {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ss.done:
			return nil
		case msg := <-ss.send:
			_ = ss.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ss.conn.WriteJSON(msg); err != nil {
				return err
			}
		case <-ping.C:
			if err := ss.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, ss *session) error {
	_ = ss.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	ss.conn.SetPongHandler(func(string) error {
		return ss.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		var msg message
		if err := ss.conn.ReadJSON(&msg); err != nil {
			return err
		}
		_ = ss.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		s.handleMessage(ctx, ss, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, ss *session, msg message) {
	switch msg.Type {
	case msgTheme:
		s.rc.ReportTheme(msg.Theme)
		s.broadcast("", message{Type: msgTheme, Theme: s.rc.Theme()})

	case msgEvent, msgRetry:
		if !ss.limiter.Allow() {
			logging.Get(logging.CategoryServer).Warn("session %s is sending events too fast", ss.id)
			return
		}
		h, ok := s.rc.Host(msg.Host)
		if !ok || h.Document != ss.doc {
			ss.enqueue(message{Type: msgNotice, Message: "That snippet is no longer mounted"})
			return
		}
		if msg.Type == msgRetry {
			h.Retry()
			return
		}
		// Dispatch can wait on a busy loop; keep the reader free.
		go func() {
			dctx, cancel := context.WithTimeout(ctx, s.cfg.GetExecutionTimeout())
			defer cancel()
			if err := h.Dispatch(dctx, msg.Handler, msg.Payload); err != nil {
				logging.Get(logging.CategoryServer).Warn("event %s on %s: %v", msg.Handler, h.ID, err)
			}
		}()

	default:
		logging.Get(logging.CategoryServer).Warn("session %s sent unknown message %q", ss.id, msg.Type)
	}
}

func isClosure(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed)
}
