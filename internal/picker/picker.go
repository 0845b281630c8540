// Package picker is the interactive file chooser behind readFile(). A pick
// resolves to a path, or to "" when the user dismisses the chooser.
package picker

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrUnavailable is returned by pickers that cannot interact with a user.
var ErrUnavailable = errors.New("no interactive file picker available")

// DefaultExtensions is the readFile allow-list.
var DefaultExtensions = []string{".csv", ".json", ".txt", ".md", ".tsv", ".xml", ".yaml", ".yml"}

// Options constrain one pick.
type Options struct {
	Title      string
	Dir        string   // starting directory
	Extensions []string // with leading dots; empty allows every file
}

// Allowed reports whether path passes the extension allow-list.
func (o Options) Allowed(path string) bool {
	if len(o.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range o.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// Picker asks the user for a file.
type Picker interface {
	// Pick blocks until the user chooses (path) or dismisses ("", nil).
	Pick(ctx context.Context, opts Options) (string, error)
}

// None never prompts; every pick is a dismissal.
type None struct{}

// Pick implements Picker.
func (None) Pick(context.Context, Options) (string, error) { return "", nil }

// =============================================================================
// SESSION
// =============================================================================

// DefaultSettleDelay is how long a close waits for a choice from the same
// user action.
const DefaultSettleDelay = 10 * time.Millisecond

// Session settles one pick from two racing events: a choice and a close.
// A close is deferred by the settle delay, so a choice fired by the same
// action resolves the session even when it arrives second.
type Session struct {
	delay time.Duration

	once  sync.Once
	done  chan struct{}
	mu    sync.Mutex
	path  string
	timer *time.Timer
}

// NewSession creates an unsettled session.
func NewSession(delay time.Duration) *Session {
	if delay <= 0 {
		delay = DefaultSettleDelay
	}
	return &Session{delay: delay, done: make(chan struct{})}
}

// Choose settles the session with path.
func (s *Session) Choose(path string) {
	s.settle(path)
}

// Close settles the session as dismissed after the settle delay, unless a
// choice arrives first.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.delay, func() { s.settle("") })
}

func (s *Session) settle(path string) {
	s.once.Do(func() {
		s.mu.Lock()
		s.path = path
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()
		close(s.done)
	})
}

// Done is closed once the session has settled.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session settles and returns the chosen path, "" for
// a dismissal. Cancelling ctx dismisses the session.
func (s *Session) Wait(ctx context.Context) (string, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		s.settle("")
		return "", ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path, nil
}
