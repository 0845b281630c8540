// Package storage is the persisted key-value layer behind useStorage. Values
// live in document frontmatter, either under a reserved namespace key or at
// the frontmatter root, and are cached in memory per document and key.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"livenote/internal/document"
	"livenote/internal/logging"
)

// ErrClosed is returned for writes after Close.
var ErrClosed = errors.New("storage manager closed")

// DefaultNamespace is the frontmatter key that holds snippet state.
const DefaultNamespace = "react_data"

// Key addresses one persisted value.
type Key struct {
	Document string // vault-relative path
	Name     string
	Root     bool // frontmatter root instead of the namespace
}

func (k Key) String() string {
	if k.Root {
		return k.Document + ":" + k.Name
	}
	return k.Document + ":~" + k.Name
}

// Manager caches values by document and key and coalesces writes.
type Manager struct {
	docs      document.Store
	namespace string
	debounce  time.Duration

	mu      sync.Mutex
	values  map[Key]interface{}
	pending map[Key]*pendingWrite
	closed  bool

	// wg counts in-flight writes so Close can wait for them.
	wg sync.WaitGroup
}

type pendingWrite struct {
	value   interface{}
	timer   *time.Timer
	waiters []chan error
}

// NewManager creates a manager writing through docs. namespace is the
// frontmatter key that holds non-root values.
func NewManager(docs document.Store, namespace string, debounce time.Duration) *Manager {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Manager{
		docs:      docs,
		namespace: namespace,
		debounce:  debounce,
		values:    map[Key]interface{}{},
		pending:   map[Key]*pendingWrite{},
	}
}

// Namespace returns the reserved frontmatter key.
func (m *Manager) Namespace() string { return m.namespace }

func (m *Manager) keyPath(k Key) []string {
	if k.Root {
		return []string{k.Name}
	}
	return []string{m.namespace, k.Name}
}

// Get returns the cached value for k, loading it from the document on a miss.
// found is false when the key is absent from both cache and frontmatter.
func (m *Manager) Get(ctx context.Context, k Key) (value interface{}, found bool, err error) {
	m.mu.Lock()
	if v, ok := m.values[k]; ok {
		m.mu.Unlock()
		return v, true, nil
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	fm, err := m.docs.Frontmatter(k.Document)
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", k, err)
	}
	v, ok := m.lookup(fm, k)
	if !ok {
		return nil, false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// A Set that raced the read wins.
	if cur, ok := m.values[k]; ok {
		return cur, true, nil
	}
	m.values[k] = v
	return v, true, nil
}

func (m *Manager) lookup(fm map[string]interface{}, k Key) (interface{}, bool) {
	if k.Root {
		v, ok := fm[k.Name]
		return v, ok
	}
	ns, ok := fm[m.namespace].(map[string]interface{})
	if !ok {
		return nil, false
	}
	v, ok := ns[k.Name]
	return v, ok
}

// Set stores value in the cache immediately and persists it after the
// debounce window. The returned channel receives the result of the write that
// carried this value (or a later one for the same key) and is then closed.
func (m *Manager) Set(k Key, value interface{}) <-chan error {
	result := make(chan error, 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		result <- ErrClosed
		close(result)
		return result
	}
	m.values[k] = value

	p, ok := m.pending[k]
	if !ok {
		p = &pendingWrite{}
		m.pending[k] = p
	}
	p.value = value
	p.waiters = append(p.waiters, result)
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(m.debounce, func() { m.flushKey(k) })
	return result
}

func (m *Manager) flushKey(k Key) {
	m.mu.Lock()
	p, ok := m.pending[k]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.pending, k)
	p.timer.Stop()
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	err := m.docs.SetFrontmatter(k.Document, m.keyPath(k), p.value)
	audit := logging.AuditFor(k.Document)
	if err != nil {
		logging.StorageError("Persisting %s failed: %v", k, err)
		audit.StorageWrite(k.Name, false, err.Error())
	} else {
		logging.Storage("Persisted %s", k)
		audit.StorageWrite(k.Name, true, "")
	}
	for _, w := range p.waiters {
		w <- err
		close(w)
	}
}

// Flush writes every pending value for doc now. An empty doc flushes all.
func (m *Manager) Flush(doc string) {
	m.mu.Lock()
	var keys []Key
	for k := range m.pending {
		if doc == "" || k.Document == doc {
			keys = append(keys, k)
		}
	}
	m.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, k := range keys {
		m.flushKey(k)
	}
}

// Invalidate drops cached values for doc so the next Get rereads the
// document. Used when the file changes on disk.
func (m *Manager) Invalidate(doc string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.values {
		if k.Document != doc {
			continue
		}
		if _, writing := m.pending[k]; writing {
			continue
		}
		delete(m.values, k)
	}
}

// Close flushes pending writes and rejects new ones.
func (m *Manager) Close() {
	m.Flush("")
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
}

// Where reports whether name exists at the frontmatter root and inside the
// namespace of doc.
func (m *Manager) Where(doc, name string) (inRoot, inNamespace bool, err error) {
	fm, err := m.docs.Frontmatter(doc)
	if err != nil {
		return false, false, err
	}
	_, inRoot = m.lookup(fm, Key{Document: doc, Name: name, Root: true})
	_, inNamespace = m.lookup(fm, Key{Document: doc, Name: name})
	return inRoot, inNamespace, nil
}

// Mismatch returns a user-facing warning when name lives only on the other
// side of the namespace boundary from where root says to look.
func (m *Manager) Mismatch(doc, name string, root bool) string {
	inRoot, inNamespace, err := m.Where(doc, name)
	if err != nil {
		return ""
	}
	switch {
	case root && !inRoot && inNamespace:
		return fmt.Sprintf("%q was not found at the frontmatter root but exists under %q. Pass useRootNamespace=false to read it.", name, m.namespace)
	case !root && !inNamespace && inRoot:
		return fmt.Sprintf("%q was not found under %q but exists at the frontmatter root. Pass useRootNamespace=true to read it.", name, m.namespace)
	}
	return ""
}
