package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"livenote/internal/logging"
)

// Store persists cache entries for one scope (a document folder).
type Store interface {
	// Entries returns every entry for symbol/interval, oldest first.
	Entries(ctx context.Context, symbol string, interval Interval) ([]CacheEntry, error)
	// Save appends an entry, evicting the oldest beyond the history limit.
	Save(ctx context.Context, entry CacheEntry) error
	Stats(ctx context.Context) (Stats, error)
	// Cleanup removes symbols not updated within maxAge.
	Cleanup(ctx context.Context, maxAge time.Duration) ([]string, error)
	Info(ctx context.Context) Info
}

// Stats summarises what a store holds.
type Stats struct {
	TotalSize   int64                  `json:"totalSize"`
	SymbolCount int                    `json:"symbolCount"`
	FileCount   int                    `json:"fileCount"`
	Symbols     map[string]SymbolStats `json:"symbols"`
}

// SymbolStats lists the intervals cached for one symbol.
type SymbolStats struct {
	Intervals   []Interval `json:"intervals"`
	LastUpdated int64      `json:"lastUpdated"`
}

// Info describes where a store keeps its data.
type Info struct {
	BasePath     string `json:"basePath"`
	Initialized  bool   `json:"isInitialized"`
	ParentFolder string `json:"parentFolder"`
	Document     string `json:"noteFile"`
}

// DefaultHistoryLimit is how many entries are kept per symbol and interval.
const DefaultHistoryLimit = 5

// CacheDirName is the per-folder cache directory.
const CacheDirName = ".market-data"

// BasePath returns the vault-relative cache directory for a document.
func BasePath(docPath string) string {
	dir := filepath.ToSlash(filepath.Dir(docPath))
	if dir == "." || dir == "/" || dir == "" {
		return CacheDirName
	}
	return dir + "/" + CacheDirName
}

// =============================================================================
// FILE STORE
// =============================================================================

// metadata is the index file: entry summaries per symbol and interval.
type metadata struct {
	Created    int64                                `json:"created"`
	NoteSource string                               `json:"noteSource"`
	Symbols    map[string]map[Interval][]CacheEntry `json:"symbols"`
}

// FileStore keeps one JSON file per symbol/interval under a document folder's
// .market-data directory, plus a metadata.json index.
type FileStore struct {
	vault   string
	base    string // vault-relative
	doc     string
	history int

	mu sync.Mutex
}

// NewFileStore creates a store for the folder holding doc.
func NewFileStore(vault, doc string, history int) *FileStore {
	if history <= 0 {
		history = DefaultHistoryLimit
	}
	return &FileStore{vault: vault, base: BasePath(doc), doc: doc, history: history}
}

func (s *FileStore) abs(parts ...string) string {
	return filepath.Join(append([]string{s.vault, filepath.FromSlash(s.base)}, parts...)...)
}

func (s *FileStore) dataPath(symbol string, interval Interval) string {
	return s.abs(strings.ToUpper(symbol), string(interval)+".json")
}

func (s *FileStore) initialize() error {
	if err := os.MkdirAll(s.abs(), 0755); err != nil {
		return fmt.Errorf("failed to create market data directory: %w", err)
	}
	metaPath := s.abs("metadata.json")
	if _, err := os.Stat(metaPath); errors.Is(err, fs.ErrNotExist) {
		meta := metadata{Created: time.Now().UnixMilli(), NoteSource: s.doc, Symbols: map[string]map[Interval][]CacheEntry{}}
		return writeJSON(metaPath, meta)
	}
	return nil
}

// Entries reads the history file for symbol/interval.
func (s *FileStore) Entries(_ context.Context, symbol string, interval Interval) ([]CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries(symbol, interval)
}

func (s *FileStore) entries(symbol string, interval Interval) ([]CacheEntry, error) {
	data, err := os.ReadFile(s.dataPath(symbol, interval))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache %s/%s: %w", symbol, interval, err)
	}
	var list []CacheEntry
	if err := json.Unmarshal(data, &list); err != nil {
		// Single-entry files from older layouts.
		var one CacheEntry
		if err2 := json.Unmarshal(data, &one); err2 != nil {
			return nil, fmt.Errorf("parse cache %s/%s: %w", symbol, interval, err)
		}
		list = []CacheEntry{one}
	}
	return list, nil
}

// Save appends entry to its history file and records its summary in the index.
func (s *FileStore) Save(_ context.Context, entry CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initialize(); err != nil {
		return err
	}
	symbol := strings.ToUpper(entry.Symbol)
	if err := os.MkdirAll(s.abs(symbol), 0755); err != nil {
		return fmt.Errorf("failed to create symbol directory: %w", err)
	}

	list, err := s.entries(symbol, entry.Interval)
	if err != nil {
		logging.Get(logging.CategoryCache).Warn("Discarding unreadable cache history for %s/%s: %v", symbol, entry.Interval, err)
		list = nil
	}
	list = appendBounded(list, entry, s.history)
	if err := writeJSON(s.dataPath(symbol, entry.Interval), list); err != nil {
		return err
	}
	return s.updateMetadata(symbol, entry)
}

func (s *FileStore) updateMetadata(symbol string, entry CacheEntry) error {
	metaPath := s.abs("metadata.json")
	var meta metadata
	if data, err := os.ReadFile(metaPath); err == nil {
		if err := json.Unmarshal(data, &meta); err != nil {
			return fmt.Errorf("failed to update metadata: %w", err)
		}
	}
	if meta.Symbols == nil {
		meta.Symbols = map[string]map[Interval][]CacheEntry{}
	}
	if meta.Symbols[symbol] == nil {
		meta.Symbols[symbol] = map[Interval][]CacheEntry{}
	}
	meta.Symbols[symbol][entry.Interval] = appendBounded(meta.Symbols[symbol][entry.Interval], entry.Summary(), s.history)
	if err := writeJSON(metaPath, meta); err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	return nil
}

// Stats walks the cache directory.
func (s *FileStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Symbols: map[string]SymbolStats{}}
	root := s.abs()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") || filepath.Dir(path) == root {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		st.TotalSize += info.Size()
		st.FileCount++

		symbol := filepath.Base(filepath.Dir(path))
		interval := Interval(strings.TrimSuffix(filepath.Base(path), ".json"))
		sym := st.Symbols[symbol]
		sym.Intervals = append(sym.Intervals, interval)
		if m := info.ModTime().UnixMilli(); m > sym.LastUpdated {
			sym.LastUpdated = m
		}
		st.Symbols[symbol] = sym
		return nil
	})
	if err != nil {
		return Stats{Symbols: map[string]SymbolStats{}}, fmt.Errorf("failed to get cache stats: %w", err)
	}
	st.SymbolCount = len(st.Symbols)
	return st, nil
}

// Cleanup removes the directories of symbols whose newest file is older than maxAge.
func (s *FileStore) Cleanup(ctx context.Context, maxAge time.Duration) ([]string, error) {
	st, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge).UnixMilli()
	var removed []string
	for symbol, info := range st.Symbols {
		if info.LastUpdated >= cutoff {
			continue
		}
		if err := os.RemoveAll(s.abs(symbol)); err != nil {
			return removed, fmt.Errorf("remove %s: %w", symbol, err)
		}
		removed = append(removed, symbol)
	}
	sort.Strings(removed)
	return removed, nil
}

// Info reports the store location.
func (s *FileStore) Info(_ context.Context) Info {
	_, err := os.Stat(s.abs())
	parent := filepath.ToSlash(filepath.Dir(s.doc))
	if parent == "." || parent == "" {
		parent = "(root)"
	}
	return Info{BasePath: s.base, Initialized: err == nil, ParentFolder: parent, Document: s.doc}
}

func appendBounded(list []CacheEntry, e CacheEntry, limit int) []CacheEntry {
	list = append(list, e)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
