package market

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"livenote/internal/logging"

	_ "modernc.org/sqlite"
)

// SQLiteDB is a shared cache database. Scopes (document folders) are rows,
// not files, so one database serves the whole vault.
type SQLiteDB struct {
	db     *sql.DB
	path   string
	closed bool
	mu     sync.Mutex
}

// OpenSQLite opens (and migrates) the cache database at path.
func OpenSQLite(path string) (*SQLiteDB, error) {
	logging.Cache("Opening market cache database at %s", path)
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteDB{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS market_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scope TEXT NOT NULL,
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		fetched_at INTEGER NOT NULL,
		timezone TEXT,
		candles TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_market_entries_key ON market_entries(scope, symbol, interval);
	CREATE INDEX IF NOT EXISTS idx_market_entries_fetched ON market_entries(fetched_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteDB) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Scope returns the store for the folder holding doc.
func (s *SQLiteDB) Scope(doc string, history int) *SQLiteStore {
	if history <= 0 {
		history = DefaultHistoryLimit
	}
	return &SQLiteStore{db: s, scope: BasePath(doc), doc: doc, history: history}
}

// SQLiteStore is a Store backed by one scope of a SQLiteDB.
type SQLiteStore struct {
	db      *SQLiteDB
	scope   string
	doc     string
	history int
}

// Entries returns the stored entries for symbol/interval, oldest first.
func (s *SQLiteStore) Entries(ctx context.Context, symbol string, interval Interval) ([]CacheEntry, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT symbol, interval, start_ms, end_ms, fetched_at, timezone, candles
		FROM market_entries
		WHERE scope = ? AND symbol = ? AND interval = ?
		ORDER BY id ASC`, s.scope, strings.ToUpper(symbol), string(interval))
	if err != nil {
		return nil, fmt.Errorf("query cache %s/%s: %w", symbol, interval, err)
	}
	defer rows.Close()

	var out []CacheEntry
	for rows.Next() {
		var e CacheEntry
		var iv, candles string
		var tz sql.NullString
		if err := rows.Scan(&e.Symbol, &iv, &e.StartTime, &e.EndTime, &e.FetchedAt, &tz, &candles); err != nil {
			return nil, err
		}
		e.Interval = Interval(iv)
		e.Timezone = tz.String
		if err := json.Unmarshal([]byte(candles), &e.Data); err != nil {
			return nil, fmt.Errorf("decode cache %s/%s: %w", symbol, interval, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Save inserts entry and trims the history for its symbol/interval.
func (s *SQLiteStore) Save(ctx context.Context, entry CacheEntry) error {
	candles, err := json.Marshal(entry.Data)
	if err != nil {
		return err
	}
	symbol := strings.ToUpper(entry.Symbol)

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO market_entries (scope, symbol, interval, start_ms, end_ms, fetched_at, timezone, candles)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.scope, symbol, string(entry.Interval), entry.StartTime, entry.EndTime, entry.FetchedAt, entry.Timezone, string(candles)); err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM market_entries
		WHERE scope = ? AND symbol = ? AND interval = ? AND id NOT IN (
			SELECT id FROM market_entries
			WHERE scope = ? AND symbol = ? AND interval = ?
			ORDER BY id DESC LIMIT ?
		)`,
		s.scope, symbol, string(entry.Interval), s.scope, symbol, string(entry.Interval), s.history); err != nil {
		return fmt.Errorf("trim cache history: %w", err)
	}
	return tx.Commit()
}

// Stats summarises the scope. Sizes are candle payload bytes.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Symbols: map[string]SymbolStats{}}
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT symbol, interval, MAX(fetched_at), SUM(LENGTH(candles))
		FROM market_entries WHERE scope = ?
		GROUP BY symbol, interval
		ORDER BY symbol, interval`, s.scope)
	if err != nil {
		return st, fmt.Errorf("failed to get cache stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var symbol, iv string
		var last, size int64
		if err := rows.Scan(&symbol, &iv, &last, &size); err != nil {
			return st, err
		}
		sym := st.Symbols[symbol]
		sym.Intervals = append(sym.Intervals, Interval(iv))
		if last > sym.LastUpdated {
			sym.LastUpdated = last
		}
		st.Symbols[symbol] = sym
		st.TotalSize += size
		st.FileCount++
	}
	st.SymbolCount = len(st.Symbols)
	return st, rows.Err()
}

// Cleanup deletes symbols whose newest entry is older than maxAge.
func (s *SQLiteStore) Cleanup(ctx context.Context, maxAge time.Duration) ([]string, error) {
	st, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	var removed []string
	for symbol, info := range st.Symbols {
		if info.LastUpdated >= cutoff {
			continue
		}
		if _, err := s.db.db.ExecContext(ctx, `DELETE FROM market_entries WHERE scope = ? AND symbol = ?`, s.scope, symbol); err != nil {
			return removed, err
		}
		removed = append(removed, symbol)
	}
	sort.Strings(removed)
	return removed, nil
}

// Info reports the database location.
func (s *SQLiteStore) Info(ctx context.Context) Info {
	parent := filepath.ToSlash(filepath.Dir(s.doc))
	if parent == "." || parent == "" {
		parent = "(root)"
	}
	err := s.db.db.PingContext(ctx)
	return Info{BasePath: s.db.path + "#" + s.scope, Initialized: err == nil, ParentFolder: parent, Document: s.doc}
}
