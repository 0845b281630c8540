package market

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"livenote/internal/config"
	"livenote/internal/logging"
	"livenote/internal/types"
)

// mergeTolerance is how close a merged range may be to a stored entry's
// range before the merge is considered redundant.
const mergeTolerance = int64(60 * 1000)

// Service answers series requests from the cache, derived lower intervals,
// or the provider, in that order.
type Service struct {
	provider  Provider
	hours     Hours
	staleness time.Duration
	now       func() time.Time

	sf singleflight.Group
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStaleness sets how far an entry's end may trail the requested end and
// still count as covering it.
func WithStaleness(d time.Duration) Option {
	return func(s *Service) { s.staleness = d }
}

// NewService creates a service over provider using the given session hours.
func NewService(provider Provider, hours Hours, opts ...Option) *Service {
	s := &Service{
		provider:  provider,
		hours:     hours,
		staleness: 24 * time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServiceFromConfig wires the configured provider and session timezone.
func NewServiceFromConfig(cfg *config.Config) *Service {
	provider := NewAlphaVantage(AlphaVantageConfig{
		BaseURL:           cfg.Market.BaseURL,
		PrimaryKey:        cfg.Market.PrimaryAPIKey,
		SecondaryKey:      cfg.Market.SecondaryAPIKey,
		Timezone:          cfg.Market.Timezone,
		RequestsPerMinute: cfg.Market.RequestsPerMinute,
		Timeout:           cfg.GetRequestTimeout(),
	})
	return NewService(provider, DefaultHours(cfg.Market.Timezone), WithStaleness(cfg.GetStaleness()))
}

// Hours returns the session used for end-time normalisation.
func (s *Service) Hours() Hours { return s.hours }

// GetSeries returns candles for req. Identical concurrent requests against
// the same store share one resolution.
func (s *Service) GetSeries(ctx context.Context, req Request, store Store) ([]Candle, error) {
	if err := req.Validate(); err != nil {
		return nil, types.WrapFailure(types.RuntimeFailure, err)
	}
	info := store.Info(ctx)
	key := info.BasePath + "|" + req.String()
	v, err, shared := s.sf.Do(key, func() (interface{}, error) {
		return s.resolve(ctx, req, store, info.Document)
	})
	if shared {
		logging.Cache("Shared in-flight resolution for %s", req)
	}
	if err != nil {
		return nil, err
	}
	return v.([]Candle), nil
}

func (s *Service) resolve(ctx context.Context, req Request, store Store, doc string) ([]Candle, error) {
	audit := logging.AuditFor(doc)
	start := time.Now()

	entries, err := store.Entries(ctx, req.Symbol, req.Interval)
	if err != nil {
		logging.Get(logging.CategoryCache).Warn("Reading cache for %s failed: %v", req, err)
		entries = nil
	}
	entries = s.overlapping(entries, req)

	for _, e := range entries {
		if s.covers(e, req) {
			out := Filter(e.Data, req.StartTime, req.EndTime)
			logging.Cache("Cache hit for %s: %d candles", req, len(out))
			audit.MarketEvent(logging.AuditCacheHit, req.Symbol, string(req.Interval), len(out), time.Since(start), nil)
			return out, nil
		}
	}

	if out, ok := s.derive(ctx, req, store); ok {
		audit.MarketEvent(logging.AuditCacheDerive, req.Symbol, string(req.Interval), len(out), time.Since(start), nil)
		return out, nil
	}

	logging.Market("Fetching %s from provider", req)
	fetched, err := s.provider.Fetch(ctx, req.Symbol, req.Interval)
	if err != nil {
		logging.MarketError("Fetch %s failed: %v", req, err)
		audit.MarketEvent(logging.AuditMarketError, req.Symbol, string(req.Interval), 0, time.Since(start), err)
		return nil, types.WrapFailure(types.RuntimeFailure, err)
	}

	series := make([][]Candle, 0, len(entries)+1)
	for _, e := range entries {
		series = append(series, e.Data)
	}
	series = append(series, fetched.Data)
	merged := NewEntry(req.Symbol, req.Interval, Merge(series...), fetched.Timezone, s.now())

	if len(merged.Data) > 0 && !redundant(entries, merged) {
		if err := store.Save(ctx, merged); err != nil {
			logging.Get(logging.CategoryCache).Warn("Saving %s failed: %v", req, err)
		}
	} else {
		logging.Cache("Skipping redundant save for %s", req)
	}

	out := Filter(merged.Data, req.StartTime, req.EndTime)
	audit.MarketEvent(logging.AuditMarketFetch, req.Symbol, string(req.Interval), len(out), time.Since(start), nil)
	return out, nil
}

// derive aggregates a finer cached interval into req.Interval.
func (s *Service) derive(ctx context.Context, req Request, store Store) ([]Candle, bool) {
	for _, lower := range Intervals {
		if !CanDerive(lower, req.Interval) {
			continue
		}
		entries, err := store.Entries(ctx, req.Symbol, lower)
		if err != nil || len(entries) == 0 {
			continue
		}
		lowerReq := req
		lowerReq.Interval = lower
		entries = s.overlapping(entries, lowerReq)

		covered := false
		for _, e := range entries {
			if s.coversRange(e, req) {
				covered = true
				break
			}
		}
		if !covered {
			continue
		}

		series := make([][]Candle, 0, len(entries))
		tz := ""
		for _, e := range entries {
			series = append(series, e.Data)
			if e.Timezone != "" {
				tz = e.Timezone
			}
		}
		agg := Aggregate(Merge(series...), lower, req.Interval)
		logging.Cache("Derived %s from %s: %d candles", req, lower, len(agg))
		if len(agg) > 0 {
			if err := store.Save(ctx, NewEntry(req.Symbol, req.Interval, agg, tz, s.now())); err != nil {
				logging.Get(logging.CategoryCache).Warn("Saving derived %s failed: %v", req, err)
			}
		}
		return Filter(agg, req.StartTime, req.EndTime), true
	}
	return nil, false
}

// overlapping keeps entries whose range touches the request, allowing one
// minute of market time on either side.
func (s *Service) overlapping(entries []CacheEntry, req Request) []CacheEntry {
	var out []CacheEntry
	for _, e := range entries {
		if s.hours.AddMarketTime(e.EndTime, 1) >= req.StartTime && e.StartTime <= s.hours.AddMarketTime(req.EndTime, 1) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Service) covers(e CacheEntry, req Request) bool {
	return e.Interval == req.Interval && s.coversRange(e, req)
}

// coversRange compares against the requested end, or against the entry's own
// end when that is within the staleness window; either is first normalised to
// the last session close.
func (s *Service) coversRange(e CacheEntry, req Request) bool {
	end := req.EndTime
	if e.EndTime+s.staleness.Milliseconds() >= req.EndTime {
		end = e.EndTime
	}
	adjusted := s.hours.NormalizeEnd(end)
	return e.StartTime <= req.StartTime && e.EndTime >= adjusted
}

func redundant(entries []CacheEntry, merged CacheEntry) bool {
	for _, e := range entries {
		if abs64(e.StartTime-merged.StartTime) <= mergeTolerance && abs64(e.EndTime-merged.EndTime) <= mergeTolerance {
			return true
		}
	}
	return false
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// =============================================================================
// STORE SELECTION
// =============================================================================

// Stores hands out one Store per document folder, shared by every snippet in
// that folder.
type Stores struct {
	vault   string
	backend string
	history int
	db      *SQLiteDB

	mu     sync.Mutex
	scopes map[string]Store
}

// OpenStores opens the configured cache backend for a vault.
func OpenStores(vault string, cfg config.MarketConfig) (*Stores, error) {
	s := &Stores{vault: vault, backend: cfg.CacheBackend, history: cfg.HistoryLimit, scopes: map[string]Store{}}
	if s.backend == config.BackendSQLite {
		path := cfg.DatabasePath
		if !filepath.IsAbs(path) {
			path = filepath.Join(vault, path)
		}
		db, err := OpenSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("open market cache: %w", err)
		}
		s.db = db
	}
	return s, nil
}

// For returns the store serving doc's folder.
func (s *Stores) For(doc string) Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := BasePath(doc)
	if st, ok := s.scopes[base]; ok {
		return st
	}
	var st Store
	if s.db != nil {
		st = s.db.Scope(doc, s.history)
	} else {
		st = NewFileStore(s.vault, doc, s.history)
	}
	s.scopes[base] = st
	return st
}

// Close releases the database when the sqlite backend is in use.
func (s *Stores) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
