package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livenote/internal/types"
)

var eastern = DefaultHours("US/Eastern")

func et(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, eastern.Location)
}

func ms(t time.Time) int64 { return t.UnixMilli() }

// series builds one candle per step in [from, to].
func series(from, to time.Time, step time.Duration) []Candle {
	var out []Candle
	price := 100.0
	for t := from; !t.After(to); t = t.Add(step) {
		out = append(out, Candle{Time: ms(t), Open: price, High: price + 1, Low: price - 1, Close: price + 0.5, Volume: 10})
		price += 0.25
	}
	return out
}

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	data  []Candle
	err   error
}

func (p *fakeProvider) Fetch(_ context.Context, _ string, _ Interval) (Fetched, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return Fetched{}, p.err
	}
	return Fetched{Data: p.data, Timezone: "US/Eastern"}, nil
}

type memStore struct {
	mu      sync.Mutex
	entries map[string][]CacheEntry
	saves   int
}

func newMemStore() *memStore { return &memStore{entries: map[string][]CacheEntry{}} }

func (m *memStore) key(symbol string, interval Interval) string { return symbol + "/" + string(interval) }

func (m *memStore) Entries(_ context.Context, symbol string, interval Interval) ([]CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CacheEntry(nil), m.entries[m.key(symbol, interval)]...), nil
}

func (m *memStore) Save(_ context.Context, e CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	k := m.key(e.Symbol, e.Interval)
	m.entries[k] = appendBounded(m.entries[k], e, DefaultHistoryLimit)
	return nil
}

func (m *memStore) Stats(context.Context) (Stats, error) { return Stats{}, nil }

func (m *memStore) Cleanup(context.Context, time.Duration) ([]string, error) { return nil, nil }

func (m *memStore) Info(context.Context) Info { return Info{BasePath: "mem", Document: "note.md"} }

func newTestService(p Provider, now time.Time) *Service {
	return NewService(p, eastern, WithClock(func() time.Time { return now }))
}

func TestNormalizeEnd(t *testing.T) {
	closeFri := ms(et(2024, 1, 12, 19, 59))
	tests := []struct {
		name string
		in   time.Time
		want int64
	}{
		{"inside session", et(2024, 1, 16, 12, 0), ms(et(2024, 1, 16, 12, 0))},
		{"saturday", et(2024, 1, 13, 12, 0), closeFri},
		{"sunday early", et(2024, 1, 14, 3, 0), closeFri},
		{"monday pre-open", et(2024, 1, 15, 8, 0), closeFri},
		{"before session", et(2024, 1, 17, 2, 0), ms(et(2024, 1, 16, 19, 59))},
		{"after session", et(2024, 1, 16, 21, 0), ms(et(2024, 1, 16, 19, 59))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eastern.NormalizeEnd(ms(tt.in)))
		})
	}
}

func TestAddMarketTime(t *testing.T) {
	assert.Equal(t, ms(et(2024, 1, 16, 10, 30)), eastern.AddMarketTime(ms(et(2024, 1, 16, 10, 0)), 30))
	// Friday close rolls to Monday open.
	assert.Equal(t, ms(et(2024, 1, 15, 4, 0)), eastern.AddMarketTime(ms(et(2024, 1, 12, 19, 59)), 1))
}

func TestMergeDeduplicates(t *testing.T) {
	a := series(et(2024, 1, 16, 10, 0), et(2024, 1, 16, 11, 0), 5*time.Minute)
	b := series(et(2024, 1, 16, 10, 30), et(2024, 1, 16, 11, 30), 5*time.Minute)
	b[0].Close = 999

	merged := Merge(a, b)
	seen := map[int64]bool{}
	for i, c := range merged {
		require.False(t, seen[c.Time], "duplicate time %d", c.Time)
		seen[c.Time] = true
		if i > 0 {
			require.Less(t, merged[i-1].Time, c.Time)
		}
	}
	assert.Len(t, merged, 19)
	// Later series wins.
	assert.Equal(t, 999.0, merged[6].Close)
}

func TestAggregateCompleteness(t *testing.T) {
	start := et(2024, 1, 16, 10, 0)
	full := series(start, start.Add(14*time.Minute), time.Minute)
	partial := series(start.Add(15*time.Minute), start.Add(24*time.Minute), time.Minute) // 10 of 15
	enough := series(start.Add(30*time.Minute), start.Add(40*time.Minute), time.Minute)   // 11 of 15

	out := Aggregate(Merge(full, partial, enough), Interval1Min, Interval15Min)
	require.Len(t, out, 2)
	assert.Equal(t, ms(start), out[0].Time)
	assert.Equal(t, ms(start.Add(30*time.Minute)), out[1].Time)

	first := out[0]
	assert.Equal(t, full[0].Open, first.Open)
	assert.Equal(t, full[14].Close, first.Close)
	assert.Equal(t, full[14].High, first.High)
	assert.Equal(t, full[0].Low, first.Low)
	assert.Equal(t, 150.0, first.Volume)

	assert.Nil(t, Aggregate(full, Interval15Min, Interval1Min))
	assert.True(t, CanDerive(Interval15Min, Interval60Min))
	assert.False(t, CanDerive(Interval60Min, Interval60Min))
}

func TestGetSeriesCoverageHit(t *testing.T) {
	t0, t1 := et(2024, 1, 16, 9, 30), et(2024, 1, 16, 16, 0)
	store := newMemStore()
	require.NoError(t, store.Save(context.Background(), NewEntry("ACME", Interval5Min, series(t0, t1, 5*time.Minute), "US/Eastern", t1)))
	store.saves = 0

	p := &fakeProvider{}
	svc := newTestService(p, et(2024, 1, 16, 17, 0))
	req := Request{Symbol: "ACME", Interval: Interval5Min, StartTime: ms(t0.Add(5 * time.Minute)), EndTime: ms(t1.Add(-5 * time.Minute))}

	out, err := svc.GetSeries(context.Background(), req, store)
	require.NoError(t, err)
	assert.Equal(t, 0, p.calls)
	assert.Equal(t, 0, store.saves)
	require.Len(t, out, 77)
	assert.Equal(t, req.StartTime, out[0].Time)
	assert.Equal(t, req.EndTime, out[len(out)-1].Time)
}

func TestGetSeriesDerivesFromFinerInterval(t *testing.T) {
	store := newMemStore()
	minutes := series(et(2024, 1, 16, 9, 30), et(2024, 1, 16, 15, 59), time.Minute)
	require.NoError(t, store.Save(context.Background(), NewEntry("ACME", Interval1Min, minutes, "US/Eastern", et(2024, 1, 16, 16, 0))))

	p := &fakeProvider{}
	svc := newTestService(p, et(2024, 1, 16, 17, 0))
	req := Request{Symbol: "ACME", Interval: Interval15Min, StartTime: ms(et(2024, 1, 16, 10, 0)), EndTime: ms(et(2024, 1, 16, 11, 59))}

	out, err := svc.GetSeries(context.Background(), req, store)
	require.NoError(t, err)
	assert.Equal(t, 0, p.calls)
	assert.Len(t, out, 120/15)

	derived, err := store.Entries(context.Background(), "ACME", Interval15Min)
	require.NoError(t, err)
	require.Len(t, derived, 1)
	assert.Len(t, derived[0].Data, 26)
}

func TestGetSeriesFetchesOnceForEmptyCache(t *testing.T) {
	var days []Candle
	for d := et(2024, 1, 8, 0, 0); !d.After(et(2024, 1, 19, 0, 0)); d = d.AddDate(0, 0, 1) {
		if isWeekend(d) {
			continue
		}
		days = append(days, Candle{Time: ms(d), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1000})
	}
	require.Len(t, days, 10)

	store := newMemStore()
	p := &fakeProvider{data: days}
	svc := newTestService(p, et(2024, 1, 19, 17, 0))
	req := Request{Symbol: "ACME", Interval: IntervalDaily, StartTime: ms(et(2024, 1, 8, 0, 0)), EndTime: ms(et(2024, 1, 19, 16, 0))}

	out, err := svc.GetSeries(context.Background(), req, store)
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, 1, store.saves)
	if diff := cmp.Diff(days, out); diff != "" {
		t.Errorf("series mismatch (-want +got):\n%s", diff)
	}

	// Second request is served from the cache.
	again, err := svc.GetSeries(context.Background(), req, store)
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls)
	assert.Empty(t, cmp.Diff(out, again))

	// A later window refetches, but an identical range is not saved twice.
	later := req
	later.EndTime = ms(et(2024, 1, 22, 16, 0))
	_, err = svc.GetSeries(context.Background(), later, store)
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)
	assert.Equal(t, 1, store.saves)
}

func TestGetSeriesFetchErrorIsRuntimeFailure(t *testing.T) {
	store := newMemStore()
	p := &fakeProvider{err: &ProviderError{Symbol: "ACME", Message: "Thank you for using Alpha Vantage!", RateLimit: true}}
	svc := newTestService(p, et(2024, 1, 19, 17, 0))

	_, err := svc.GetSeries(context.Background(), Request{Symbol: "ACME", Interval: IntervalDaily, StartTime: 0, EndTime: ms(et(2024, 1, 19, 16, 0))}, store)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.RuntimeFailure))
	var perr *ProviderError
	assert.True(t, errors.As(err, &perr))
	assert.True(t, perr.RateLimit)
	assert.Equal(t, 0, store.saves)
}

func TestGetSeriesRejectsInvalidRequest(t *testing.T) {
	svc := newTestService(&fakeProvider{}, time.Now())
	_, err := svc.GetSeries(context.Background(), Request{Symbol: "", Interval: IntervalDaily}, newMemStore())
	assert.True(t, types.IsKind(err, types.RuntimeFailure))

	_, err = svc.GetSeries(context.Background(), Request{Symbol: "X", Interval: "2min"}, newMemStore())
	assert.Error(t, err)
}

func TestRangeRequest(t *testing.T) {
	now := et(2024, 3, 15, 12, 0)
	req, err := RangeRequest("acme", IntervalDaily, "1mo", now)
	require.NoError(t, err)
	assert.Equal(t, "ACME", req.Symbol)
	assert.Equal(t, ms(et(2024, 2, 15, 12, 0)), req.StartTime)
	assert.Equal(t, ms(now), req.EndTime)

	req, err = RangeRequest("acme", Interval5Min, "90m", now)
	require.NoError(t, err)
	assert.Equal(t, ms(now.Add(-90*time.Minute)), req.StartTime)

	_, err = RangeRequest("acme", IntervalDaily, "forever", now)
	assert.Error(t, err)
}

func TestParseInterval(t *testing.T) {
	for in, want := range map[string]Interval{"1m": Interval1Min, "15MIN": Interval15Min, "1h": Interval60Min, "D": IntervalDaily} {
		got, err := ParseInterval(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseInterval("2min")
	assert.Error(t, err)
}
