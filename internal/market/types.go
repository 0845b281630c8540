// Package market fetches OHLC series, caches them per document folder and
// derives higher timeframes from cached lower ones.
package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Interval is a supported bar granularity.
type Interval string

const (
	Interval1Min  Interval = "1min"
	Interval5Min  Interval = "5min"
	Interval15Min Interval = "15min"
	Interval30Min Interval = "30min"
	Interval60Min Interval = "60min"
	IntervalDaily Interval = "daily"
)

// Intervals lists every supported interval, finest first.
var Intervals = []Interval{Interval1Min, Interval5Min, Interval15Min, Interval30Min, Interval60Min, IntervalDaily}

var intervalMinutes = map[Interval]int64{
	Interval1Min:  1,
	Interval5Min:  5,
	Interval15Min: 15,
	Interval30Min: 30,
	Interval60Min: 60,
	IntervalDaily: 1440,
}

// ParseInterval accepts the canonical names plus a few common aliases.
func ParseInterval(s string) (Interval, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1min", "1m":
		return Interval1Min, nil
	case "5min", "5m":
		return Interval5Min, nil
	case "15min", "15m":
		return Interval15Min, nil
	case "30min", "30m":
		return Interval30Min, nil
	case "60min", "60m", "1h":
		return Interval60Min, nil
	case "daily", "1d", "d":
		return IntervalDaily, nil
	}
	return "", fmt.Errorf("unsupported interval %q", s)
}

// Minutes returns the bar length in minutes.
func (i Interval) Minutes() int64 { return intervalMinutes[i] }

// Duration returns the bar length.
func (i Interval) Duration() time.Duration { return time.Duration(i.Minutes()) * time.Minute }

// Millis returns the bar length in milliseconds.
func (i Interval) Millis() int64 { return i.Minutes() * 60 * 1000 }

// Valid reports whether i is a supported interval.
func (i Interval) Valid() bool { _, ok := intervalMinutes[i]; return ok }

// CanDerive reports whether bars of interval from can be aggregated into to.
func CanDerive(from, to Interval) bool {
	f, t := from.Minutes(), to.Minutes()
	return f > 0 && f < t && t%f == 0
}

// Candle is one OHLC bar. Time is the bar open in epoch milliseconds.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// CacheEntry is one persisted, time-bounded series. Entries are never
// mutated after they are saved.
type CacheEntry struct {
	Symbol    string   `json:"symbol"`
	Interval  Interval `json:"interval"`
	Data      []Candle `json:"data"`
	StartTime int64    `json:"startTime"`
	EndTime   int64    `json:"endTime"`
	FetchedAt int64    `json:"timestamp"`
	Timezone  string   `json:"timezone"`
}

// Summary returns the entry without its data payload.
func (e CacheEntry) Summary() CacheEntry {
	e.Data = nil
	return e
}

// NewEntry builds an entry spanning the given candles, which must be sorted.
func NewEntry(symbol string, interval Interval, data []Candle, tz string, now time.Time) CacheEntry {
	e := CacheEntry{
		Symbol:    symbol,
		Interval:  interval,
		Data:      data,
		FetchedAt: now.UnixMilli(),
		Timezone:  tz,
	}
	if len(data) > 0 {
		e.StartTime = data[0].Time
		e.EndTime = data[len(data)-1].Time
	}
	return e
}

// Request is the unit of demand the cache must satisfy. Times are epoch ms.
type Request struct {
	Symbol    string   `json:"symbol"`
	Interval  Interval `json:"interval"`
	StartTime int64    `json:"startTime"`
	EndTime   int64    `json:"endTime"`
}

func (r Request) String() string {
	return fmt.Sprintf("%s %s [%s, %s]", r.Symbol, r.Interval,
		time.UnixMilli(r.StartTime).UTC().Format(time.RFC3339),
		time.UnixMilli(r.EndTime).UTC().Format(time.RFC3339))
}

// Validate checks the request is well formed.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	if !r.Interval.Valid() {
		return fmt.Errorf("unsupported interval %q", r.Interval)
	}
	if r.EndTime < r.StartTime {
		return fmt.Errorf("end time precedes start time")
	}
	return nil
}

// RangeRequest builds a request ending at now covering a named range:
// 1d, 5d, 1w, 1mo, 3mo, 6mo, 1y, or any Go duration.
func RangeRequest(symbol string, interval Interval, rng string, now time.Time) (Request, error) {
	var start time.Time
	switch strings.ToLower(strings.TrimSpace(rng)) {
	case "1d":
		start = now.AddDate(0, 0, -1)
	case "5d":
		start = now.AddDate(0, 0, -5)
	case "1w":
		start = now.AddDate(0, 0, -7)
	case "1mo":
		start = now.AddDate(0, -1, 0)
	case "3mo":
		start = now.AddDate(0, -3, 0)
	case "6mo":
		start = now.AddDate(0, -6, 0)
	case "1y":
		start = now.AddDate(-1, 0, 0)
	default:
		d, err := time.ParseDuration(rng)
		if err != nil || d <= 0 {
			return Request{}, fmt.Errorf("unsupported range %q", rng)
		}
		start = now.Add(-d)
	}
	return Request{
		Symbol:    strings.ToUpper(symbol),
		Interval:  interval,
		StartTime: start.UnixMilli(),
		EndTime:   now.UnixMilli(),
	}, nil
}

// Filter returns the candles whose time falls inside [start, end].
func Filter(data []Candle, start, end int64) []Candle {
	out := make([]Candle, 0, len(data))
	for _, c := range data {
		if c.Time >= start && c.Time <= end {
			out = append(out, c)
		}
	}
	return out
}

// Merge unions series, sorts by time and keeps one candle per timestamp.
// Later series win on duplicate timestamps.
func Merge(series ...[]Candle) []Candle {
	byTime := map[int64]Candle{}
	for _, s := range series {
		for _, c := range s {
			byTime[c.Time] = c
		}
	}
	out := make([]Candle, 0, len(byTime))
	for _, c := range byTime {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// completeness is the share of expected bars a derived bucket needs.
const completeness = 0.7

// Aggregate groups sorted bars of interval from into epoch-aligned buckets of
// interval to. Buckets holding fewer than 70% of the expected bars are dropped.
func Aggregate(data []Candle, from, to Interval) []Candle {
	if !CanDerive(from, to) {
		return nil
	}
	bucketMs := to.Millis()
	expected := float64(to.Minutes() / from.Minutes())

	var out []Candle
	var cur Candle
	count := 0
	flush := func() {
		if count > 0 && float64(count) >= expected*completeness {
			out = append(out, cur)
		}
		count = 0
	}
	for _, c := range data {
		bucket := floorDiv(c.Time, bucketMs) * bucketMs
		if count > 0 && bucket != cur.Time {
			flush()
		}
		if count == 0 {
			cur = Candle{Time: bucket, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
			count = 1
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
		count++
	}
	flush()
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
