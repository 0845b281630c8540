package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"livenote/internal/logging"
)

// Fetched is one provider response.
type Fetched struct {
	Data     []Candle
	Timezone string
}

// Provider fetches a full series for one symbol and interval.
type Provider interface {
	Fetch(ctx context.Context, symbol string, interval Interval) (Fetched, error)
}

// ProviderError is a provider-side failure: an error payload, a rate-limit
// notice, or a response without the expected series.
type ProviderError struct {
	Symbol    string
	Message   string
	RateLimit bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("market data for %s: %s", e.Symbol, e.Message)
}

// AlphaVantageConfig configures the Alpha Vantage provider.
type AlphaVantageConfig struct {
	BaseURL           string
	PrimaryKey        string // daily series
	SecondaryKey      string // intraday series
	Timezone          string // fallback when the response omits one
	RequestsPerMinute int
	Timeout           time.Duration
	OutputSize        string // full or compact
}

// AlphaVantage fetches TIME_SERIES_DAILY and TIME_SERIES_INTRADAY.
type AlphaVantage struct {
	cfg     AlphaVantageConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewAlphaVantage creates a provider paced to the configured request rate.
func NewAlphaVantage(cfg AlphaVantageConfig) *AlphaVantage {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.alphavantage.co/query"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.OutputSize == "" {
		cfg.OutputSize = "full"
	}
	if cfg.SecondaryKey == "" {
		cfg.SecondaryKey = cfg.PrimaryKey
	}
	if cfg.PrimaryKey == "" {
		cfg.PrimaryKey = cfg.SecondaryKey
	}
	return &AlphaVantage{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
	}
}

// Fetch retrieves the full series for symbol at interval.
func (a *AlphaVantage) Fetch(ctx context.Context, symbol string, interval Interval) (Fetched, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("outputsize", a.cfg.OutputSize)
	if interval == IntervalDaily {
		q.Set("function", "TIME_SERIES_DAILY")
		q.Set("apikey", a.cfg.PrimaryKey)
	} else {
		q.Set("function", "TIME_SERIES_INTRADAY")
		q.Set("interval", string(interval))
		q.Set("apikey", a.cfg.SecondaryKey)
	}
	if q.Get("apikey") == "" {
		return Fetched{}, &ProviderError{Symbol: symbol, Message: "no Alpha Vantage API key configured (ALPHA_VANTAGE_PRIMARY_KEY / ALPHA_VANTAGE_SECONDARY_KEY)"}
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return Fetched{}, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Fetched{}, err
	}
	timer := logging.StartTimer(logging.CategoryMarket, "alphavantage "+q.Get("function")+" "+symbol)
	resp, err := a.client.Do(req)
	timer.Stop()
	if err != nil {
		return Fetched{}, fmt.Errorf("fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return Fetched{}, fmt.Errorf("read %s: %w", symbol, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Fetched{}, &ProviderError{Symbol: symbol, Message: fmt.Sprintf("HTTP %d", resp.StatusCode), RateLimit: resp.StatusCode == http.StatusTooManyRequests}
	}
	return ParseAlphaVantage(symbol, interval, body, a.cfg.Timezone)
}

// ParseAlphaVantage decodes a time-series response. Bar timestamps are read
// in the series' own timezone.
func ParseAlphaVantage(symbol string, interval Interval, body []byte, fallbackTZ string) (Fetched, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Fetched{}, &ProviderError{Symbol: symbol, Message: "malformed response: " + err.Error()}
	}
	for _, key := range []string{"Error Message", "Note", "Information"} {
		if msg, ok := raw[key]; ok {
			var text string
			_ = json.Unmarshal(msg, &text)
			lower := strings.ToLower(text)
			return Fetched{}, &ProviderError{
				Symbol:    symbol,
				Message:   text,
				RateLimit: key != "Error Message" || strings.Contains(lower, "rate limit") || strings.Contains(lower, "call frequency"),
			}
		}
	}

	tz := fallbackTZ
	if metaRaw, ok := raw["Meta Data"]; ok {
		var meta map[string]string
		if json.Unmarshal(metaRaw, &meta) == nil {
			for k, v := range meta {
				if strings.HasSuffix(k, "Time Zone") && v != "" {
					tz = v
				}
			}
		}
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}

	seriesKey := "Time Series (Daily)"
	if interval != IntervalDaily {
		seriesKey = fmt.Sprintf("Time Series (%s)", interval)
	}
	seriesRaw, ok := raw[seriesKey]
	if !ok {
		return Fetched{}, &ProviderError{Symbol: symbol, Message: "no data returned from API; the daily limit may have been exceeded", RateLimit: true}
	}
	var series map[string]map[string]string
	if err := json.Unmarshal(seriesRaw, &series); err != nil {
		return Fetched{}, &ProviderError{Symbol: symbol, Message: "malformed series: " + err.Error()}
	}

	out := make([]Candle, 0, len(series))
	for stamp, v := range series {
		t, err := parseStamp(stamp, loc)
		if err != nil {
			logging.Get(logging.CategoryMarket).Warn("Skipping bar %q for %s: %v", stamp, symbol, err)
			continue
		}
		c := Candle{Time: t.UnixMilli()}
		c.Open, _ = strconv.ParseFloat(v["1. open"], 64)
		c.High, _ = strconv.ParseFloat(v["2. high"], 64)
		c.Low, _ = strconv.ParseFloat(v["3. low"], 64)
		c.Close, _ = strconv.ParseFloat(v["4. close"], 64)
		c.Volume, _ = strconv.ParseFloat(v["5. volume"], 64)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return Fetched{Data: out, Timezone: tz}, nil
}

func parseStamp(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, loc); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", s, loc)
}
