package market

import (
	"context"
	"errors"
)

// ErrNoAnalyzer is returned when order-block analysis is requested but no
// analyzer is configured.
var ErrNoAnalyzer = errors.New("order-block analysis is not configured")

// OrderBlock is one annotated price zone over a series.
type OrderBlock struct {
	Type      string  `json:"type"` // bullish or bearish
	StartTime int64   `json:"startTime"`
	EndTime   int64   `json:"endTime"`
	HighPrice float64 `json:"highPrice"`
	LowPrice  float64 `json:"lowPrice"`
	Volume    float64 `json:"volume"`
}

// Analysis is what an Analyzer returns for one series.
type Analysis struct {
	Symbol      string       `json:"symbol"`
	Interval    Interval     `json:"interval"`
	Trend       string       `json:"trend"` // up, down or none
	OrderBlocks []OrderBlock `json:"orderBlocks"`
}

// Analyzer annotates a candle series with order blocks. Implementations live
// outside livenote and are injected into the render context.
type Analyzer interface {
	Analyze(ctx context.Context, symbol string, interval Interval, candles []Candle) (Analysis, error)
}
