package types

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV observation. Volume is invalid when the bar was built
// from trade ticks and the traded size is unknown.
type Candle struct {
	AssetId   int                 `json:"id"`
	Ticker    string              `json:"ticker"`
	Open      decimal.Decimal     `json:"open"`
	Close     decimal.Decimal     `json:"close"`
	High      decimal.Decimal     `json:"high" `
	Low       decimal.Decimal     `json:"low"`
	Volume    decimal.NullDecimal `json:"volume"`
	Interval  Interval            `json:"interval"`
	Timestamp time.Time           `json:"timestamp"`
}

// NewTickCandle builds a flat candle from a single trade price.
func NewTickCandle(ticker string, price decimal.Decimal, ts time.Time) Candle {
	return Candle{
		Ticker:    ticker,
		Open:      price,
		Close:     price,
		High:      price,
		Low:       price,
		Timestamp: ts,
	}
}

// SortCandles orders candles ascending by timestamp in place.
func SortCandles(candles []Candle) {
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
}
