package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type PortfolioView struct {
	Cash      decimal.Decimal
	Positions map[string]Position
	Time      time.Time
}

// Equity is cash plus every position marked at the supplied prices.
func (v PortfolioView) Equity(prices map[string]decimal.Decimal) decimal.Decimal {
	value := v.Cash
	for sym, pos := range v.Positions {
		value = value.Add(pos.MarketValue(prices[sym]))
	}
	return value
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Time   time.Time
	Equity decimal.Decimal
}

// ReturnPoint is one periodic return, stamped with the end of its period.
type ReturnPoint struct {
	Time  time.Time
	Value float64
}

// Tick is a single trade-price observation from a live feed.
type Tick struct {
	Symbol string
	Price  decimal.Decimal
	Time   time.Time
}
