package types

import "github.com/shopspring/decimal"

// Position is the signed share quantity held in one instrument. AvgPrice is
// zero whenever Quantity is zero.
type Position struct {
	Symbol   string
	Quantity int64
	AvgPrice decimal.Decimal
}

func (p Position) IsFlat() bool { return p.Quantity == 0 }

// MarketValue marks the position at price.
func (p Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(p.Quantity))
}

// StopLevels are the protective exit prices attached to an open long.
type StopLevels struct {
	Stop decimal.Decimal
	Take decimal.Decimal
}

// Triggered reports whether price has reached either level.
func (s StopLevels) Triggered(price decimal.Decimal) bool {
	return price.LessThanOrEqual(s.Stop) || price.GreaterThanOrEqual(s.Take)
}
