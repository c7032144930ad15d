package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is the single execution produced for an accepted order.
type Fill struct {
	Order      Order
	Price      decimal.Decimal
	Commission decimal.Decimal
	Time       time.Time
}

func NewFill(order Order, price, commission decimal.Decimal, ts time.Time) Fill {
	return Fill{
		Order:      order,
		Price:      price,
		Commission: commission,
		Time:       ts,
	}
}

// Notional is fill price times filled quantity, before commission.
func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(decimal.NewFromInt(f.Order.Quantity))
}

// CashDelta is the signed change in account cash caused by the fill.
func (f Fill) CashDelta() decimal.Decimal {
	if f.Order.Side == SideTypeBuy {
		return f.Notional().Add(f.Commission).Neg()
	}
	return f.Notional().Sub(f.Commission)
}
