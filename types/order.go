package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is a request to trade a whole number of shares. A missing limit
// price makes it a market order, which needs a reference price at submit
// time.
type Order struct {
	ID         string
	Symbol     string
	Side       Side
	Quantity   int64
	LimitPrice decimal.NullDecimal
	CreatedAt  time.Time
	Tag        string
}

func NewMarketOrder(id, symbol string, side Side, quantity int64, createdAt time.Time, tag string) Order {
	return Order{
		ID:        id,
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		CreatedAt: createdAt,
		Tag:       tag,
	}
}

func NewLimitOrder(id, symbol string, side Side, quantity int64, price decimal.Decimal, createdAt time.Time, tag string) Order {
	o := NewMarketOrder(id, symbol, side, quantity, createdAt, tag)
	o.LimitPrice = decimal.NewNullDecimal(price)
	return o
}

func (o Order) Type() OrderType {
	if o.LimitPrice.Valid {
		return TypeLimit
	}
	return TypeMarket
}
