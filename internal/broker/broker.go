// Package broker turns orders into fills and keeps the resulting positions.
// PaperBroker simulates execution locally; AlpacaBroker routes orders to the
// Alpaca trading API and applies the same ledger update.
package broker

import (
	"errors"

	"quantbot/types"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingReferencePrice = errors.New("broker: market order requires a reference price")
	ErrMissingCredentials    = errors.New("broker: missing API credentials")
	ErrInvalidQuantity       = errors.New("broker: order quantity must be positive")
)

// fillPrice resolves the price an order executes against: its limit price,
// else the caller supplied reference price.
func fillPrice(order types.Order, ref decimal.NullDecimal) (decimal.Decimal, error) {
	if order.LimitPrice.Valid {
		return order.LimitPrice.Decimal, nil
	}
	if ref.Valid {
		return ref.Decimal, nil
	}
	return decimal.Zero, ErrMissingReferencePrice
}
