package broker

import (
	"sync"

	"quantbot/types"

	"github.com/shopspring/decimal"
)

// Ledger tracks per-instrument quantity and average cost from a sequence of
// fills. Positions are created lazily at zero and never removed.
//
// Shorts mirror longs: a fill that grows the open side re-weights the
// basis, a fill that shrinks it keeps the basis, and a fill that crosses
// zero opens the new side at the fill price.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*types.Position
	fills     []types.Fill
}

func NewLedger() *Ledger {
	return &Ledger{positions: make(map[string]*types.Position)}
}

// Position returns a copy of the current position for symbol.
func (l *Ledger) Position(symbol string) types.Position {
	l.mu.RLock()
	pos, ok := l.positions[symbol]
	l.mu.RUnlock()
	if ok {
		return *pos
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.position(symbol)
}

// Fills returns every applied fill in application order.
func (l *Ledger) Fills() []types.Fill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]types.Fill(nil), l.fills...)
}

// Apply folds one fill into its instrument's position and returns the
// updated position.
func (l *Ledger) Apply(fill types.Fill) types.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.position(fill.Order.Symbol)
	qty := fill.Order.Quantity
	oldQty := pos.Quantity

	switch fill.Order.Side {
	case types.SideTypeBuy:
		newQty := oldQty + qty
		switch {
		case newQty == 0:
			pos.AvgPrice = decimal.Zero
		case newQty < 0:
			// covering part of a short keeps its basis
		case oldQty <= 0:
			pos.AvgPrice = fill.Price
		default:
			pos.AvgPrice = weightedAvg(pos.AvgPrice, oldQty, fill.Price, qty)
		}
		pos.Quantity = newQty

	case types.SideTypeSell:
		newQty := oldQty - qty
		switch {
		case newQty == 0:
			pos.AvgPrice = decimal.Zero
		case oldQty <= 0 || newQty < 0:
			// opening or flipping into a short
			if oldQty < 0 {
				pos.AvgPrice = weightedAvg(pos.AvgPrice, -oldQty, fill.Price, qty)
			} else {
				pos.AvgPrice = fill.Price
			}
		}
		pos.Quantity = newQty
	}

	l.fills = append(l.fills, fill)
	return *pos
}

func (l *Ledger) position(symbol string) *types.Position {
	pos, ok := l.positions[symbol]
	if !ok {
		pos = &types.Position{Symbol: symbol}
		l.positions[symbol] = pos
	}
	return pos
}

func weightedAvg(existingAvgPrice decimal.Decimal, existingQty int64, newPrice decimal.Decimal, newQty int64) decimal.Decimal {
	if existingQty == 0 {
		return newPrice
	}
	eq := decimal.NewFromInt(existingQty)
	nq := decimal.NewFromInt(newQty)
	return existingAvgPrice.Mul(eq).
		Add(newPrice.Mul(nq)).
		Div(eq.Add(nq))
}
