package engine

import (
	"context"
	"time"

	"quantbot/types"

	"github.com/shopspring/decimal"
)

type dataStore interface {
	History(ctx context.Context, symbol string, interval types.Interval, start, end time.Time) ([]types.Candle, error)
}

// Broker executes orders and owns the resulting positions and fill log. ref
// is the reference price for market orders.
type Broker interface {
	Submit(ctx context.Context, order types.Order, ref decimal.NullDecimal) (types.Fill, error)
	Position(symbol string) types.Position
	Fills() []types.Fill
}

type sizer interface {
	PositionSize(equity, price decimal.Decimal, vol float64) int64
	StopLevels(entry decimal.Decimal) types.StopLevels
}

type signalGenerator interface {
	Generate(candles []types.Candle) []types.Signal
}

// DirectionStream evaluates a signal one close at a time.
type DirectionStream interface {
	Next(close decimal.Decimal) types.Direction
}

// LatestPricer returns the most recent trade for a symbol.
type LatestPricer interface {
	Latest(ctx context.Context, symbol string) (types.Tick, error)
}

// Source yields observations in ascending time order. io.EOF ends the run.
type Source interface {
	Next(ctx context.Context) (Observation, error)
}

// Observer is called after every processed observation, including ones
// abandoned on error in live mode.
type Observer func(StepResult)
