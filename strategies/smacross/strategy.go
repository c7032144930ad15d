// Package smacross implements the simple moving average crossover signal.
package smacross

import (
	"errors"

	"quantbot/types"

	"github.com/shopspring/decimal"
)

var ErrInvalidWindows = errors.New("smacross: require 1 < fast < slow")

// Strategy holds the crossover windows. It carries no state between calls;
// streaming state lives in Stream.
type Strategy struct {
	fast int
	slow int
}

func New(fast, slow int) (*Strategy, error) {
	if fast <= 1 || slow <= 2 || fast >= slow {
		return nil, ErrInvalidWindows
	}
	return &Strategy{fast: fast, slow: slow}, nil
}

func (s *Strategy) Fast() int { return s.fast }
func (s *Strategy) Slow() int { return s.slow }

// Generate returns one signal per candle, aligned by timestamp. Candles must
// already be sorted ascending.
func (s *Strategy) Generate(candles []types.Candle) []types.Signal {
	stream := s.NewStream()
	signals := make([]types.Signal, len(candles))
	for i, c := range candles {
		signals[i] = types.Signal{Time: c.Timestamp, Direction: stream.Next(c.Close)}
	}
	return signals
}

// NewStream starts an empty incremental evaluation of the crossover.
func (s *Strategy) NewStream() *Stream {
	return &Stream{
		fast: newMovingAverage(s.fast),
		slow: newMovingAverage(s.slow),
	}
}

// Stream evaluates the crossover one close at a time.
type Stream struct {
	fast *movingAverage
	slow *movingAverage
	last types.Direction
	seen bool
}

// Next folds in a close and returns the direction for it. Until both averages
// are defined the last defined direction is carried forward, or flat if
// there is none.
func (st *Stream) Next(close decimal.Decimal) types.Direction {
	st.fast.add(close)
	st.slow.add(close)

	fast, okFast := st.fast.value()
	slow, okSlow := st.slow.value()
	if !okFast || !okSlow {
		if st.seen {
			return st.last
		}
		return types.DirectionFlat
	}

	dir := types.DirectionFlat
	switch fast.Cmp(slow) {
	case 1:
		dir = types.DirectionLong
	case -1:
		dir = types.DirectionShort
	}
	st.last, st.seen = dir, true
	return dir
}
