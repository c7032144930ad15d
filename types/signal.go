package types

import "time"

// Direction is the desired position direction derived from price.
type Direction int

const (
	DirectionShort Direction = -1
	DirectionFlat  Direction = 0
	DirectionLong  Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "LONG"
	case DirectionShort:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Signal is one direction value aligned to a candle timestamp.
type Signal struct {
	Time      time.Time
	Direction Direction
}
