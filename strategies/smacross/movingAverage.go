package smacross

import (
	"quantbot/internal/ring"

	"github.com/shopspring/decimal"
)

// movingAverage is a trailing simple average of the last period closes. The
// running sum is exact, so equal inputs give exactly equal averages.
type movingAverage struct {
	buf *ring.Buffer[decimal.Decimal]
	sum decimal.Decimal
}

func newMovingAverage(period int) *movingAverage {
	return &movingAverage{buf: ring.New[decimal.Decimal](period)}
}

func (m *movingAverage) add(v decimal.Decimal) {
	if oldest, evicted := m.buf.Push(v); evicted {
		m.sum = m.sum.Sub(oldest)
	}
	m.sum = m.sum.Add(v)
}

func (m *movingAverage) value() (decimal.Decimal, bool) {
	if !m.buf.Full() {
		return decimal.Zero, false
	}
	return m.sum.Div(decimal.NewFromInt(int64(m.buf.Cap()))), true
}
