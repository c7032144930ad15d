// Package risk sizes orders against a volatility target and derives
// protective stop levels for new entries.
package risk

import (
	"errors"
	"math"

	"quantbot/types"

	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	TradingDaysPerYear = 252

	// minAnnualVol floors the annualized volatility used as a divisor.
	minAnnualVol = 1e-9
)

// maxQuantity caps sizes that do not fit an int64 share count.
var maxQuantity = decimal.NewFromInt(math.MaxInt64)

var ErrInvalidRiskConfig = errors.New("risk: invalid configuration")

type Config struct {
	VolTarget     float64 `mapstructure:"vol_target"`
	MaxDrawdown   float64 `mapstructure:"max_drawdown"`   // informational, not enforced
	PerTradeRisk  float64 `mapstructure:"per_trade_risk"` // reserved
	StopLossPct   float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct float64 `mapstructure:"take_profit_pct"`
}

func DefaultConfig() Config {
	return Config{
		VolTarget:     0.15,
		MaxDrawdown:   0.2,
		PerTradeRisk:  0.01,
		StopLossPct:   0.05,
		TakeProfitPct: 0.10,
	}
}

func (c Config) Validate() error {
	switch {
	case c.VolTarget <= 0:
		return pkgerrors.Wrap(ErrInvalidRiskConfig, "vol_target must be positive")
	case c.StopLossPct < 0 || c.StopLossPct >= 1:
		return pkgerrors.Wrap(ErrInvalidRiskConfig, "stop_loss_pct must be in [0, 1)")
	case c.TakeProfitPct < 0:
		return pkgerrors.Wrap(ErrInvalidRiskConfig, "take_profit_pct must not be negative")
	}
	return nil
}

// Manager is immutable once built and safe for concurrent use.
type Manager struct {
	cfg  Config
	stop decimal.Decimal
	take decimal.Decimal
}

func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	one := decimal.NewFromInt(1)
	return &Manager{
		cfg:  cfg,
		stop: one.Sub(decimal.NewFromFloat(cfg.StopLossPct)),
		take: one.Add(decimal.NewFromFloat(cfg.TakeProfitPct)),
	}, nil
}

func (m *Manager) Config() Config { return m.cfg }

// PositionSize returns the whole number of shares whose notional brings the
// position to the target annualized volatility. vol is the per-period
// standard deviation of returns. Any non-positive or undefined input sizes
// to zero. Sizes beyond math.MaxInt64 are capped there.
func (m *Manager) PositionSize(equity, price decimal.Decimal, vol float64) int64 {
	if math.IsNaN(vol) || vol <= 0 || !price.IsPositive() || !equity.IsPositive() {
		return 0
	}
	annualized := vol * math.Sqrt(TradingDaysPerYear)
	scale := m.cfg.VolTarget / math.Max(annualized, minAnnualVol)
	if math.IsInf(scale, 0) || math.IsNaN(scale) {
		return 0
	}
	target := equity.Mul(decimal.NewFromFloat(scale))
	qty := target.Div(price).Floor()
	if qty.IsNegative() {
		return 0
	}
	if qty.GreaterThan(maxQuantity) {
		return math.MaxInt64
	}
	return qty.IntPart()
}

// StopLevels returns the stop and take-profit prices for an entry.
func (m *Manager) StopLevels(entry decimal.Decimal) types.StopLevels {
	return types.StopLevels{
		Stop: entry.Mul(m.stop),
		Take: entry.Mul(m.take),
	}
}
