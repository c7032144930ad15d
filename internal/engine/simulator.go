package engine

import (
	"context"
	"fmt"

	"quantbot/internal/telemetry"
	"quantbot/types"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Action is the single transition taken for one observation.
type Action int

const (
	ActionNone Action = iota
	ActionStopExit
	ActionEntry
	ActionSignalExit
)

func (a Action) String() string {
	switch a {
	case ActionStopExit:
		return "stop-exit"
	case ActionEntry:
		return "entry"
	case ActionSignalExit:
		return "signal-exit"
	default:
		return "none"
	}
}

type StepResult struct {
	Observation Observation
	Action      Action
	Fill        *types.Fill
	Position    types.Position
	Cash        decimal.Decimal
	Equity      decimal.Decimal
	Err         error
}

// Simulator is the per-instrument state machine shared by replay and live
// trading. It is driven by a single goroutine.
type Simulator struct {
	cfg    SimulatorConfig
	broker Broker
	risk   sizer
	logger *zap.Logger

	cash   decimal.Decimal
	stops  *types.StopLevels
	seq    uint64
	equity []types.EquityPoint
}

func NewSimulator(cfg SimulatorConfig, broker Broker, risk sizer, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		cfg:    cfg,
		broker: broker,
		risk:   risk,
		logger: logger.With(zap.String("symbol", cfg.Symbol), zap.String("mode", cfg.Mode.String())),
		cash:   cfg.InitialCash,
	}
}

func (s *Simulator) Cash() decimal.Decimal { return s.cash }

func (s *Simulator) Stops() (types.StopLevels, bool) {
	if s.stops == nil {
		return types.StopLevels{}, false
	}
	return *s.stops, true
}

// Trades is the broker's fill log for this simulator's symbol.
func (s *Simulator) Trades() []types.Fill {
	var out []types.Fill
	for _, f := range s.broker.Fills() {
		if f.Order.Symbol == s.cfg.Symbol {
			out = append(out, f)
		}
	}
	return out
}

func (s *Simulator) EquityCurve() []types.EquityPoint {
	return append([]types.EquityPoint(nil), s.equity...)
}

// Step applies exactly one of stop-exit, entry, signal-exit or nothing for
// obs and records an equity sample. On error the step is abandoned without
// an equity sample.
func (s *Simulator) Step(ctx context.Context, obs Observation) (StepResult, error) {
	res := StepResult{Observation: obs}
	pos := s.broker.Position(s.cfg.Symbol)
	price := obs.Price

	switch {
	case pos.Quantity > 0 && s.stops != nil && s.stops.Triggered(price):
		fill, err := s.submit(ctx, obs, types.SideTypeSell, pos.Quantity, s.exitTag(true))
		if err != nil {
			return res, err
		}
		s.stops = nil
		res.Action, res.Fill = ActionStopExit, &fill

	case pos.Quantity <= 0 && obs.Signal == types.DirectionLong:
		equity := s.cash.Add(pos.MarketValue(price))
		qty := s.risk.PositionSize(equity, price, obs.Volatility)
		if qty <= 0 {
			break
		}
		fill, err := s.submit(ctx, obs, types.SideTypeBuy, qty, s.entryTag())
		if err != nil {
			return res, err
		}
		levels := s.risk.StopLevels(fill.Price)
		s.stops = &levels
		res.Action, res.Fill = ActionEntry, &fill

	case pos.Quantity > 0 && s.exitSignal(obs.Signal):
		fill, err := s.submit(ctx, obs, types.SideTypeSell, pos.Quantity, s.exitTag(false))
		if err != nil {
			return res, err
		}
		s.stops = nil
		res.Action, res.Fill = ActionSignalExit, &fill
	}

	res.Position = s.broker.Position(s.cfg.Symbol)
	res.Cash = s.cash
	res.Equity = s.cash.Add(res.Position.MarketValue(price))
	s.equity = append(s.equity, types.EquityPoint{Time: obs.Time, Equity: res.Equity})

	telemetry.TicksTotal.WithLabelValues(s.cfg.Symbol).Inc()
	telemetry.Equity.WithLabelValues(s.cfg.Symbol).Set(res.Equity.InexactFloat64())
	return res, nil
}

func (s *Simulator) submit(ctx context.Context, obs Observation, side types.Side, qty int64, tag string) (types.Fill, error) {
	s.seq++
	id := orderID(s.cfg.Symbol, side, obs, s.seq)

	var order types.Order
	ref := decimal.NewNullDecimal(obs.Price)
	if s.cfg.Mode == ModeBacktest {
		order = types.NewLimitOrder(id, s.cfg.Symbol, side, qty, obs.Price, obs.Time, tag)
	} else {
		order = types.NewMarketOrder(id, s.cfg.Symbol, side, qty, obs.Time, tag)
	}

	// An accepted submission always completes, even if the run is stopping.
	fill, err := s.broker.Submit(context.WithoutCancel(ctx), order, ref)
	if err != nil {
		return types.Fill{}, errors.Wrapf(err, "submit %s %d %s", side, qty, s.cfg.Symbol)
	}

	s.cash = s.cash.Add(fill.CashDelta())
	telemetry.OrdersTotal.WithLabelValues(s.cfg.Symbol, string(side), tag).Inc()

	s.logger.Info("order filled",
		zap.String("id", id),
		zap.String("tag", tag),
		zap.String("side", string(side)),
		zap.Int64("qty", qty),
		zap.String("price", fill.Price.String()),
		zap.String("cash", s.cash.String()),
		zap.Time("ts", obs.Time),
	)
	return fill, nil
}

func (s *Simulator) exitSignal(d types.Direction) bool {
	if s.cfg.ExitOnFlat {
		return d <= types.DirectionFlat
	}
	return d < types.DirectionFlat
}

func (s *Simulator) entryTag() string {
	if s.cfg.Mode == ModeLive {
		return types.TagLiveEntry
	}
	return types.TagEntry
}

func (s *Simulator) exitTag(stop bool) string {
	switch {
	case s.cfg.Mode == ModeLive && stop:
		return types.TagLiveExit
	case s.cfg.Mode == ModeLive:
		return types.TagLiveFlip
	case stop:
		return types.TagExit
	default:
		return types.TagFlipFlat
	}
}

// orderID is name-based so the same replay produces the same ids.
func orderID(symbol string, side types.Side, obs Observation, seq uint64) string {
	name := fmt.Sprintf("%s|%s|%d|%d", symbol, side, obs.Time.UnixNano(), seq)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
