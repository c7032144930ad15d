package engine

import (
	"context"
	"io"
	"time"

	"quantbot/internal/ring"
	"quantbot/internal/risk"
	"quantbot/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Observation is one price point with the signal and volatility estimate
// known at that time.
type Observation struct {
	Symbol     string
	Time       time.Time
	Price      decimal.Decimal
	Signal     types.Direction
	Volatility float64
}

// ReplaySource walks a fixed, sorted candle series.
type ReplaySource struct {
	symbol  string
	candles []types.Candle
	signals []types.Signal
	vol     []float64
	idx     int
}

// NewReplaySource precomputes signals and the back-filled rolling
// volatility for the whole series. candles must be sorted ascending.
func NewReplaySource(symbol string, candles []types.Candle, gen signalGenerator, volLookback int) *ReplaySource {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close.InexactFloat64()
	}
	return &ReplaySource{
		symbol:  symbol,
		candles: candles,
		signals: gen.Generate(candles),
		vol:     risk.RollingVolatility(closes, volLookback),
	}
}

func (r *ReplaySource) Len() int { return len(r.candles) }

func (r *ReplaySource) Next(ctx context.Context) (Observation, error) {
	if err := ctx.Err(); err != nil {
		return Observation{}, err
	}
	if r.idx >= len(r.candles) {
		return Observation{}, io.EOF
	}
	c := r.candles[r.idx]
	obs := Observation{
		Symbol:     r.symbol,
		Time:       c.Timestamp,
		Price:      c.Close,
		Signal:     r.signals[r.idx].Direction,
		Volatility: r.vol[r.idx],
	}
	r.idx++
	return obs, nil
}

type TrackerConfig struct {
	HistoryLimit int
	VolLookback  int
	MinReturns   int
}

func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{HistoryLimit: 5000, VolLookback: 120, MinReturns: 10}
}

// Tracker keeps a bounded trailing history of live prices and turns each
// new tick into an observation.
type Tracker struct {
	symbol string
	cfg    TrackerConfig
	stream DirectionStream
	hist   *ring.Buffer[types.Candle]
}

func NewTracker(symbol string, stream DirectionStream, cfg TrackerConfig) *Tracker {
	if cfg.HistoryLimit < 2 {
		cfg.HistoryLimit = DefaultTrackerConfig().HistoryLimit
	}
	return &Tracker{
		symbol: symbol,
		cfg:    cfg,
		stream: stream,
		hist:   ring.New[types.Candle](cfg.HistoryLimit),
	}
}

func (t *Tracker) Observe(tick types.Tick) Observation {
	t.hist.Push(types.NewTickCandle(tick.Symbol, tick.Price, tick.Time))
	dir := t.stream.Next(tick.Price)

	// only the closes feeding the trailing window are needed
	from := 0
	if t.cfg.VolLookback > 0 && t.hist.Len() > t.cfg.VolLookback+1 {
		from = t.hist.Len() - t.cfg.VolLookback - 1
	}
	closes := make([]float64, 0, t.hist.Len()-from)
	for i := from; i < t.hist.Len(); i++ {
		c, _ := t.hist.Get(i)
		closes = append(closes, c.Close.InexactFloat64())
	}
	return Observation{
		Symbol:     t.symbol,
		Time:       tick.Time,
		Price:      tick.Price,
		Signal:     dir,
		Volatility: risk.TrailingVolatility(closes, t.cfg.VolLookback, t.cfg.MinReturns),
	}
}

// History returns the retained candles, oldest first.
func (t *Tracker) History() []types.Candle {
	return t.hist.Values()
}

// PollSource fetches the latest trade once per interval.
type PollSource struct {
	symbol   string
	prices   LatestPricer
	tracker  *Tracker
	interval time.Duration
	started  bool
	logger   *zap.Logger
}

func NewPollSource(symbol string, prices LatestPricer, tracker *Tracker, interval time.Duration, logger *zap.Logger) *PollSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollSource{
		symbol:   symbol,
		prices:   prices,
		tracker:  tracker,
		interval: interval,
		logger:   logger,
	}
}

// Next waits one interval (except on the first call) and then polls.
func (p *PollSource) Next(ctx context.Context) (Observation, error) {
	if p.started && p.interval > 0 {
		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Observation{}, ctx.Err()
		case <-timer.C:
		}
	}
	p.started = true

	tick, err := p.prices.Latest(ctx, p.symbol)
	if err != nil {
		return Observation{}, err
	}
	return p.tracker.Observe(tick), nil
}

// StreamSource consumes trade events from a channel, one at a time.
type StreamSource struct {
	symbol  string
	ticks   <-chan types.Tick
	tracker *Tracker
}

func NewStreamSource(symbol string, ticks <-chan types.Tick, tracker *Tracker) *StreamSource {
	return &StreamSource{symbol: symbol, ticks: ticks, tracker: tracker}
}

func (s *StreamSource) Next(ctx context.Context) (Observation, error) {
	for {
		select {
		case <-ctx.Done():
			return Observation{}, ctx.Err()
		case tick, ok := <-s.ticks:
			if !ok {
				return Observation{}, io.EOF
			}
			if tick.Symbol != s.symbol {
				continue
			}
			return s.tracker.Observe(tick), nil
		}
	}
}
