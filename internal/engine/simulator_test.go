package engine

import (
	"context"
	"errors"
	"io"
	"math"
	"reflect"
	"testing"
	"time"

	"quantbot/internal/broker"
	"quantbot/internal/risk"
	"quantbot/strategies/smacross"
	"quantbot/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var testStart = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func TestSimulator_FlatSeriesNoTrades(t *testing.T) {
	candles := mockCandles(constantCloses(100, 60)...)
	sim, _ := replay(t, candles, broker.PaperConfig{SlippageBps: 1}, false)

	if len(sim.Trades()) != 0 {
		t.Fatalf("expected no trades, got %d", len(sim.Trades()))
	}
	curve := sim.EquityCurve()
	if len(curve) != len(candles) {
		t.Fatalf("equity samples = %d, want %d", len(curve), len(candles))
	}
	for i, p := range curve {
		if !p.Equity.Equal(decimal.NewFromInt(100000)) {
			t.Fatalf("equity[%d] = %s, want initial cash", i, p.Equity)
		}
	}
}

func TestSimulator_RisingSeriesBuysFirst(t *testing.T) {
	candles := mockCandles(risingCloses(80)...)
	sim, b := replay(t, candles, broker.PaperConfig{}, false)

	trades := sim.Trades()
	if len(trades) == 0 {
		t.Fatal("expected at least one trade")
	}
	if trades[0].Order.Side != types.SideTypeBuy || trades[0].Order.Tag != types.TagEntry {
		t.Fatalf("first trade = %s %s, want BUY entry", trades[0].Order.Side, trades[0].Order.Tag)
	}

	totalComm := decimal.Zero
	for _, f := range trades {
		totalComm = totalComm.Add(f.Commission)
		if f.Order.Type() != types.TypeLimit {
			t.Fatalf("backtest orders must be limits, got %s", f.Order.Type())
		}
	}
	curve := sim.EquityCurve()
	final := curve[len(curve)-1].Equity
	if final.LessThan(decimal.NewFromInt(100000).Sub(totalComm)) {
		t.Fatalf("final equity %s below initial cash less commissions", final)
	}

	// no leakage between cash, position and the recorded curve
	last := candles[len(candles)-1].Close
	pos := b.Position("TEST")
	if got := sim.Cash().Add(pos.MarketValue(last)); !got.Equal(final) {
		t.Fatalf("cash+position = %s, curve = %s", got, final)
	}
}

func TestSimulator_Deterministic(t *testing.T) {
	closes := risingCloses(40)
	closes = append(closes, fallingCloses(closes[len(closes)-1], 40)...)
	closes = append(closes, risingCloses(40)...)
	candles := mockCandles(closes...)

	first, _ := replay(t, candles, broker.PaperConfig{SlippageBps: 5, CommissionPerShare: 0.01}, false)
	second, _ := replay(t, candles, broker.PaperConfig{SlippageBps: 5, CommissionPerShare: 0.01}, false)

	if !reflect.DeepEqual(first.Trades(), second.Trades()) {
		t.Fatal("trade logs differ between identical replays")
	}
	if !reflect.DeepEqual(first.EquityCurve(), second.EquityCurve()) {
		t.Fatal("equity curves differ between identical replays")
	}
	if len(first.Trades()) < 2 {
		t.Fatalf("expected a round trip, got %d fills", len(first.Trades()))
	}
}

func TestSimulator_CashConservation(t *testing.T) {
	closes := risingCloses(40)
	closes = append(closes, fallingCloses(closes[len(closes)-1], 40)...)
	candles := mockCandles(closes...)
	sim, b := replay(t, candles, broker.PaperConfig{SlippageBps: 3, CommissionPerShare: 0.005}, false)

	cash := decimal.NewFromInt(100000)
	for _, f := range sim.Trades() {
		cash = cash.Add(f.CashDelta())
	}
	if !cash.Equal(sim.Cash()) {
		t.Fatalf("replayed cash %s != simulator cash %s", cash, sim.Cash())
	}
	pos := b.Position("TEST")
	if pos.Quantity == 0 && !pos.AvgPrice.IsZero() {
		t.Fatalf("flat position with avg %s", pos.AvgPrice)
	}
}

func TestSimulator_StopBeforeEntry(t *testing.T) {
	obs := []Observation{
		{Time: testStart, Price: decimal.NewFromInt(100), Signal: types.DirectionLong, Volatility: 0.01},
		{Time: testStart.AddDate(0, 0, 1), Price: decimal.NewFromInt(94), Signal: types.DirectionLong, Volatility: 0.01},
		{Time: testStart.AddDate(0, 0, 2), Price: decimal.NewFromInt(94), Signal: types.DirectionLong, Volatility: 0.01},
		{Time: testStart.AddDate(0, 0, 3), Price: decimal.NewFromInt(110), Signal: types.DirectionLong, Volatility: 0.01},
	}
	sim := newTestSimulator(t, ModeBacktest, broker.NewPaperBroker(broker.PaperConfig{}, nil))

	var actions []Action
	err := sim.Run(context.Background(), &sliceSource{obs: obs}, func(r StepResult) {
		actions = append(actions, r.Action)
	})
	if err != nil {
		t.Fatal(err)
	}

	// 94 <= stop(95) exits without re-entering on the same bar; 110 >= take(94*1.1)
	want := []Action{ActionEntry, ActionStopExit, ActionEntry, ActionStopExit}
	if !reflect.DeepEqual(actions, want) {
		t.Fatalf("actions = %v, want %v", actions, want)
	}
	tags := []string{}
	for _, f := range sim.Trades() {
		tags = append(tags, f.Order.Tag)
	}
	if !reflect.DeepEqual(tags, []string{types.TagEntry, types.TagExit, types.TagEntry, types.TagExit}) {
		t.Fatalf("tags = %v", tags)
	}
	if _, ok := sim.Stops(); ok {
		t.Fatal("stops must be cleared after exit")
	}
}

func TestSimulator_ExitRule(t *testing.T) {
	tests := []struct {
		name       string
		exitOnFlat bool
		second     types.Direction
		want       Action
	}{
		{"short exits", false, types.DirectionShort, ActionSignalExit},
		{"flat holds by default", false, types.DirectionFlat, ActionNone},
		{"flat exits when configured", true, types.DirectionFlat, ActionSignalExit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := newTestSimulator(t, ModeBacktest, broker.NewPaperBroker(broker.PaperConfig{}, nil))
			sim.cfg.ExitOnFlat = tt.exitOnFlat
			ctx := context.Background()
			if _, err := sim.Step(ctx, Observation{Time: testStart, Price: decimal.NewFromInt(100), Signal: types.DirectionLong, Volatility: 0.01}); err != nil {
				t.Fatal(err)
			}
			res, err := sim.Step(ctx, Observation{Time: testStart.Add(time.Hour), Price: decimal.NewFromInt(101), Signal: tt.second, Volatility: 0.01})
			if err != nil {
				t.Fatal(err)
			}
			if res.Action != tt.want {
				t.Fatalf("action = %v, want %v", res.Action, tt.want)
			}
			if res.Action == ActionSignalExit && res.Fill.Order.Tag != types.TagFlipFlat {
				t.Fatalf("tag = %s", res.Fill.Order.Tag)
			}
		})
	}
}

func TestSimulator_ZeroVolatilityDoesNotEnter(t *testing.T) {
	sim := newTestSimulator(t, ModeBacktest, broker.NewPaperBroker(broker.PaperConfig{}, nil))
	for _, vol := range []float64{0, math.NaN()} {
		res, err := sim.Step(context.Background(), Observation{Time: testStart, Price: decimal.NewFromInt(100), Signal: types.DirectionLong, Volatility: vol})
		if err != nil {
			t.Fatal(err)
		}
		if res.Action != ActionNone {
			t.Fatalf("vol %v: action %v", vol, res.Action)
		}
	}
}

func TestSimulator_LiveUsesMarketOrders(t *testing.T) {
	sim := newTestSimulator(t, ModeLive, broker.NewPaperBroker(broker.PaperConfig{}, nil))
	res, err := sim.Step(context.Background(), Observation{Time: testStart, Price: decimal.NewFromInt(50), Signal: types.DirectionLong, Volatility: 0.02})
	if err != nil {
		t.Fatal(err)
	}
	if res.Fill == nil || res.Fill.Order.Type() != types.TypeMarket || res.Fill.Order.Tag != types.TagLiveEntry {
		t.Fatalf("unexpected fill %+v", res.Fill)
	}
	res, _ = sim.Step(context.Background(), Observation{Time: testStart.Add(time.Second), Price: decimal.NewFromInt(51), Signal: types.DirectionShort})
	if res.Fill == nil || res.Fill.Order.Tag != types.TagLiveFlip {
		t.Fatalf("expected live-flip exit, got %+v", res.Fill)
	}
}

func TestSimulator_ErrorHandlingByMode(t *testing.T) {
	obs := []Observation{
		{Time: testStart, Price: decimal.NewFromInt(100), Signal: types.DirectionLong, Volatility: 0.01},
		{Time: testStart.Add(time.Minute), Price: decimal.NewFromInt(100), Signal: types.DirectionFlat, Volatility: 0.01},
	}

	backtest := newTestSimulator(t, ModeBacktest, &failingBroker{})
	if err := backtest.Run(context.Background(), &sliceSource{obs: obs}); !errors.Is(err, errBrokerDown) {
		t.Fatalf("backtest err = %v, want errBrokerDown", err)
	}

	live := newTestSimulator(t, ModeLive, &failingBroker{})
	var results []StepResult
	err := live.Run(context.Background(), &sliceSource{obs: obs}, func(r StepResult) { results = append(results, r) })
	if err != nil {
		t.Fatalf("live run must not fail: %v", err)
	}
	if len(results) != 2 || !errors.Is(results[0].Err, errBrokerDown) || results[1].Err != nil {
		t.Fatalf("unexpected live results %+v", results)
	}
	if len(live.EquityCurve()) != 1 {
		t.Fatalf("abandoned step must not record equity, got %d samples", len(live.EquityCurve()))
	}
}

func TestSimulator_RunStopsOnCancel(t *testing.T) {
	sim := newTestSimulator(t, ModeLive, broker.NewPaperBroker(broker.PaperConfig{}, nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sim.Run(ctx, &sliceSource{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestOrderID_Deterministic(t *testing.T) {
	obs := Observation{Time: testStart}
	a := orderID("AAPL", types.SideTypeBuy, obs, 1)
	if a != orderID("AAPL", types.SideTypeBuy, obs, 1) {
		t.Fatal("same inputs must give the same id")
	}
	if a == orderID("AAPL", types.SideTypeBuy, obs, 2) {
		t.Fatal("sequence must change the id")
	}
}

func TestSimulator_TradesAreBrokerFillsForSymbol(t *testing.T) {
	sim, b := replay(t, mockCandles(risingCloses(80)...), broker.PaperConfig{}, false)

	if !reflect.DeepEqual(sim.Trades(), b.Fills()) {
		t.Fatal("trades must be the broker's fill log")
	}
	before := len(sim.Trades())

	other := types.NewMarketOrder("x", "OTHER", types.SideTypeBuy, 1, testStart, types.TagEntry)
	if _, err := b.Submit(context.Background(), other, decimal.NewNullDecimal(decimal.NewFromInt(10))); err != nil {
		t.Fatal(err)
	}
	if got := len(sim.Trades()); got != before {
		t.Fatalf("trades = %d after a fill for another symbol, want %d", got, before)
	}
	if len(b.Fills()) != before+1 {
		t.Fatalf("broker fills = %d, want %d", len(b.Fills()), before+1)
	}
}

// ----------------Helper functions----------------
var errBrokerDown = errors.New("broker down")

type failingBroker struct{ calls int }

func (f *failingBroker) Submit(_ context.Context, order types.Order, _ decimal.NullDecimal) (types.Fill, error) {
	f.calls++
	return types.Fill{}, errBrokerDown
}

func (f *failingBroker) Position(symbol string) types.Position {
	return types.Position{Symbol: symbol}
}

func (f *failingBroker) Fills() []types.Fill { return nil }

type sliceSource struct {
	obs []Observation
	idx int
}

func (s *sliceSource) Next(ctx context.Context) (Observation, error) {
	if s.idx >= len(s.obs) {
		return Observation{}, io.EOF
	}
	o := s.obs[s.idx]
	s.idx++
	return o, nil
}

func newTestSimulator(t *testing.T, mode Mode, b Broker) *Simulator {
	t.Helper()
	rm, err := risk.NewManager(risk.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	return NewSimulator(NewSimulatorConfig("TEST", decimal.NewFromInt(100000), mode), b, rm, zap.NewNop())
}

func replay(t *testing.T, candles []types.Candle, paper broker.PaperConfig, exitOnFlat bool) (*Simulator, *broker.PaperBroker) {
	t.Helper()
	strat, err := smacross.New(5, 20)
	if err != nil {
		t.Fatal(err)
	}
	b := broker.NewPaperBroker(paper, zap.NewNop())
	sim := newTestSimulator(t, ModeBacktest, b)
	sim.cfg.ExitOnFlat = exitOnFlat
	if err := sim.Run(context.Background(), NewReplaySource("TEST", candles, strat, 20)); err != nil {
		t.Fatalf("run: %v", err)
	}
	return sim, b
}

func mockCandles(closes ...float64) []types.Candle {
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		out[i] = types.NewTickCandle("TEST", decimal.NewFromFloat(c), testStart.AddDate(0, 0, i))
		out[i].Interval = types.Day
	}
	return out
}

func constantCloses(px float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = px
	}
	return out
}

// risingCloses is strictly increasing with some curvature so returns vary.
func risingCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Round((100+float64(i)+0.3*math.Sin(float64(i)))*100) / 100
	}
	return out
}

func fallingCloses(from float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Round((from-float64(i+1)*0.8+0.2*math.Cos(float64(i)))*100) / 100
	}
	return out
}
