package engine

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"quantbot/internal/risk"
	"quantbot/strategies/smacross"
	"quantbot/types"

	"github.com/shopspring/decimal"
)

func TestReplaySource(t *testing.T) {
	strat, _ := smacross.New(2, 3)
	candles := mockCandles(10, 11, 12, 13, 12, 11)
	src := NewReplaySource("TEST", candles, strat, 2)
	if src.Len() != len(candles) {
		t.Fatalf("len %d", src.Len())
	}
	signals := strat.Generate(candles)
	for i := range candles {
		obs, err := src.Next(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if !obs.Time.Equal(candles[i].Timestamp) || !obs.Price.Equal(candles[i].Close) {
			t.Fatalf("obs %d misaligned", i)
		}
		if obs.Signal != signals[i].Direction {
			t.Fatalf("obs %d signal %v want %v", i, obs.Signal, signals[i].Direction)
		}
		if math.IsNaN(obs.Volatility) {
			t.Fatalf("obs %d volatility not back-filled", i)
		}
	}
	if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestTracker_HistoryAndVolatility(t *testing.T) {
	strat, _ := smacross.New(2, 3)
	tr := NewTracker("TEST", strat.NewStream(), TrackerConfig{HistoryLimit: 50, VolLookback: 20, MinReturns: 10})

	var closes []float64
	var obs Observation
	for i := 0; i < 80; i++ {
		px := 100 + float64(i%5)
		closes = append(closes, px)
		obs = tr.Observe(types.Tick{Symbol: "TEST", Price: decimal.NewFromFloat(px), Time: testStart.Add(time.Duration(i) * time.Second)})
		if i < 11 && obs.Volatility != 0 {
			t.Fatalf("tick %d: volatility %v before enough returns", i, obs.Volatility)
		}
	}
	hist := tr.History()
	if len(hist) != 50 {
		t.Fatalf("history len %d, want 50", len(hist))
	}
	if hist[0].Volume.Valid || !hist[0].High.Equal(hist[0].Close) {
		t.Fatalf("tick candles must be flat with unknown volume: %+v", hist[0])
	}
	want := risk.TrailingVolatility(closes[len(closes)-50:], 20, 10)
	if math.Abs(obs.Volatility-want) > 1e-12 {
		t.Fatalf("volatility %v want %v", obs.Volatility, want)
	}
}

type mockPricer struct {
	prices []float64
	errAt  int
	calls  int
}

func (m *mockPricer) Latest(_ context.Context, symbol string) (types.Tick, error) {
	m.calls++
	if m.calls == m.errAt {
		return types.Tick{}, errors.New("feed hiccup")
	}
	px := m.prices[(m.calls-1)%len(m.prices)]
	return types.Tick{Symbol: symbol, Price: decimal.NewFromFloat(px), Time: testStart.Add(time.Duration(m.calls) * time.Second)}, nil
}

func TestPollSource(t *testing.T) {
	strat, _ := smacross.New(2, 3)
	pricer := &mockPricer{prices: []float64{10, 11, 12}, errAt: 2}
	src := NewPollSource("TEST", pricer, NewTracker("TEST", strat.NewStream(), DefaultTrackerConfig()), time.Millisecond, nil)

	if _, err := src.Next(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Next(context.Background()); err == nil {
		t.Fatal("expected feed error to surface")
	}
	obs, err := src.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !obs.Price.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("price %s", obs.Price)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := NewPollSource("TEST", pricer, NewTracker("TEST", strat.NewStream(), DefaultTrackerConfig()), time.Hour, nil)
	slow.started = true
	if _, err := slow.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancel while waiting, got %v", err)
	}
}

func TestStreamSource_FiltersAndEnds(t *testing.T) {
	strat, _ := smacross.New(2, 3)
	ticks := make(chan types.Tick, 3)
	ticks <- types.Tick{Symbol: "OTHER", Price: decimal.NewFromInt(1), Time: testStart}
	ticks <- types.Tick{Symbol: "TEST", Price: decimal.NewFromInt(5), Time: testStart.Add(time.Second)}
	close(ticks)

	src := NewStreamSource("TEST", ticks, NewTracker("TEST", strat.NewStream(), DefaultTrackerConfig()))
	obs, err := src.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if obs.Symbol != "TEST" || !obs.Price.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected observation %+v", obs)
	}
	if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}
