package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"quantbot/internal/broker"
	"quantbot/internal/risk"
	"quantbot/strategies/smacross"
	"quantbot/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type mockDataStore struct {
	candles map[string][]types.Candle
	err     error
	calls   []string
}

func (m *mockDataStore) History(_ context.Context, symbol string, _ types.Interval, _, _ time.Time) ([]types.Candle, error) {
	m.calls = append(m.calls, symbol)
	if m.err != nil {
		return nil, m.err
	}
	// hand back a copy in reverse order to exercise sorting
	src := m.candles[symbol]
	out := make([]types.Candle, len(src))
	for i, c := range src {
		out[len(src)-1-i] = c
	}
	return out, nil
}

func TestEngine_Backtest(t *testing.T) {
	closes := risingCloses(40)
	closes = append(closes, fallingCloses(closes[len(closes)-1], 40)...)
	db := &mockDataStore{candles: map[string][]types.Candle{
		"TEST":  mockCandles(closes...),
		"BENCH": mockCandles(risingCloses(80)...),
	}}
	e, buf := mockEngine(t, db)

	res, err := e.Backtest(context.Background(), BacktestRequest{
		Symbol:    "TEST",
		Interval:  types.Day,
		Start:     testStart,
		End:       testStart.AddDate(0, 0, 80),
		Benchmark: "BENCH",
	})
	if err != nil {
		t.Fatalf("backtest: %v", err)
	}
	if len(res.Equity) != len(closes) {
		t.Fatalf("equity samples %d, want %d", len(res.Equity), len(closes))
	}
	for i := 1; i < len(res.Equity); i++ {
		if !res.Equity[i].Time.After(res.Equity[i-1].Time) {
			t.Fatal("equity curve must be ascending")
		}
	}
	if len(res.Trades) == 0 {
		t.Fatal("expected trades")
	}
	if !res.Report.Metrics.HasBeta {
		t.Fatal("expected beta with a benchmark")
	}
	if len(db.calls) != 2 {
		t.Fatalf("history calls %v", db.calls)
	}

	written := e.Report(res)
	if len(written) != 2 {
		t.Fatalf("written %v", written)
	}
	data, err := os.ReadFile(filepath.Join(e.cfg.Reporting.Dir, "run_trades.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != len(res.Trades)+1 {
		t.Fatalf("trades csv has %d lines, want %d", len(lines), len(res.Trades)+1)
	}
	if !strings.Contains(buf.String(), "Trading Report") {
		t.Fatal("metric table not printed")
	}
}

func TestEngine_ReportFailureIsSkipped(t *testing.T) {
	db := &mockDataStore{candles: map[string][]types.Candle{"TEST": mockCandles(constantCloses(50, 30)...)}}
	e, buf := mockEngine(t, db)

	// a file where the report directory should be
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	e.cfg.Reporting.Dir = filepath.Join(blocker, "reports")

	res, err := e.Backtest(context.Background(), BacktestRequest{Symbol: "TEST", Interval: types.Day})
	if err != nil {
		t.Fatal(err)
	}
	if written := e.Report(res); len(written) != 0 {
		t.Fatalf("expected nothing written, got %v", written)
	}
	if !strings.Contains(buf.String(), "skipped") {
		t.Fatalf("expected skipped notice:\n%s", buf.String())
	}
}

func TestEngine_BacktestErrors(t *testing.T) {
	e, _ := mockEngine(t, &mockDataStore{candles: map[string][]types.Candle{}})
	if _, err := e.Backtest(context.Background(), BacktestRequest{Symbol: "NONE"}); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}

	boom := errors.New("db down")
	e, _ = mockEngine(t, &mockDataStore{err: boom})
	if _, err := e.Backtest(context.Background(), BacktestRequest{Symbol: "TEST"}); !errors.Is(err, boom) {
		t.Fatalf("expected db error, got %v", err)
	}
}

func TestWriteCSVFile(t *testing.T) {
	dir := t.TempDir()
	writeErr := errors.New("write failed")

	tests := []struct {
		name    string
		write   func(w io.Writer) error
		wantErr error
	}{
		{"writes content", func(w io.Writer) error {
			_, err := w.Write([]byte("a,b\n"))
			return err
		}, nil},
		{"write error returned", func(io.Writer) error { return writeErr }, writeErr},
		// closing the file early makes the final Close fail
		{"close error returned", func(w io.Writer) error { return w.(*os.File).Close() }, os.ErrClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_"), "out.csv")
			err := writeCSVFile(path, tt.write)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatal(err)
				}
				data, err := os.ReadFile(path)
				if err != nil {
					t.Fatal(err)
				}
				if string(data) != "a,b\n" {
					t.Fatalf("content %q", data)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// ----------------Helper functions----------------
func mockEngine(t *testing.T, db dataStore) (*Engine, *bytes.Buffer) {
	t.Helper()
	strat, err := smacross.New(5, 20)
	if err != nil {
		t.Fatal(err)
	}
	rm, err := risk.NewManager(risk.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{
		InitialCash: decimal.NewFromInt(100000),
		Paper:       broker.PaperConfig{SlippageBps: 1},
		VolLookback: 20,
		Reporting:   NewReportingConfig(0, "run", t.TempDir(), true),
	}
	e := NewEngine(db, strat, rm, cfg, zap.NewNop())
	buf := &bytes.Buffer{}
	e.out = buf
	return e, buf
}
