package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"quantbot/internal/broker"
	"quantbot/types"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrNoData = errors.New("no price history for the requested range")

type BacktestRequest struct {
	Symbol    string
	Interval  types.Interval
	Start     time.Time
	End       time.Time
	Benchmark string
}

// Result is everything a replay produces.
type Result struct {
	Symbol string
	Trades []types.Fill
	Equity []types.EquityPoint
	Report *Report
}

// Engine loads history and replays it through a fresh Simulator and paper
// broker per run.
type Engine struct {
	db       dataStore
	strategy signalGenerator
	risk     sizer
	cfg      Config
	logger   *zap.Logger
	out      io.Writer
}

func NewEngine(db dataStore, strategy signalGenerator, risk sizer, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:       db,
		strategy: strategy,
		risk:     risk,
		cfg:      cfg,
		logger:   logger,
		out:      os.Stdout,
	}
}

func (e *Engine) Backtest(ctx context.Context, req BacktestRequest) (*Result, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "engine.backtest")
	defer span.Finish()
	span.SetTag("symbol", req.Symbol)

	candles, err := e.loadData(ctx, req.Symbol, req)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, errors.Wrapf(ErrNoData, "%s %s..%s", req.Symbol, req.Start.Format(time.DateOnly), req.End.Format(time.DateOnly))
	}

	var benchmark []types.ReturnPoint
	if req.Benchmark != "" {
		bc, err := e.loadData(ctx, req.Benchmark, req)
		if err != nil {
			return nil, errors.Wrap(err, "load benchmark")
		}
		benchmark = BenchmarkReturns(bc)
	}

	simCfg := NewSimulatorConfig(req.Symbol, e.cfg.InitialCash, ModeBacktest)
	simCfg.ExitOnFlat = e.cfg.ExitOnFlat
	simCfg.ShowProgress = e.cfg.ShowProgress

	sim := NewSimulator(simCfg, broker.NewPaperBroker(e.cfg.Paper, e.logger), e.risk, e.logger)
	src := NewReplaySource(req.Symbol, candles, e.strategy, e.cfg.VolLookback)
	if err := sim.Run(ctx, src); err != nil {
		return nil, errors.Wrap(err, "replay")
	}

	result := &Result{
		Symbol: req.Symbol,
		Trades: sim.Trades(),
		Equity: sim.EquityCurve(),
	}
	result.Report = generateReport(result.Equity, result.Trades, benchmark, e.cfg.Reporting.RiskFreeRate)

	e.logger.Info("backtest finished",
		zap.String("symbol", req.Symbol),
		zap.Int("bars", len(candles)),
		zap.Int("fills", len(result.Trades)),
		zap.String("final_equity", result.Report.FinalEquity.String()),
	)
	return result, nil
}

type reportOutput struct {
	path  string
	write func(io.Writer) error
}

// Report prints the metric table and writes the CSV files. Writer failures
// are logged and reported as skipped; they never fail the run.
func (e *Engine) Report(result *Result) []string {
	printReport(e.out, result.Report)

	name := e.cfg.Reporting.ReportName
	if name == "" {
		name = result.Symbol
	}
	dir := e.cfg.Reporting.Dir
	if dir == "" {
		dir = "."
	}

	outputs := []reportOutput{
		{filepath.Join(dir, name+"_equity.csv"), func(w io.Writer) error { return writeEquityCSV(w, result.Equity) }},
	}
	if e.cfg.Reporting.PrintTrades {
		outputs = append(outputs, reportOutput{filepath.Join(dir, name+"_trades.csv"), func(w io.Writer) error { return writeTradesCSV(w, result.Trades) }})
	}

	var written []string
	for _, o := range outputs {
		if err := writeCSVFile(o.path, o.write); err != nil {
			e.logger.Warn("report skipped", zap.String("path", o.path), zap.Error(err))
			fmt.Fprintf(e.out, "[Report] %s skipped\n", filepath.Base(o.path))
			continue
		}
		written = append(written, o.path)
	}
	return written
}

func (e *Engine) loadData(ctx context.Context, symbol string, req BacktestRequest) ([]types.Candle, error) {
	candles, err := e.db.History(ctx, symbol, req.Interval, req.Start, req.End)
	if err != nil {
		return nil, errors.Wrapf(err, "load history %s", symbol)
	}
	types.SortCandles(candles)
	return candles, nil
}
