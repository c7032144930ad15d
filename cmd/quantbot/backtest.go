package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"quantbot/internal/config"
	"quantbot/internal/engine"
	"quantbot/internal/marketdata"
	"quantbot/internal/repository"
	"quantbot/internal/risk"
	"quantbot/internal/telemetry"
	"quantbot/strategies/smacross"
	"quantbot/types"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type historyStore interface {
	History(ctx context.Context, symbol string, interval types.Interval, start, end time.Time) ([]types.Candle, error)
}

func runBacktest(ctx context.Context, cfg *config.Config, log *zap.Logger, out io.Writer) error {
	req, err := backtestRequest(cfg)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	strat, err := smacross.New(cfg.Strategy.Fast, cfg.Strategy.Slow)
	if err != nil {
		return err
	}
	rm, err := risk.NewManager(cfg.Risk.Config)
	if err != nil {
		return err
	}

	if cfg.Telemetry.MetricsAddr != "" {
		srv := telemetry.Serve(cfg.Telemetry.MetricsAddr)
		defer srv.Close()
	}

	log.Info("backtest starting", append(strategyFields(strat, rm), zap.String("symbol", req.Symbol))...)

	eng := engine.NewEngine(store, strat, rm, engineConfig(cfg), log)
	result, err := eng.Backtest(ctx, req)
	if err != nil {
		return err
	}

	for _, path := range eng.Report(result) {
		fmt.Fprintf(out, "[Report] wrote %s\n", path)
	}
	return nil
}

// strategyFields describes the configured trading rule for logs.
func strategyFields(strat *smacross.Strategy, rm *risk.Manager) []zap.Field {
	rc := rm.Config()
	return []zap.Field{
		zap.Int("fast", strat.Fast()),
		zap.Int("slow", strat.Slow()),
		zap.Float64("vol_target", rc.VolTarget),
		zap.Float64("stop_loss_pct", rc.StopLossPct),
		zap.Float64("take_profit_pct", rc.TakeProfitPct),
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		InitialCash:  decimal.NewFromFloat(cfg.Execution.InitialCash),
		Paper:        cfg.Execution.PaperConfig,
		VolLookback:  cfg.Risk.VolLookback,
		ExitOnFlat:   cfg.Execution.ExitOnFlat,
		ShowProgress: cfg.Report.Progress,
		Reporting: engine.NewReportingConfig(
			cfg.Report.RiskFreeRate,
			cfg.Report.Name,
			cfg.Report.Dir,
			cfg.Report.Trades,
		),
	}
}

func backtestRequest(cfg *config.Config) (engine.BacktestRequest, error) {
	interval, err := types.ParseInterval(cfg.Data.Interval)
	if err != nil {
		return engine.BacktestRequest{}, err
	}
	start, err := parseDate(cfg.Data.Start)
	if err != nil {
		return engine.BacktestRequest{}, errors.Wrap(err, "start")
	}
	end, err := parseDate(cfg.Data.End)
	if err != nil {
		return engine.BacktestRequest{}, errors.Wrap(err, "end")
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return engine.BacktestRequest{}, errors.Errorf("end %s is not after start %s", cfg.Data.End, cfg.Data.Start)
	}
	return engine.BacktestRequest{
		Symbol:    cfg.Symbol,
		Interval:  interval,
		Start:     start,
		End:       end,
		Benchmark: cfg.Data.Benchmark,
	}, nil
}

// parseDate accepts an empty string as an open bound.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("cannot parse date %q", s)
}

func openStore(ctx context.Context, cfg *config.Config) (historyStore, func(), error) {
	switch cfg.Data.Source {
	case "postgres":
		if cfg.Data.DBURL == "" {
			return nil, nil, errors.Wrap(config.ErrInvalidConfig, "data.db_url is required for postgres")
		}
		db, err := repository.NewDatabase(ctx, cfg.Data.DBURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open database")
		}
		return db, db.Close, nil
	default:
		return marketdata.NewCSVStore(cfg.Data.CSVPath), func() {}, nil
	}
}
