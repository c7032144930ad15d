package main

import (
	"context"
	"net/http"

	"quantbot/internal/broker"
	"quantbot/internal/config"
	"quantbot/internal/engine"
	"quantbot/internal/live"
	"quantbot/internal/marketdata"
	"quantbot/internal/notify"
	"quantbot/internal/risk"
	"quantbot/internal/telemetry"
	"quantbot/strategies/smacross"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func runLive(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	app := fx.New(liveModule(cfg, log))
	if err := app.Err(); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		return errors.Wrap(err, "start live session")
	}

	select {
	case <-ctx.Done():
	case sig := <-app.Done():
		log.Info("signal received", zap.String("signal", sig.String()))
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.StopTimeout())
	defer cancel()
	return app.Stop(stopCtx)
}

func liveModule(cfg *config.Config, log *zap.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cfg, log),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Provide(
			newStrategy,
			newRiskManager,
			newMarketData,
			newLiveBroker,
			newNotifier,
			newTracker,
			newFeed,
			newLiveSimulator,
			newSession,
		),
		fx.Invoke(
			runMetrics,
			runSession,
		),
	)
}

func newStrategy(cfg *config.Config) (*smacross.Strategy, error) {
	return smacross.New(cfg.Strategy.Fast, cfg.Strategy.Slow)
}

func newRiskManager(cfg *config.Config) (*risk.Manager, error) {
	return risk.NewManager(cfg.Risk.Config)
}

func alpacaData(cfg *config.Config) marketdata.AlpacaConfig {
	return marketdata.AlpacaConfig{
		DataURL:   cfg.Alpaca.DataURL,
		StreamURL: cfg.Alpaca.StreamURL,
		APIKey:    cfg.Alpaca.APIKey,
		APISecret: cfg.Alpaca.APISecret,
		Timeout:   cfg.Alpaca.Timeout,
	}
}

func newMarketData(cfg *config.Config) (*marketdata.AlpacaClient, error) {
	return marketdata.NewAlpacaClient(alpacaData(cfg), nil)
}

func newLiveBroker(cfg *config.Config, prices *marketdata.AlpacaClient, log *zap.Logger) (engine.Broker, error) {
	if cfg.Live.Broker == "alpaca" {
		return broker.NewAlpacaBroker(broker.AlpacaConfig{
			BaseURL:   cfg.Alpaca.BaseURL,
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
			Timeout:   cfg.Alpaca.Timeout,
		}, prices, &http.Client{Timeout: cfg.Alpaca.Timeout}, log)
	}
	return broker.NewPaperBroker(cfg.Execution.PaperConfig, log), nil
}

func newNotifier(cfg *config.Config, log *zap.Logger) notify.Notifier {
	n := notify.Multi{notify.NewLog(log)}
	if cfg.Telegram.Token == "" {
		return n
	}
	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
	if err != nil {
		log.Warn("telegram notifications disabled", zap.Error(err))
		return n
	}
	return append(n, tg)
}

func newTracker(cfg *config.Config, strat *smacross.Strategy) *engine.Tracker {
	return engine.NewTracker(cfg.Symbol, strat.NewStream(), engine.TrackerConfig{
		HistoryLimit: cfg.Live.HistoryLimit,
		VolLookback:  cfg.Risk.LiveVolLookback,
		MinReturns:   cfg.Risk.LiveMinReturns,
	})
}

// newFeed opens the websocket stream when configured and falls back to
// polling the latest trade if it cannot be opened.
func newFeed(lc fx.Lifecycle, cfg *config.Config, tracker *engine.Tracker, prices *marketdata.AlpacaClient, log *zap.Logger) engine.Source {
	poll := func() engine.Source {
		return engine.NewPollSource(cfg.Symbol, prices, tracker, cfg.Live.PollInterval, log)
	}
	if cfg.Live.Feed != "stream" {
		return poll()
	}

	stream, err := marketdata.NewAlpacaStream(alpacaData(cfg), log)
	if err != nil {
		log.Warn("stream unavailable, polling instead", zap.Error(err))
		return poll()
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	ticks, err := stream.Stream(streamCtx, []string{cfg.Symbol})
	if err != nil {
		cancel()
		log.Warn("stream unavailable, polling instead", zap.Error(err))
		return poll()
	}
	lc.Append(fx.StopHook(cancel))
	return engine.NewStreamSource(cfg.Symbol, ticks, tracker)
}

func newLiveSimulator(cfg *config.Config, b engine.Broker, rm *risk.Manager, log *zap.Logger) *engine.Simulator {
	simCfg := engine.NewSimulatorConfig(cfg.Symbol, decimal.NewFromFloat(cfg.Execution.InitialCash), engine.ModeLive)
	simCfg.ExitOnFlat = cfg.Execution.ExitOnFlat
	return engine.NewSimulator(simCfg, b, rm, log)
}

func newSession(cfg *config.Config, sim *engine.Simulator, src engine.Source, n notify.Notifier, log *zap.Logger) *live.Session {
	return live.NewSession(live.Config{Symbol: cfg.Symbol, RecentFills: cfg.Live.RecentFills}, sim, src, n, log)
}

func runMetrics(lc fx.Lifecycle, cfg *config.Config) {
	if cfg.Telemetry.MetricsAddr == "" {
		return
	}
	var srv *http.Server
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			srv = telemetry.Serve(cfg.Telemetry.MetricsAddr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func runSession(lc fx.Lifecycle, s *live.Session, strat *smacross.Strategy, rm *risk.Manager, tracker *engine.Tracker, log *zap.Logger) {
	lc.Append(fx.Hook{
		// the start context expires with fx's start timeout
		OnStart: func(context.Context) error {
			log.Info("live session configured", strategyFields(strat, rm)...)
			return s.Start(context.Background())
		},
		OnStop: func(context.Context) error {
			s.Stop()
			s.Wait()
			st := s.Status()
			view := st.Portfolio()
			log.Info("live session summary",
				zap.Int("open_positions", len(view.Positions)),
				zap.Int("iterations", st.Iterations),
				zap.Int("errors", st.Errors),
				zap.Int64("position", st.Position.Quantity),
				zap.String("cash", st.Cash.String()),
				zap.String("equity", st.Equity.String()),
				zap.Int("recent_fills", len(st.RecentFills)),
			)
			if hist := tracker.History(); len(hist) > 0 {
				log.Info("live price history",
					zap.Int("bars", len(hist)),
					zap.Time("first", hist[0].Timestamp),
					zap.Time("last", hist[len(hist)-1].Timestamp),
				)
			}
			return nil
		},
	})
}
