// Package config loads quantbot settings from defaults, an optional YAML
// file, a .env file, QUANTBOT_* environment variables and CLI flags, in
// increasing order of precedence.
package config

import (
	"strings"
	"time"

	"quantbot/internal/broker"
	"quantbot/internal/risk"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "QUANTBOT"

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Symbol    string          `mapstructure:"symbol"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Data      DataConfig      `mapstructure:"data"`
	Alpaca    AlpacaConfig    `mapstructure:"alpaca"`
	Live      LiveConfig      `mapstructure:"live"`
	Report    ReportConfig    `mapstructure:"report"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Log       LogConfig       `mapstructure:"log"`
}

type StrategyConfig struct {
	Fast int `mapstructure:"fast"`
	Slow int `mapstructure:"slow"`
}

type RiskConfig struct {
	risk.Config     `mapstructure:",squash"`
	VolLookback     int `mapstructure:"vol_lookback"`
	LiveVolLookback int `mapstructure:"live_vol_lookback"`
	LiveMinReturns  int `mapstructure:"live_min_returns"`
}

type ExecutionConfig struct {
	broker.PaperConfig `mapstructure:",squash"`
	InitialCash        float64 `mapstructure:"initial_cash"`
	ExitOnFlat         bool    `mapstructure:"exit_on_flat"`
}

type DataConfig struct {
	Source    string `mapstructure:"source"` // csv | postgres
	CSVPath   string `mapstructure:"csv_path"`
	DBURL     string `mapstructure:"db_url"`
	Interval  string `mapstructure:"interval"`
	Start     string `mapstructure:"start"`
	End       string `mapstructure:"end"`
	Benchmark string `mapstructure:"benchmark"`
}

type AlpacaConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	DataURL   string        `mapstructure:"data_url"`
	StreamURL string        `mapstructure:"stream_url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type LiveConfig struct {
	Broker       string        `mapstructure:"broker"` // paper | alpaca
	Feed         string        `mapstructure:"feed"`   // poll | stream
	PollInterval time.Duration `mapstructure:"poll_interval"`
	HistoryLimit int           `mapstructure:"history_limit"`
	RecentFills  int           `mapstructure:"recent_fills"`
}

type ReportConfig struct {
	Name         string  `mapstructure:"name"`
	Dir          string  `mapstructure:"dir"`
	RiskFreeRate float64 `mapstructure:"risk_free_rate"`
	Progress     bool    `mapstructure:"progress"`
	Trades       bool    `mapstructure:"trades"`
}

type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	JaegerHost  string `mapstructure:"jaeger_host"`
	JaegerPort  int    `mapstructure:"jaeger_port"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	r := risk.DefaultConfig()

	v.SetDefault("symbol", "SPY")
	v.SetDefault("strategy.fast", 20)
	v.SetDefault("strategy.slow", 50)

	v.SetDefault("risk.vol_target", r.VolTarget)
	v.SetDefault("risk.max_drawdown", r.MaxDrawdown)
	v.SetDefault("risk.per_trade_risk", r.PerTradeRisk)
	v.SetDefault("risk.stop_loss_pct", r.StopLossPct)
	v.SetDefault("risk.take_profit_pct", r.TakeProfitPct)
	v.SetDefault("risk.vol_lookback", 20)
	v.SetDefault("risk.live_vol_lookback", 120)
	v.SetDefault("risk.live_min_returns", 10)

	v.SetDefault("execution.initial_cash", 100000.0)
	v.SetDefault("execution.commission_per_share", 0.0)
	v.SetDefault("execution.slippage_bps", 1.0)
	v.SetDefault("execution.exit_on_flat", false)

	v.SetDefault("data.source", "csv")
	v.SetDefault("data.csv_path", "data")
	v.SetDefault("data.db_url", "")
	v.SetDefault("data.interval", "1d")
	v.SetDefault("data.start", "")
	v.SetDefault("data.end", "")
	v.SetDefault("data.benchmark", "")

	v.SetDefault("alpaca.base_url", "https://paper-api.alpaca.markets")
	v.SetDefault("alpaca.data_url", "https://data.alpaca.markets")
	v.SetDefault("alpaca.stream_url", "wss://stream.data.alpaca.markets/v2/iex")
	v.SetDefault("alpaca.api_key", "")
	v.SetDefault("alpaca.api_secret", "")
	v.SetDefault("alpaca.timeout", 15*time.Second)

	v.SetDefault("live.broker", "paper")
	v.SetDefault("live.feed", "poll")
	v.SetDefault("live.poll_interval", 10*time.Second)
	v.SetDefault("live.history_limit", 5000)
	v.SetDefault("live.recent_fills", 50)

	v.SetDefault("report.name", "backtest")
	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.risk_free_rate", 0.0)
	v.SetDefault("report.progress", false)
	v.SetDefault("report.trades", true)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.metrics_addr", "")
	v.SetDefault("telemetry.jaeger_host", "localhost")
	v.SetDefault("telemetry.jaeger_port", 6831)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load resolves the configuration. path may be empty. Only flags that were
// registered through RegisterFlags and explicitly set override other sources.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "bind flag %s", name)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Symbol) == "":
		return errors.Wrap(ErrInvalidConfig, "symbol is required")
	case c.Strategy.Fast <= 1 || c.Strategy.Slow <= 2 || c.Strategy.Fast >= c.Strategy.Slow:
		return errors.Wrapf(ErrInvalidConfig, "strategy windows fast=%d slow=%d", c.Strategy.Fast, c.Strategy.Slow)
	case c.Execution.InitialCash <= 0:
		return errors.Wrap(ErrInvalidConfig, "execution.initial_cash must be positive")
	case c.Execution.SlippageBps < 0 || c.Execution.CommissionPerShare < 0:
		return errors.Wrap(ErrInvalidConfig, "execution costs must not be negative")
	case c.Risk.VolLookback < 2:
		return errors.Wrap(ErrInvalidConfig, "risk.vol_lookback must be at least 2")
	case c.Data.Source != "csv" && c.Data.Source != "postgres":
		return errors.Wrapf(ErrInvalidConfig, "data.source %q", c.Data.Source)
	case c.Live.Broker != "paper" && c.Live.Broker != "alpaca":
		return errors.Wrapf(ErrInvalidConfig, "live.broker %q", c.Live.Broker)
	case c.Live.Feed != "poll" && c.Live.Feed != "stream":
		return errors.Wrapf(ErrInvalidConfig, "live.feed %q", c.Live.Feed)
	case c.Live.PollInterval <= 0:
		return errors.Wrap(ErrInvalidConfig, "live.poll_interval must be positive")
	}
	if err := c.Risk.Config.Validate(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}
