package config

import "github.com/spf13/pflag"

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"symbol":         "symbol",
	"fast":           "strategy.fast",
	"slow":           "strategy.slow",
	"cash":           "execution.initial_cash",
	"slippage-bps":   "execution.slippage_bps",
	"commission":     "execution.commission_per_share",
	"exit-on-flat":   "execution.exit_on_flat",
	"data":           "data.source",
	"csv-path":       "data.csv_path",
	"db-url":         "data.db_url",
	"interval":       "data.interval",
	"start":          "data.start",
	"end":            "data.end",
	"benchmark":      "data.benchmark",
	"broker":         "live.broker",
	"feed":           "live.feed",
	"poll-interval":  "live.poll_interval",
	"report-name":    "report.name",
	"report-dir":     "report.dir",
	"risk-free-rate": "report.risk_free_rate",
	"progress":       "report.progress",
	"metrics-addr":   "telemetry.metrics_addr",
	"tracing":        "telemetry.enabled",
	"log-level":      "log.level",
	"log-format":     "log.format",
}

// RegisterFlags declares the shared flags on fs. Flag defaults are only
// used for help text; unset flags never override the config file or env.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("symbol", "SPY", "instrument to trade")
	fs.Int("fast", 20, "fast SMA window")
	fs.Int("slow", 50, "slow SMA window")
	fs.Float64("cash", 100000, "initial cash")
	fs.Float64("slippage-bps", 1, "paper slippage in basis points")
	fs.Float64("commission", 0, "commission per share")
	fs.Bool("exit-on-flat", false, "close longs on a flat signal as well as short")
	fs.String("data", "csv", "history source: csv or postgres")
	fs.String("csv-path", "data", "directory holding <SYMBOL>.csv files")
	fs.String("db-url", "", "postgres connection string")
	fs.String("interval", "1d", "bar interval")
	fs.String("start", "", "first bar date (YYYY-MM-DD)")
	fs.String("end", "", "end date, exclusive (YYYY-MM-DD)")
	fs.String("benchmark", "", "benchmark symbol for beta")
	fs.String("broker", "paper", "live broker: paper or alpaca")
	fs.String("feed", "poll", "live feed: poll or stream")
	fs.Duration("poll-interval", 0, "live poll interval")
	fs.String("report-name", "backtest", "report file prefix")
	fs.String("report-dir", "reports", "report output directory")
	fs.Float64("risk-free-rate", 0, "annual risk-free rate")
	fs.Bool("progress", false, "show a progress bar during replay")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	fs.Bool("tracing", false, "send spans to jaeger")
	fs.String("log-level", "info", "log level")
	fs.String("log-format", "json", "log format: json or console")
}
