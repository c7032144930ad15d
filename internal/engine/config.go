package engine

import (
	"quantbot/internal/broker"

	"github.com/shopspring/decimal"
)

type Mode int

const (
	// ModeBacktest replays static history. Orders are limits at the bar
	// price and any error aborts the run.
	ModeBacktest Mode = iota
	// ModeLive reacts to a feed. Orders are market orders against the
	// observed price and errors are logged and skipped.
	ModeLive
)

func (m Mode) String() string {
	if m == ModeLive {
		return "live"
	}
	return "backtest"
}

type SimulatorConfig struct {
	Symbol      string
	InitialCash decimal.Decimal
	Mode        Mode
	// ExitOnFlat closes a long when the signal is flat as well as short.
	ExitOnFlat   bool
	ShowProgress bool
}

func NewSimulatorConfig(symbol string, initialCash decimal.Decimal, mode Mode) SimulatorConfig {
	return SimulatorConfig{
		Symbol:      symbol,
		InitialCash: initialCash,
		Mode:        mode,
	}
}

type ReportingConfig struct {
	RiskFreeRate float64
	ReportName   string
	Dir          string
	PrintTrades  bool
}

func NewReportingConfig(riskFreeRate float64, reportName, dir string, printTrades bool) ReportingConfig {
	return ReportingConfig{
		RiskFreeRate: riskFreeRate,
		ReportName:   reportName,
		Dir:          dir,
		PrintTrades:  printTrades,
	}
}

type Config struct {
	InitialCash  decimal.Decimal
	Paper        broker.PaperConfig
	VolLookback  int
	ExitOnFlat   bool
	ShowProgress bool
	Reporting    ReportingConfig
}
