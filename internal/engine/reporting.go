package engine

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"quantbot/internal/risk"
	"quantbot/types"

	"github.com/shopspring/decimal"
)

const (
	periodsPerYear = risk.TradingDaysPerYear
	// epsilon floors denominators that may legitimately be zero.
	epsilon = 1e-12
)

// Metrics are the risk/return statistics of an equity curve. Values that
// cannot be computed from the available data are NaN.
type Metrics struct {
	CAGR        float64
	Sharpe      float64
	Sortino     float64
	Volatility  float64
	MaxDrawdown float64
	Calmar      float64
	VaR95       float64
	Beta        float64
	HasBeta     bool
}

// Map returns the metrics keyed by their report names.
func (m Metrics) Map() map[string]float64 {
	out := map[string]float64{
		"CAGR":        m.CAGR,
		"Sharpe":      m.Sharpe,
		"Sortino":     m.Sortino,
		"Volatility":  m.Volatility,
		"MaxDrawdown": m.MaxDrawdown,
		"Calmar":      m.Calmar,
		"VaR_95":      m.VaR95,
	}
	if m.HasBeta {
		out["Beta"] = m.Beta
	}
	return out
}

type Report struct {
	// Meta / period info
	StartDate   time.Time
	TotalPeriod time.Duration
	TotalTrades int
	RoundTrips  int

	// Absolute performance
	InitialEquity decimal.Decimal
	FinalEquity   decimal.Decimal
	NetProfit     decimal.Decimal

	// Trade-level distribution metrics
	AvgWin               decimal.Decimal
	AvgLoss              decimal.Decimal
	MaxConsecutiveLosses int

	// Costs
	TotalFees decimal.Decimal

	Metrics Metrics
}

type roundTrip struct {
	buy  *types.Fill
	sell *types.Fill
}

func (t roundTrip) closed() bool { return t.buy != nil && t.sell != nil }

func (t roundTrip) netPnL() decimal.Decimal {
	return t.sell.Notional().Sub(t.buy.Notional()).Sub(t.buy.Commission).Sub(t.sell.Commission)
}

func generateReport(equity []types.EquityPoint, fills []types.Fill, benchmark []types.ReturnPoint, riskFreeRate float64) *Report {
	report := &Report{TotalTrades: len(fills)}
	if len(equity) > 0 {
		report.StartDate = equity[0].Time
		report.TotalPeriod = equity[len(equity)-1].Time.Sub(equity[0].Time).Truncate(24 * time.Hour)
		report.InitialEquity = equity[0].Equity
		report.FinalEquity = equity[len(equity)-1].Equity
		report.NetProfit = report.FinalEquity.Sub(report.InitialEquity)
	}

	trips := fillsToRoundTrips(fills)
	for _, t := range trips {
		if t.closed() {
			report.RoundTrips++
		}
	}

	rets := DailyReturns(equity)
	values := returnValues(rets)
	curve := equityValues(equity)

	var wg sync.WaitGroup
	wg.Add(6)
	go func() {
		defer wg.Done()
		report.AvgWin, report.AvgLoss = calcAvgWinLoss(trips)
		report.MaxConsecutiveLosses = calcMaxConsecutiveLosses(trips)
		report.TotalFees = calcTotalFees(fills)
	}()
	go func() {
		defer wg.Done()
		report.Metrics.CAGR = CAGR(curve, len(values))
		report.Metrics.Calmar = Calmar(curve)
	}()
	go func() {
		defer wg.Done()
		report.Metrics.Sharpe = Sharpe(values, riskFreeRate)
		report.Metrics.Sortino = Sortino(values, riskFreeRate)
	}()
	go func() {
		defer wg.Done()
		report.Metrics.Volatility = Volatility(values)
		report.Metrics.VaR95 = HistoricalVaR(values, 0.95)
	}()
	go func() {
		defer wg.Done()
		report.Metrics.MaxDrawdown = MaxDrawdown(curve)
	}()
	go func() {
		defer wg.Done()
		if benchmark != nil {
			report.Metrics.Beta = Beta(rets, benchmark)
			report.Metrics.HasBeta = true
		}
	}()
	wg.Wait()

	return report
}

func printReport(w io.Writer, report *Report) {
	fmt.Fprintln(w, "===== Trading Report =====")
	fmt.Fprintf(w, "Start Date:            %s\n", report.StartDate.Format("2006-01-02"))
	fmt.Fprintf(w, "Total Period:          %d days\n", report.TotalPeriod/(24*time.Hour))
	fmt.Fprintf(w, "Total Fills:           %d\n", report.TotalTrades)
	fmt.Fprintf(w, "Round Trips:           %d\n", report.RoundTrips)

	fmt.Fprintln(w, "\n-- Absolute Performance --")
	fmt.Fprintf(w, "Initial Equity:        %s\n", report.InitialEquity.StringFixed(2))
	fmt.Fprintf(w, "Final Equity:          %s\n", report.FinalEquity.StringFixed(2))
	fmt.Fprintf(w, "Net Profit:            %s\n", report.NetProfit.StringFixed(2))
	fmt.Fprintf(w, "CAGR:                  %s\n", formatMetric(report.Metrics.CAGR))

	fmt.Fprintln(w, "\n-- Trade-Level Metrics --")
	fmt.Fprintf(w, "Avg Win:               %s\n", report.AvgWin.StringFixed(2))
	fmt.Fprintf(w, "Avg Loss:              %s\n", report.AvgLoss.StringFixed(2))
	fmt.Fprintf(w, "Max Consecutive Losses:%d\n", report.MaxConsecutiveLosses)

	fmt.Fprintln(w, "\n-- Risk Metrics --")
	fmt.Fprintf(w, "Max Drawdown:          %s\n", formatMetric(report.Metrics.MaxDrawdown))
	fmt.Fprintf(w, "Volatility:            %s\n", formatMetric(report.Metrics.Volatility))
	fmt.Fprintf(w, "VaR 95%%:               %s\n", formatMetric(report.Metrics.VaR95))
	if report.Metrics.HasBeta {
		fmt.Fprintf(w, "Beta:                  %s\n", formatMetric(report.Metrics.Beta))
	}

	fmt.Fprintln(w, "\n-- Risk-Adjusted Metrics --")
	fmt.Fprintf(w, "Sharpe Ratio:          %s\n", formatMetric(report.Metrics.Sharpe))
	fmt.Fprintf(w, "Sortino Ratio:         %s\n", formatMetric(report.Metrics.Sortino))
	fmt.Fprintf(w, "Calmar Ratio:          %s\n", formatMetric(report.Metrics.Calmar))

	fmt.Fprintln(w, "\n-- Costs --")
	fmt.Fprintf(w, "Total Fees:            %s\n", report.TotalFees.StringFixed(2))

	fmt.Fprintln(w, "==========================")
}

func formatMetric(v float64) string {
	if math.IsNaN(v) {
		return "undefined"
	}
	return fmt.Sprintf("%.4f", v)
}

// DailyReturns is the percentage change between consecutive equity samples,
// stamped with the later sample. A change from zero equity is an infinite
// return signed like the new sample; zero to zero is dropped.
func DailyReturns(equity []types.EquityPoint) []types.ReturnPoint {
	if len(equity) < 2 {
		return nil
	}
	out := make([]types.ReturnPoint, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev, cur := equity[i-1].Equity, equity[i].Equity
		var r float64
		switch {
		case !prev.IsZero():
			r = cur.Div(prev).Sub(decimal.NewFromInt(1)).InexactFloat64()
		case cur.IsZero():
			// 0/0 is undefined and dropped
			continue
		default:
			r = math.Inf(cur.Sign())
		}
		out = append(out, types.ReturnPoint{Time: equity[i].Time, Value: r})
	}
	return out
}

// Sharpe is the annualized mean excess return over its sample deviation.
// riskFreeRate is annual.
func Sharpe(returns []float64, riskFreeRate float64) float64 {
	if len(returns) == 0 {
		return math.NaN()
	}
	ex := excessReturns(returns, riskFreeRate)
	return math.Sqrt(periodsPerYear) * risk.Mean(ex) / floorDenominator(risk.StdDev(ex))
}

// Sortino is Sharpe with the deviation of the negative excess returns only.
func Sortino(returns []float64, riskFreeRate float64) float64 {
	if len(returns) == 0 {
		return math.NaN()
	}
	ex := excessReturns(returns, riskFreeRate)
	var downside []float64
	for _, r := range ex {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	return math.Sqrt(periodsPerYear) * risk.Mean(ex) / floorDenominator(risk.StdDev(downside))
}

func Volatility(returns []float64) float64 {
	if len(returns) == 0 {
		return math.NaN()
	}
	return risk.StdDev(returns) * math.Sqrt(periodsPerYear)
}

// MaxDrawdown is the most negative equity / running peak - 1.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return math.NaN()
	}
	dd := Drawdowns(equity)
	worst := dd[0]
	for _, d := range dd[1:] {
		if d < worst {
			worst = d
		}
	}
	return worst
}

// Drawdowns is equity / running peak - 1 for every sample.
func Drawdowns(equity []float64) []float64 {
	out := make([]float64, len(equity))
	peak := math.Inf(-1)
	for i, v := range equity {
		if v > peak {
			peak = v
		}
		out[i] = v/peak - 1
	}
	return out
}

// CAGR compounds the total return over nReturns periods to a yearly rate.
func CAGR(equity []float64, nReturns int) float64 {
	if len(equity) < 2 || equity[0] <= 0 {
		return math.NaN()
	}
	if nReturns < 1 {
		nReturns = 1
	}
	return math.Pow(equity[len(equity)-1]/equity[0], periodsPerYear/float64(nReturns)) - 1
}

func Calmar(equity []float64) float64 {
	if len(equity) < 2 {
		return math.NaN()
	}
	n := len(equity) - 1
	return CAGR(equity, n) / (math.Abs(MaxDrawdown(equity)) + epsilon)
}

// HistoricalVaR is the (1-level) percentile of returns with linear
// interpolation between order statistics.
func HistoricalVaR(returns []float64, level float64) float64 {
	if len(returns) == 0 {
		return math.NaN()
	}
	return percentile(returns, (1-level)*100)
}

// Beta regresses returns on benchmark over their timestamp-aligned overlap.
// NaN with fewer than three aligned points.
func Beta(returns, benchmark []types.ReturnPoint) float64 {
	bench := make(map[int64]float64, len(benchmark))
	for _, b := range benchmark {
		if !math.IsNaN(b.Value) {
			bench[b.Time.UnixNano()] = b.Value
		}
	}
	var xs, ys []float64
	for _, r := range returns {
		b, ok := bench[r.Time.UnixNano()]
		if !ok || math.IsNaN(r.Value) {
			continue
		}
		xs = append(xs, r.Value)
		ys = append(ys, b)
	}
	if len(xs) < 3 {
		return math.NaN()
	}
	mx, my := risk.Mean(xs), risk.Mean(ys)
	var cov, varM float64
	for i := range xs {
		cov += (xs[i] - mx) * (ys[i] - my)
		varM += (ys[i] - my) * (ys[i] - my)
	}
	// sample covariance over population variance
	n := float64(len(xs))
	return (cov / (n - 1)) / (varM/n + epsilon)
}

// BenchmarkReturns turns benchmark candles into close-to-close returns.
func BenchmarkReturns(candles []types.Candle) []types.ReturnPoint {
	eq := make([]types.EquityPoint, len(candles))
	for i, c := range candles {
		eq[i] = types.EquityPoint{Time: c.Timestamp, Equity: c.Close}
	}
	return DailyReturns(eq)
}

// ----------------Helper functions----------------
func excessReturns(returns []float64, riskFreeRate float64) []float64 {
	rf := riskFreeRate / periodsPerYear
	out := make([]float64, len(returns))
	for i, r := range returns {
		out[i] = r - rf
	}
	return out
}

// floorDenominator replaces a zero or undefined deviation the way a falsy
// check would: zero becomes epsilon, NaN stays NaN.
func floorDenominator(d float64) float64 {
	if d == 0 {
		return epsilon
	}
	return d
}

func percentile(values []float64, p float64) float64 {
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	rank := p / 100 * float64(len(s)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return s[lo]
	}
	return s[lo] + (s[hi]-s[lo])*(rank-float64(lo))
}

func returnValues(rets []types.ReturnPoint) []float64 {
	out := make([]float64, len(rets))
	for i, r := range rets {
		out[i] = r.Value
	}
	return out
}

func equityValues(equity []types.EquityPoint) []float64 {
	out := make([]float64, len(equity))
	for i, e := range equity {
		out[i] = e.Equity.InexactFloat64()
	}
	return out
}

// fillsToRoundTrips pairs each opening BUY with the SELL that closes it.
// A trailing BUY is an open trip.
func fillsToRoundTrips(fills []types.Fill) []roundTrip {
	var trips []roundTrip
	var open *roundTrip
	for i := range fills {
		f := &fills[i]
		switch f.Order.Side {
		case types.SideTypeBuy:
			if open == nil {
				trips = append(trips, roundTrip{buy: f})
				open = &trips[len(trips)-1]
			}
		case types.SideTypeSell:
			if open != nil {
				open.sell = f
				open = nil
			}
		}
	}
	return trips
}

func calcAvgWinLoss(trips []roundTrip) (decimal.Decimal, decimal.Decimal) {
	sumWins := decimal.Zero
	sumLosses := decimal.Zero // absolute loss amounts
	winCount := 0
	lossCount := 0

	for _, t := range trips {
		if !t.closed() {
			continue
		}
		net := t.netPnL()
		switch {
		case net.GreaterThan(decimal.Zero):
			sumWins = sumWins.Add(net)
			winCount++
		case net.LessThan(decimal.Zero):
			sumLosses = sumLosses.Add(net.Abs())
			lossCount++
		}
	}

	avgWin := decimal.Zero
	avgLoss := decimal.Zero
	if winCount > 0 {
		avgWin = sumWins.Div(decimal.NewFromInt(int64(winCount)))
	}
	if lossCount > 0 {
		avgLoss = sumLosses.Div(decimal.NewFromInt(int64(lossCount)))
	}
	return avgWin, avgLoss
}

func calcMaxConsecutiveLosses(trips []roundTrip) int {
	maxLossStreak := 0
	currentStreak := 0
	for _, t := range trips {
		if !t.closed() {
			continue
		}
		if t.netPnL().LessThan(decimal.Zero) {
			currentStreak++
			if currentStreak > maxLossStreak {
				maxLossStreak = currentStreak
			}
		} else {
			currentStreak = 0
		}
	}
	return maxLossStreak
}

func calcTotalFees(fills []types.Fill) decimal.Decimal {
	total := decimal.Zero
	for _, f := range fills {
		total = total.Add(f.Commission)
	}
	return total
}
