package risk

import "math"

// Returns is the percentage change between consecutive values. The leading
// undefined value is dropped, so len(Returns(x)) == len(x)-1.
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		prev := values[i-1]
		if prev == 0 {
			out[i-1] = math.NaN()
			continue
		}
		out[i-1] = values[i]/prev - 1
	}
	return out
}

// RollingVolatility returns, for every value, the sample standard deviation
// of the last lookback returns ending at it. The warm-up gap at the start is
// back-filled with the first defined estimate. The result is all NaN when
// the series is too short to produce any estimate.
func RollingVolatility(values []float64, lookback int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if lookback < 2 {
		lookback = 2
	}
	rets := Returns(values)
	// out[i] covers the returns ending at values[i], i.e. rets[i-lookback:i].
	for i := lookback; i < len(values); i++ {
		out[i] = StdDev(rets[i-lookback : i])
	}

	first := math.NaN()
	for _, v := range out {
		if !math.IsNaN(v) {
			first = v
			break
		}
	}
	for i := range out {
		if !math.IsNaN(out[i]) {
			break
		}
		out[i] = first
	}
	return out
}

// TrailingVolatility estimates volatility from the most recent lookback
// returns. It returns 0 unless more than minReturns returns are available.
func TrailingVolatility(values []float64, lookback, minReturns int) float64 {
	rets := Returns(values)
	if len(rets) <= minReturns {
		return 0
	}
	if lookback > 0 && len(rets) > lookback {
		rets = rets[len(rets)-lookback:]
	}
	v := StdDev(rets)
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev is the sample (n-1) standard deviation. NaN for fewer than two
// points or when any input is NaN.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	mean := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
