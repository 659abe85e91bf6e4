package market

import "math"

// ReturnsStdDev is the population standard deviation of consecutive simple
// returns of the price series. Zero when fewer than two usable points exist.
func ReturnsStdDev(prices []float64) float64 {
	returns := make([]float64, 0, len(prices))
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 {
			returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
		}
	}
	if len(returns) == 0 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var varSum float64
	for _, r := range returns {
		d := r - mean
		varSum += d * d
	}
	return math.Sqrt(varSum / float64(len(returns)))
}

// RealizedVol computes rolling realized volatility from hourly candles:
// std dev of close-to-close returns scaled by sqrt(24) to a daily figure.
// Returns (0, false) when the window holds fewer than two candles.
func RealizedVol(ks []Kline) (float64, bool) {
	if len(ks) < 2 {
		return 0, false
	}
	sd := ReturnsStdDev(Closes(ks))
	return sd * math.Sqrt(24), true
}

// VolatilityCalculator keeps a bounded window of spot prices and reports the
// std dev of their consecutive returns. Used by the risk gate's spike check,
// which works off tick prices rather than candles.
type VolatilityCalculator struct {
	windowSize int
	prices     []float64
}

// NewVolatilityCalculator creates a calculator with the given window size.
func NewVolatilityCalculator(windowSize int) *VolatilityCalculator {
	if windowSize < 2 {
		windowSize = 2
	}
	return &VolatilityCalculator{
		windowSize: windowSize,
		prices:     make([]float64, 0, windowSize),
	}
}

// AddPrice appends a price, evicting the oldest beyond the window.
func (v *VolatilityCalculator) AddPrice(p float64) {
	v.prices = append(v.prices, p)
	if len(v.prices) > v.windowSize {
		v.prices = v.prices[1:]
	}
}

// StdDev returns the current returns std dev over the window.
func (v *VolatilityCalculator) StdDev() float64 {
	return ReturnsStdDev(v.prices)
}

// IsReady checks if we have enough data to calculate volatility.
func (v *VolatilityCalculator) IsReady() bool {
	return len(v.prices) >= v.windowSize
}
