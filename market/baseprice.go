package market

import (
	"errors"
	"math"
	"sort"
)

// ErrNotEnoughData means the candle history is too short for the estimator.
var ErrNotEnoughData = errors.New("not enough candle data")

// Base price estimators. Each works on daily candles, most-recent-last, and
// ignores the trailing in-progress candle. A trader anchoring its grid to a
// stale or spiked price bleeds on every band crossing, so the caller blends
// several estimators and sanity-checks the result against the market.

// SMABasePrice is the simple moving average of the last n daily closes.
func SMABasePrice(ks []Kline, n int) (float64, error) {
	closes := Closes(Completed(ks))
	if len(closes) < n {
		return 0, ErrNotEnoughData
	}
	closes = closes[len(closes)-n:]
	sum := 0.0
	for _, c := range closes {
		sum += c
	}
	return sum / float64(n), nil
}

// EMABasePrice is the exponential moving average over the completed closes
// with period n.
func EMABasePrice(ks []Kline, n int) (float64, error) {
	closes := Closes(Completed(ks))
	if len(closes) < n {
		return 0, ErrNotEnoughData
	}
	mult := 2.0 / float64(n+1)
	ema := closes[0]
	for _, c := range closes[1:] {
		ema = c*mult + ema*(1-mult)
	}
	return ema, nil
}

// MedianBasePrice is the median of the last n daily closes.
func MedianBasePrice(ks []Kline, n int) (float64, error) {
	closes := Closes(Completed(ks))
	if len(closes) < n {
		return 0, ErrNotEnoughData
	}
	closes = append([]float64(nil), closes[len(closes)-n:]...)
	sort.Float64s(closes)
	mid := len(closes) / 2
	if len(closes)%2 == 0 {
		return (closes[mid-1] + closes[mid]) / 2, nil
	}
	return closes[mid], nil
}

// BollingerMiddle is the middle Bollinger band: SMA over the standard
// 20-period window.
func BollingerMiddle(ks []Kline) (float64, error) {
	return SMABasePrice(ks, 20)
}

// SmartBasePrice averages whichever estimators succeed on the history.
// Returns ErrNotEnoughData when none do.
func SmartBasePrice(ks []Kline, period int) (float64, error) {
	var prices []float64
	if p, err := SMABasePrice(ks, period); err == nil {
		prices = append(prices, p)
	}
	if p, err := EMABasePrice(ks, period); err == nil {
		prices = append(prices, p)
	}
	if p, err := MedianBasePrice(ks, period); err == nil {
		prices = append(prices, p)
	}
	if p, err := BollingerMiddle(ks); err == nil {
		prices = append(prices, p)
	}
	if len(prices) == 0 {
		return 0, ErrNotEnoughData
	}
	sum := 0.0
	for _, p := range prices {
		sum += p
	}
	return sum / float64(len(prices)), nil
}

// ValidateBasePrice reports whether base is within maxDeviation (a ratio,
// e.g. 0.2) of the current market price.
func ValidateBasePrice(base, current, maxDeviation float64) bool {
	if base <= 0 || current <= 0 {
		return false
	}
	return math.Abs(base-current)/current <= maxDeviation
}
