package market

// Kline represents OHLC data for one candle interval. The last candle
// returned by an exchange is usually still forming. Ts is the candle
// open time in epoch milliseconds, as exchanges report it.
type Kline struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Ts     int64
}

// Closes extracts the close series from a candle slice, oldest first.
func Closes(ks []Kline) []float64 {
	out := make([]float64, 0, len(ks))
	for _, k := range ks {
		out = append(out, k.Close)
	}
	return out
}

// Completed drops the trailing in-progress candle. Exchanges report the
// current interval as the last element, so everything before it has closed.
func Completed(ks []Kline) []Kline {
	if len(ks) == 0 {
		return nil
	}
	return ks[:len(ks)-1]
}

// HighLow returns the highest high and lowest low over the slice.
func HighLow(ks []Kline) (high, low float64, ok bool) {
	if len(ks) == 0 {
		return 0, 0, false
	}
	high = ks[0].High
	low = ks[0].Low
	for _, k := range ks[1:] {
		if k.High > high {
			high = k.High
		}
		if k.Low < low {
			low = k.Low
		}
	}
	return high, low, true
}
