package market

import (
	"math"
	"testing"
)

func dailyKlines(closes ...float64) []Kline {
	return klinesFromCloses(closes...)
}

func TestSMABasePriceExcludesFormingCandle(t *testing.T) {
	// Last close (999) is the in-progress candle and must not count.
	ks := dailyKlines(100, 102, 104, 106, 108, 110, 112, 999)
	got, err := SMABasePrice(ks, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := (100.0 + 102 + 104 + 106 + 108 + 110 + 112) / 7
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected SMA %v, got %v", want, got)
	}
}

func TestSMABasePriceNotEnoughData(t *testing.T) {
	ks := dailyKlines(100, 102, 104)
	if _, err := SMABasePrice(ks, 7); err != ErrNotEnoughData {
		t.Errorf("expected ErrNotEnoughData, got %v", err)
	}
}

func TestMedianBasePrice(t *testing.T) {
	ks := dailyKlines(105, 100, 110, 120, 999)
	got, err := MedianBasePrice(ks, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Sorted completed closes: 100 105 110 120 -> median 107.5
	if got != 107.5 {
		t.Errorf("expected median 107.5, got %v", got)
	}
}

func TestEMABasePriceConverges(t *testing.T) {
	closes := make([]float64, 31)
	for i := range closes {
		closes[i] = 200
	}
	got, err := EMABasePrice(dailyKlines(closes...), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got-200) > 1e-9 {
		t.Errorf("expected EMA of constant series to be 200, got %v", got)
	}
}

func TestSmartBasePriceBlends(t *testing.T) {
	closes := make([]float64, 0, 31)
	for i := 0; i < 30; i++ {
		closes = append(closes, 100+float64(i))
	}
	closes = append(closes, 500) // forming candle
	got, err := SmartBasePrice(dailyKlines(closes...), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got < 100 || got > 130 {
		t.Errorf("blended base price %v outside plausible range", got)
	}
}

func TestValidateBasePrice(t *testing.T) {
	if !ValidateBasePrice(100, 110, 0.2) {
		t.Error("10%% deviation should pass a 20%% bound")
	}
	if ValidateBasePrice(100, 150, 0.2) {
		t.Error("33%% deviation should fail a 20%% bound")
	}
	if ValidateBasePrice(0, 100, 0.2) {
		t.Error("zero base price must be invalid")
	}
}

func TestHighLow(t *testing.T) {
	ks := []Kline{
		{High: 700, Low: 520},
		{High: 680, Low: 500},
		{High: 690, Low: 510},
	}
	high, low, ok := HighLow(ks)
	if !ok || high != 700 || low != 500 {
		t.Errorf("expected 700/500, got %v/%v ok=%v", high, low, ok)
	}
}
