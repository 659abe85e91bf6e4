package config

import (
	"fmt"
	"math"
)

// Band is one half-open [Lower, Upper) volatility range mapped to a value.
type Band struct {
	Lower float64 `yaml:"lower"`
	Upper float64 `yaml:"upper"` // use .inf for the final catch-all
	Value float64 `yaml:"value"`
}

// Table is an ordered volatility lookup table. Lookup is first-match-wins;
// validation guarantees exactly one band matches any non-negative input.
type Table []Band

// Validate checks the table is sorted, contiguous (no gaps or overlaps) and
// ends with an open-ended catch-all band.
func (t Table) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("table is empty")
	}
	for i, b := range t {
		if b.Upper <= b.Lower {
			return fmt.Errorf("band %d: upper %v must exceed lower %v", i, b.Upper, b.Lower)
		}
		if i > 0 && b.Lower != t[i-1].Upper {
			return fmt.Errorf("band %d: lower %v leaves a gap/overlap after upper %v", i, b.Lower, t[i-1].Upper)
		}
	}
	if t[0].Lower != 0 {
		return fmt.Errorf("first band must start at 0, got %v", t[0].Lower)
	}
	if !math.IsInf(t[len(t)-1].Upper, 1) {
		return fmt.Errorf("last band must be open-ended (upper: .inf)")
	}
	return nil
}

// Lookup returns the value of the first band containing v. Inputs below the
// first band clamp to it; the catch-all absorbs everything above.
func (t Table) Lookup(v float64) float64 {
	for _, b := range t {
		if v < b.Upper {
			return b.Value
		}
	}
	return t[len(t)-1].Value
}

// DefaultGridTable maps realized volatility to a grid size percentage.
func DefaultGridTable() Table {
	return Table{
		{Lower: 0, Upper: 0.20, Value: 1.0},
		{Lower: 0.20, Upper: 0.40, Value: 1.5},
		{Lower: 0.40, Upper: 0.60, Value: 2.0},
		{Lower: 0.60, Upper: 0.80, Value: 2.5},
		{Lower: 0.80, Upper: 1.00, Value: 3.0},
		{Lower: 1.00, Upper: 1.20, Value: 3.5},
		{Lower: 1.20, Upper: math.Inf(1), Value: 4.0},
	}
}

// DefaultIntervalTable maps realized volatility to the tick interval in
// minutes. Busier markets get polled faster.
func DefaultIntervalTable() Table {
	return Table{
		{Lower: 0, Upper: 0.20, Value: 60},
		{Lower: 0.20, Upper: 0.40, Value: 30},
		{Lower: 0.40, Upper: 0.80, Value: 15},
		{Lower: 0.80, Upper: math.Inf(1), Value: 7.5},
	}
}
