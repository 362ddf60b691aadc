package exchange

import "math"

// Checked uint64 arithmetic. Every cost, fee and ceiling computation goes
// through these instead of trusting raw operators; an overflow reads as a
// failed precondition, never as a wrapped value.

func addChecked(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}

func mulChecked(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxUint64/b {
		return 0, false
	}
	return a * b, true
}

// percentOf computes v*pct/100 without overflowing for any pct <= 100.
func percentOf(v, pct uint64) (uint64, bool) {
	p, ok := mulChecked(v, pct)
	if !ok {
		return 0, false
	}
	return p / 100, true
}
