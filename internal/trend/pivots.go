package trend

import "github.com/quantdyne/breakout/internal/types"

// Pivots inspects the most recent 2*length+1 bars and reports whether
// the center bar of that window is a confirmed pivot.
//
// The center bar is a pivot high when its high is greater than or equal
// to every high in the length bars before it and strictly greater than
// every high in the length bars after it. A pivot low mirrors this with
// lows. Returns (0, 0) when there is not enough data or no pivot
// confirmed.
func Pivots(bars []types.Bar, length int) (pivotHigh, pivotLow float64) {
	window := 2*length + 1
	if length <= 0 || len(bars) < window {
		return 0, 0
	}

	tail := bars[len(bars)-window:]
	center := tail[length]

	isPivotHigh := true
	isPivotLow := true

	for i := 0; i < length; i++ {
		if center.High < tail[i].High {
			isPivotHigh = false
		}

		if center.Low > tail[i].Low {
			isPivotLow = false
		}
	}

	for i := length + 1; i < window; i++ {
		if center.High <= tail[i].High {
			isPivotHigh = false
		}

		if center.Low >= tail[i].Low {
			isPivotLow = false
		}
	}

	if isPivotHigh {
		pivotHigh = round10(center.High)
	}

	if isPivotLow {
		pivotLow = round10(center.Low)
	}

	return pivotHigh, pivotLow
}
