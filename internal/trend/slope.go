package trend

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/quantdyne/breakout/internal/types"
)

// Slope computes the per-bar drift rate applied to the band bounds:
// the Wilder-smoothed average true range over the series, divided by
// the ATR period, quantized to 10 decimal places. Returns 0 when the
// series is too short to seed the ATR.
func Slope(bars []types.Bar, length int) float64 {
	if length <= 0 || len(bars) < length+1 {
		return 0
	}

	var atr float64

	trSum := 0.0
	prevClose := bars[0].Close

	for i := 1; i < len(bars); i++ {
		tr := trueRange(bars[i], prevClose)
		prevClose = bars[i].Close

		if i < length {
			trSum += tr
			continue
		}

		if i == length {
			atr = (trSum + tr) / float64(length)
			continue
		}

		atr = (atr*float64(length-1) + tr) / float64(length)
	}

	if math.IsNaN(atr) || math.IsInf(atr, 0) {
		return 0
	}

	slope, _ := decimal.NewFromFloat(atr).
		Div(decimal.NewFromInt(int64(length))).
		Round(10).
		Float64()

	return slope
}

func trueRange(bar types.Bar, prevClose float64) float64 {
	tr := bar.High - bar.Low

	if hc := math.Abs(bar.High - prevClose); hc > tr {
		tr = hc
	}

	if lc := math.Abs(bar.Low - prevClose); lc > tr {
		tr = lc
	}

	return tr
}
