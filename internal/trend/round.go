// Package trend estimates pivot levels, slope, and trend direction
// from a bar series. Its outputs drive the breakout gate.
package trend

import "math"

// Price math in this package is rounded to 10 decimal places so that
// repeated incremental updates stay stable across long sessions.
const precisionFactor = 1e10

func round10(x float64) float64 {
	return math.Round(x*precisionFactor) / precisionFactor
}
