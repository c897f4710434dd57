package trend

import (
	"math"

	"github.com/quantdyne/breakout/internal/types"
)

// Filter smoothing and momentum factors.
const (
	smoothingFactor = 0.1  // sqrt(1/100)
	momentumFactor  = 0.01 // 1/100
)

// FilterState holds the recursive trend filter between bars.
// The zero value is an unseeded state: the first bar applied seeds the
// filter value from its own OHLC average.
type FilterState struct {
	Value    float64
	Velocity float64
	Seeded   bool
}

// Apply advances the filter by one bar and returns the next state plus
// a bullish flag (velocity strictly positive).
//
// The filter is fail-soft: a bar that produces a non-finite source
// leaves the state unchanged and reports not bullish.
func (s FilterState) Apply(bar types.Bar) (FilterState, bool) {
	source := round10((bar.Close + bar.High + bar.Low + bar.Open) / 4)
	if math.IsNaN(source) || math.IsInf(source, 0) {
		return s, false
	}

	prev := source
	if s.Seeded {
		prev = s.Value
	}

	distance := round10(source - prev)
	errTerm := round10(prev + distance*smoothingFactor)
	velocity := round10(s.Velocity + distance*momentumFactor)

	next := FilterState{
		Value:    errTerm + velocity,
		Velocity: velocity,
		Seeded:   true,
	}

	return next, velocity > 0
}
