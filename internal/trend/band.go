package trend

import "math"

// Band tracks the drifting support/resistance channel. The upper bound
// anchors on pivot highs and drifts down by its slope each bar; the
// lower bound anchors on pivot lows and drifts up. The crossing signals
// upos/dnos flag closes beyond the slope-projected thresholds.
type Band struct {
	Upper     float64
	Lower     float64
	SlopeHigh float64
	SlopeLow  float64
	Upos      int
	Dnos      int
}

// Anchor updates the bounds for the current bar. A non-zero pivot
// re-anchors the matching bound and captures the current slope as its
// drift rate; otherwise the bound drifts by its stored slope.
func (b *Band) Anchor(pivotHigh, pivotLow, slope float64) {
	if pivotHigh != 0 {
		b.Upper = pivotHigh
		b.SlopeHigh = slope
	} else if b.SlopeHigh != 0 {
		b.Upper -= b.SlopeHigh
	}

	if pivotLow != 0 {
		b.Lower = pivotLow
		b.SlopeLow = slope
	} else if b.SlopeLow != 0 {
		b.Lower += b.SlopeLow
	}

	b.Upper = round10(b.Upper)
	b.Lower = round10(b.Lower)
}

// Signals updates the crossing state for the current close and reports
// rising edges: crossedUp is true only on the bar where upos flips from
// 0 to 1 (and likewise crossedDown for dnos). A new pivot resets the
// matching signal, arming it for the next crossing.
func (b *Band) Signals(close, pivotHigh, pivotLow float64, length int) (crossedUp, crossedDown bool) {
	upperThreshold := b.Upper - b.SlopeHigh*float64(length)
	lowerThreshold := b.Lower + b.SlopeLow*float64(length)

	prevUpos := b.Upos
	prevDnos := b.Dnos

	switch {
	case pivotHigh != 0:
		b.Upos = 0
	case close > upperThreshold:
		b.Upos = 1
	}

	switch {
	case pivotLow != 0:
		b.Dnos = 0
	case close < lowerThreshold:
		b.Dnos = 1
	}

	if math.IsNaN(close) {
		b.Upos = 0
		b.Dnos = 0
	}

	return b.Upos > prevUpos, b.Dnos > prevDnos
}
