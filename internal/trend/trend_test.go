package trend

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/quantdyne/breakout/internal/types"
)

type TrendTestSuite struct {
	suite.Suite
}

func TestTrendSuite(t *testing.T) {
	suite.Run(t, new(TrendTestSuite))
}

func (suite *TrendTestSuite) bars(highs, lows []float64) []types.Bar {
	suite.Require().Equal(len(highs), len(lows))

	out := make([]types.Bar, len(highs))
	base := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)

	for i := range highs {
		out[i] = types.Bar{
			Symbol: "SPY",
			Time:   base.Add(time.Duration(i) * time.Minute),
			Open:   (highs[i] + lows[i]) / 2,
			High:   highs[i],
			Low:    lows[i],
			Close:  (highs[i] + lows[i]) / 2,
			Volume: 1000,
		}
	}

	return out
}

func (suite *TrendTestSuite) TestPivotsInsufficientData() {
	bars := suite.bars([]float64{10, 11, 12}, []float64{9, 10, 11})

	high, low := Pivots(bars, 2) // needs 5 bars
	suite.Zero(high)
	suite.Zero(low)
}

func (suite *TrendTestSuite) TestPivotsCenterPeak() {
	highs := []float64{10, 11, 15, 12, 11}
	lows := []float64{8, 9, 10, 9, 8.5}

	high, low := Pivots(suite.bars(highs, lows), 2)
	suite.Equal(15.0, high)
	suite.Zero(low)
}

func (suite *TrendTestSuite) TestPivotsCenterTrough() {
	highs := []float64{12, 11, 10.5, 11, 12}
	lows := []float64{9, 8.5, 7, 8, 9}

	high, low := Pivots(suite.bars(highs, lows), 2)
	suite.Zero(high)
	suite.Equal(7.0, low)
}

func (suite *TrendTestSuite) TestPivotHighAllowsLeftTieRejectsRightTie() {
	// Tie on the left side is allowed.
	leftTie := suite.bars(
		[]float64{15, 11, 15, 12, 11},
		[]float64{9, 9.5, 10, 9.6, 9.7},
	)
	high, _ := Pivots(leftTie, 2)
	suite.Equal(15.0, high)

	// Tie on the right side disqualifies the pivot.
	rightTie := suite.bars(
		[]float64{10, 11, 15, 15, 11},
		[]float64{9, 9.5, 10, 9.6, 9.7},
	)
	high, _ = Pivots(rightTie, 2)
	suite.Zero(high)
}

func (suite *TrendTestSuite) TestPivotsUseMostRecentWindow() {
	// Peak is outside the trailing 2*length+1 window, so no pivot.
	highs := []float64{20, 10, 11, 12, 13, 14}
	lows := []float64{9, 8, 8.2, 8.4, 8.6, 8.8}

	high, _ := Pivots(suite.bars(highs, lows), 2)
	suite.Zero(high)
}

func (suite *TrendTestSuite) TestSlopeInsufficientData() {
	bars := suite.bars([]float64{10, 11}, []float64{9, 10})
	suite.Zero(Slope(bars, 14))
}

func (suite *TrendTestSuite) TestSlopeConstantRange() {
	// Identical bars: every true range equals the bar range, so the
	// smoothed ATR equals the range and slope = range/length.
	n := 30
	highs := make([]float64, n)
	lows := make([]float64, n)

	for i := range highs {
		highs[i] = 101
		lows[i] = 100
	}

	slope := Slope(suite.bars(highs, lows), 10)
	suite.InDelta(0.1, slope, 1e-10)
}

func (suite *TrendTestSuite) TestSlopeGapUsesPrevClose() {
	// Two bars: the second gaps above the first close, so the true
	// range is high-prevClose rather than high-low.
	bars := suite.bars([]float64{101, 110}, []float64{100, 108})
	// prevClose = 100.5, TR = max(2, 9.5, 7.5) = 9.5, ATR(1) = 9.5.
	suite.InDelta(9.5, Slope(bars, 1), 1e-10)
}

func (suite *TrendTestSuite) TestFilterSeedsFromFirstBar() {
	bar := types.Bar{Open: 100, High: 102, Low: 98, Close: 100}

	state, bullish := FilterState{}.Apply(bar)
	suite.True(state.Seeded)
	// First bar: distance is 0, so value equals the OHLC average.
	suite.InDelta(100.0, state.Value, 1e-10)
	suite.Zero(state.Velocity)
	suite.False(bullish)
}

func (suite *TrendTestSuite) TestFilterVelocityTracksDirection() {
	state := FilterState{}

	var bullish bool

	for i := 0; i < 5; i++ {
		price := 100 + float64(i)*2
		bar := types.Bar{Open: price, High: price + 1, Low: price - 1, Close: price}
		state, bullish = state.Apply(bar)
	}

	suite.True(bullish)
	suite.Positive(state.Velocity)

	for i := 0; i < 20; i++ {
		price := 110 - float64(i)*3
		bar := types.Bar{Open: price, High: price + 1, Low: price - 1, Close: price}
		state, bullish = state.Apply(bar)
	}

	suite.False(bullish)
	suite.Negative(state.Velocity)
}

func (suite *TrendTestSuite) TestFilterFailSoft() {
	seeded, _ := FilterState{}.Apply(types.Bar{Open: 100, High: 101, Low: 99, Close: 100})

	next, bullish := seeded.Apply(types.Bar{Open: math.NaN(), High: 101, Low: 99, Close: 100})
	suite.Equal(seeded, next)
	suite.False(bullish)
}

func (suite *TrendTestSuite) TestBandAnchorAndDrift() {
	b := &Band{}

	b.Anchor(110, 90, 0.5)
	suite.Equal(110.0, b.Upper)
	suite.Equal(90.0, b.Lower)
	suite.Equal(0.5, b.SlopeHigh)
	suite.Equal(0.5, b.SlopeLow)

	// No pivot: upper drifts down, lower drifts up.
	b.Anchor(0, 0, 0.7)
	suite.Equal(109.5, b.Upper)
	suite.Equal(90.5, b.Lower)
	suite.Equal(0.5, b.SlopeHigh)
	suite.Equal(0.5, b.SlopeLow)

	// New pivot high re-anchors and captures the fresh slope.
	b.Anchor(112, 0, 0.7)
	suite.Equal(112.0, b.Upper)
	suite.Equal(0.7, b.SlopeHigh)
	suite.Equal(91.0, b.Lower)
	suite.Equal(0.5, b.SlopeLow)
}

func (suite *TrendTestSuite) TestBandSignalsRisingEdgeOnly() {
	b := &Band{Upper: 110, Lower: 90, SlopeHigh: 0.5, SlopeLow: 0.5}

	// Threshold = 110 - 0.5*4 = 108.
	up, down := b.Signals(109, 0, 0, 4)
	suite.True(up)
	suite.False(down)

	// Signal holds at 1: no second rising edge.
	up, _ = b.Signals(109.5, 0, 0, 4)
	suite.False(up)
	suite.Equal(1, b.Upos)

	// A new pivot high resets the signal.
	up, _ = b.Signals(109.5, 111, 0, 4)
	suite.False(up)
	suite.Zero(b.Upos)

	// Re-armed: the next crossing fires again.
	up, _ = b.Signals(120, 0, 0, 4)
	suite.True(up)
}

func (suite *TrendTestSuite) TestBandSignalsDownCrossing() {
	b := &Band{Upper: 110, Lower: 90, SlopeHigh: 0.5, SlopeLow: 0.5}

	// Threshold = 90 + 0.5*4 = 92.
	up, down := b.Signals(91, 0, 0, 4)
	suite.False(up)
	suite.True(down)
	suite.Equal(1, b.Dnos)

	_, down = b.Signals(91, 0, 0, 4)
	suite.False(down)
}
