// Package market holds the in-memory bar buffer the estimators read from.
package market

import (
	"github.com/quantdyne/breakout/internal/types"
	"github.com/quantdyne/breakout/pkg/errors"
)

// BarSeries is a bounded, strictly time-ordered buffer of bars for a
// single symbol. Appending a bar whose timestamp is not strictly after
// the newest bar is rejected, so a duplicate poll result never enters
// the series twice. When the buffer is full the oldest bar is dropped.
type BarSeries struct {
	symbol string
	max    int
	bars   []types.Bar
}

// NewBarSeries creates a series for symbol holding at most max bars.
func NewBarSeries(symbol string, max int) (*BarSeries, error) {
	if symbol == "" {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "bar series symbol is empty")
	}

	if max <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "bar series capacity %d must be positive", max)
	}

	return &BarSeries{
		symbol: symbol,
		max:    max,
		bars:   make([]types.Bar, 0, max),
	}, nil
}

// Symbol returns the symbol this series tracks.
func (s *BarSeries) Symbol() string {
	return s.symbol
}

// Len returns the number of bars currently held.
func (s *BarSeries) Len() int {
	return len(s.bars)
}

// Append adds a bar to the series. The bar must validate, belong to
// this series' symbol, and be strictly newer than the last bar held.
func (s *BarSeries) Append(bar types.Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}

	if bar.Symbol != s.symbol {
		return errors.Newf(errors.ErrCodeInvalidBar, "bar symbol %s does not match series symbol %s", bar.Symbol, s.symbol)
	}

	if n := len(s.bars); n > 0 && !bar.Time.After(s.bars[n-1].Time) {
		return errors.Newf(errors.ErrCodeInvalidBar, "bar at %s is not after last bar at %s", bar.Time, s.bars[len(s.bars)-1].Time)
	}

	if len(s.bars) == s.max {
		copy(s.bars, s.bars[1:])
		s.bars = s.bars[:s.max-1]
	}

	s.bars = append(s.bars, bar)

	return nil
}

// AppendAll appends bars in order, skipping bars at or before the
// current tail. It returns the number of bars actually appended.
func (s *BarSeries) AppendAll(bars []types.Bar) (int, error) {
	added := 0

	for _, bar := range bars {
		if n := len(s.bars); n > 0 && !bar.Time.After(s.bars[n-1].Time) {
			continue
		}

		if err := s.Append(bar); err != nil {
			return added, err
		}

		added++
	}

	return added, nil
}

// Last returns the newest bar, or false when the series is empty.
func (s *BarSeries) Last() (types.Bar, bool) {
	if len(s.bars) == 0 {
		return types.Bar{}, false
	}

	return s.bars[len(s.bars)-1], true
}

// Tail returns the newest n bars in chronological order. The returned
// slice is a copy. When fewer than n bars are held, all bars are
// returned.
func (s *BarSeries) Tail(n int) []types.Bar {
	if n <= 0 {
		return nil
	}

	if n > len(s.bars) {
		n = len(s.bars)
	}

	out := make([]types.Bar, n)
	copy(out, s.bars[len(s.bars)-n:])

	return out
}

// All returns a copy of every bar in chronological order.
func (s *BarSeries) All() []types.Bar {
	return s.Tail(len(s.bars))
}
