package types

import (
	"time"

	"github.com/quantdyne/breakout/pkg/errors"
)

// Bar is a single OHLCV bar for one symbol.
type Bar struct {
	Symbol string    `yaml:"symbol" json:"symbol" validate:"required"`
	Time   time.Time `yaml:"time" json:"time" validate:"required"`
	Open   float64   `yaml:"open" json:"open"`
	High   float64   `yaml:"high" json:"high"`
	Low    float64   `yaml:"low" json:"low"`
	Close  float64   `yaml:"close" json:"close"`
	Volume float64   `yaml:"volume" json:"volume" validate:"gte=0"`
}

// Range returns the high-low span of the bar.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Strength measures where the close sits within the bar's range,
// in [0, 1]. A bullish reading rewards closes near the high, a
// bearish one closes near the low. Zero-range bars score 0.
func (b Bar) Strength(bullish bool) float64 {
	r := b.Range()
	if r <= 0 {
		return 0
	}

	s := (b.Close - b.Low) / r
	if !bullish {
		s = 1 - s
	}

	return s
}

// Validate checks the bar for internal consistency.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return errors.New(errors.ErrCodeInvalidBar, "bar symbol is empty")
	}

	if b.Time.IsZero() {
		return errors.New(errors.ErrCodeInvalidBar, "bar time is zero")
	}

	if b.High < b.Low {
		return errors.Newf(errors.ErrCodeInvalidBar, "bar high %f below low %f", b.High, b.Low)
	}

	if b.Volume < 0 {
		return errors.Newf(errors.ErrCodeInvalidBar, "bar volume %f is negative", b.Volume)
	}

	return nil
}
