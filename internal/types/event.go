package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/quantdyne/breakout/pkg/errors"
)

// Direction classifies a published trading signal.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
	// Reverse directions close out a previously signalled breakout
	// once price crosses back through its opening level.
	DirectionReverseUp   Direction = "REVERSE_UP"
	DirectionReverseDown Direction = "REVERSE_DOWN"
)

// BreakoutEvent is the payload published to the signal queue when a
// confirmed breakout (or a reversal of one) is detected.
type BreakoutEvent struct {
	Symbol      string    `json:"symbol" validate:"required"`
	Direction   Direction `json:"direction" validate:"required,oneof=UP DOWN REVERSE_UP REVERSE_DOWN"`
	ClosePrice  float64   `json:"close_price" validate:"required,gt=0"`
	OpenPrice   float64   `json:"open_price"`
	BarTime     time.Time `json:"bar_timestamp" validate:"required"`
	CandleSize  float64   `json:"candle_size"`
	Volume      float64   `json:"volume"`
	BarStrength float64   `json:"bar_strength"`
}

// Validate validates the BreakoutEvent struct.
func (e *BreakoutEvent) Validate() error {
	validate := validator.New()
	if err := validate.Struct(e); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "invalid breakout event", err)
	}

	return nil
}
