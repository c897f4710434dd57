package breakout

import "github.com/quantdyne/breakout/internal/types"

// Ledger records the last breakout published for a symbol so a later
// reversal of that move can be detected. It is owned by the gate and
// cleared on reversal, on publish of a close signal, and on calendar
// date rollover.
type Ledger struct {
	OpenPrice float64
	Direction types.Direction
}

// Active reports whether a breakout is currently tracked.
func (l Ledger) Active() bool {
	return l.Direction != ""
}

// Record stores a newly published breakout.
func (l *Ledger) Record(openPrice float64, direction types.Direction) {
	l.OpenPrice = openPrice
	l.Direction = direction
}

// Clear forgets the tracked breakout.
func (l *Ledger) Clear() {
	l.OpenPrice = 0
	l.Direction = ""
}

// Reversal reports the close direction to publish when the given
// close price has crossed back through the tracked breakout's opening
// level, and ok=false when no reversal applies.
func (l *Ledger) Reversal(closePrice float64) (types.Direction, bool) {
	switch {
	case l.Direction == types.DirectionDown && closePrice > l.OpenPrice:
		return types.DirectionReverseUp, true
	case l.Direction == types.DirectionUp && closePrice < l.OpenPrice:
		return types.DirectionReverseDown, true
	default:
		return "", false
	}
}
