package exits

import (
	"math"
	"time"

	"github.com/quantdyne/breakout/internal/config"
)

// findBand returns the index of the first band whose [LowPct, HighPct)
// range contains pnl, or ok=false when none matches.
func findBand(bands []config.ExitBand, pnl float64) (int, bool) {
	for i, b := range bands {
		if pnl >= b.LowPct && pnl < b.HighPct {
			return i, true
		}
	}

	return 0, false
}

// stopOffsetFor returns the stop offset of the band containing pnl,
// falling back to the default when no band matches.
func stopOffsetFor(bands []config.ExitBand, pnl, defaultOffset float64) float64 {
	if i, ok := findBand(bands, pnl); ok {
		return bands[i].StopOffset
	}

	return defaultOffset
}

// sellQuantity computes the ladder sale for one band trigger: the
// floor of qty times the band's fraction, with a minimum of one unit
// whenever the fraction is positive.
func sellQuantity(qty int, fraction float64) int {
	if fraction <= 0 {
		return 0
	}

	sell := int(math.Floor(float64(qty) * fraction))
	if sell < 1 {
		sell = 1
	}

	return sell
}

// saleTracker deduplicates band triggers per symbol within a cool-down
// window. Re-entering a band after the window expires re-arms it.
type saleTracker struct {
	expiry time.Duration
	byBand map[string]map[int]time.Time
}

func newSaleTracker(expiry time.Duration) *saleTracker {
	return &saleTracker{
		expiry: expiry,
		byBand: make(map[string]map[int]time.Time),
	}
}

// Trigger records a trigger of band i for symbol and reports whether
// the sale should proceed. A band already triggered inside the window
// returns false.
func (t *saleTracker) Trigger(symbol string, band int, now time.Time) bool {
	bands, ok := t.byBand[symbol]
	if !ok {
		bands = make(map[int]time.Time)
		t.byBand[symbol] = bands
	}

	if last, seen := bands[band]; seen {
		if now.Sub(last) <= t.expiry {
			return false
		}

		delete(bands, band)
	}

	bands[band] = now

	return true
}

// Forget drops all trigger history for symbol.
func (t *saleTracker) Forget(symbol string) {
	delete(t.byBand, symbol)
}

// RetainOnly drops history for symbols not in the active set.
func (t *saleTracker) RetainOnly(active map[string]bool) {
	for symbol := range t.byBand {
		if !active[symbol] {
			delete(t.byBand, symbol)
		}
	}
}
