// Package orderage implements the resting-order aging engine: stale
// limit orders are shrunk, converted, or sold down according to an
// age-tier ladder with spent-age carry across partial replacements.
package orderage

import "github.com/quantdyne/breakout/internal/config"

// resolveTier returns the index of the age tier governing an order of
// the given effective age. An age below the first breakpoint resolves
// to no tier (ok=false, baseline: wait); an age beyond the last
// breakpoint resolves to the last tier.
func resolveTier(tiers []config.AgeTier, age float64) (int, bool) {
	if len(tiers) == 0 || age < tiers[0].BreakpointSeconds {
		return 0, false
	}

	for i := 0; i < len(tiers)-1; i++ {
		if age >= tiers[i].BreakpointSeconds && age < tiers[i+1].BreakpointSeconds {
			return i, true
		}
	}

	return len(tiers) - 1, true
}
