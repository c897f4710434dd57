// Package exits implements the tiered position-exit engine: hard
// stops, close-all triggers, ladder partial sales, and a trailing
// floor that only ratchets upward.
package exits

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quantdyne/breakout/internal/config"
	"github.com/quantdyne/breakout/internal/logger"
	"github.com/quantdyne/breakout/internal/types"
)

// Closer submits liquidation orders. The engine decides quantities;
// the closer owns execution.
type Closer interface {
	ClosePosition(ctx context.Context, symbol string, qty int) error
}

// Engine evaluates open positions against the exit ladder each tick.
// All per-symbol maps are owned by this engine; one engine serves one
// polling loop.
type Engine struct {
	closer Closer
	log    *logger.Logger

	trailing map[string]float64
	prevPnL  map[string]float64
	sales    *saleTracker
	// skipTaps counts consecutive hard-stop hits skipped so far.
	skipTaps int
}

// NewEngine creates an exit engine.
func NewEngine(closer Closer, saleExpiry time.Duration, log *logger.Logger) *Engine {
	return &Engine{
		closer:   closer,
		log:      log,
		trailing: make(map[string]float64),
		prevPnL:  make(map[string]float64),
		sales:    newSaleTracker(saleExpiry),
	}
}

// TrailingFloor exposes the trailing floor for a symbol, ok=false when
// no floor is set.
func (e *Engine) TrailingFloor(symbol string) (float64, bool) {
	floor, ok := e.trailing[symbol]

	return floor, ok
}

// Tick evaluates every open position once. closeOrder=false logs the
// decisions without submitting orders.
func (e *Engine) Tick(ctx context.Context, positions []types.Position, now time.Time, cfg config.ExitConfig, closeOrder bool) {
	active := make(map[string]bool, len(positions))

	for _, pos := range positions {
		qty := int(pos.QtyAvailable)
		if qty < 1 {
			e.log.Debug("skipping position with no available quantity",
				zap.String("symbol", pos.Symbol))

			continue
		}

		active[pos.Symbol] = true
		e.evaluate(ctx, pos, qty, now, cfg, closeOrder)
	}

	// Positions closed externally disappear from the snapshot; drop
	// their tracking so a re-opened position starts clean.
	for symbol := range e.trailing {
		if !active[symbol] {
			delete(e.trailing, symbol)
		}
	}

	for symbol := range e.prevPnL {
		if !active[symbol] {
			delete(e.prevPnL, symbol)
		}
	}

	e.sales.RetainOnly(active)
}

func (e *Engine) evaluate(ctx context.Context, pos types.Position, qty int, now time.Time, cfg config.ExitConfig, closeOrder bool) {
	symbol := pos.Symbol
	pnl := pos.UnrealizedPLPct
	_, hasTrailing := e.trailing[symbol]

	e.log.Info("position status",
		zap.String("symbol", symbol),
		zap.Int("qty", qty),
		zap.Float64("unrealized_pl_pct", pnl),
		zap.Bool("trailing", hasTrailing))

	// Hard-stop skip: absorb the first N consecutive hits.
	if pnl <= -cfg.HardStopPct && e.skipTaps < cfg.HardStopSkipCount {
		e.log.Info("skipping hard stop",
			zap.String("symbol", symbol),
			zap.Int("skips_used", e.skipTaps),
			zap.Int("skip_count", cfg.HardStopSkipCount))
		e.skipTaps++

		return
	}

	if pnl <= -cfg.HardStopPct || pnl >= cfg.CloseAllAtPct || e.pastCloseAllTime(now, cfg) {
		e.log.Info("closing all",
			zap.String("symbol", symbol),
			zap.Float64("unrealized_pl_pct", pnl))

		if closeOrder {
			e.closeAll(ctx, symbol, qty, true)
			e.skipTaps = 0
		} else {
			e.log.Info("close order flag disabled, skipping close-all")
		}

		return
	}

	switch {
	case pnl >= cfg.MinProfitPct && !hasTrailing:
		// First qualifying profit crossing: ladder sale, then arm the
		// trailing floor unless the sale emptied the position.
		if done := e.ladderSale(ctx, symbol, pnl, qty, now, cfg.ProfitBands, closeOrder); done {
			return
		}

		e.setTrailing(symbol, pnl, cfg)
	case hasTrailing && pnl > e.trailing[symbol]:
		if pnl > e.prevPnL[symbol] {
			if done := e.ladderSale(ctx, symbol, pnl, qty, now, cfg.ProfitBands, closeOrder); done {
				return
			}

			e.setTrailing(symbol, pnl, cfg)
		}
	case hasTrailing && pnl <= e.trailing[symbol]:
		e.log.Info("trailing stop hit",
			zap.String("symbol", symbol),
			zap.Float64("floor", e.trailing[symbol]),
			zap.Float64("unrealized_pl_pct", pnl))

		if closeOrder {
			e.closeAll(ctx, symbol, qty, true)
		} else {
			e.log.Info("close order flag disabled, skipping trailing close")
		}
	case pnl < cfg.MinProfitPct:
		// Stop-loss zone: partial sales off the loss table.
		e.ladderSale(ctx, symbol, pnl, qty, now, cfg.LossBands, closeOrder)
	default:
		e.log.Debug("no action", zap.String("symbol", symbol))
	}
}

// ladderSale performs one banded partial sale. It returns true when
// the sale fully closed the position, meaning no trailing floor should
// be set afterwards.
func (e *Engine) ladderSale(ctx context.Context, symbol string, pnl float64, qty int, now time.Time, bands []config.ExitBand, closeOrder bool) bool {
	band, ok := findBand(bands, pnl)
	if !ok {
		e.log.Debug("no ladder band matched",
			zap.String("symbol", symbol),
			zap.Float64("unrealized_pl_pct", pnl))

		return false
	}

	if !e.sales.Trigger(symbol, band, now) {
		e.log.Debug("band already triggered within cool-down",
			zap.String("symbol", symbol),
			zap.Int("band", band))

		return false
	}

	sellQty := sellQuantity(qty, bands[band].SellFraction)
	if sellQty == 0 {
		return false
	}

	fullClose := qty-sellQty < 1

	e.log.Info("ladder sale",
		zap.String("symbol", symbol),
		zap.Int("band", band),
		zap.Int("sell_qty", sellQty),
		zap.Bool("full_close", fullClose),
		zap.Float64("unrealized_pl_pct", pnl))

	if closeOrder {
		e.closeQty(ctx, symbol, sellQty, fullClose)
	} else {
		e.log.Info("close order flag disabled, skipping ladder sale")
	}

	return fullClose
}

// setTrailing arms or raises the trailing floor. The floor never
// moves down: a band change with a larger offset cannot lower an
// already-raised floor.
func (e *Engine) setTrailing(symbol string, pnl float64, cfg config.ExitConfig) {
	floor := pnl - stopOffsetFor(cfg.ProfitBands, pnl, cfg.DefaultStopOffset)

	if prev, ok := e.trailing[symbol]; ok && prev > floor {
		floor = prev
	}

	e.trailing[symbol] = floor
	e.prevPnL[symbol] = pnl

	e.log.Info("trailing floor set",
		zap.String("symbol", symbol),
		zap.Float64("floor", floor))
}

func (e *Engine) closeAll(ctx context.Context, symbol string, qty int, fullClose bool) {
	e.closeQty(ctx, symbol, qty, fullClose)
}

func (e *Engine) closeQty(ctx context.Context, symbol string, qty int, fullClose bool) {
	if err := e.closer.ClosePosition(ctx, symbol, qty); err != nil {
		e.log.Error("position close failed",
			zap.String("symbol", symbol),
			zap.Int("qty", qty),
			zap.Error(err))

		return
	}

	// A partial ladder sale leaves the trailing floor and profit
	// high-water mark in place; only a full close resets them.
	if fullClose {
		delete(e.trailing, symbol)
		delete(e.prevPnL, symbol)
		e.sales.Forget(symbol)
	}
}

func (e *Engine) pastCloseAllTime(now time.Time, cfg config.ExitConfig) bool {
	hour, minute, ok := cfg.CloseAllClock()
	if !ok {
		return false
	}

	utc := now.UTC()
	cutoff := time.Date(utc.Year(), utc.Month(), utc.Day(), hour, minute, 0, 0, time.UTC)

	return !utc.Before(cutoff)
}
