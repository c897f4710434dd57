// Package breakout converts raw band crossings into published trading
// signals under trend confirmation and a constraint gate.
package breakout

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/quantdyne/breakout/internal/config"
	"github.com/quantdyne/breakout/internal/logger"
	"github.com/quantdyne/breakout/internal/messaging"
	"github.com/quantdyne/breakout/internal/trend"
	"github.com/quantdyne/breakout/internal/types"
)

// TickInput is everything one gate evaluation needs. The caller owns
// the bar series and band; the gate only sees the crossing edges.
type TickInput struct {
	Bar         types.Bar
	CrossedUp   bool
	CrossedDown bool
	MarketOpen  bool
	// CreateOrder gates publishing of new breakouts; CloseOrder gates
	// publishing of reversal closes. Both are mode-dependent: the
	// historical catch-up mode usually runs with them off.
	CreateOrder bool
	CloseOrder  bool
	Signal      config.SignalConfig
	SkipDays    map[string]struct{}
	Queue       string
}

// Gate is the per-symbol breakout state machine. It applies the trend
// filter once per tick, vetoes candidates that fail the constraint
// gate, publishes confirmed events, and tracks the open breakout for
// reversal detection. Not safe for concurrent use; each symbol's loop
// owns one gate.
type Gate struct {
	symbol    string
	publisher messaging.Publisher
	log       *logger.Logger

	filter trend.FilterState
	ledger Ledger

	dailyCount       int
	barsSince        int
	counting         bool
	currentDate      string
	lastBreakoutDate string
}

// NewGate creates a gate for one symbol.
func NewGate(symbol string, publisher messaging.Publisher, log *logger.Logger) *Gate {
	return &Gate{
		symbol:    symbol,
		publisher: publisher,
		log:       log,
	}
}

// Ledger exposes the tracked breakout for inspection.
func (g *Gate) Ledger() Ledger {
	return g.ledger
}

// Evaluate runs one tick of the gate and returns every event that was
// successfully published (at most one breakout and one reversal).
// Publish failures are logged; a failed breakout publish leaves the
// ledger untouched so the signal is not considered open. The trend
// filter state always advances exactly once regardless of outcome.
func (g *Gate) Evaluate(ctx context.Context, in TickInput) []types.BreakoutEvent {
	barDate := in.Bar.Time.UTC().Format("2006-01-02")

	// Date rollover: forget yesterday's breakout and reset the daily
	// position budget.
	if g.currentDate != barDate {
		if g.currentDate != "" {
			g.ledger.Clear()
		}

		g.currentDate = barDate
	}

	if g.lastBreakoutDate != barDate {
		g.dailyCount = 0
	}

	published := make([]types.BreakoutEvent, 0, 2)

	prevVelocity := g.filter.Velocity
	filterApplied := false

	switch {
	case in.CrossedUp:
		confirmed := true

		if in.Signal.EnableKalman {
			next, bullish := g.filter.Apply(in.Bar)
			g.filter = next
			filterApplied = true

			// Momentum acceleration override: allow the signal when
			// velocity is rising even though it is still negative.
			if !bullish && next.Velocity > prevVelocity {
				g.log.Debug("confirming up breakout on rising velocity",
					zap.Float64("velocity", next.Velocity),
					zap.Float64("prev_velocity", prevVelocity))

				bullish = true
			}

			confirmed = bullish
		}

		if !confirmed {
			g.logVeto("trend filter bearish", zap.Float64("velocity", g.filter.Velocity))

			break
		}

		if event, ok := g.tryPublishBreakout(ctx, in, types.DirectionUp, barDate); ok {
			published = append(published, event)
		}
	case in.CrossedDown:
		confirmed := true

		if in.Signal.EnableKalman {
			next, bullish := g.filter.Apply(in.Bar)
			g.filter = next
			filterApplied = true

			bearish := !bullish
			if !bearish && next.Velocity < prevVelocity {
				g.log.Debug("confirming down breakout on falling velocity",
					zap.Float64("velocity", next.Velocity),
					zap.Float64("prev_velocity", prevVelocity))

				bearish = true
			}

			confirmed = bearish
		}

		if !confirmed {
			g.logVeto("trend filter bullish", zap.Float64("velocity", g.filter.Velocity))

			break
		}

		if event, ok := g.tryPublishBreakout(ctx, in, types.DirectionDown, barDate); ok {
			published = append(published, event)
		}
	}

	// The filter advances exactly once per tick even when no candidate
	// crossing fired or confirmation was skipped.
	if !filterApplied {
		g.filter, _ = g.filter.Apply(in.Bar)
	}

	if g.counting {
		g.barsSince++
	}

	if event, ok := g.tryPublishReversal(ctx, in); ok {
		published = append(published, event)
	}

	return published
}

// tryPublishBreakout runs the constraint gate and direction check,
// publishes the event, and records it in the ledger only when the
// publish succeeded.
func (g *Gate) tryPublishBreakout(ctx context.Context, in TickInput, direction types.Direction, barDate string) (types.BreakoutEvent, bool) {
	if !g.checkConstraints(in, barDate) {
		return types.BreakoutEvent{}, false
	}

	if direction == types.DirectionUp && in.Bar.Close < in.Bar.Open {
		g.logVeto("bearish candle on up breakout",
			zap.Float64("close", in.Bar.Close),
			zap.Float64("open", in.Bar.Open))

		return types.BreakoutEvent{}, false
	}

	if direction == types.DirectionDown && in.Bar.Close > in.Bar.Open {
		g.logVeto("bullish candle on down breakout",
			zap.Float64("close", in.Bar.Close),
			zap.Float64("open", in.Bar.Open))

		return types.BreakoutEvent{}, false
	}

	if !in.CreateOrder {
		g.logVeto("order creation disabled")

		return types.BreakoutEvent{}, false
	}

	event := types.BreakoutEvent{
		Symbol:      g.symbol,
		Direction:   direction,
		ClosePrice:  in.Bar.Close,
		OpenPrice:   in.Bar.Open,
		BarTime:     in.Bar.Time,
		CandleSize:  candleSize(in.Bar),
		Volume:      in.Bar.Volume,
		BarStrength: in.Bar.Strength(direction == types.DirectionUp),
	}

	if err := g.publisher.Publish(ctx, in.Queue, event); err != nil {
		g.log.Error("breakout publish failed, signal not recorded",
			zap.String("symbol", g.symbol),
			zap.String("direction", string(direction)),
			zap.Error(err))

		return types.BreakoutEvent{}, false
	}

	g.ledger.Record(in.Bar.Open, direction)
	g.barsSince = 0
	g.counting = true
	g.lastBreakoutDate = barDate
	g.dailyCount++

	g.log.Info("breakout published",
		zap.String("symbol", g.symbol),
		zap.String("direction", string(direction)),
		zap.Float64("close", in.Bar.Close),
		zap.Int("daily_count", g.dailyCount))

	return event, true
}

// tryPublishReversal publishes a reverse-direction close when price
// has crossed back through the tracked breakout's open. Any attempted
// close clears the ledger, even on publish failure, matching the
// at-most-one-close contract downstream.
func (g *Gate) tryPublishReversal(ctx context.Context, in TickInput) (types.BreakoutEvent, bool) {
	if !in.MarketOpen || !g.ledger.Active() {
		return types.BreakoutEvent{}, false
	}

	direction, ok := g.ledger.Reversal(in.Bar.Close)
	if !ok {
		return types.BreakoutEvent{}, false
	}

	if !in.CloseOrder {
		g.log.Info("skipping reversal close, closing disabled",
			zap.String("symbol", g.symbol))

		return types.BreakoutEvent{}, false
	}

	event := types.BreakoutEvent{
		Symbol:      g.symbol,
		Direction:   direction,
		ClosePrice:  in.Bar.Close,
		OpenPrice:   g.ledger.OpenPrice,
		BarTime:     in.Bar.Time,
		CandleSize:  0,
		Volume:      in.Bar.Volume,
		BarStrength: in.Bar.Strength(direction == types.DirectionReverseUp),
	}

	err := g.publisher.Publish(ctx, in.Queue, event)

	g.ledger.Clear()

	if err != nil {
		g.log.Error("reversal publish failed",
			zap.String("symbol", g.symbol),
			zap.String("direction", string(direction)),
			zap.Error(err))

		return types.BreakoutEvent{}, false
	}

	g.log.Info("reversal close published",
		zap.String("symbol", g.symbol),
		zap.String("direction", string(direction)),
		zap.Float64("close", in.Bar.Close))

	return event, true
}

// checkConstraints evaluates the veto gate. Every failing constraint
// is logged; none is an error.
func (g *Gate) checkConstraints(in TickInput, barDate string) bool {
	size := candleSize(in.Bar)
	if size > in.Signal.MaxCandleSize {
		g.logVeto("candle size exceeds limit",
			zap.Float64("size", size),
			zap.Float64("limit", in.Signal.MaxCandleSize))

		return false
	}

	if in.Bar.Volume > in.Signal.MaxVolume {
		g.logVeto("volume exceeds limit",
			zap.Float64("volume", in.Bar.Volume),
			zap.Float64("limit", in.Signal.MaxVolume))

		return false
	}

	if g.dailyCount >= in.Signal.MaxDailyPositions {
		g.logVeto("daily position cap reached",
			zap.Int("count", g.dailyCount),
			zap.Int("limit", in.Signal.MaxDailyPositions))

		return false
	}

	if g.barsSince > 0 && g.barsSince < in.Signal.MinGapBars {
		g.logVeto("breakout too close to previous",
			zap.Int("bars_since", g.barsSince),
			zap.Int("min_gap", in.Signal.MinGapBars))

		return false
	}

	if _, skip := in.SkipDays[barDate]; skip {
		g.logVeto("trading skipped for date", zap.String("date", barDate))

		return false
	}

	if !in.MarketOpen {
		g.logVeto("market is closed")

		return false
	}

	return true
}

func (g *Gate) logVeto(reason string, fields ...zap.Field) {
	fields = append([]zap.Field{
		zap.String("symbol", g.symbol),
		zap.String("reason", reason),
	}, fields...)
	g.log.Info("skipping breakout", fields...)
}

func candleSize(bar types.Bar) float64 {
	return math.Round(bar.Range()*1e4) / 1e4
}
