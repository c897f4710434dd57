package orderage

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantdyne/breakout/internal/config"
	"github.com/quantdyne/breakout/internal/logger"
	"github.com/quantdyne/breakout/internal/types"
)

// Trader is the broker surface the aging engine acts through.
type Trader interface {
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)
	SubmitMarketOrder(ctx context.Context, req types.MarketOrderRequest) (types.Order, error)
	SubmitLimitOrder(ctx context.Context, req types.LimitOrderRequest) (types.Order, error)
	ReplaceOrder(ctx context.Context, symbol, orderID string, newQty float64) (types.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrderStatus(ctx context.Context, symbol, orderID string) (types.OrderStatus, error)
}

type cancelled struct {
	symbol  string
	orderID string
}

// Engine walks every resting limit order once per tick and applies the
// age-tier ladder. Per-symbol state (triggered tier, spent age) is
// owned by the engine; one engine serves one polling loop.
type Engine struct {
	trader Trader
	log    *logger.Logger

	// triggered maps symbol to the breakpoint of the tier last acted
	// on. Tier identity is the breakpoint itself, so a config reload
	// that reshapes the ladder naturally re-arms the symbol.
	triggered map[string]float64
	// spentAge carries elapsed seconds across partial replacements so
	// a replaced order's age clock does not restart from zero.
	spentAge map[string]float64
}

// NewEngine creates an order-aging engine.
func NewEngine(trader Trader, log *logger.Logger) *Engine {
	return &Engine{
		trader:    trader,
		log:       log,
		triggered: make(map[string]float64),
		spentAge:  make(map[string]float64),
	}
}

// SpentAge exposes the carried age for a symbol, zero when none.
func (e *Engine) SpentAge(symbol string) float64 {
	return e.spentAge[symbol]
}

// Tick processes one snapshot of resting orders. Failures on a single
// order are logged and the walk continues; cancellations issued during
// the walk are confirmed at the end with a bounded retry budget.
func (e *Engine) Tick(ctx context.Context, orders []types.Order, now time.Time, cfg config.OrderConfig) {
	active := make(map[string]bool, len(orders))

	var pending []cancelled

	for _, order := range orders {
		if order.Type != types.OrderTypeLimit || order.LimitPrice <= 0 {
			e.log.Debug("skipping order without limit price",
				zap.String("symbol", order.Symbol),
				zap.String("order_id", order.ID))

			continue
		}

		qty := int(order.RemainingQty())
		if qty < 1 {
			continue
		}

		active[order.Symbol] = true

		pending = append(pending, e.age(ctx, order, qty, now, cfg)...)
	}

	for symbol := range e.triggered {
		if !active[symbol] {
			delete(e.triggered, symbol)
		}
	}

	for symbol := range e.spentAge {
		if !active[symbol] {
			delete(e.spentAge, symbol)
		}
	}

	e.confirmCancellations(ctx, pending, cfg)
}

func (e *Engine) age(ctx context.Context, order types.Order, qty int, now time.Time, cfg config.OrderConfig) []cancelled {
	symbol := order.Symbol
	age := round2(now.Sub(order.CreatedAt).Seconds() + e.spentAge[symbol])

	tier, ok := resolveTier(cfg.Tiers, age)
	if !ok {
		e.log.Debug("order below first age breakpoint",
			zap.String("symbol", symbol),
			zap.Float64("age_seconds", age))

		return nil
	}

	t := cfg.Tiers[tier]
	if e.triggered[symbol] == t.BreakpointSeconds {
		e.log.Info("tier already handled for symbol",
			zap.String("symbol", symbol),
			zap.Float64("breakpoint", t.BreakpointSeconds),
			zap.Float64("age_seconds", age))

		return nil
	}

	prevBreakpoint := e.triggered[symbol]
	e.triggered[symbol] = t.BreakpointSeconds

	price, err := e.trader.GetLatestPrice(ctx, symbol)
	if err != nil {
		e.log.Warn("latest price unavailable, skipping order",
			zap.String("symbol", symbol),
			zap.Error(err))

		return nil
	}

	priceDiff := round3(math.Abs(price - order.LimitPrice))

	e.log.Info("aged order",
		zap.String("symbol", symbol),
		zap.Int("qty", qty),
		zap.Float64("age_seconds", age),
		zap.Float64("current_price", price),
		zap.Float64("limit_price", order.LimitPrice),
		zap.Float64("price_diff", priceDiff),
		zap.Float64("price_threshold", t.PriceThreshold),
		zap.Float64("cancel_diff_threshold", t.CancelDiffThreshold))

	switch {
	case priceDiff <= t.PriceThreshold:
		return e.shrinkAndConvert(ctx, order, qty, age, price, t, cfg)
	case priceDiff <= t.CancelDiffThreshold:
		// Price drifted past the shrink window but not enough to force
		// a sell; hold and let the previous tier stand.
		e.log.Info("holding order, price drift inside cancel window",
			zap.String("symbol", symbol),
			zap.Float64("price_diff", priceDiff))
		e.restoreTier(symbol, prevBreakpoint)

		return nil
	default:
		return e.sellDown(ctx, order, qty, age, t, prevBreakpoint)
	}
}

// shrinkAndConvert reduces the resting order and re-submits the shrunk
// delta at the current price. The order's age is carried forward via
// spentAge unless the symbol's remaining quantity drops below one.
func (e *Engine) shrinkAndConvert(ctx context.Context, order types.Order, qty int, age, price float64, t config.AgeTier, cfg config.OrderConfig) []cancelled {
	symbol := order.Symbol

	convertQty := 1
	if qty > 1 {
		convertQty = maxInt(1, int(float64(qty)*t.ReplaceFraction))
	}

	var confirmed []cancelled

	if convertQty >= qty {
		if err := e.trader.CancelOrder(ctx, symbol, order.ID); err != nil {
			e.log.Error("order cancel failed",
				zap.String("symbol", symbol),
				zap.String("order_id", order.ID),
				zap.Error(err))

			return nil
		}

		confirmed = append(confirmed, cancelled{symbol: symbol, orderID: order.ID})
		delete(e.spentAge, symbol)
	} else {
		pendingQty := maxInt(1, qty-convertQty)
		if _, err := e.trader.ReplaceOrder(ctx, symbol, order.ID, float64(pendingQty)); err != nil {
			e.log.Error("order replace failed",
				zap.String("symbol", symbol),
				zap.String("order_id", order.ID),
				zap.Error(err))

			return nil
		}

		e.spentAge[symbol] = age
	}

	e.log.Info("shrunk aged order",
		zap.String("symbol", symbol),
		zap.Int("qty", qty),
		zap.Int("convert_qty", convertQty),
		zap.Float64("age_seconds", age))

	e.submitConversion(ctx, order, convertQty, price, cfg)

	if qty-convertQty < 1 {
		delete(e.spentAge, symbol)
		delete(e.triggered, symbol)
	}

	return confirmed
}

// submitConversion re-places the shrunk delta, either at market or as
// a limit order at the current price.
func (e *Engine) submitConversion(ctx context.Context, order types.Order, qty int, price float64, cfg config.OrderConfig) {
	symbol := order.Symbol

	var err error
	if cfg.ConvertToMarketPrice {
		req := types.MarketOrderRequest{
			ClientOrderID: uuid.NewString(),
			Symbol:        symbol,
			Side:          order.Side,
			Quantity:      float64(qty),
		}
		_, err = e.trader.SubmitMarketOrder(ctx, req)
	} else {
		req := types.LimitOrderRequest{
			ClientOrderID: uuid.NewString(),
			Symbol:        symbol,
			Side:          order.Side,
			Quantity:      float64(qty),
			LimitPrice:    price,
		}
		_, err = e.trader.SubmitLimitOrder(ctx, req)
	}

	if err != nil {
		e.log.Error("conversion order failed",
			zap.String("symbol", symbol),
			zap.Int("qty", qty),
			zap.Float64("price", price),
			zap.Error(err))

		return
	}

	e.log.Info("conversion order submitted",
		zap.String("symbol", symbol),
		zap.Int("qty", qty),
		zap.Float64("price", price),
		zap.Bool("market", cfg.ConvertToMarketPrice))
}

// sellDown reduces the resting order without re-placing the delta.
func (e *Engine) sellDown(ctx context.Context, order types.Order, qty int, age float64, t config.AgeTier, prevBreakpoint float64) []cancelled {
	symbol := order.Symbol

	if t.SellFraction <= 0 {
		e.log.Info("tier has no sell fraction, holding order",
			zap.String("symbol", symbol),
			zap.Float64("age_seconds", age))
		e.restoreTier(symbol, prevBreakpoint)

		return nil
	}

	sellQty := maxInt(1, int(float64(qty)*t.SellFraction))

	var confirmed []cancelled

	if sellQty >= qty {
		if err := e.trader.CancelOrder(ctx, symbol, order.ID); err != nil {
			e.log.Error("order cancel failed",
				zap.String("symbol", symbol),
				zap.String("order_id", order.ID),
				zap.Error(err))

			return nil
		}

		confirmed = append(confirmed, cancelled{symbol: symbol, orderID: order.ID})
	} else {
		pendingQty := maxInt(1, qty-sellQty)
		if _, err := e.trader.ReplaceOrder(ctx, symbol, order.ID, float64(pendingQty)); err != nil {
			e.log.Error("order replace failed",
				zap.String("symbol", symbol),
				zap.String("order_id", order.ID),
				zap.Error(err))

			return nil
		}

		e.spentAge[symbol] = age
	}

	e.log.Info("sold down aged order",
		zap.String("symbol", symbol),
		zap.Int("qty", qty),
		zap.Int("sell_qty", sellQty),
		zap.Float64("age_seconds", age))

	if qty-sellQty < 1 {
		delete(e.spentAge, symbol)
		delete(e.triggered, symbol)
	}

	return confirmed
}

// confirmCancellations polls each cancelled order until it reports a
// terminal status or the retry budget runs out. A timeout is logged,
// not fatal.
func (e *Engine) confirmCancellations(ctx context.Context, pending []cancelled, cfg config.OrderConfig) {
	delay := time.Duration(cfg.ConfirmDelaySeconds * float64(time.Second))

	for _, c := range pending {
		confirmed := false

		for attempt := 0; attempt < cfg.ConfirmRetries; attempt++ {
			status, err := e.trader.GetOrderStatus(ctx, c.symbol, c.orderID)
			if err == nil && status.IsTerminal() {
				e.log.Debug("order cancellation confirmed",
					zap.String("symbol", c.symbol),
					zap.String("order_id", c.orderID),
					zap.String("status", string(status)))
				confirmed = true

				break
			}

			if err != nil {
				e.log.Debug("order status fetch failed, retrying",
					zap.String("order_id", c.orderID),
					zap.Error(err))
			}

			if !sleepCtx(ctx, delay) {
				return
			}
		}

		if !confirmed {
			e.log.Warn("order cancellation not confirmed",
				zap.String("symbol", c.symbol),
				zap.String("order_id", c.orderID),
				zap.Int("retries", cfg.ConfirmRetries))
		}
	}
}

func (e *Engine) restoreTier(symbol string, prevBreakpoint float64) {
	if prevBreakpoint == 0 {
		delete(e.triggered, symbol)

		return
	}

	e.triggered[symbol] = prevBreakpoint
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
