package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quantdyne/breakout/internal/config"
	"github.com/quantdyne/breakout/internal/logger"
	"github.com/quantdyne/breakout/internal/orderage"
	"github.com/quantdyne/breakout/internal/types"
)

// OrderTrader is the broker surface the order monitor needs.
type OrderTrader interface {
	orderage.Trader

	GetOpenOrders(ctx context.Context, symbol string) ([]types.Order, error)
	GetClock(ctx context.Context) (types.Clock, error)
}

// OrderMonitor feeds resting-order snapshots into the aging engine
// every poll interval while the market is open.
type OrderMonitor struct {
	store  *config.Store
	trader OrderTrader
	engine *orderage.Engine
	log    *logger.Logger
}

// NewOrderMonitor creates an order monitor and its aging engine.
func NewOrderMonitor(store *config.Store, trader OrderTrader, log *logger.Logger) *OrderMonitor {
	return &OrderMonitor{
		store:  store,
		trader: trader,
		engine: orderage.NewEngine(trader, log),
		log:    log,
	}
}

// Run polls until ctx is cancelled.
func (m *OrderMonitor) Run(ctx context.Context) {
	m.log.Info("order monitor started")

	for {
		if ctx.Err() != nil {
			return
		}

		cfg := m.store.Snapshot()

		if !sleepCtx(ctx, m.tick(ctx, cfg)) {
			return
		}
	}
}

func (m *OrderMonitor) tick(ctx context.Context, cfg *config.Config) time.Duration {
	now := time.Now().UTC()
	errSleep := seconds(cfg.Loop.ErrorSleepSeconds)

	clock, err := m.trader.GetClock(ctx)
	if err != nil {
		m.log.Error("clock fetch failed", zap.Error(err))

		return errSleep
	}

	if !clock.IsOpen {
		m.log.Info("market closed, order monitor idle")

		return nextWake(clock, time.Time{}, now, cfg.Timeframe(), cfg.Loop)
	}

	orders, err := m.trader.GetOpenOrders(ctx, cfg.Symbol)
	if err != nil {
		m.log.Error("order fetch failed", zap.Error(err))

		return errSleep
	}

	if len(orders) == 0 {
		m.log.Debug("no resting orders")
	}

	m.engine.Tick(ctx, orders, now, cfg.Orders)

	return seconds(cfg.Loop.PollSeconds)
}
