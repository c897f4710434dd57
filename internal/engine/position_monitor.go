package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantdyne/breakout/internal/config"
	"github.com/quantdyne/breakout/internal/exits"
	"github.com/quantdyne/breakout/internal/logger"
	"github.com/quantdyne/breakout/internal/types"
)

// PositionTrader is the broker surface the position monitor needs.
type PositionTrader interface {
	GetOpenPositions(ctx context.Context) ([]types.Position, error)
	GetClock(ctx context.Context) (types.Clock, error)
	SubmitMarketOrder(ctx context.Context, req types.MarketOrderRequest) (types.Order, error)
}

// marketCloser liquidates position quantity with a market sell.
type marketCloser struct {
	trader PositionTrader
}

func (c *marketCloser) ClosePosition(ctx context.Context, symbol string, qty int) error {
	req := types.MarketOrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        symbol,
		Side:          types.OrderSideSell,
		Quantity:      float64(qty),
	}

	_, err := c.trader.SubmitMarketOrder(ctx, req)

	return err
}

// PositionMonitor feeds open-position snapshots into the tiered exit
// engine every poll interval while the market is open.
type PositionMonitor struct {
	store  *config.Store
	trader PositionTrader
	engine *exits.Engine
	log    *logger.Logger
}

// NewPositionMonitor creates a position monitor and its exit engine.
func NewPositionMonitor(store *config.Store, trader PositionTrader, log *logger.Logger) *PositionMonitor {
	cfg := store.Snapshot()

	return &PositionMonitor{
		store:  store,
		trader: trader,
		engine: exits.NewEngine(&marketCloser{trader: trader}, seconds(cfg.Exits.SaleExpirySeconds), log),
		log:    log,
	}
}

// Run polls until ctx is cancelled.
func (m *PositionMonitor) Run(ctx context.Context) {
	m.log.Info("position monitor started")

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

func (m *PositionMonitor) tick(ctx context.Context, cfg *config.Config) time.Duration {
	now := time.Now().UTC()
	errSleep := seconds(cfg.Loop.ErrorSleepSeconds)

	clock, err := m.trader.GetClock(ctx)
	if err != nil {
		m.log.Error("clock fetch failed", zap.Error(err))

		return errSleep
	}

	if !clock.IsOpen {
		m.log.Info("market closed, position monitor idle")

		return nextWake(clock, time.Time{}, now, cfg.Timeframe(), cfg.Loop)
	}

	positions, err := m.trader.GetOpenPositions(ctx)
	if err != nil {
		m.log.Error("position fetch failed", zap.Error(err))

		return errSleep
	}

	m.engine.Tick(ctx, positions, now, cfg.Exits, cfg.Signal.CloseOrder)

	return seconds(cfg.Loop.PollSeconds)
}
