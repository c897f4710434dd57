// Package broker defines the trading venue interface the engines act
// through, plus a Binance-backed implementation and a retry wrapper
// for transient read failures.
package broker

import (
	"context"
	"time"

	"github.com/quantdyne/breakout/internal/types"
)

// Broker is the narrow surface the engines consume. Implementations
// map venue-specific APIs onto it; all calls take a context and return
// explicit errors with pkg/errors codes.
type Broker interface {
	// GetBars returns OHLCV bars for symbol between start and end at
	// the given timeframe, oldest first.
	GetBars(ctx context.Context, symbol string, start, end time.Time, timeframe time.Duration) ([]types.Bar, error)

	// GetOpenPositions returns all open positions with unrealized P&L.
	GetOpenPositions(ctx context.Context) ([]types.Position, error)

	// GetOpenOrders returns resting orders for symbol.
	GetOpenOrders(ctx context.Context, symbol string) ([]types.Order, error)

	SubmitMarketOrder(ctx context.Context, req types.MarketOrderRequest) (types.Order, error)
	SubmitLimitOrder(ctx context.Context, req types.LimitOrderRequest) (types.Order, error)

	// ReplaceOrder reduces a resting order to newQty, keeping its
	// limit price. Venues without native replace implement this as
	// cancel plus re-create.
	ReplaceOrder(ctx context.Context, symbol, orderID string, newQty float64) (types.Order, error)

	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrderStatus(ctx context.Context, symbol, orderID string) (types.OrderStatus, error)

	GetLatestPrice(ctx context.Context, symbol string) (float64, error)

	GetClock(ctx context.Context) (types.Clock, error)
	GetCalendar(ctx context.Context, start, end time.Time) ([]types.TradingDay, error)
}
