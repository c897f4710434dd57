package broker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/quantdyne/breakout/internal/logger"
	"github.com/quantdyne/breakout/internal/types"
	"github.com/quantdyne/breakout/pkg/errors"
)

// Retrier wraps broker market-data reads with exponential backoff and
// jitter. Transient failures are retried up to maxRetries; once the
// budget is exhausted the read degrades to empty data so the polling
// loop treats the tick as "no data" instead of failing. Non-transient
// errors are returned immediately.
type Retrier struct {
	broker     Broker
	maxRetries uint64
	baseDelay  time.Duration
	log        *logger.Logger
}

// NewRetrier creates a retry wrapper around b.
func NewRetrier(b Broker, maxRetries uint64, baseDelay time.Duration, log *logger.Logger) *Retrier {
	return &Retrier{
		broker:     b,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		log:        log,
	}
}

func (r *Retrier) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.baseDelay

	return backoff.WithContext(backoff.WithMaxRetries(bo, r.maxRetries), ctx)
}

func (r *Retrier) retry(ctx context.Context, op string, fn func() error) error {
	attempt := 0

	err := backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}

		if !errors.IsTransient(err) {
			return backoff.Permanent(err)
		}

		attempt++
		r.log.Warn("transient broker failure, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))

		return err
	}, r.newBackOff(ctx))

	return err
}

// GetBars fetches bars with retries, degrading to an empty slice when
// the retry budget is exhausted on transient failures.
func (r *Retrier) GetBars(ctx context.Context, symbol string, start, end time.Time, timeframe time.Duration) ([]types.Bar, error) {
	var bars []types.Bar

	err := r.retry(ctx, "get_bars", func() error {
		var innerErr error
		bars, innerErr = r.broker.GetBars(ctx, symbol, start, end, timeframe)

		return innerErr
	})
	if err != nil {
		if errors.IsTransient(err) {
			r.log.Warn("bar fetch exhausted retries, degrading to no data",
				zap.String("symbol", symbol),
				zap.Error(err))

			return []types.Bar{}, nil
		}

		return nil, err
	}

	return bars, nil
}

// GetLatestPrice fetches the latest price with retries.
func (r *Retrier) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64

	err := r.retry(ctx, "get_latest_price", func() error {
		var innerErr error
		price, innerErr = r.broker.GetLatestPrice(ctx, symbol)

		return innerErr
	})

	return price, err
}

// GetOpenPositions fetches positions with retries.
func (r *Retrier) GetOpenPositions(ctx context.Context) ([]types.Position, error) {
	var positions []types.Position

	err := r.retry(ctx, "get_open_positions", func() error {
		var innerErr error
		positions, innerErr = r.broker.GetOpenPositions(ctx)

		return innerErr
	})

	return positions, err
}

// GetOpenOrders fetches resting orders with retries.
func (r *Retrier) GetOpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	var orders []types.Order

	err := r.retry(ctx, "get_open_orders", func() error {
		var innerErr error
		orders, innerErr = r.broker.GetOpenOrders(ctx, symbol)

		return innerErr
	})

	return orders, err
}

// GetClock fetches the session clock with retries.
func (r *Retrier) GetClock(ctx context.Context) (types.Clock, error) {
	var clock types.Clock

	err := r.retry(ctx, "get_clock", func() error {
		var innerErr error
		clock, innerErr = r.broker.GetClock(ctx)

		return innerErr
	})

	return clock, err
}

// GetCalendar fetches trading days with retries.
func (r *Retrier) GetCalendar(ctx context.Context, start, end time.Time) ([]types.TradingDay, error) {
	var days []types.TradingDay

	err := r.retry(ctx, "get_calendar", func() error {
		var innerErr error
		days, innerErr = r.broker.GetCalendar(ctx, start, end)

		return innerErr
	})

	return days, err
}

// GetOrderStatus fetches an order's status with retries.
func (r *Retrier) GetOrderStatus(ctx context.Context, symbol, orderID string) (types.OrderStatus, error) {
	var status types.OrderStatus

	err := r.retry(ctx, "get_order_status", func() error {
		var innerErr error
		status, innerErr = r.broker.GetOrderStatus(ctx, symbol, orderID)

		return innerErr
	})

	return status, err
}

// Order mutations pass through without retries: a timed-out submit or
// cancel may still have been applied on the venue, so replaying it
// risks duplicate fills. The engines treat these failures per tick.

func (r *Retrier) SubmitMarketOrder(ctx context.Context, req types.MarketOrderRequest) (types.Order, error) {
	return r.broker.SubmitMarketOrder(ctx, req)
}

func (r *Retrier) SubmitLimitOrder(ctx context.Context, req types.LimitOrderRequest) (types.Order, error) {
	return r.broker.SubmitLimitOrder(ctx, req)
}

func (r *Retrier) ReplaceOrder(ctx context.Context, symbol, orderID string, newQty float64) (types.Order, error) {
	return r.broker.ReplaceOrder(ctx, symbol, orderID, newQty)
}

func (r *Retrier) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return r.broker.CancelOrder(ctx, symbol, orderID)
}

var _ Broker = (*Retrier)(nil)
