package orderage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/quantdyne/breakout/internal/config"
	"github.com/quantdyne/breakout/internal/logger"
	"github.com/quantdyne/breakout/internal/types"
	"github.com/quantdyne/breakout/pkg/errors"
)

type fakeTrader struct {
	price    float64
	priceErr error

	marketOrders []types.MarketOrderRequest
	limitOrders  []types.LimitOrderRequest
	replaced     []float64
	cancelledIDs []string
	statusCalls  int
	status       types.OrderStatus
}

func (f *fakeTrader) GetLatestPrice(_ context.Context, _ string) (float64, error) {
	if f.priceErr != nil {
		return 0, f.priceErr
	}

	return f.price, nil
}

func (f *fakeTrader) SubmitMarketOrder(_ context.Context, req types.MarketOrderRequest) (types.Order, error) {
	f.marketOrders = append(f.marketOrders, req)

	return types.Order{ID: "m1", Symbol: req.Symbol}, nil
}

func (f *fakeTrader) SubmitLimitOrder(_ context.Context, req types.LimitOrderRequest) (types.Order, error) {
	f.limitOrders = append(f.limitOrders, req)

	return types.Order{ID: "l1", Symbol: req.Symbol}, nil
}

func (f *fakeTrader) ReplaceOrder(_ context.Context, symbol, orderID string, newQty float64) (types.Order, error) {
	f.replaced = append(f.replaced, newQty)

	return types.Order{ID: orderID, Symbol: symbol, Quantity: newQty}, nil
}

func (f *fakeTrader) CancelOrder(_ context.Context, _, orderID string) error {
	f.cancelledIDs = append(f.cancelledIDs, orderID)

	return nil
}

func (f *fakeTrader) GetOrderStatus(_ context.Context, _, _ string) (types.OrderStatus, error) {
	f.statusCalls++

	return f.status, nil
}

type OrderAgeTestSuite struct {
	suite.Suite

	trader *fakeTrader
	engine *Engine
	now    time.Time
}

func TestOrderAgeSuite(t *testing.T) {
	suite.Run(t, new(OrderAgeTestSuite))
}

func (suite *OrderAgeTestSuite) SetupTest() {
	suite.trader = &fakeTrader{price: 1.25, status: types.OrderStatusCancelled}
	suite.engine = NewEngine(suite.trader, logger.NewNopLogger())
	suite.now = time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
}

func (suite *OrderAgeTestSuite) orderConfig() config.OrderConfig {
	return config.OrderConfig{
		Tiers: []config.AgeTier{
			{BreakpointSeconds: 60, SellFraction: 0.30, PriceThreshold: 0.01, ReplaceFraction: 0.25, CancelDiffThreshold: 0.05},
			{BreakpointSeconds: 120, SellFraction: 0.50, PriceThreshold: 0.02, ReplaceFraction: 0.40, CancelDiffThreshold: 0.08},
			{BreakpointSeconds: 300, SellFraction: 1.00, PriceThreshold: 0.05, ReplaceFraction: 1.00, CancelDiffThreshold: 0.10},
		},
		ConfirmRetries:       3,
		ConfirmDelaySeconds:  0,
		ConvertToMarketPrice: true,
	}
}

func (suite *OrderAgeTestSuite) order(ageSeconds float64, qty int, limitPrice float64) types.Order {
	return types.Order{
		ID:         "o1",
		Symbol:     "BTCUSDT",
		Side:       types.OrderSideBuy,
		Type:       types.OrderTypeLimit,
		Quantity:   float64(qty),
		LimitPrice: limitPrice,
		Status:     types.OrderStatusPending,
		CreatedAt:  suite.now.Add(-time.Duration(ageSeconds * float64(time.Second))),
	}
}

func (suite *OrderAgeTestSuite) tick(order types.Order) {
	suite.engine.Tick(context.Background(), []types.Order{order}, suite.now, suite.orderConfig())
}

func (suite *OrderAgeTestSuite) TestResolveTier() {
	tiers := suite.orderConfig().Tiers

	_, ok := resolveTier(tiers, 30)
	suite.False(ok)

	tier, ok := resolveTier(tiers, 125)
	suite.Require().True(ok)
	suite.Equal(1, tier)

	tier, ok = resolveTier(tiers, 60)
	suite.Require().True(ok)
	suite.Equal(0, tier)

	tier, ok = resolveTier(tiers, 500)
	suite.Require().True(ok)
	suite.Equal(2, tier)
}

func (suite *OrderAgeTestSuite) TestYoungOrderUntouched() {
	suite.tick(suite.order(30, 10, 1.25))

	suite.Empty(suite.trader.replaced)
	suite.Empty(suite.trader.cancelledIDs)
	suite.Empty(suite.trader.marketOrders)
}

func (suite *OrderAgeTestSuite) TestShrinkAndConvertWithinThreshold() {
	// Price diff 0.005 is inside tier 1's 0.02 shrink window.
	suite.trader.price = 1.255
	suite.tick(suite.order(125, 10, 1.25))

	// 40% of 10 converts, 6 stay resting.
	suite.Require().Len(suite.trader.replaced, 1)
	suite.Equal(6.0, suite.trader.replaced[0])
	suite.Require().Len(suite.trader.marketOrders, 1)
	suite.Equal(4.0, suite.trader.marketOrders[0].Quantity)
	suite.Equal(types.OrderSideBuy, suite.trader.marketOrders[0].Side)

	// The order's age is carried for the replacement.
	suite.Equal(125.0, suite.engine.SpentAge("BTCUSDT"))
}

func (suite *OrderAgeTestSuite) TestConversionAsLimitOrder() {
	cfg := suite.orderConfig()
	cfg.ConvertToMarketPrice = false

	suite.trader.price = 1.255
	suite.engine.Tick(context.Background(), []types.Order{suite.order(125, 10, 1.25)}, suite.now, cfg)

	suite.Empty(suite.trader.marketOrders)
	suite.Require().Len(suite.trader.limitOrders, 1)
	suite.Equal(1.255, suite.trader.limitOrders[0].LimitPrice)
}

func (suite *OrderAgeTestSuite) TestTierNotTriggeredTwice() {
	suite.trader.price = 1.255
	suite.tick(suite.order(125, 10, 1.25))
	suite.Require().Len(suite.trader.replaced, 1)

	// Same tier on the next tick: nothing happens.
	suite.tick(suite.order(10, 6, 1.25))
	suite.Len(suite.trader.replaced, 1)
	suite.Len(suite.trader.marketOrders, 1)
}

func (suite *OrderAgeTestSuite) TestSpentAgeCarriesIntoNextTier() {
	suite.trader.price = 1.255
	suite.tick(suite.order(125, 10, 1.25))

	// The replacement order is only 180s old on its own clock, but the
	// carried 125s pushes the effective age past the 300s breakpoint.
	suite.tick(suite.order(180, 6, 1.25))

	suite.Require().Len(suite.trader.replaced, 1)
	suite.Require().Len(suite.trader.cancelledIDs, 1)
	suite.Len(suite.trader.marketOrders, 2)
}

func (suite *OrderAgeTestSuite) TestHoldWindowKeepsPreviousTier() {
	// Diff 0.04 exceeds tier 1's 0.02 shrink threshold but is inside
	// its 0.08 cancel window: hold.
	suite.trader.price = 1.29
	suite.tick(suite.order(125, 10, 1.25))

	suite.Empty(suite.trader.replaced)
	suite.Empty(suite.trader.cancelledIDs)
	suite.Empty(suite.trader.marketOrders)

	// Price comes back inside the shrink window: the tier is still
	// armed and fires.
	suite.trader.price = 1.255
	suite.tick(suite.order(130, 10, 1.25))
	suite.Len(suite.trader.replaced, 1)
}

func (suite *OrderAgeTestSuite) TestSellDownBeyondCancelWindow() {
	// Diff 0.10 exceeds tier 1's 0.08 cancel window: sell down 50%,
	// no conversion order.
	suite.trader.price = 1.35
	suite.tick(suite.order(125, 10, 1.25))

	suite.Require().Len(suite.trader.replaced, 1)
	suite.Equal(5.0, suite.trader.replaced[0])
	suite.Empty(suite.trader.marketOrders)
	suite.Equal(125.0, suite.engine.SpentAge("BTCUSDT"))
}

func (suite *OrderAgeTestSuite) TestSingleUnitOrderCancelledOutright() {
	suite.trader.price = 1.255
	suite.tick(suite.order(125, 1, 1.25))

	suite.Require().Len(suite.trader.cancelledIDs, 1)
	suite.Empty(suite.trader.replaced)
	// The lone unit is re-placed at current price.
	suite.Require().Len(suite.trader.marketOrders, 1)
	suite.Equal(1.0, suite.trader.marketOrders[0].Quantity)
	// Quantity exhausted: tracking dropped, age clock reset.
	suite.Equal(0.0, suite.engine.SpentAge("BTCUSDT"))
}

func (suite *OrderAgeTestSuite) TestExhaustedQuantityRearmsTier() {
	// Full sell-down at tier 2 (fraction 1.0) empties the order.
	suite.trader.price = 1.40
	suite.tick(suite.order(500, 4, 1.25))

	suite.Require().Len(suite.trader.cancelledIDs, 1)
	suite.Equal(0.0, suite.engine.SpentAge("BTCUSDT"))

	// A fresh order aging into the same tier triggers again.
	fresh := suite.order(500, 4, 1.25)
	fresh.ID = "o2"
	suite.tick(fresh)

	suite.Len(suite.trader.cancelledIDs, 2)
}

func (suite *OrderAgeTestSuite) TestPriceFetchFailureSkipsOrder() {
	suite.trader.priceErr = errors.New(errors.ErrCodeMarketDataFailed, "quote feed down")
	suite.tick(suite.order(125, 10, 1.25))

	suite.Empty(suite.trader.replaced)
	suite.Empty(suite.trader.cancelledIDs)
}

func (suite *OrderAgeTestSuite) TestCancellationConfirmed() {
	suite.trader.price = 1.255
	suite.tick(suite.order(125, 1, 1.25))

	suite.Require().Len(suite.trader.cancelledIDs, 1)
	// Confirmed on the first status poll.
	suite.Equal(1, suite.trader.statusCalls)
}

func (suite *OrderAgeTestSuite) TestCancellationConfirmationBounded() {
	suite.trader.price = 1.255
	suite.trader.status = types.OrderStatusPending
	suite.tick(suite.order(125, 1, 1.25))

	// Never terminal: polls stop at the retry budget.
	suite.Equal(3, suite.trader.statusCalls)
}

func (suite *OrderAgeTestSuite) TestInactiveSymbolCleanedUp() {
	suite.trader.price = 1.35
	suite.tick(suite.order(125, 10, 1.25))
	suite.Equal(125.0, suite.engine.SpentAge("BTCUSDT"))

	// The symbol disappears from the order snapshot.
	suite.engine.Tick(context.Background(), nil, suite.now, suite.orderConfig())
	suite.Equal(0.0, suite.engine.SpentAge("BTCUSDT"))
}

func (suite *OrderAgeTestSuite) TestMarketOrderSkipped() {
	order := suite.order(500, 10, 1.25)
	order.Type = types.OrderTypeMarket

	suite.tick(order)

	suite.Empty(suite.trader.replaced)
	suite.Empty(suite.trader.cancelledIDs)
}
