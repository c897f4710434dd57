package broker

import (
	"context"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/suite"

	"github.com/quantdyne/breakout/internal/types"
)

type BinanceBrokerTestSuite struct {
	suite.Suite
}

func TestBinanceBrokerSuite(t *testing.T) {
	suite.Run(t, new(BinanceBrokerTestSuite))
}

func (suite *BinanceBrokerTestSuite) TestIntervalString() {
	interval, err := intervalString(5 * time.Minute)
	suite.NoError(err)
	suite.Equal("5m", interval)

	interval, err = intervalString(time.Hour)
	suite.NoError(err)
	suite.Equal("1h", interval)

	_, err = intervalString(90 * time.Second)
	suite.Error(err)
}

func (suite *BinanceBrokerTestSuite) TestMapBinanceOrderStatus() {
	suite.Equal(types.OrderStatusPending, mapBinanceOrderStatus(binance.OrderStatusTypeNew))
	suite.Equal(types.OrderStatusPartiallyFilled, mapBinanceOrderStatus(binance.OrderStatusTypePartiallyFilled))
	suite.Equal(types.OrderStatusFilled, mapBinanceOrderStatus(binance.OrderStatusTypeFilled))
	suite.Equal(types.OrderStatusCancelled, mapBinanceOrderStatus(binance.OrderStatusTypeCanceled))
	suite.Equal(types.OrderStatusRejected, mapBinanceOrderStatus(binance.OrderStatusTypeRejected))
	suite.Equal(types.OrderStatusExpired, mapBinanceOrderStatus(binance.OrderStatusTypeExpired))
}

func (suite *BinanceBrokerTestSuite) TestConvertBinanceOrder() {
	created := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	order := convertBinanceOrder(&binance.Order{
		OrderID:          12345,
		ClientOrderID:    "abc",
		Symbol:           "BTCUSDT",
		Side:             binance.SideTypeSell,
		Type:             binance.OrderTypeLimit,
		OrigQuantity:     "10",
		ExecutedQuantity: "4",
		Price:            "65000.5",
		Status:           binance.OrderStatusTypePartiallyFilled,
		Time:             created.UnixMilli(),
	})

	suite.Equal("12345", order.ID)
	suite.Equal(types.OrderSideSell, order.Side)
	suite.Equal(types.OrderTypeLimit, order.Type)
	suite.Equal(10.0, order.Quantity)
	suite.Equal(4.0, order.FilledQty)
	suite.Equal(6.0, order.RemainingQty())
	suite.Equal(65000.5, order.LimitPrice)
	suite.Equal(types.OrderStatusPartiallyFilled, order.Status)
	suite.Equal(created, order.CreatedAt)
}

func (suite *BinanceBrokerTestSuite) TestGetCalendarSynthesizesDays() {
	b := newBinanceBrokerWithClient(nil)

	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)

	days, err := b.GetCalendar(context.Background(), start, end)
	suite.NoError(err)
	suite.Len(days, 3)
	suite.Equal(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), days[0].Date)
	suite.Equal(days[0].Date.Add(24*time.Hour), days[0].Close)

	_, err = b.GetCalendar(context.Background(), end, start)
	suite.Error(err)
}
