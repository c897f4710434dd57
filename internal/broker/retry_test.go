package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/quantdyne/breakout/internal/logger"
	"github.com/quantdyne/breakout/internal/types"
	"github.com/quantdyne/breakout/pkg/errors"
)

// fakeBroker scripts per-call results for retry tests.
type fakeBroker struct {
	barsCalls   int
	barsErrs    []error
	bars        []types.Bar
	priceCalls  int
	priceErrs   []error
	price       float64
	clockCalls  int
	clockErr    error
	statusCalls int
	statusErrs  []error
	submitCalls int
	submitErr   error
}

func (f *fakeBroker) GetBars(_ context.Context, _ string, _, _ time.Time, _ time.Duration) ([]types.Bar, error) {
	call := f.barsCalls
	f.barsCalls++

	if call < len(f.barsErrs) && f.barsErrs[call] != nil {
		return nil, f.barsErrs[call]
	}

	return f.bars, nil
}

func (f *fakeBroker) GetLatestPrice(_ context.Context, _ string) (float64, error) {
	call := f.priceCalls
	f.priceCalls++

	if call < len(f.priceErrs) && f.priceErrs[call] != nil {
		return 0, f.priceErrs[call]
	}

	return f.price, nil
}

func (f *fakeBroker) GetOpenPositions(context.Context) ([]types.Position, error) {
	return nil, nil
}

func (f *fakeBroker) GetOpenOrders(context.Context, string) ([]types.Order, error) {
	return nil, nil
}

func (f *fakeBroker) SubmitMarketOrder(_ context.Context, _ types.MarketOrderRequest) (types.Order, error) {
	f.submitCalls++

	if f.submitErr != nil {
		return types.Order{}, f.submitErr
	}

	return types.Order{}, nil
}

func (f *fakeBroker) SubmitLimitOrder(_ context.Context, _ types.LimitOrderRequest) (types.Order, error) {
	return types.Order{}, nil
}

func (f *fakeBroker) ReplaceOrder(context.Context, string, string, float64) (types.Order, error) {
	return types.Order{}, nil
}

func (f *fakeBroker) CancelOrder(context.Context, string, string) error {
	return nil
}

func (f *fakeBroker) GetOrderStatus(context.Context, string, string) (types.OrderStatus, error) {
	call := f.statusCalls
	f.statusCalls++

	if call < len(f.statusErrs) && f.statusErrs[call] != nil {
		return "", f.statusErrs[call]
	}

	return types.OrderStatusPending, nil
}

func (f *fakeBroker) GetClock(context.Context) (types.Clock, error) {
	f.clockCalls++

	if f.clockErr != nil {
		return types.Clock{}, f.clockErr
	}

	return types.Clock{IsOpen: true}, nil
}

func (f *fakeBroker) GetCalendar(context.Context, time.Time, time.Time) ([]types.TradingDay, error) {
	return nil, nil
}

var _ Broker = (*fakeBroker)(nil)

type RetrierTestSuite struct {
	suite.Suite
}

func TestRetrierSuite(t *testing.T) {
	suite.Run(t, new(RetrierTestSuite))
}

func (suite *RetrierTestSuite) newRetrier(b Broker) *Retrier {
	return NewRetrier(b, 3, time.Millisecond, logger.NewNopLogger())
}

func (suite *RetrierTestSuite) TestGetBarsRecoversFromTransientFailure() {
	fake := &fakeBroker{
		barsErrs: []error{
			errors.New(errors.ErrCodeMarketDataFailed, "timeout"),
			errors.New(errors.ErrCodeMarketDataFailed, "timeout"),
		},
		bars: []types.Bar{{Symbol: "BTCUSDT", Time: time.Now(), High: 1, Close: 1}},
	}

	bars, err := suite.newRetrier(fake).GetBars(context.Background(), "BTCUSDT", time.Now().Add(-time.Hour), time.Now(), time.Minute)
	suite.NoError(err)
	suite.Len(bars, 1)
	suite.Equal(3, fake.barsCalls)
}

func (suite *RetrierTestSuite) TestGetBarsDegradesToEmptyOnExhaustion() {
	transient := errors.New(errors.ErrCodeBrokerUnavailable, "down")
	fake := &fakeBroker{
		barsErrs: []error{transient, transient, transient, transient, transient},
	}

	bars, err := suite.newRetrier(fake).GetBars(context.Background(), "BTCUSDT", time.Now().Add(-time.Hour), time.Now(), time.Minute)
	suite.NoError(err)
	suite.Empty(bars)
	// 1 initial attempt + 3 retries.
	suite.Equal(4, fake.barsCalls)
}

func (suite *RetrierTestSuite) TestGetBarsDoesNotRetryPermanentErrors() {
	fake := &fakeBroker{
		barsErrs: []error{errors.New(errors.ErrCodeInvalidPeriod, "bad timeframe")},
	}

	_, err := suite.newRetrier(fake).GetBars(context.Background(), "BTCUSDT", time.Now().Add(-time.Hour), time.Now(), 90*time.Second)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidPeriod))
	suite.Equal(1, fake.barsCalls)
}

func (suite *RetrierTestSuite) TestGetLatestPriceReturnsErrorAfterExhaustion() {
	transient := errors.New(errors.ErrCodeMarketDataFailed, "timeout")
	fake := &fakeBroker{
		priceErrs: []error{transient, transient, transient, transient, transient},
	}

	_, err := suite.newRetrier(fake).GetLatestPrice(context.Background(), "BTCUSDT")
	suite.Error(err)
	suite.Equal(4, fake.priceCalls)
}

func (suite *RetrierTestSuite) TestGetOrderStatusRecoversFromTransientFailure() {
	fake := &fakeBroker{
		statusErrs: []error{errors.New(errors.ErrCodeBrokerUnavailable, "down")},
	}

	status, err := suite.newRetrier(fake).GetOrderStatus(context.Background(), "BTCUSDT", "abc-123")
	suite.NoError(err)
	suite.Equal(types.OrderStatusPending, status)
	suite.Equal(2, fake.statusCalls)
}

func (suite *RetrierTestSuite) TestMutationsAreNotRetried() {
	// A timed-out submit may still have been applied on the venue, so
	// the retrier must surface the failure after a single attempt.
	fake := &fakeBroker{submitErr: errors.New(errors.ErrCodeBrokerUnavailable, "down")}

	_, err := suite.newRetrier(fake).SubmitMarketOrder(context.Background(), types.MarketOrderRequest{Symbol: "BTCUSDT", Quantity: 1})
	suite.Error(err)
	suite.Equal(1, fake.submitCalls)
}

func (suite *RetrierTestSuite) TestGetClockPassesThrough() {
	fake := &fakeBroker{}

	clock, err := suite.newRetrier(fake).GetClock(context.Background())
	suite.NoError(err)
	suite.True(clock.IsOpen)
	suite.Equal(1, fake.clockCalls)
}
