package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"github.com/quantdyne/breakout/internal/config"
	"github.com/quantdyne/breakout/internal/types"
	"github.com/quantdyne/breakout/pkg/errors"
)

// QuantityPrecision is the decimal precision used when formatting
// order quantities. Symbol-specific precision from exchange info
// (LOT_SIZE) would be more accurate for production use.
const QuantityPrecision = 8

// Service interfaces for mocking the Binance API

// KlinesService interface for fetching candlestick data.
type KlinesService interface {
	Symbol(symbol string) KlinesService
	Interval(interval string) KlinesService
	StartTime(startTime int64) KlinesService
	EndTime(endTime int64) KlinesService
	Limit(limit int) KlinesService
	Do(ctx context.Context) ([]*binance.Kline, error)
}

// ListPricesService interface for fetching latest prices.
type ListPricesService interface {
	Symbol(symbol string) ListPricesService
	Do(ctx context.Context) ([]*binance.SymbolPrice, error)
}

// CreateOrderService interface for creating orders.
type CreateOrderService interface {
	Symbol(symbol string) CreateOrderService
	Side(side binance.SideType) CreateOrderService
	Type(orderType binance.OrderType) CreateOrderService
	Quantity(quantity string) CreateOrderService
	Price(price string) CreateOrderService
	TimeInForce(tif binance.TimeInForceType) CreateOrderService
	NewClientOrderID(id string) CreateOrderService
	Do(ctx context.Context) (*binance.CreateOrderResponse, error)
}

// CancelOrderService interface for canceling orders.
type CancelOrderService interface {
	Symbol(symbol string) CancelOrderService
	OrderID(orderID int64) CancelOrderService
	Do(ctx context.Context) (*binance.CancelOrderResponse, error)
}

// ListOpenOrdersService interface for listing open orders.
type ListOpenOrdersService interface {
	Symbol(symbol string) ListOpenOrdersService
	Do(ctx context.Context) ([]*binance.Order, error)
}

// GetOrderService interface for querying a single order.
type GetOrderService interface {
	Symbol(symbol string) GetOrderService
	OrderID(orderID int64) GetOrderService
	Do(ctx context.Context) (*binance.Order, error)
}

// GetAccountService interface for getting account info.
type GetAccountService interface {
	Do(ctx context.Context) (*binance.Account, error)
}

// ListTradesService interface for listing recent trades.
type ListTradesService interface {
	Symbol(symbol string) ListTradesService
	Limit(limit int) ListTradesService
	Do(ctx context.Context) ([]*binance.TradeV3, error)
}

// ServerTimeService interface for fetching the venue clock.
type ServerTimeService interface {
	Do(ctx context.Context) (int64, error)
}

// BinanceClient interface abstracts the Binance client for testing.
type BinanceClient interface {
	NewKlinesService() KlinesService
	NewListPricesService() ListPricesService
	NewCreateOrderService() CreateOrderService
	NewCancelOrderService() CancelOrderService
	NewListOpenOrdersService() ListOpenOrdersService
	NewGetOrderService() GetOrderService
	NewGetAccountService() GetAccountService
	NewListTradesService() ListTradesService
	NewServerTimeService() ServerTimeService
}

// realBinanceClient wraps the actual binance.Client.
type realBinanceClient struct {
	client *binance.Client
}

func (r *realBinanceClient) NewKlinesService() KlinesService {
	return &realKlinesService{service: r.client.NewKlinesService()}
}

func (r *realBinanceClient) NewListPricesService() ListPricesService {
	return &realListPricesService{service: r.client.NewListPricesService()}
}

func (r *realBinanceClient) NewCreateOrderService() CreateOrderService {
	return &realCreateOrderService{service: r.client.NewCreateOrderService()}
}

func (r *realBinanceClient) NewCancelOrderService() CancelOrderService {
	return &realCancelOrderService{service: r.client.NewCancelOrderService()}
}

func (r *realBinanceClient) NewListOpenOrdersService() ListOpenOrdersService {
	return &realListOpenOrdersService{service: r.client.NewListOpenOrdersService()}
}

func (r *realBinanceClient) NewGetOrderService() GetOrderService {
	return &realGetOrderService{service: r.client.NewGetOrderService()}
}

func (r *realBinanceClient) NewGetAccountService() GetAccountService {
	return &realGetAccountService{service: r.client.NewGetAccountService()}
}

func (r *realBinanceClient) NewListTradesService() ListTradesService {
	return &realListTradesService{service: r.client.NewListTradesService()}
}

func (r *realBinanceClient) NewServerTimeService() ServerTimeService {
	return &realServerTimeService{service: r.client.NewServerTimeService()}
}

// Real service wrappers

type realKlinesService struct {
	service *binance.KlinesService
}

func (s *realKlinesService) Symbol(symbol string) KlinesService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realKlinesService) Interval(interval string) KlinesService {
	s.service = s.service.Interval(interval)

	return s
}

func (s *realKlinesService) StartTime(startTime int64) KlinesService {
	s.service = s.service.StartTime(startTime)

	return s
}

func (s *realKlinesService) EndTime(endTime int64) KlinesService {
	s.service = s.service.EndTime(endTime)

	return s
}

func (s *realKlinesService) Limit(limit int) KlinesService {
	s.service = s.service.Limit(limit)

	return s
}

func (s *realKlinesService) Do(ctx context.Context) ([]*binance.Kline, error) {
	return s.service.Do(ctx)
}

type realListPricesService struct {
	service *binance.ListPricesService
}

func (s *realListPricesService) Symbol(symbol string) ListPricesService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realListPricesService) Do(ctx context.Context) ([]*binance.SymbolPrice, error) {
	return s.service.Do(ctx)
}

type realCreateOrderService struct {
	service *binance.CreateOrderService
}

func (s *realCreateOrderService) Symbol(symbol string) CreateOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCreateOrderService) Side(side binance.SideType) CreateOrderService {
	s.service = s.service.Side(side)

	return s
}

func (s *realCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	s.service = s.service.Type(orderType)

	return s
}

func (s *realCreateOrderService) Quantity(quantity string) CreateOrderService {
	s.service = s.service.Quantity(quantity)

	return s
}

func (s *realCreateOrderService) Price(price string) CreateOrderService {
	s.service = s.service.Price(price)

	return s
}

func (s *realCreateOrderService) TimeInForce(tif binance.TimeInForceType) CreateOrderService {
	s.service = s.service.TimeInForce(tif)

	return s
}

func (s *realCreateOrderService) NewClientOrderID(id string) CreateOrderService {
	s.service = s.service.NewClientOrderID(id)

	return s
}

func (s *realCreateOrderService) Do(ctx context.Context) (*binance.CreateOrderResponse, error) {
	return s.service.Do(ctx)
}

type realCancelOrderService struct {
	service *binance.CancelOrderService
}

func (s *realCancelOrderService) Symbol(symbol string) CancelOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCancelOrderService) OrderID(orderID int64) CancelOrderService {
	s.service = s.service.OrderID(orderID)

	return s
}

func (s *realCancelOrderService) Do(ctx context.Context) (*binance.CancelOrderResponse, error) {
	return s.service.Do(ctx)
}

type realListOpenOrdersService struct {
	service *binance.ListOpenOrdersService
}

func (s *realListOpenOrdersService) Symbol(symbol string) ListOpenOrdersService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realListOpenOrdersService) Do(ctx context.Context) ([]*binance.Order, error) {
	return s.service.Do(ctx)
}

type realGetOrderService struct {
	service *binance.GetOrderService
}

func (s *realGetOrderService) Symbol(symbol string) GetOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realGetOrderService) OrderID(orderID int64) GetOrderService {
	s.service = s.service.OrderID(orderID)

	return s
}

func (s *realGetOrderService) Do(ctx context.Context) (*binance.Order, error) {
	return s.service.Do(ctx)
}

type realGetAccountService struct {
	service *binance.GetAccountService
}

func (s *realGetAccountService) Do(ctx context.Context) (*binance.Account, error) {
	return s.service.Do(ctx)
}

type realListTradesService struct {
	service *binance.ListTradesService
}

func (s *realListTradesService) Symbol(symbol string) ListTradesService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realListTradesService) Limit(limit int) ListTradesService {
	s.service = s.service.Limit(limit)

	return s
}

func (s *realListTradesService) Do(ctx context.Context) ([]*binance.TradeV3, error) {
	return s.service.Do(ctx)
}

type realServerTimeService struct {
	service *binance.ServerTimeService
}

func (s *realServerTimeService) Do(ctx context.Context) (int64, error) {
	return s.service.Do(ctx)
}

// BinanceBroker implements Broker on the Binance spot API. It is
// stateless; every call goes straight to the API.
type BinanceBroker struct {
	client BinanceClient
	// quoteAsset is stripped from a trading pair to find the base
	// balance, e.g. BTCUSDT -> BTC.
	quoteAsset string
}

// NewBinanceBroker creates a Binance-backed broker. If cfg.BaseURL is
// set it takes precedence over cfg.UseTest.
func NewBinanceBroker(cfg config.BrokerConfig) *BinanceBroker {
	if cfg.UseTest {
		binance.UseTestnet = true
	}

	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	return &BinanceBroker{
		client:     &realBinanceClient{client: client},
		quoteAsset: "USDT",
	}
}

// newBinanceBrokerWithClient creates a broker with a custom client.
// Used for testing with mock clients.
func newBinanceBrokerWithClient(client BinanceClient) *BinanceBroker {
	return &BinanceBroker{
		client:     client,
		quoteAsset: "USDT",
	}
}

// GetBars fetches klines for the symbol and maps them to bars.
func (b *BinanceBroker) GetBars(ctx context.Context, symbol string, start, end time.Time, timeframe time.Duration) ([]types.Bar, error) {
	interval, err := intervalString(timeframe)
	if err != nil {
		return nil, err
	}

	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(start.UnixMilli()).
		EndTime(end.UnixMilli()).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMarketDataFailed, "failed to fetch klines from Binance", err)
	}

	bars := make([]types.Bar, 0, len(klines))

	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		bars = append(bars, types.Bar{
			Symbol: symbol,
			Time:   time.UnixMilli(k.OpenTime).UTC(),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}

	return bars, nil
}

// GetOpenPositions derives positions from non-zero account balances.
// The average entry price is estimated from recent buy fills; when no
// fills are available the current price is used and unrealized P&L
// reads as zero.
func (b *BinanceBroker) GetOpenPositions(ctx context.Context) ([]types.Position, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBrokerUnavailable, "failed to get account info from Binance", err)
	}

	positions := make([]types.Position, 0)

	for _, balance := range account.Balances {
		free, _ := strconv.ParseFloat(balance.Free, 64)
		locked, _ := strconv.ParseFloat(balance.Locked, 64)
		total := free + locked

		if total <= 0 || balance.Asset == b.quoteAsset {
			continue
		}

		symbol := balance.Asset + b.quoteAsset

		current, priceErr := b.GetLatestPrice(ctx, symbol)
		if priceErr != nil {
			continue
		}

		entry := b.estimateEntryPrice(ctx, symbol, current)

		plPct := 0.0
		if entry > 0 {
			plPct = (current - entry) / entry
		}

		positions = append(positions, types.Position{
			Symbol:          symbol,
			Quantity:        total,
			QtyAvailable:    free,
			AvgEntryPrice:   entry,
			CurrentPrice:    current,
			UnrealizedPLPct: plPct,
		})
	}

	return positions, nil
}

// estimateEntryPrice computes a volume-weighted average of recent buy
// fills, falling back to the current price.
func (b *BinanceBroker) estimateEntryPrice(ctx context.Context, symbol string, fallback float64) float64 {
	trades, err := b.client.NewListTradesService().
		Symbol(symbol).
		Limit(50).
		Do(ctx)
	if err != nil {
		return fallback
	}

	var qtySum, costSum float64

	for _, t := range trades {
		if !t.IsBuyer {
			continue
		}

		qty, _ := strconv.ParseFloat(t.Quantity, 64)
		price, _ := strconv.ParseFloat(t.Price, 64)
		qtySum += qty
		costSum += qty * price
	}

	if qtySum <= 0 {
		return fallback
	}

	return costSum / qtySum
}

// GetOpenOrders returns resting orders for the symbol.
func (b *BinanceBroker) GetOpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	binanceOrders, err := b.client.NewListOpenOrdersService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBrokerUnavailable, "failed to get open orders from Binance", err)
	}

	orders := make([]types.Order, 0, len(binanceOrders))
	for _, bo := range binanceOrders {
		orders = append(orders, convertBinanceOrder(bo))
	}

	return orders, nil
}

// SubmitMarketOrder submits a market order.
func (b *BinanceBroker) SubmitMarketOrder(ctx context.Context, req types.MarketOrderRequest) (types.Order, error) {
	if err := req.Validate(); err != nil {
		return types.Order{}, err
	}

	resp, err := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Type(binance.OrderTypeMarket).
		Quantity(formatQty(req.Quantity)).
		NewClientOrderID(req.ClientOrderID).
		Do(ctx)
	if err != nil {
		return types.Order{}, errors.Wrap(errors.ErrCodeOrderFailed, "failed to submit market order to Binance", err)
	}

	return convertCreateResponse(resp, types.OrderTypeMarket), nil
}

// SubmitLimitOrder submits a GTC limit order.
func (b *BinanceBroker) SubmitLimitOrder(ctx context.Context, req types.LimitOrderRequest) (types.Order, error) {
	if err := req.Validate(); err != nil {
		return types.Order{}, err
	}

	resp, err := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Type(binance.OrderTypeLimit).
		Quantity(formatQty(req.Quantity)).
		Price(strconv.FormatFloat(req.LimitPrice, 'f', -1, 64)).
		TimeInForce(binance.TimeInForceTypeGTC).
		NewClientOrderID(req.ClientOrderID).
		Do(ctx)
	if err != nil {
		return types.Order{}, errors.Wrap(errors.ErrCodeOrderFailed, "failed to submit limit order to Binance", err)
	}

	return convertCreateResponse(resp, types.OrderTypeLimit), nil
}

// ReplaceOrder cancels the resting order and re-creates it with the
// reduced quantity at the same limit price. Binance spot has no native
// replace.
func (b *BinanceBroker) ReplaceOrder(ctx context.Context, symbol, orderID string, newQty float64) (types.Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return types.Order{}, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "invalid order ID %s", orderID)
	}

	original, err := b.client.NewGetOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return types.Order{}, errors.Wrap(errors.ErrCodeOrderNotFound, "failed to look up order for replace", err)
	}

	if _, err := b.client.NewCancelOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx); err != nil {
		return types.Order{}, errors.Wrap(errors.ErrCodeReplaceFailed, "failed to cancel order for replace", err)
	}

	limitPrice, _ := strconv.ParseFloat(original.Price, 64)

	resp, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(original.Side).
		Type(binance.OrderTypeLimit).
		Quantity(formatQty(newQty)).
		Price(strconv.FormatFloat(limitPrice, 'f', -1, 64)).
		TimeInForce(binance.TimeInForceTypeGTC).
		Do(ctx)
	if err != nil {
		return types.Order{}, errors.Wrap(errors.ErrCodeReplaceFailed, "failed to re-create order for replace", err)
	}

	return convertCreateResponse(resp, types.OrderTypeLimit), nil
}

// CancelOrder cancels a resting order.
func (b *BinanceBroker) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidParameter, err, "invalid order ID %s", orderID)
	}

	if _, err := b.client.NewCancelOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeCancelFailed, "failed to cancel order on Binance", err)
	}

	return nil
}

// GetOrderStatus queries the status of one order.
func (b *BinanceBroker) GetOrderStatus(ctx context.Context, symbol, orderID string) (types.OrderStatus, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return "", errors.Wrapf(errors.ErrCodeInvalidParameter, err, "invalid order ID %s", orderID)
	}

	order, err := b.client.NewGetOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeOrderNotFound, "failed to get order from Binance", err)
	}

	return mapBinanceOrderStatus(order.Status), nil
}

// GetLatestPrice returns the latest traded price for symbol.
func (b *BinanceBroker) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.client.NewListPricesService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeMarketDataFailed, "failed to get latest price from Binance", err)
	}

	if len(prices) == 0 {
		return 0, errors.Newf(errors.ErrCodeDataNotFound, "no price returned for %s", symbol)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrCodeMarketDataFailed, err, "malformed price %q for %s", prices[0].Price, symbol)
	}

	return price, nil
}

// GetClock reports the session clock. Binance spot trades around the
// clock, so the session is always open and day boundaries fall on UTC
// midnight.
func (b *BinanceBroker) GetClock(ctx context.Context) (types.Clock, error) {
	serverTime, err := b.client.NewServerTimeService().Do(ctx)
	if err != nil {
		return types.Clock{}, errors.Wrap(errors.ErrCodeClockFailed, "failed to get server time from Binance", err)
	}

	now := time.UnixMilli(serverTime).UTC()
	midnight := now.Truncate(24 * time.Hour)

	return types.Clock{
		Timestamp: now,
		IsOpen:    true,
		NextOpen:  midnight.Add(24 * time.Hour),
		NextClose: midnight.Add(24 * time.Hour),
	}, nil
}

// GetCalendar synthesizes a 24h trading day for every date in range.
func (b *BinanceBroker) GetCalendar(_ context.Context, start, end time.Time) ([]types.TradingDay, error) {
	if end.Before(start) {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "calendar end before start")
	}

	days := make([]types.TradingDay, 0)

	for d := start.UTC().Truncate(24 * time.Hour); !d.After(end); d = d.Add(24 * time.Hour) {
		days = append(days, types.TradingDay{
			Date:  d,
			Open:  d,
			Close: d.Add(24 * time.Hour),
		})
	}

	return days, nil
}

// Helper functions

func intervalString(timeframe time.Duration) (string, error) {
	switch {
	case timeframe >= time.Hour && timeframe%time.Hour == 0:
		return fmt.Sprintf("%dh", int(timeframe/time.Hour)), nil
	case timeframe >= time.Minute && timeframe%time.Minute == 0:
		return fmt.Sprintf("%dm", int(timeframe/time.Minute)), nil
	default:
		return "", errors.Newf(errors.ErrCodeInvalidPeriod, "unsupported timeframe %s", timeframe)
	}
}

func formatQty(qty float64) string {
	return strconv.FormatFloat(qty, 'f', QuantityPrecision, 64)
}

// mapBinanceOrderStatus maps Binance order status to our OrderStatus type.
func mapBinanceOrderStatus(status binance.OrderStatusType) types.OrderStatus {
	switch status {
	case binance.OrderStatusTypeNew:
		return types.OrderStatusPending
	case binance.OrderStatusTypePartiallyFilled:
		return types.OrderStatusPartiallyFilled
	case binance.OrderStatusTypeFilled:
		return types.OrderStatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypePendingCancel:
		return types.OrderStatusCancelled
	case binance.OrderStatusTypeRejected:
		return types.OrderStatusRejected
	case binance.OrderStatusTypeExpired:
		return types.OrderStatusExpired
	default:
		return types.OrderStatusRejected
	}
}

func convertBinanceOrder(bo *binance.Order) types.Order {
	quantity, _ := strconv.ParseFloat(bo.OrigQuantity, 64)
	filled, _ := strconv.ParseFloat(bo.ExecutedQuantity, 64)
	price, _ := strconv.ParseFloat(bo.Price, 64)

	orderType := types.OrderTypeLimit
	if bo.Type == binance.OrderTypeMarket {
		orderType = types.OrderTypeMarket
	}

	return types.Order{
		ID:            strconv.FormatInt(bo.OrderID, 10),
		ClientOrderID: bo.ClientOrderID,
		Symbol:        bo.Symbol,
		Side:          types.OrderSide(bo.Side),
		Type:          orderType,
		Quantity:      quantity,
		FilledQty:     filled,
		LimitPrice:    price,
		Status:        mapBinanceOrderStatus(bo.Status),
		CreatedAt:     time.UnixMilli(bo.Time).UTC(),
	}
}

func convertCreateResponse(resp *binance.CreateOrderResponse, orderType types.OrderType) types.Order {
	quantity, _ := strconv.ParseFloat(resp.OrigQuantity, 64)
	filled, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	price, _ := strconv.ParseFloat(resp.Price, 64)

	return types.Order{
		ID:            strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          types.OrderSide(resp.Side),
		Type:          orderType,
		Quantity:      quantity,
		FilledQty:     filled,
		LimitPrice:    price,
		Status:        mapBinanceOrderStatus(resp.Status),
		CreatedAt:     time.UnixMilli(resp.TransactTime).UTC(),
	}
}

// Ensure BinanceBroker implements Broker.
var _ Broker = (*BinanceBroker)(nil)
