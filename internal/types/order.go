package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/quantdyne/breakout/pkg/errors"
)

type OrderSide string

type OrderType string

type OrderStatus string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the order can no longer fill.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// Order is an order as reported by the broker.
type Order struct {
	ID            string      `yaml:"id" json:"id"`
	ClientOrderID string      `yaml:"client_order_id" json:"client_order_id"`
	Symbol        string      `yaml:"symbol" json:"symbol" validate:"required"`
	Side          OrderSide   `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Type          OrderType   `yaml:"type" json:"type" validate:"required,oneof=MARKET LIMIT"`
	Quantity      float64     `yaml:"quantity" json:"quantity" validate:"gt=0"`
	FilledQty     float64     `yaml:"filled_qty" json:"filled_qty" validate:"gte=0"`
	LimitPrice    float64     `yaml:"limit_price" json:"limit_price"`
	Status        OrderStatus `yaml:"status" json:"status"`
	CreatedAt     time.Time   `yaml:"created_at" json:"created_at"`
}

// RemainingQty returns the unfilled portion of the order.
func (o Order) RemainingQty() float64 {
	return o.Quantity - o.FilledQty
}

// MarketOrderRequest describes a market order to submit.
type MarketOrderRequest struct {
	ClientOrderID string    `yaml:"client_order_id" json:"client_order_id" validate:"required,uuid"`
	Symbol        string    `yaml:"symbol" json:"symbol" validate:"required"`
	Side          OrderSide `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Quantity      float64   `yaml:"quantity" json:"quantity" validate:"required,gt=0"`
}

// LimitOrderRequest describes a limit order to submit.
type LimitOrderRequest struct {
	ClientOrderID string    `yaml:"client_order_id" json:"client_order_id" validate:"required,uuid"`
	Symbol        string    `yaml:"symbol" json:"symbol" validate:"required"`
	Side          OrderSide `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Quantity      float64   `yaml:"quantity" json:"quantity" validate:"required,gt=0"`
	LimitPrice    float64   `yaml:"limit_price" json:"limit_price" validate:"required,gt=0"`
}

// Validate validates the MarketOrderRequest struct.
func (r *MarketOrderRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid market order request", err)
	}

	return nil
}

// Validate validates the LimitOrderRequest struct.
func (r *LimitOrderRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid limit order request", err)
	}

	return nil
}
