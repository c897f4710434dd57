package types

import "time"

// Clock is the broker's view of the trading session.
type Clock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// TradingDay is one entry in the trading calendar.
type TradingDay struct {
	Date  time.Time `json:"date"`
	Open  time.Time `json:"open"`
	Close time.Time `json:"close"`
}
