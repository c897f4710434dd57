package types

// Position is an open position as reported by the broker.
type Position struct {
	Symbol string `yaml:"symbol" json:"symbol" validate:"required"`
	// Quantity is the total number of units held.
	Quantity float64 `yaml:"quantity" json:"quantity"`
	// QtyAvailable is the portion not tied up in open orders.
	QtyAvailable  float64 `yaml:"qty_available" json:"qty_available"`
	AvgEntryPrice float64 `yaml:"avg_entry_price" json:"avg_entry_price"`
	CurrentPrice  float64 `yaml:"current_price" json:"current_price"`
	// UnrealizedPLPct is the unrealized profit/loss as a fraction
	// of cost basis (0.015 means +1.5%).
	UnrealizedPLPct float64 `yaml:"unrealized_pl_pct" json:"unrealized_pl_pct"`
}
