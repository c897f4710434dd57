// Package config defines the runtime configuration surface and a
// refreshable store the polling loops snapshot each tick.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/quantdyne/breakout/pkg/errors"
)

// ExitBand is one rung of a tiered exit ladder. PnL percentages are
// fractions of cost basis: 0.05 means 5%. A band covers [LowPct,
// HighPct).
type ExitBand struct {
	LowPct       float64 `yaml:"low_pct" json:"low_pct"`
	HighPct      float64 `yaml:"high_pct" json:"high_pct"`
	SellFraction float64 `yaml:"sell_fraction" json:"sell_fraction" validate:"gte=0,lte=1"`
	StopOffset   float64 `yaml:"stop_offset" json:"stop_offset" validate:"gte=0"`
}

// AgeTier is the action policy for one order-age band.
type AgeTier struct {
	// BreakpointSeconds is the age at which this tier becomes active.
	BreakpointSeconds   float64 `yaml:"breakpoint_seconds" json:"breakpoint_seconds" validate:"gt=0"`
	SellFraction        float64 `yaml:"sell_fraction" json:"sell_fraction" validate:"gte=0,lte=1"`
	PriceThreshold      float64 `yaml:"price_threshold" json:"price_threshold" validate:"gte=0"`
	ReplaceFraction     float64 `yaml:"replace_fraction" json:"replace_fraction" validate:"gte=0,lte=1"`
	CancelDiffThreshold float64 `yaml:"cancel_diff_threshold" json:"cancel_diff_threshold" validate:"gte=0"`
}

// SignalConfig tunes the breakout estimator and gate.
type SignalConfig struct {
	Length            int      `yaml:"length" json:"length" validate:"required,gt=0"`
	SlopeBarCount     int      `yaml:"slope_bar_count" json:"slope_bar_count" validate:"required,gt=1"`
	EnableKalman      bool     `yaml:"enable_kalman" json:"enable_kalman"`
	MaxCandleSize     float64  `yaml:"max_candle_size" json:"max_candle_size" validate:"gt=0"`
	MaxVolume         float64  `yaml:"max_volume" json:"max_volume" validate:"gt=0"`
	MaxDailyPositions int      `yaml:"max_daily_positions" json:"max_daily_positions" validate:"gt=0"`
	MinGapBars        int      `yaml:"min_gap_bars" json:"min_gap_bars" validate:"gte=0"`
	SkipDays          []string `yaml:"skip_days" json:"skip_days" validate:"dive,datetime=2006-01-02"`
	CreateOrder       bool     `yaml:"create_order" json:"create_order"`
	CloseOrder        bool     `yaml:"close_order" json:"close_order"`
}

// ExitConfig tunes the tiered position-exit engine.
type ExitConfig struct {
	HardStopPct       float64 `yaml:"hard_stop_pct" json:"hard_stop_pct" validate:"gte=0"`
	HardStopSkipCount int     `yaml:"hard_stop_skip_count" json:"hard_stop_skip_count" validate:"gte=0"`
	CloseAllAtPct     float64 `yaml:"close_all_at_pct" json:"close_all_at_pct"`
	// CloseAllTime is a daily UTC cut-off in HH:MM; empty disables it.
	CloseAllTime      string     `yaml:"close_all_time" json:"close_all_time" validate:"omitempty,datetime=15:04"`
	MinProfitPct      float64    `yaml:"min_profit_pct" json:"min_profit_pct"`
	DefaultStopOffset float64    `yaml:"default_stop_offset" json:"default_stop_offset" validate:"gte=0"`
	SaleExpirySeconds float64    `yaml:"sale_expiry_seconds" json:"sale_expiry_seconds" validate:"gt=0"`
	ProfitBands       []ExitBand `yaml:"profit_bands" json:"profit_bands" validate:"dive"`
	LossBands         []ExitBand `yaml:"loss_bands" json:"loss_bands" validate:"dive"`
}

// OrderConfig tunes the order-aging engine.
type OrderConfig struct {
	Tiers                []AgeTier `yaml:"tiers" json:"tiers" validate:"dive"`
	ConfirmRetries       int       `yaml:"confirm_retries" json:"confirm_retries" validate:"gte=0"`
	ConfirmDelaySeconds  float64   `yaml:"confirm_delay_seconds" json:"confirm_delay_seconds" validate:"gte=0"`
	ConvertToMarketPrice bool      `yaml:"convert_to_market_price" json:"convert_to_market_price"`
}

// LoopConfig tunes the polling loops.
type LoopConfig struct {
	PollSeconds       float64 `yaml:"poll_seconds" json:"poll_seconds" validate:"gt=0"`
	ErrorSleepSeconds float64 `yaml:"error_sleep_seconds" json:"error_sleep_seconds" validate:"gt=0"`
	ExtraSleepSeconds float64 `yaml:"extra_sleep_seconds" json:"extra_sleep_seconds" validate:"gte=0"`
	MaxSleepSeconds   float64 `yaml:"max_sleep_seconds" json:"max_sleep_seconds" validate:"gt=0"`
	RefreshSeconds    float64 `yaml:"refresh_seconds" json:"refresh_seconds" validate:"gt=0"`
	MaxRetries        uint64  `yaml:"max_retries" json:"max_retries" validate:"gt=0"`
	BaseDelaySeconds  float64 `yaml:"base_delay_seconds" json:"base_delay_seconds" validate:"gt=0"`
}

// HistoryConfig controls the historical catch-up mode.
type HistoryConfig struct {
	ReadHistoricalData bool   `yaml:"read_historical_data" json:"read_historical_data"`
	ReadRealData       bool   `yaml:"read_real_data" json:"read_real_data"`
	StartDate          string `yaml:"start_date" json:"start_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	EndDate            string `yaml:"end_date" json:"end_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	HistoricalSleep    float64 `yaml:"historical_sleep_seconds" json:"historical_sleep_seconds" validate:"gte=0"`
	CreateOrder        bool   `yaml:"create_order" json:"create_order"`
	CloseOrder         bool   `yaml:"close_order" json:"close_order"`
}

// BrokerConfig holds broker API credentials and endpoints.
type BrokerConfig struct {
	APIKey    string `yaml:"api_key" json:"-"`
	APISecret string `yaml:"api_secret" json:"-"`
	BaseURL   string `yaml:"base_url" json:"base_url" validate:"omitempty,url"`
	UseTest   bool   `yaml:"use_test" json:"use_test"`
}

// MessagingConfig holds the signal queue endpoint.
type MessagingConfig struct {
	URL       string `yaml:"url" json:"url" validate:"required,uri"`
	QueueName string `yaml:"queue_name" json:"queue_name" validate:"required"`
}

// TelemetryConfig tunes asynchronous metric recording.
type TelemetryConfig struct {
	Enabled        bool    `yaml:"enabled" json:"enabled"`
	DatabasePath   string  `yaml:"database_path" json:"database_path"`
	QueueSize      int     `yaml:"queue_size" json:"queue_size" validate:"gt=0"`
	BatchSize      int     `yaml:"batch_size" json:"batch_size" validate:"gt=0"`
	FlushSeconds   float64 `yaml:"flush_seconds" json:"flush_seconds" validate:"gt=0"`
}

// Config is the full runtime configuration.
type Config struct {
	Symbol           string          `yaml:"symbol" json:"symbol" validate:"required"`
	TimeframeMinutes int             `yaml:"timeframe_minutes" json:"timeframe_minutes" validate:"required,gt=0"`
	Signal           SignalConfig    `yaml:"signal" json:"signal" validate:"required"`
	Exits            ExitConfig      `yaml:"exits" json:"exits" validate:"required"`
	Orders           OrderConfig     `yaml:"orders" json:"orders" validate:"required"`
	Loop             LoopConfig      `yaml:"loop" json:"loop" validate:"required"`
	History          HistoryConfig   `yaml:"history" json:"history"`
	Broker           BrokerConfig    `yaml:"broker" json:"broker"`
	Messaging        MessagingConfig `yaml:"messaging" json:"messaging" validate:"required"`
	Telemetry        TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config file %s", path)
	}

	return Parse(data)
}

// Parse parses and validates YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks structural constraints and ladder ordering.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid config", err)
	}

	if err := validateBands(c.Exits.ProfitBands); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidLadder, "invalid profit bands", err)
	}

	if err := validateBands(c.Exits.LossBands); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidLadder, "invalid loss bands", err)
	}

	for i := 1; i < len(c.Orders.Tiers); i++ {
		if c.Orders.Tiers[i].BreakpointSeconds <= c.Orders.Tiers[i-1].BreakpointSeconds {
			return errors.Newf(errors.ErrCodeInvalidLadder,
				"age tier breakpoints must be strictly ascending: tier %d (%f) <= tier %d (%f)",
				i, c.Orders.Tiers[i].BreakpointSeconds, i-1, c.Orders.Tiers[i-1].BreakpointSeconds)
		}
	}

	return nil
}

func validateBands(bands []ExitBand) error {
	for i, b := range bands {
		if b.HighPct <= b.LowPct {
			return errors.Newf(errors.ErrCodeInvalidLadder, "band %d: high %f must exceed low %f", i, b.HighPct, b.LowPct)
		}

		if i > 0 && b.LowPct < bands[i-1].HighPct {
			return errors.Newf(errors.ErrCodeInvalidLadder, "band %d overlaps band %d", i, i-1)
		}
	}

	return nil
}

// SkipDayDates parses the configured skip days into calendar dates.
// Malformed entries were already rejected by Validate.
func (c *Config) SkipDayDates() map[string]struct{} {
	out := make(map[string]struct{}, len(c.Signal.SkipDays))
	for _, d := range c.Signal.SkipDays {
		out[d] = struct{}{}
	}

	return out
}

// CloseAllClock returns the daily close-all cut-off as hour and minute,
// with ok=false when no cut-off is configured.
func (c ExitConfig) CloseAllClock() (hour, minute int, ok bool) {
	if c.CloseAllTime == "" {
		return 0, 0, false
	}

	t, err := time.Parse("15:04", c.CloseAllTime)
	if err != nil {
		return 0, 0, false
	}

	return t.Hour(), t.Minute(), true
}

// CloseAllClock exposes the exit cut-off from the top-level config.
func (c *Config) CloseAllClock() (hour, minute int, ok bool) {
	return c.Exits.CloseAllClock()
}

// Timeframe returns the bar duration.
func (c *Config) Timeframe() time.Duration {
	return time.Duration(c.TimeframeMinutes) * time.Minute
}
