package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quantdyne/breakout/internal/breakout"
	"github.com/quantdyne/breakout/internal/config"
	"github.com/quantdyne/breakout/internal/logger"
	"github.com/quantdyne/breakout/internal/market"
	"github.com/quantdyne/breakout/internal/telemetry"
	"github.com/quantdyne/breakout/internal/trend"
	"github.com/quantdyne/breakout/internal/types"
)

// MarketData is the read-only broker surface the signal monitor needs.
type MarketData interface {
	GetBars(ctx context.Context, symbol string, start, end time.Time, timeframe time.Duration) ([]types.Bar, error)
	GetClock(ctx context.Context) (types.Clock, error)
	GetCalendar(ctx context.Context, start, end time.Time) ([]types.TradingDay, error)
}

// SignalMonitor drives the breakout estimator: fetch bars, update the
// drift band, run the gate, publish confirmed events. It optionally
// replays a historical window first, then switches to live polling.
type SignalMonitor struct {
	store    *config.Store
	data     MarketData
	gate     *breakout.Gate
	recorder *telemetry.Recorder
	log      *logger.Logger

	series     *market.BarSeries
	band       trend.Band
	historical bool
	cursor     time.Time
	histEnd    time.Time
}

// NewSignalMonitor builds a signal monitor from the current config
// snapshot. The bar series capacity follows the slope lookback.
func NewSignalMonitor(store *config.Store, data MarketData, gate *breakout.Gate, recorder *telemetry.Recorder, log *logger.Logger) (*SignalMonitor, error) {
	cfg := store.Snapshot()

	series, err := market.NewBarSeries(cfg.Symbol, cfg.Signal.SlopeBarCount)
	if err != nil {
		return nil, err
	}

	m := &SignalMonitor{
		store:    store,
		data:     data,
		gate:     gate,
		recorder: recorder,
		log:      log,
		series:   series,
	}

	if cfg.History.ReadHistoricalData {
		start, err := time.Parse(time.RFC3339, cfg.History.StartDate)
		if err != nil {
			return nil, err
		}

		end, err := time.Parse(time.RFC3339, cfg.History.EndDate)
		if err != nil {
			return nil, err
		}

		m.historical = true
		m.cursor = start
		m.histEnd = end
	}

	return m, nil
}

// Run polls until ctx is cancelled, or until the historical replay is
// exhausted with real-time mode disabled.
func (m *SignalMonitor) Run(ctx context.Context) {
	m.log.Info("signal monitor started", zap.String("symbol", m.series.Symbol()))

	for {
		if ctx.Err() != nil {
			return
		}

		cfg := m.store.Snapshot()

		sleep, done := m.tick(ctx, cfg)
		if done {
			m.log.Info("historical data exhausted and real-time mode is off, stopping")

			return
		}

		if !sleepCtx(ctx, sleep) {
			return
		}
	}
}

// tick runs one fetch/estimate/gate cycle. It returns the sleep before
// the next tick, and done=true when the loop should stop. No failure
// inside a tick is fatal.
func (m *SignalMonitor) tick(ctx context.Context, cfg *config.Config) (time.Duration, bool) {
	now := time.Now().UTC()
	errSleep := seconds(cfg.Loop.ErrorSleepSeconds)
	timeframe := cfg.Timeframe()

	if m.historical && !m.cursor.Before(m.histEnd) {
		if !cfg.History.ReadRealData {
			return 0, true
		}

		m.log.Info("historical replay finished, switching to live data")
		m.historical = false
	}

	bars, err := m.fetch(ctx, cfg, now, timeframe)
	if err != nil {
		m.log.Error("bar fetch failed", zap.Error(err))

		return errSleep, false
	}

	clock, err := m.data.GetClock(ctx)
	if err != nil {
		m.log.Error("clock fetch failed", zap.Error(err))

		return errSleep, false
	}

	clock = m.resolveNextOpen(ctx, clock, now)

	appended, err := m.series.AppendAll(bars)
	if err != nil {
		m.log.Error("bar series rejected data", zap.Error(err))

		return errSleep, false
	}

	if appended == 0 {
		m.log.Debug("no new bars this tick")

		return m.sleepFor(cfg, clock, now, timeframe), false
	}

	last, _ := m.series.Last()
	all := m.series.All()
	length := cfg.Signal.Length

	slope := trend.Slope(all, length)
	pivotHigh, pivotLow := trend.Pivots(all, length)
	m.band.Anchor(pivotHigh, pivotLow, slope)
	crossedUp, crossedDown := m.band.Signals(last.Close, pivotHigh, pivotLow, length)

	m.log.Debug("band updated",
		zap.Float64("upper", m.band.Upper),
		zap.Float64("lower", m.band.Lower),
		zap.Float64("slope", slope),
		zap.Bool("crossed_up", crossedUp),
		zap.Bool("crossed_down", crossedDown))

	createOrder := cfg.Signal.CreateOrder
	closeOrder := cfg.Signal.CloseOrder

	if m.historical {
		createOrder = cfg.History.CreateOrder
		closeOrder = cfg.History.CloseOrder
	}

	events := m.gate.Evaluate(ctx, breakout.TickInput{
		Bar:         last,
		CrossedUp:   crossedUp,
		CrossedDown: crossedDown,
		MarketOpen:  clock.IsOpen,
		CreateOrder: createOrder,
		CloseOrder:  closeOrder,
		Signal:      cfg.Signal,
		SkipDays:    cfg.SkipDayDates(),
		Queue:       cfg.Messaging.QueueName,
	})

	m.record(last, slope, events)

	return m.sleepFor(cfg, clock, now, timeframe), false
}

// fetch returns the next batch of bars: one replay step in historical
// mode, everything since the last held bar in live mode.
func (m *SignalMonitor) fetch(ctx context.Context, cfg *config.Config, now time.Time, timeframe time.Duration) ([]types.Bar, error) {
	symbol := m.series.Symbol()

	if m.historical {
		end := m.cursor.Add(timeframe)
		if end.After(m.histEnd) {
			end = m.histEnd
		}

		bars, err := m.data.GetBars(ctx, symbol, m.cursor, end, timeframe)
		if err != nil {
			return nil, err
		}

		m.cursor = end

		return bars, nil
	}

	start := now.Add(-time.Duration(cfg.Signal.SlopeBarCount) * timeframe)
	if last, ok := m.series.Last(); ok {
		start = last.Time
	}

	return m.data.GetBars(ctx, symbol, start, now, timeframe)
}

// resolveNextOpen fills in a missing NextOpen on a closed clock from
// the trading calendar, so the sleep math can target the next session
// instead of falling back to the max sleep.
func (m *SignalMonitor) resolveNextOpen(ctx context.Context, clock types.Clock, now time.Time) types.Clock {
	if clock.IsOpen || !clock.NextOpen.IsZero() {
		return clock
	}

	days, err := m.data.GetCalendar(ctx, now, now.Add(7*24*time.Hour))
	if err != nil {
		m.log.Warn("calendar fetch failed", zap.Error(err))

		return clock
	}

	for _, day := range days {
		if day.Open.After(now) {
			clock.NextOpen = day.Open

			break
		}
	}

	return clock
}

func (m *SignalMonitor) sleepFor(cfg *config.Config, clock types.Clock, now time.Time, timeframe time.Duration) time.Duration {
	if m.historical {
		return seconds(cfg.History.HistoricalSleep)
	}

	var latest time.Time
	if last, ok := m.series.Last(); ok {
		latest = last.Time
	}

	return nextWake(clock, latest, now, timeframe, cfg.Loop)
}

func (m *SignalMonitor) record(bar types.Bar, slope float64, events []types.BreakoutEvent) {
	if m.recorder == nil {
		return
	}

	symbol := m.series.Symbol()
	m.recorder.Record(telemetry.Metric{Time: bar.Time, Symbol: symbol, Name: "band_upper", Value: m.band.Upper})
	m.recorder.Record(telemetry.Metric{Time: bar.Time, Symbol: symbol, Name: "band_lower", Value: m.band.Lower})
	m.recorder.Record(telemetry.Metric{Time: bar.Time, Symbol: symbol, Name: "slope", Value: slope})

	for range events {
		m.recorder.Record(telemetry.Metric{Time: bar.Time, Symbol: symbol, Name: "breakout", Value: 1})
	}
}
