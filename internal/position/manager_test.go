package position

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamma-omg/breakout-backtest/internal/breakout"
	"github.com/gamma-omg/breakout-backtest/internal/config"
	"github.com/gamma-omg/breakout-backtest/internal/market"
)

func exitsCfg() config.Exits {
	return config.Exits{
		Timeout:             config.Duration(7 * time.Minute),
		TimeoutMinProgressR: 0.5,
		Partials: []config.Partial{
			{Fraction: 0.5, RMultiple: 1},
			{Fraction: 0.25, RMultiple: 2},
		},
		TrailingActivation:  0.25,
		TrailingDistancePct: 0.5,
		StopMultMomentum:    1.5,
		StopMultSustained:   1.2,
		StopMultPullback:    1.0,
	}
}

func newManager(cfg config.Exits) *Manager {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(log, cfg, config.ClockTime{Hour: 15, Minute: 55})
}

func pivot(symbol string, level float64, side market.Side) market.PivotSpec {
	return market.PivotSpec{Symbol: symbol, Level: decimal.NewFromFloat(level), Side: side}
}

func barAt(t time.Time, o, h, l, c float64) market.Bar {
	return market.Bar{
		Time:  t,
		Open:  decimal.NewFromFloat(o),
		High:  decimal.NewFromFloat(h),
		Low:   decimal.NewFromFloat(l),
		Close: decimal.NewFromFloat(c),
	}
}

var sessionStart = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestOpen_widerOfPivotAndVolatilityStop(t *testing.T) {
	m := newManager(exitsCfg())
	entry := barAt(sessionStart, 99.9, 100.1, 99.8, 100)

	// ATR minimum (1.5x1.0 below entry) is wider than the pivot level
	p := m.Open(pivot("AAPL", 99, market.SideLong), breakout.PathMomentum, entry, 1.0, dec(100))
	assert.True(t, p.Stop.Equal(dec(98.5)), "stop %s", p.Stop)
	assert.True(t, p.InitialStop.Equal(p.Stop))

	// pivot level is wider than the ATR minimum
	p = m.Open(pivot("AAPL", 99, market.SideLong), breakout.PathMomentum, entry, 0.4, dec(100))
	assert.True(t, p.Stop.Equal(dec(99)), "stop %s", p.Stop)

	// short side mirrors: the higher stop protects
	p = m.Open(pivot("TSLA", 101, market.SideShort), breakout.PathSustained, entry, 1.0, dec(100))
	assert.True(t, p.Stop.Equal(dec(101.2)), "stop %s", p.Stop)
}

func TestOpen_entrySlippage(t *testing.T) {
	cfg := exitsCfg()
	cfg.EntrySlippagePct = 0.05
	m := newManager(cfg)

	p := m.Open(pivot("AAPL", 99, market.SideLong), breakout.PathPullback,
		barAt(sessionStart, 99.9, 100.1, 99.8, 100), 0, dec(100))
	assert.True(t, p.EntryPrice.Equal(dec(100.05)), "entry %s", p.EntryPrice)

	p = m.Open(pivot("TSLA", 101, market.SideShort), breakout.PathPullback,
		barAt(sessionStart, 100.1, 100.2, 99.9, 100), 0, dec(100))
	assert.True(t, p.EntryPrice.Equal(dec(99.95)), "entry %s", p.EntryPrice)
}

func TestOnBar_stopBreach(t *testing.T) {
	m := newManager(exitsCfg())
	p := m.Open(pivot("AAPL", 98, market.SideLong), breakout.PathPullback,
		barAt(sessionStart, 99.9, 100.1, 99.8, 100), 0, dec(100))

	rec := m.OnBar(p, barAt(sessionStart.Add(time.Minute), 100, 100.2, 99.5, 99.6))
	require.Nil(t, rec)

	rec = m.OnBar(p, barAt(sessionStart.Add(2*time.Minute), 99.6, 99.7, 97.9, 98.1))
	require.NotNil(t, rec)
	assert.Equal(t, ReasonStop, rec.ExitReason)
	assert.True(t, rec.ExitPrice.Equal(dec(98)))
	assert.True(t, rec.PnL.Equal(dec(-200)), "pnl %s", rec.PnL)
	assert.InDelta(t, -1.0, rec.RMultiple, 1e-9)
}

func TestOnBar_stopSlippage(t *testing.T) {
	cfg := exitsCfg()
	cfg.StopSlippagePct = 0.05
	m := newManager(cfg)
	p := m.Open(pivot("AAPL", 99, market.SideLong), breakout.PathPullback,
		barAt(sessionStart, 99.9, 100.1, 99.8, 100), 0, dec(100))

	rec := m.OnBar(p, barAt(sessionStart.Add(time.Minute), 100, 100.1, 98.9, 99.0))
	require.NotNil(t, rec)
	// fill slips through the stop, against the position
	assert.True(t, rec.ExitPrice.Equal(dec(98.9505)), "fill %s", rec.ExitPrice)
}

func TestOnBar_partialsBreakevenAndTrailingRunner(t *testing.T) {
	m := newManager(exitsCfg())
	p := m.Open(pivot("AAPL", 98, market.SideLong), breakout.PathMomentum,
		barAt(sessionStart, 99.9, 100.1, 99.8, 100), 0, dec(100))

	// 1R target at 102: half comes off, stop promotes to breakeven
	rec := m.OnBar(p, barAt(sessionStart.Add(time.Minute), 100, 102, 99.9, 101.8))
	require.Nil(t, rec)
	require.Len(t, p.Partials, 1)
	assert.True(t, p.Remaining.Equal(dec(0.5)))
	assert.True(t, p.Stop.Equal(p.EntryPrice))
	assert.True(t, p.Breakeven)
	assert.Equal(t, "1R target", p.Partials[0].Reason)

	// 2R target at 104: quarter comes off, only the runner remains
	rec = m.OnBar(p, barAt(sessionStart.Add(2*time.Minute), 101.8, 104, 101.7, 103.9))
	require.Nil(t, rec)
	require.Len(t, p.Partials, 2)
	assert.True(t, p.Remaining.Equal(dec(0.25)))
	assert.Equal(t, "2R target", p.Partials[1].Reason)

	// runner trails 0.5% behind the best price
	rec = m.OnBar(p, barAt(sessionStart.Add(3*time.Minute), 103.9, 104.2, 103.0, 103.8))
	require.Nil(t, rec)
	assert.True(t, p.Trailing)
	assert.True(t, p.Stop.Equal(dec(103.679)), "stop %s", p.Stop)

	// trailing stop takes the runner out
	rec = m.OnBar(p, barAt(sessionStart.Add(4*time.Minute), 103.8, 103.9, 103.5, 103.6))
	require.NotNil(t, rec)
	assert.Equal(t, ReasonTrailing, rec.ExitReason)
	assert.True(t, rec.ExitFrac.Equal(dec(0.25)))
	assert.True(t, rec.PnL.Equal(dec(291.975)), "pnl %s", rec.PnL)
	assert.InDelta(t, 1.459875, rec.RMultiple, 1e-9)

	// exited fractions account for the whole position
	total := rec.ExitFrac
	for _, pe := range rec.Partials {
		total = total.Add(pe.Fraction)
	}
	assert.True(t, total.Equal(decimal.NewFromInt(1)))
}

func TestOnBar_breakevenNeverLoses(t *testing.T) {
	m := newManager(exitsCfg())
	p := m.Open(pivot("AAPL", 98, market.SideLong), breakout.PathMomentum,
		barAt(sessionStart, 99.9, 100.1, 99.8, 100), 0, dec(100))

	rec := m.OnBar(p, barAt(sessionStart.Add(time.Minute), 100, 102, 99.9, 101.8))
	require.Nil(t, rec)
	require.True(t, p.Breakeven)

	// full reversal stops the rest out at entry: the banked partial keeps
	// the trade positive
	rec = m.OnBar(p, barAt(sessionStart.Add(2*time.Minute), 101.8, 101.9, 99.5, 99.6))
	require.NotNil(t, rec)
	assert.Equal(t, ReasonStop, rec.ExitReason)
	assert.True(t, rec.PnL.Equal(dec(100)), "pnl %s", rec.PnL)
}

func TestOnBar_timeout(t *testing.T) {
	m := newManager(exitsCfg())
	p := m.Open(pivot("AAPL", 98, market.SideLong), breakout.PathSustained,
		barAt(sessionStart, 99.9, 100.1, 99.8, 100), 0, dec(100))

	// stalled but not yet old enough
	rec := m.OnBar(p, barAt(sessionStart.Add(6*time.Minute), 100, 100.6, 99.9, 100.5))
	require.Nil(t, rec)

	rec = m.OnBar(p, barAt(sessionStart.Add(7*time.Minute), 100.5, 100.6, 100.3, 100.5))
	require.NotNil(t, rec)
	assert.Equal(t, ReasonTimeout, rec.ExitReason)
	assert.True(t, rec.ExitPrice.Equal(dec(100.5)))
}

func TestOnBar_timeoutNeedsLackOfProgress(t *testing.T) {
	m := newManager(exitsCfg())
	p := m.Open(pivot("AAPL", 98, market.SideLong), breakout.PathSustained,
		barAt(sessionStart, 99.9, 100.1, 99.8, 100), 0, dec(100))

	// 0.6R of progress at the deadline: the position keeps working
	rec := m.OnBar(p, barAt(sessionStart.Add(7*time.Minute), 100, 101.3, 99.9, 101.2))
	assert.Nil(t, rec)
}

func TestOnBar_timeoutDisabledAfterPartial(t *testing.T) {
	m := newManager(exitsCfg())
	p := m.Open(pivot("AAPL", 98, market.SideLong), breakout.PathMomentum,
		barAt(sessionStart, 99.9, 100.1, 99.8, 100), 0, dec(100))

	rec := m.OnBar(p, barAt(sessionStart.Add(time.Minute), 100, 102, 99.9, 101.8))
	require.Nil(t, rec)
	require.Len(t, p.Partials, 1)

	// stalled well past the deadline, but the partial proved the trade
	rec = m.OnBar(p, barAt(sessionStart.Add(10*time.Minute), 101.8, 101.9, 100.1, 100.2))
	assert.Nil(t, rec)
}

func TestOnBar_endOfDay(t *testing.T) {
	m := newManager(exitsCfg())
	entryTime := time.Date(2025, 6, 2, 15, 50, 0, 0, time.UTC)
	p := m.Open(pivot("AAPL", 98, market.SideLong), breakout.PathPullback,
		barAt(entryTime, 99.9, 100.1, 99.8, 100), 0, dec(100))

	rec := m.OnBar(p, barAt(entryTime.Add(5*time.Minute), 100, 101, 99.9, 100.8))
	require.NotNil(t, rec)
	assert.Equal(t, ReasonEOD, rec.ExitReason)
	assert.True(t, rec.PnL.Equal(dec(80)), "pnl %s", rec.PnL)
}

func TestOnBar_endOfDayOverridesTimeout(t *testing.T) {
	m := newManager(exitsCfg())
	entryTime := time.Date(2025, 6, 2, 15, 47, 0, 0, time.UTC)
	p := m.Open(pivot("AAPL", 98, market.SideLong), breakout.PathSustained,
		barAt(entryTime, 99.9, 100.1, 99.8, 100), 0, dec(100))

	// stalled past the timeout deadline exactly on the cutoff bar: the
	// cutoff wins
	rec := m.OnBar(p, barAt(time.Date(2025, 6, 2, 15, 55, 0, 0, time.UTC), 100.4, 100.6, 100.3, 100.5))
	require.NotNil(t, rec)
	assert.Equal(t, ReasonEOD, rec.ExitReason)
	assert.True(t, rec.ExitPrice.Equal(dec(100.5)))
}

func TestOnBar_endOfDayOverridesTrailing(t *testing.T) {
	cfg := exitsCfg()
	cfg.TrailingActivation = 1
	m := newManager(cfg)
	entryTime := time.Date(2025, 6, 2, 15, 50, 0, 0, time.UTC)
	p := m.Open(pivot("AAPL", 98, market.SideLong), breakout.PathPullback,
		barAt(entryTime, 99.9, 100.1, 99.8, 100), 0, dec(100))

	rec := m.OnBar(p, barAt(entryTime.Add(2*time.Minute), 100, 101, 100.2, 100.9))
	require.Nil(t, rec)
	require.True(t, p.Trailing)

	// a trailing ratchet is due on the cutoff bar, but the position must not
	// stay open past it
	rec = m.OnBar(p, barAt(entryTime.Add(5*time.Minute), 101, 102, 100.9, 101.8))
	require.NotNil(t, rec)
	assert.Equal(t, ReasonEOD, rec.ExitReason)
	assert.True(t, rec.ExitPrice.Equal(dec(101.8)))
}

func TestOnBar_trailingOnlyRatchetsForward(t *testing.T) {
	cfg := exitsCfg()
	cfg.TrailingActivation = 1 // whole position trails
	m := newManager(cfg)
	p := m.Open(pivot("AAPL", 98, market.SideLong), breakout.PathPullback,
		barAt(sessionStart, 99.9, 100.1, 99.8, 100), 0, dec(100))

	rec := m.OnBar(p, barAt(sessionStart.Add(time.Minute), 100, 101, 100.2, 100.9))
	require.Nil(t, rec)
	assert.True(t, p.Stop.Equal(dec(100.495)), "stop %s", p.Stop)

	// price pauses below the best: the stop stays put
	rec = m.OnBar(p, barAt(sessionStart.Add(2*time.Minute), 100.6, 100.6, 100.5, 100.6))
	require.Nil(t, rec)
	assert.True(t, p.Stop.Equal(dec(100.495)))

	rec = m.OnBar(p, barAt(sessionStart.Add(3*time.Minute), 100.6, 100.5, 100.4, 100.45))
	require.NotNil(t, rec)
	assert.Equal(t, ReasonTrailing, rec.ExitReason)
	assert.True(t, rec.ExitPrice.Equal(dec(100.495)))
}

func TestForceClose(t *testing.T) {
	m := newManager(exitsCfg())
	p := m.Open(pivot("AAPL", 98, market.SideLong), breakout.PathPullback,
		barAt(sessionStart, 99.9, 100.1, 99.8, 100), 0, dec(100))
	m.Note(p, "data gap: 2 bars missing")

	rec := m.ForceClose(p, barAt(sessionStart.Add(time.Minute), 100, 101.1, 100, 101), ReasonEOD)
	require.NotNil(t, rec)
	assert.Equal(t, ReasonEOD, rec.ExitReason)
	assert.True(t, rec.ExitFrac.Equal(decimal.NewFromInt(1)))
	assert.True(t, rec.PnL.Equal(dec(100)), "pnl %s", rec.PnL)
	assert.Equal(t, []string{"data gap: 2 bars missing"}, rec.Notes)
}

func TestOnBar_closedPositionPanics(t *testing.T) {
	m := newManager(exitsCfg())
	p := m.Open(pivot("AAPL", 98, market.SideLong), breakout.PathPullback,
		barAt(sessionStart, 99.9, 100.1, 99.8, 100), 0, dec(100))
	m.ForceClose(p, barAt(sessionStart.Add(time.Minute), 100, 100.1, 99.9, 100), ReasonEOD)

	assert.Panics(t, func() {
		m.OnBar(p, barAt(sessionStart.Add(2*time.Minute), 100, 100.1, 99.9, 100))
	})
}

func TestOnBar_shortSide(t *testing.T) {
	m := newManager(exitsCfg())
	p := m.Open(pivot("TSLA", 102, market.SideShort), breakout.PathMomentum,
		barAt(sessionStart, 100.1, 100.2, 99.8, 100), 0, dec(100))
	require.True(t, p.Stop.Equal(dec(102)))

	// 1R target at 98
	rec := m.OnBar(p, barAt(sessionStart.Add(time.Minute), 100, 100.1, 98, 98.2))
	require.Nil(t, rec)
	require.Len(t, p.Partials, 1)
	assert.True(t, p.Stop.Equal(p.EntryPrice))

	// reversal through breakeven closes the rest at entry
	rec = m.OnBar(p, barAt(sessionStart.Add(2*time.Minute), 98.2, 100.5, 98.1, 100.4))
	require.NotNil(t, rec)
	assert.Equal(t, ReasonStop, rec.ExitReason)
	assert.True(t, rec.PnL.Equal(dec(100)), "pnl %s", rec.PnL)
}
