// Package position owns an open trade's exits: stop management, the partial
// profit schedule, breakeven and trailing promotion, the timeout rule, and
// forced end-of-day liquidation.
package position

import (
	"fmt"
	"log/slog"

	"github.com/gamma-omg/breakout-backtest/internal/breakout"
	"github.com/gamma-omg/breakout-backtest/internal/config"
	"github.com/gamma-omg/breakout-backtest/internal/market"
	"github.com/shopspring/decimal"
)

// exitRule is one predicate→action pair. Rules are evaluated strictly
// top-to-bottom with early exit: when several conditions are true on one
// bar, only the first fires. Stop breach outranks everything; the cutoff
// comes next so a position open at end of day closes as EOD even when a
// timeout or trailing update is due on the same bar.
type exitRule struct {
	name  string
	apply func(p *Position, bar market.Bar) (rec *TradeRecord, handled bool)
}

type Manager struct {
	log   *slog.Logger
	cfg   config.Exits
	eod   config.ClockTime
	rules []exitRule
}

func NewManager(log *slog.Logger, cfg config.Exits, eod config.ClockTime) *Manager {
	m := &Manager{log: log, cfg: cfg, eod: eod}
	m.rules = []exitRule{
		{"stop breach", m.stopBreach},
		{"end of day", m.endOfDay},
		{"timeout", m.timeout},
		{"partial target", m.partialTarget},
		{"trailing stop", m.trail},
	}
	return m
}

// Open creates a position off the confirming bar. The initial stop is the
// wider of the pivot level and the ATR-derived minimum distance, scaled by
// the entry path's multiplier: a stop tighter than typical volatility would
// be shaken out by noise.
func (m *Manager) Open(pivot market.PivotSpec, path breakout.EntryPath, bar market.Bar, atr float64, qty decimal.Decimal) *Position {
	entry := applyPct(bar.Close, m.cfg.EntrySlippagePct, pivot.Side == market.SideLong)

	stop := pivot.Level
	if atr > 0 {
		dist := decimal.NewFromFloat(atr * m.stopMult(path))
		volStop := entry.Sub(dist)
		if pivot.Side == market.SideShort {
			volStop = entry.Add(dist)
		}
		// Wider of the two: the more protective stop wins.
		if pivot.Side.Favorable(stop, volStop) {
			stop = volStop
		}
	}

	p := &Position{
		Symbol:      pivot.Symbol,
		Side:        pivot.Side,
		Path:        path,
		EntryPrice:  entry,
		EntryTime:   bar.Time,
		InitialStop: stop,
		Stop:        stop,
		Qty:         qty,
		Remaining:   decimal.NewFromInt(1),
		Best:        entry,
	}

	m.log.Info("position opened",
		slog.String("symbol", p.Symbol),
		slog.String("side", p.Side.String()),
		slog.String("path", string(path)),
		slog.String("entry", entry.String()),
		slog.String("stop", stop.String()))

	return p
}

// OnBar evaluates the exit rules for one bar. Exactly one rule may act;
// it returns the finalized trade when the position fully closes, nil while
// it stays open.
func (m *Manager) OnBar(p *Position, bar market.Bar) *TradeRecord {
	if p.Remaining.IsZero() {
		panic("position: OnBar on a closed position for " + p.Symbol)
	}

	if best := bestExtreme(p.Side, bar); p.Side.Favorable(best, p.Best) {
		p.Best = best
	}

	for _, r := range m.rules {
		if rec, handled := r.apply(p, bar); handled {
			if rec != nil {
				m.log.Info("position closed",
					slog.String("symbol", p.Symbol),
					slog.String("reason", string(rec.ExitReason)),
					slog.String("pnl", rec.PnL.String()),
					slog.Float64("r", rec.RMultiple))
			}
			return rec
		}
	}

	return nil
}

// Note appends an audit-trail entry, e.g. a data gap observed mid-position.
func (m *Manager) Note(p *Position, note string) {
	p.Notes = append(p.Notes, note)
}

// ForceClose liquidates whatever remains at the bar's close, used by the
// session engine when the data stream ends with the position still open.
func (m *Manager) ForceClose(p *Position, bar market.Bar, reason ExitReason) *TradeRecord {
	return m.finalize(p, bar.Close, bar, reason)
}

func (m *Manager) stopBreach(p *Position, bar market.Bar) (*TradeRecord, bool) {
	worst := bar.Low
	if p.Side == market.SideShort {
		worst = bar.High
	}
	if p.Side.Favorable(worst, p.Stop) {
		return nil, false
	}

	fill := applyPct(p.Stop, m.cfg.StopSlippagePct, p.Side == market.SideShort)
	reason := ReasonStop
	if p.Trailing {
		reason = ReasonTrailing
	}

	return m.finalize(p, fill, bar, reason), true
}

// timeout closes a stalled full-size position. Once any partial has been
// taken the trade has proven itself and the rule is permanently disabled.
func (m *Manager) timeout(p *Position, bar market.Bar) (*TradeRecord, bool) {
	if len(p.Partials) > 0 {
		return nil, false
	}
	if bar.Time.Sub(p.EntryTime) < m.cfg.Timeout.Std() {
		return nil, false
	}
	if m.unrealizedR(p, bar.Close) >= m.cfg.TimeoutMinProgressR {
		return nil, false
	}

	return m.finalize(p, bar.Close, bar, ReasonTimeout), true
}

func (m *Manager) partialTarget(p *Position, bar market.Bar) (*TradeRecord, bool) {
	if len(p.Partials) >= len(m.cfg.Partials) {
		return nil, false
	}

	next := m.cfg.Partials[len(p.Partials)]
	risk := p.Risk()
	if risk.IsZero() {
		return nil, false
	}

	dist := risk.Mul(decimal.NewFromFloat(next.RMultiple))
	target := p.EntryPrice.Add(dist)
	if p.Side == market.SideShort {
		target = p.EntryPrice.Sub(dist)
	}

	if !p.Side.Favorable(p.Best, target) && !p.Best.Equal(target) {
		return nil, false
	}

	frac := decimal.NewFromFloat(next.Fraction)
	p.Remaining = p.Remaining.Sub(frac)
	p.Partials = append(p.Partials, PartialExit{
		Fraction: frac,
		Price:    target,
		Time:     bar.Time,
		Reason:   fmt.Sprintf("%gR target", next.RMultiple),
	})

	// First partial promotes the stop to breakeven. The promotion is
	// irreversible: the stop never moves back toward risk.
	if len(p.Partials) == 1 && p.Side.Favorable(p.EntryPrice, p.Stop) {
		p.Stop = p.EntryPrice
		p.Breakeven = true
	}

	m.log.Info("partial taken",
		slog.String("symbol", p.Symbol),
		slog.String("fraction", frac.String()),
		slog.String("price", target.String()),
		slog.String("remaining", p.Remaining.String()))

	return nil, true
}

// trail ratchets the stop behind the best favorable price once only the
// runner remains. The stop only ever moves in the favorable direction.
func (m *Manager) trail(p *Position, bar market.Bar) (*TradeRecord, bool) {
	if p.Remaining.GreaterThan(decimal.NewFromFloat(m.cfg.TrailingActivation)) {
		return nil, false
	}

	trail := applyPct(p.Best, m.cfg.TrailingDistancePct, p.Side == market.SideShort)
	if !p.Side.Favorable(trail, p.Stop) {
		return nil, false
	}

	p.Stop = trail
	p.Trailing = true
	return nil, true
}

func (m *Manager) endOfDay(p *Position, bar market.Bar) (*TradeRecord, bool) {
	if !m.eod.Reached(bar.Time) {
		return nil, false
	}

	return m.finalize(p, bar.Close, bar, ReasonEOD), true
}

func (m *Manager) finalize(p *Position, fill decimal.Decimal, bar market.Bar, reason ExitReason) *TradeRecord {
	rec := &TradeRecord{
		Symbol:      p.Symbol,
		Side:        p.Side,
		Path:        p.Path,
		EntryPrice:  p.EntryPrice,
		EntryTime:   p.EntryTime,
		InitialStop: p.InitialStop,
		Qty:         p.Qty,
		Partials:    p.Partials,
		ExitPrice:   fill,
		ExitTime:    bar.Time,
		ExitFrac:    p.Remaining,
		ExitReason:  reason,
		Notes:       p.Notes,
	}

	pnl := gain(p.Side, p.EntryPrice, fill).Mul(p.Remaining)
	for _, pe := range p.Partials {
		pnl = pnl.Add(gain(p.Side, p.EntryPrice, pe.Price).Mul(pe.Fraction))
	}
	rec.PnL = pnl.Mul(p.Qty)

	if risk := p.Risk(); !risk.IsZero() {
		rec.RMultiple, _ = pnl.Div(risk).Float64()
	}

	p.Remaining = decimal.Decimal{}
	return rec
}

func (m *Manager) unrealizedR(p *Position, price decimal.Decimal) float64 {
	risk := p.Risk()
	if risk.IsZero() {
		return 0
	}

	r, _ := gain(p.Side, p.EntryPrice, price).Div(risk).Float64()
	return r
}

func (m *Manager) stopMult(path breakout.EntryPath) float64 {
	switch path {
	case breakout.PathMomentum:
		return m.cfg.StopMultMomentum
	case breakout.PathSustained:
		return m.cfg.StopMultSustained
	default:
		// Pullback and delta entries fire at the level itself and get
		// the tightest minimum stop.
		return m.cfg.StopMultPullback
	}
}

func gain(side market.Side, entry, exit decimal.Decimal) decimal.Decimal {
	if side == market.SideShort {
		return entry.Sub(exit)
	}
	return exit.Sub(entry)
}

func bestExtreme(side market.Side, bar market.Bar) decimal.Decimal {
	if side == market.SideShort {
		return bar.Low
	}
	return bar.High
}

// applyPct shifts a price by pct percent, upward when up is true. Used for
// adverse slippage on fills and for the trailing distance.
func applyPct(price decimal.Decimal, pct float64, up bool) decimal.Decimal {
	if !up {
		pct = -pct
	}
	return price.Mul(decimal.NewFromFloat(1 + pct/100))
}
