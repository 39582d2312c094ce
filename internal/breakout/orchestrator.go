package breakout

import (
	"fmt"
	"log/slog"

	"github.com/gamma-omg/breakout-backtest/internal/config"
	"github.com/gamma-omg/breakout-backtest/internal/cvd"
	"github.com/gamma-omg/breakout-backtest/internal/indicator"
	"github.com/gamma-omg/breakout-backtest/internal/market"
	"github.com/shopspring/decimal"
)

type Decision int

const (
	Wait Decision = iota
	Enter
	Abandon
)

func (d Decision) String() string {
	switch d {
	case Wait:
		return "WAIT"
	case Enter:
		return "ENTER"
	case Abandon:
		return "ABANDON"
	default:
		return fmt.Sprintf("DECISION_%d", int(d))
	}
}

// Verdict is the orchestrator's single per-bar decision for one symbol.
type Verdict struct {
	Decision Decision
	Path     EntryPath
	Reason   string // rejection reason on Abandon
}

// Diagnostic is the terminal state of an armed pivot that never produced a
// position, reported to the analyst at end of session.
type Diagnostic struct {
	Pivot    market.PivotSpec
	State    State
	Path     EntryPath
	Reject   string
	Attempts int
}

type armedPivot struct {
	pivot     market.PivotSpec
	asset     *market.Asset
	tracker   *Tracker
	exhausted bool
	lastDiag  Diagnostic
}

// Orchestrator drives one tracker per armed symbol and gates every confirmed
// entry behind the admission filter chain. Per-symbol mutable state lives in
// an explicit map owned here; symbols never share state.
type Orchestrator struct {
	log     *slog.Logger
	tracker config.Tracker
	filters config.Filters
	session config.Session
	pivots  map[string]*armedPivot
}

func NewOrchestrator(log *slog.Logger, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		log:     log,
		tracker: cfg.Tracker,
		filters: cfg.Filters,
		session: cfg.Session,
		pivots:  make(map[string]*armedPivot),
	}
}

// Arm registers the scanner's pivot for a symbol before the session begins.
func (o *Orchestrator) Arm(pivot market.PivotSpec, asset *market.Asset) {
	o.pivots[pivot.Symbol] = &armedPivot{
		pivot:   pivot,
		asset:   asset,
		tracker: NewTracker(o.tracker, o.session.BarInterval.Std(), pivot, asset),
	}
}

// OnBar advances the symbol's tracker by one bar and decides whether to
// enter, keep waiting, or abandon the current attempt.
func (o *Orchestrator) OnBar(symbol string, bar market.Bar, delta cvd.Reading) Verdict {
	ap, ok := o.pivots[symbol]
	if !ok {
		panic("breakout: received bar for unarmed symbol " + symbol)
	}

	res := ap.tracker.Update(bar, delta)
	if ap.exhausted {
		return Verdict{Decision: Wait}
	}

	switch res.State {
	case ReadyToEnter:
		if ap.tracker.Current() == nil {
			panic("breakout: entry confirmed without an active attempt")
		}
		if reason := o.admit(ap, res.Path, bar); reason != "" {
			ap.tracker.Fail(reason)
			return o.abandon(ap, res.Path, reason)
		}

		ap.tracker.Reset()
		o.log.Info("entry confirmed",
			slog.String("symbol", symbol),
			slog.String("path", string(res.Path)),
			slog.Time("time", bar.Time))
		return Verdict{Decision: Enter, Path: res.Path}

	case Failed:
		return o.abandon(ap, res.Path, res.Reject)

	default:
		return Verdict{Decision: Wait}
	}
}

func (o *Orchestrator) abandon(ap *armedPivot, path EntryPath, reason string) Verdict {
	ap.lastDiag = Diagnostic{
		Pivot:    ap.pivot,
		State:    Failed,
		Path:     path,
		Reject:   reason,
		Attempts: ap.tracker.Attempts(),
	}

	if ap.tracker.Attempts() < o.tracker.MaxAttempts {
		ap.tracker.Reset()
	} else {
		ap.exhausted = true
	}

	o.log.Info("attempt abandoned",
		slog.String("symbol", ap.pivot.Symbol),
		slog.String("reason", reason),
		slog.Int("attempts", ap.tracker.Attempts()))

	return Verdict{Decision: Abandon, Path: path, Reason: reason}
}

// admit runs the filter chain in order; the first failing filter's reason is
// returned and recorded as the attempt's rejection reason.
func (o *Orchestrator) admit(ap *armedPivot, path EntryPath, bar market.Bar) string {
	type entryFilter struct {
		name string
		pass func() bool
	}

	chain := []entryFilter{
		{"choppiness", func() bool { return o.directional(ap.asset) }},
		{"time of day", func() bool {
			return path != PathMomentum || !o.filters.MomentumCutoff.Reached(bar.Time)
		}},
		{"room to target", func() bool { return o.roomToTarget(ap.pivot, bar.Close) }},
		{"price sanity", func() bool {
			return path != PathDelta || o.nearLevel(ap.pivot, bar.Close)
		}},
		{"attempt count", func() bool { return ap.tracker.Attempts() <= o.tracker.MaxAttempts }},
	}

	for _, f := range chain {
		if !f.pass() {
			return "rejected by " + f.name + " filter"
		}
	}

	return ""
}

// directional rejects entries into a churning market. When there is not
// enough history to measure, the filter passes rather than blocking the
// whole early session.
func (o *Orchestrator) directional(asset *market.Asset) bool {
	need := o.filters.ChoppinessBars
	if need < o.tracker.ATRPeriod+1 {
		need = o.tracker.ATRPeriod + 1
	}
	if !asset.HasBars(need) {
		return true
	}

	bars, err := asset.GetBars(need)
	if err != nil {
		return true
	}

	return indicator.RangeToATR(bars, o.tracker.ATRPeriod) >= o.filters.ChoppinessMin
}

func (o *Orchestrator) roomToTarget(pivot market.PivotSpec, price decimal.Decimal) bool {
	if !pivot.HasTarget() {
		return true
	}

	room := pivot.Target.Sub(price)
	if pivot.Side == market.SideShort {
		room = room.Neg()
	}
	if !room.IsPositive() {
		return false
	}

	pct, _ := room.Div(price).Float64()
	return pct*100 >= o.filters.MinRoomPct
}

func (o *Orchestrator) nearLevel(pivot market.PivotSpec, price decimal.Decimal) bool {
	tolerance := pivot.Level.Mul(decimal.NewFromFloat(o.tracker.DeltaSanityPct / 100))
	return !price.Sub(pivot.Level).Abs().GreaterThan(tolerance)
}

// Diagnostics reports the final breakout state for every armed pivot,
// including the rejection reason of the last failed attempt.
func (o *Orchestrator) Diagnostics() map[string]Diagnostic {
	out := make(map[string]Diagnostic, len(o.pivots))
	for symbol, ap := range o.pivots {
		d := ap.lastDiag
		if a := ap.tracker.Current(); a != nil {
			d = Diagnostic{
				Pivot:    ap.pivot,
				State:    a.State,
				Path:     a.Path,
				Reject:   a.Reject,
				Attempts: ap.tracker.Attempts(),
			}
		} else if d.State == 0 && d.Reject == "" {
			d = Diagnostic{Pivot: ap.pivot, State: Monitoring, Attempts: ap.tracker.Attempts()}
		}
		out[symbol] = d
	}

	return out
}
