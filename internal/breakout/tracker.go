// Package breakout classifies noisy price/volume sequences around a pivot
// level into confirmed entry conditions, and gates confirmed entries behind
// an admission filter chain.
package breakout

import (
	"time"

	"github.com/gamma-omg/breakout-backtest/internal/config"
	"github.com/gamma-omg/breakout-backtest/internal/cvd"
	"github.com/gamma-omg/breakout-backtest/internal/indicator"
	"github.com/gamma-omg/breakout-backtest/internal/market"
	"github.com/shopspring/decimal"
)

// Result is what one bar of tracking produced: the attempt's state after the
// transition, plus the entry path on READY_TO_ENTER and the rejection reason
// on FAILED.
type Result struct {
	State  State
	Path   EntryPath
	Reject string
}

// Tracker is the per-(symbol, pivot) breakout state machine. It consumes one
// bar at a time plus the latest volume-delta reading; the session engine must
// push each bar into the asset before calling Update.
type Tracker struct {
	cfg         config.Tracker
	barInterval time.Duration
	pivot       market.PivotSpec
	asset       *market.Asset

	attempt  *Attempt
	attempts int
	barIdx   int
}

func NewTracker(cfg config.Tracker, barInterval time.Duration, pivot market.PivotSpec, asset *market.Asset) *Tracker {
	return &Tracker{
		cfg:         cfg,
		barInterval: barInterval,
		pivot:       pivot,
		asset:       asset,
		barIdx:      -1,
	}
}

// Current returns the live attempt, nil while monitoring. Exposed for the
// orchestrator's invariant checks and end-of-session diagnostics.
func (t *Tracker) Current() *Attempt {
	return t.attempt
}

// Attempts is the number of attempts armed against this pivot so far.
func (t *Tracker) Attempts() int {
	return t.attempts
}

// Reset discards a terminal attempt so the pivot can be re-armed. The
// attempt counter is preserved: re-arming is bounded by the admission
// filter, not by the tracker.
func (t *Tracker) Reset() {
	t.attempt = nil
}

func (t *Tracker) Update(bar market.Bar, delta cvd.Reading) Result {
	t.barIdx++

	if t.attempt == nil {
		if t.pivot.Side.Favorable(bar.Close, t.pivot.Level) {
			t.attempts++
			t.attempt = &Attempt{
				State:      BreakoutDetected,
				BreakIndex: t.barIdx,
				BreakTime:  bar.Time,
				BreakPrice: bar.Close,
				Extreme:    bar.Close,
				Closest:    bar.Close,
				BarsHeld:   1,
			}
			return t.result()
		}
		return Result{State: Monitoring}
	}

	a := t.attempt
	if a.State.Terminal() {
		return t.result()
	}

	t.observe(bar)

	if t.barIdx-a.BreakIndex > t.cfg.MaxAttemptAge {
		return t.fail("stale attempt")
	}

	switch a.State {
	case BreakoutDetected:
		return t.confirm(bar)
	case WeakTracking:
		return t.trackHold(bar)
	case PullbackRetest:
		return t.trackRetest(bar)
	case DeltaMonitoring:
		return t.trackDelta(bar, delta)
	default:
		panic("breakout: attempt in impossible state " + a.State.String())
	}
}

// observe maintains the attempt's running extremes and hold count.
func (t *Tracker) observe(bar market.Bar) {
	a := t.attempt
	if t.pivot.Side.Favorable(bar.Close, a.Extreme) {
		a.Extreme = bar.Close
	}
	if t.pivot.Side.Favorable(a.Closest, bar.Close) {
		a.Closest = bar.Close
	}
	if t.pivot.Side.Favorable(bar.Close, t.pivot.Level) {
		a.BarsHeld++
	}
}

// confirm classifies the breakout once the confirmation window has elapsed.
func (t *Tracker) confirm(bar market.Bar) Result {
	a := t.attempt
	elapsed := t.barIdx - a.BreakIndex
	if elapsed < t.bars(t.cfg.ConfirmationWindow.Std()) {
		return t.result()
	}

	if !t.pivot.Side.Favorable(bar.Close, t.pivot.Level) {
		return t.fail("reversed before confirmation")
	}

	strongVolume, strongMove := t.classify(elapsed + 1)
	if strongVolume && strongMove {
		a.State = MomentumReady
		return t.ready(PathMomentum)
	}

	a.ClassifiedAt = t.barIdx
	switch {
	case t.cfg.EnablePullback:
		a.State = PullbackRetest
	case t.cfg.EnableSustained:
		a.State = WeakTracking
	default:
		a.State = DeltaMonitoring
	}

	return t.result()
}

// classify runs the two independent strength tests over the confirmation
// window: volume against the trailing per-window average, and candle
// amplitude against a price percentage or an ATR multiple.
func (t *Tracker) classify(windowBars int) (strongVolume, strongMove bool) {
	window, err := t.asset.GetBars(windowBars)
	if err != nil {
		return false, false
	}

	volume := decimal.Decimal{}
	high := window[0].High
	low := window[0].Low
	for _, b := range window {
		volume = volume.Add(b.Volume)
		high = decimal.Max(high, b.High)
		low = decimal.Min(low, b.Low)
	}

	if avg := t.trailingAvgVolume(windowBars); avg > 0 {
		total, _ := volume.Float64()
		strongVolume = total >= t.cfg.VolumeStrength*avg*float64(windowBars)
	}

	span, _ := high.Sub(low).Float64()
	price, _ := window[len(window)-1].Close.Float64()
	if price > 0 && span/price*100 >= t.cfg.CandleStrengthPct {
		strongMove = true
	}
	if atr := t.trailingATR(windowBars); atr > 0 && span >= t.cfg.CandleStrengthATR*atr {
		strongMove = true
	}

	return strongVolume, strongMove
}

// trackHold requires price to hold beyond the pivot, within the tolerance
// band, for the configured duration.
func (t *Tracker) trackHold(bar market.Bar) Result {
	floor := t.offset(-t.cfg.HoldTolerancePct)
	if t.pivot.Side.Favorable(floor, bar.Close) {
		return t.fail("gave back the level")
	}

	if t.barIdx-t.attempt.ClassifiedAt >= t.bars(t.cfg.HoldDuration.Std()) {
		return t.ready(PathSustained)
	}

	return t.result()
}

// trackRetest waits for price to come back into the retest band and then
// bounce away on expanded volume with a directional close.
func (t *Tracker) trackRetest(bar market.Bar) Result {
	band := t.offset(t.cfg.RetestBandPct)
	if !t.pivot.Side.Favorable(bar.Close, band) {
		t.attempt.RetestSeen = true
	}

	if !t.attempt.RetestSeen {
		return t.result()
	}

	bounce := t.offset(t.cfg.BouncePct)
	if t.pivot.Side.Favorable(bounce, bar.Close) {
		return t.result()
	}

	avg := t.trailingAvgVolume(1)
	vol, _ := bar.Volume.Float64()
	if avg <= 0 || vol < t.cfg.BounceVolume*avg {
		return t.result()
	}

	prev, err := t.asset.GetBars(2)
	if err != nil || !t.pivot.Side.Favorable(bar.Close, prev[0].Close) {
		return t.result()
	}

	return t.ready(PathPullback)
}

// trackDelta confirms on a decisive volume imbalance while price is still
// within the sanity band of the level.
func (t *Tracker) trackDelta(bar market.Bar, delta cvd.Reading) Result {
	ratio := delta.Ratio()
	if t.pivot.Side == market.SideShort {
		ratio = -ratio
	}
	if ratio < t.cfg.DeltaThreshold {
		return t.result()
	}

	dist := bar.Close.Sub(t.pivot.Level).Abs()
	if dist.GreaterThan(t.pct(t.cfg.DeltaSanityPct)) {
		return t.result()
	}

	return t.ready(PathDelta)
}

func (t *Tracker) ready(path EntryPath) Result {
	t.attempt.State = ReadyToEnter
	t.attempt.Path = path
	return t.result()
}

// Fail marks the live attempt as terminally failed with the given reason.
// Used by the tracker itself and by the orchestrator when an admission
// filter rejects a confirmed entry.
func (t *Tracker) Fail(reason string) {
	if t.attempt == nil {
		panic("breakout: failing an attempt that does not exist")
	}
	t.attempt.State = Failed
	t.attempt.Reject = reason
}

func (t *Tracker) fail(reason string) Result {
	t.Fail(reason)
	return t.result()
}

func (t *Tracker) result() Result {
	a := t.attempt
	return Result{State: a.State, Path: a.Path, Reject: a.Reject}
}

// bars converts a duration threshold to a bar count, never below one.
func (t *Tracker) bars(d time.Duration) int {
	n := int(d / t.barInterval)
	if n < 1 {
		n = 1
	}
	return n
}

// pct is the given percentage of the pivot level, as a price distance.
func (t *Tracker) pct(p float64) decimal.Decimal {
	return t.pivot.Level.Mul(decimal.NewFromFloat(p / 100))
}

// offset is the pivot level shifted by p percent in the favorable direction
// (negative p shifts against it).
func (t *Tracker) offset(p float64) decimal.Decimal {
	if t.pivot.Side == market.SideShort {
		p = -p
	}
	return t.pivot.Level.Add(t.pct(p))
}

func (t *Tracker) trailingAvgVolume(exclude int) float64 {
	need := t.cfg.VolumeLookback + exclude
	if !t.asset.HasBars(need) {
		return 0
	}

	bars, err := t.asset.GetBars(need)
	if err != nil {
		return 0
	}

	return indicator.AverageVolume(bars[:t.cfg.VolumeLookback])
}

func (t *Tracker) trailingATR(exclude int) float64 {
	need := t.cfg.ATRPeriod + 1 + exclude
	if !t.asset.HasBars(need) {
		return 0
	}

	bars, err := t.asset.GetBars(need)
	if err != nil {
		return 0
	}

	return indicator.AverageTrueRange(bars[:t.cfg.ATRPeriod+1], t.cfg.ATRPeriod)
}
