package feed

import (
	"time"

	"github.com/gamma-omg/breakout-backtest/internal/market"
)

// Resample folds finer-grained source bars into the session's bar interval.
// Vendors commonly serve one-minute bars regardless of the requested
// granularity; a coarser session interval needs them coalesced before the
// engine sees them. Bars already at or above the interval pass through
// unchanged.
func Resample(bars []market.Bar, interval time.Duration) []market.Bar {
	if len(bars) < 2 || bars[1].Time.Sub(bars[0].Time) >= interval {
		return bars
	}

	agg := market.WindowAggregator{Interval: interval}
	out := make([]market.Bar, 0, len(bars))
	for _, b := range bars {
		if w, ok := agg.Push(b); ok {
			out = append(out, w)
		}
	}
	if w, ok := agg.Flush(); ok {
		out = append(out, w)
	}

	return out
}
