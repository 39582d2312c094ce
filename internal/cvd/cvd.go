// Package cvd computes per-bucket signed volume imbalance from a tick stream
// using the tick rule: trades above the previous price count as buys, trades
// below as sells, trades at the same price carry no directional information.
package cvd

import (
	"time"

	"github.com/gamma-omg/breakout-backtest/internal/market"
	"github.com/shopspring/decimal"
)

type Reading struct {
	Start time.Time
	Buy   decimal.Decimal
	Sell  decimal.Decimal
	Total decimal.Decimal
}

func (r Reading) Delta() decimal.Decimal {
	return r.Buy.Sub(r.Sell)
}

// Ratio is the imbalance ratio delta / (buy + sell), in [-1, 1].
// A bucket with no directional volume has a ratio of zero.
func (r Reading) Ratio() float64 {
	directional := r.Buy.Add(r.Sell)
	if directional.IsZero() {
		return 0
	}

	ratio, _ := r.Delta().Div(directional).Float64()
	return ratio
}

type Aggregator struct {
	bucket time.Duration

	cur       Reading
	end       time.Time
	open      bool
	lastPrice decimal.Decimal
	hasLast   bool
}

func NewAggregator(bucket time.Duration) *Aggregator {
	return &Aggregator{bucket: bucket}
}

// Ingest appends a tick to the open bucket, closing buckets the tick has
// moved past. The returned slice holds every bucket closed by this tick:
// usually none or one, more when the stream has a gap spanning whole buckets
// (each gap bucket yields a zero reading).
func (a *Aggregator) Ingest(t market.Tick) []Reading {
	var closed []Reading

	for a.open && !t.Time.Before(a.end) {
		closed = append(closed, a.cur)
		start := a.end
		a.cur = Reading{Start: start}
		a.end = start.Add(a.bucket)
		if t.Time.Before(a.end) {
			break
		}
	}

	if !a.open {
		start := t.Time.Truncate(a.bucket)
		a.cur = Reading{Start: start}
		a.end = start.Add(a.bucket)
		a.open = true
	}

	a.cur.Total = a.cur.Total.Add(t.Size)
	if a.hasLast {
		switch {
		case t.Price.GreaterThan(a.lastPrice):
			a.cur.Buy = a.cur.Buy.Add(t.Size)
		case t.Price.LessThan(a.lastPrice):
			a.cur.Sell = a.cur.Sell.Add(t.Size)
		}
		// Equal price: no directional information, size counts toward
		// total only.
	}

	a.lastPrice = t.Price
	a.hasLast = true
	return closed
}

// Current returns a snapshot of the open bucket without closing it. The
// session engine reads it at each bar boundary so a bar is paired with the
// imbalance of its own ticks, never a bucket behind.
func (a *Aggregator) Current() (Reading, bool) {
	if !a.open {
		return Reading{}, false
	}

	return a.cur, true
}

// Flush closes the partially filled bucket at the end of the tick stream.
func (a *Aggregator) Flush() (Reading, bool) {
	if !a.open {
		return Reading{}, false
	}

	a.open = false
	return a.cur, true
}
