package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// WindowAggregator folds raw bars into fixed-interval windows, used by the
// feed to resample vendor bars to the session interval. Push returns the
// completed window once the incoming bar falls past the current window's end.
type WindowAggregator struct {
	Interval time.Duration

	cur *Bar
	end time.Time
}

func (a *WindowAggregator) Push(b Bar) (Bar, bool) {
	var done Bar
	var closed bool

	if a.cur != nil && !b.Time.Before(a.end) {
		done = *a.cur
		closed = true
		a.cur = nil
	}

	if a.cur == nil {
		a.end = b.Time.Truncate(a.Interval).Add(a.Interval)
		a.cur = &Bar{
			Time: b.Time,
			Open: b.Open,
			High: b.High,
			Low:  b.Low,
		}
	}

	a.cur.Close = b.Close
	a.cur.High = decimal.Max(a.cur.High, b.High)
	a.cur.Low = decimal.Min(a.cur.Low, b.Low)
	a.cur.Volume = a.cur.Volume.Add(b.Volume)
	a.cur.BuyVolume = a.cur.BuyVolume.Add(b.BuyVolume)
	a.cur.SellVolume = a.cur.SellVolume.Add(b.SellVolume)

	return done, closed
}

// Flush closes and returns the partial window at the end of the session.
func (a *WindowAggregator) Flush() (Bar, bool) {
	if a.cur == nil {
		return Bar{}, false
	}

	done := *a.cur
	a.cur = nil
	return done, true
}
