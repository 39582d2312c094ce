package market

import "time"

// ExchangeTZ is the exchange session timezone. Every feed normalizes bar and
// tick timestamps into it, so time-of-day cutoffs in the config compare
// against the exchange wall clock rather than UTC.
var ExchangeTZ = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic("market: unable to load exchange timezone: " + err.Error())
	}
	return loc
}
