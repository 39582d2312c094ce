package position

import (
	"time"

	"github.com/gamma-omg/breakout-backtest/internal/breakout"
	"github.com/gamma-omg/breakout-backtest/internal/market"
	"github.com/shopspring/decimal"
)

type ExitReason string

const (
	ReasonStop     ExitReason = "stop"
	ReasonTrailing ExitReason = "trailing stop"
	ReasonTimeout  ExitReason = "timeout"
	ReasonEOD      ExitReason = "EOD"
)

type PartialExit struct {
	Fraction decimal.Decimal
	Price    decimal.Decimal
	Time     time.Time
	Reason   string
}

// Position is the single mutable record of an open trade. The manager is its
// only writer; it is finalized into a TradeRecord on any exit path.
type Position struct {
	Symbol      string
	Side        market.Side
	Path        breakout.EntryPath
	EntryPrice  decimal.Decimal
	EntryTime   time.Time
	InitialStop decimal.Decimal
	Stop        decimal.Decimal
	Qty         decimal.Decimal
	Remaining   decimal.Decimal // fraction of original size still open
	Partials    []PartialExit
	Best        decimal.Decimal // best favorable price since entry
	Breakeven   bool            // stop has been promoted to entry
	Trailing    bool
	Notes       []string // audit trail: data gaps and the like
}

// Risk is the per-unit initial risk, entry price to initial stop.
func (p *Position) Risk() decimal.Decimal {
	return p.EntryPrice.Sub(p.InitialStop).Abs()
}

// TradeRecord is the immutable, fully audited outcome of a closed position.
// The partial-exit fractions plus the final exit fraction sum to exactly 1.
type TradeRecord struct {
	Symbol      string
	Side        market.Side
	Path        breakout.EntryPath
	EntryPrice  decimal.Decimal
	EntryTime   time.Time
	InitialStop decimal.Decimal
	Qty         decimal.Decimal
	Partials    []PartialExit
	ExitPrice   decimal.Decimal
	ExitTime    time.Time
	ExitFrac    decimal.Decimal
	ExitReason  ExitReason
	PnL         decimal.Decimal
	RMultiple   float64
	Notes       []string
}
