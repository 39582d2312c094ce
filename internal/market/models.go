package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Side int

const (
	SideLong Side = iota
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return fmt.Sprintf("side_%d", int(s))
	}
}

// Favorable reports whether a move from ref to price is in the side's
// profitable direction.
func (s Side) Favorable(price, ref decimal.Decimal) bool {
	if s == SideLong {
		return price.GreaterThan(ref)
	}
	return price.LessThan(ref)
}

type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal

	// Optional precomputed split, zero when the feed does not provide it.
	BuyVolume  decimal.Decimal
	SellVolume decimal.Decimal
}

type Tick struct {
	Time  time.Time
	Price decimal.Decimal
	Size  decimal.Decimal
}

// PivotSpec is the scanner's candidate level for one symbol and session.
// Immutable for the trading day.
type PivotSpec struct {
	Symbol string
	Level  decimal.Decimal
	Side   Side
	Target decimal.Decimal // zero when the scanner supplies no target
}

func (p PivotSpec) HasTarget() bool {
	return !p.Target.IsZero()
}
