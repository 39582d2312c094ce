package breakout

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type State int

const (
	Monitoring State = iota
	BreakoutDetected
	MomentumReady
	WeakTracking
	PullbackRetest
	DeltaMonitoring
	ReadyToEnter
	Failed
)

var stateNames = map[State]string{
	Monitoring:       "MONITORING",
	BreakoutDetected: "BREAKOUT_DETECTED",
	MomentumReady:    "MOMENTUM_READY",
	WeakTracking:     "WEAK_TRACKING",
	PullbackRetest:   "PULLBACK_RETEST",
	DeltaMonitoring:  "DELTA_MONITORING",
	ReadyToEnter:     "READY_TO_ENTER",
	Failed:           "FAILED",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("STATE_%d", int(s))
}

func (s State) Terminal() bool {
	return s == ReadyToEnter || s == Failed
}

// EntryPath tags which confirmation path produced an entry; it drives the
// position manager's stop sizing and the orchestrator's path-specific filters.
type EntryPath string

const (
	PathMomentum  EntryPath = "momentum"
	PathSustained EntryPath = "sustained break"
	PathPullback  EntryPath = "pullback retest"
	PathDelta     EntryPath = "delta"
)

// Attempt is the mutable record of one breakout attempt against a pivot.
// At most one live Attempt exists per tracker at a time.
type Attempt struct {
	State        State
	BreakIndex   int
	BreakTime    time.Time
	BreakPrice   decimal.Decimal
	Extreme      decimal.Decimal // best favorable price since the break
	Closest      decimal.Decimal // closest approach back toward the pivot
	ClassifiedAt int             // bar index where a weak path was chosen
	BarsHeld     int             // bars closed beyond the pivot since the break
	RetestSeen   bool
	Path         EntryPath
	Reject       string // set when State is Failed
}
