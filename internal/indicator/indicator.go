// Package indicator holds the rolling measures the breakout strategy sizes
// its thresholds against. All math is float64; precision loss here only
// affects signal classification, never position accounting.
package indicator

import (
	"github.com/gamma-omg/breakout-backtest/internal/market"
)

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(prev, cur market.Bar) float64 {
	high, _ := cur.High.Float64()
	low, _ := cur.Low.Float64()
	prevClose, _ := prev.Close.Float64()

	tr := high - low
	if d := abs(high - prevClose); d > tr {
		tr = d
	}
	if d := abs(low - prevClose); d > tr {
		tr = d
	}

	return tr
}

// AverageTrueRange computes the simple ATR over the trailing period. Requires
// period+1 bars; returns 0 when there is not enough history, callers treat
// that as "volatility unknown" and fall back to percentage thresholds.
func AverageTrueRange(bars []market.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}

	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += TrueRange(bars[i-1], bars[i])
	}

	return sum / float64(period)
}

// AverageVolume is the mean per-bar volume over the trailing window.
func AverageVolume(bars []market.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}

	sum := 0.0
	for _, b := range bars {
		v, _ := b.Volume.Float64()
		sum += v
	}

	return sum / float64(len(bars))
}

// RangeToATR measures directionality: the high-low span of the trailing
// window divided by the ATR over the same bars. Values near 1 mean the
// market is churning inside its typical per-bar range.
func RangeToATR(bars []market.Bar, atrPeriod int) float64 {
	atr := AverageTrueRange(bars, atrPeriod)
	if atr == 0 || len(bars) == 0 {
		return 0
	}

	high, _ := bars[0].High.Float64()
	low, _ := bars[0].Low.Float64()
	for _, b := range bars[1:] {
		if h, _ := b.High.Float64(); h > high {
			high = h
		}
		if l, _ := b.Low.Float64(); l < low {
			low = l
		}
	}

	return (high - low) / atr
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
