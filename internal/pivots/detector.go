// Package pivots extracts structural extremes (ZigZag pivots) from daily
// bar sequences in a single forward pass.
package pivots

import (
	"alpaca-signal-engine/internal/domain"
)

// DefaultThreshold is the minimum counter-move, as a fraction of the leg
// extreme, that confirms a reversal.
const DefaultThreshold = 0.05

type trendState int

const (
	trendUndetermined trendState = iota
	trendUp
	trendDown
)

// Detector runs the ZigZag state machine over close prices.
type Detector struct {
	threshold float64
}

// NewDetector returns a detector with the given reversal threshold.
// Non-positive thresholds fall back to the default.
func NewDetector(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

// Detect returns the pivots of the bar sequence in index order. The trailing
// leg extreme is emitted as a provisional final pivot. Empty input yields
// empty output. O(N) time.
func (d *Detector) Detect(bars []domain.Bar) []domain.Pivot {
	if len(bars) == 0 {
		return nil
	}

	var pivots []domain.Pivot
	state := trendUndetermined

	// Bootstrap tracks both running extremes until either direction moves
	// far enough to establish the initial trend.
	minIdx, maxIdx := 0, 0
	extIdx := 0

	for i := 1; i < len(bars); i++ {
		c := bars[i].Close

		switch state {
		case trendUndetermined:
			if c > bars[maxIdx].Close {
				maxIdx = i
			}
			if c < bars[minIdx].Close {
				minIdx = i
			}
			if low := bars[minIdx].Close; low > 0 && (c-low)/low >= d.threshold {
				pivots = append(pivots, pivotAt(bars, minIdx, domain.PivotValley))
				state = trendUp
				extIdx = i
			} else if high := bars[maxIdx].Close; high > 0 && (high-c)/high >= d.threshold {
				pivots = append(pivots, pivotAt(bars, maxIdx, domain.PivotPeak))
				state = trendDown
				extIdx = i
			}

		case trendUp:
			if c >= bars[extIdx].Close {
				extIdx = i
			} else if high := bars[extIdx].Close; high > 0 && (high-c)/high >= d.threshold {
				pivots = append(pivots, pivotAt(bars, extIdx, domain.PivotPeak))
				state = trendDown
				extIdx = i
			}

		case trendDown:
			if c <= bars[extIdx].Close {
				extIdx = i
			} else if low := bars[extIdx].Close; low > 0 && (c-low)/low >= d.threshold {
				pivots = append(pivots, pivotAt(bars, extIdx, domain.PivotValley))
				state = trendUp
				extIdx = i
			}
		}
	}

	// Provisional trailing pivot for the unfinished leg.
	switch state {
	case trendUp:
		pivots = append(pivots, pivotAt(bars, extIdx, domain.PivotPeak))
	case trendDown:
		pivots = append(pivots, pivotAt(bars, extIdx, domain.PivotValley))
	}

	return pivots
}

func pivotAt(bars []domain.Bar, i int, t domain.PivotType) domain.Pivot {
	return domain.Pivot{
		Ts:    bars[i].Ts,
		Price: bars[i].Close,
		Type:  t,
		Index: i,
	}
}
