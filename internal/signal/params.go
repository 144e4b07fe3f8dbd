// Package signal turns detected patterns into trade signals and advances
// them through their lifecycle against subsequent bars.
package signal

import (
	"math"
	"sort"
	"time"

	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/indicators"
	"alpaca-signal-engine/internal/patterns"
)

// SafeStopVal is the strictly positive floor for computed stops. Micro-cap
// symbols with sub-cent lows can otherwise produce a zero or negative stop.
const SafeStopVal = 1e-8

// Validity windows keyed by classification.
const (
	standardValidity = 48 * time.Hour
	macroValidity    = 120 * time.Hour
)

// maxAnchors bounds the pivot snapshots carried on a signal.
const maxAnchors = 5

// Params are the computed trade parameters for one detection.
type Params struct {
	Entry        float64
	Stop         float64
	Invalidation float64
	TP1          float64
	TP2          float64
	TP3          float64
}

// BuildParams computes entry, stop, invalidation and the take-profit
// ladder for a pattern triggered on bar i. The volatility unit is ATR(14);
// when the ATR column has not warmed up the bar's true range stands in.
func BuildParams(t patterns.Type, meta *patterns.Meta, bars []domain.Bar, cols *indicators.Columns, i int) Params {
	bar := bars[i]
	entry := bar.Close

	atr, ok := cols.At(cols.ATR14, i)
	if !ok || atr <= 0 {
		atr = bar.High - bar.Low
	}

	var p Params
	p.Entry = entry

	switch t {
	case patterns.BullishHammer, patterns.MorningStar:
		p.Invalidation = bar.Low
		p.Stop = math.Max(SafeStopVal, bar.Low*0.99)

	case patterns.BullishEngulfing:
		p.Invalidation = bar.Open
		p.Stop = bar.Open * 0.99

	case patterns.BullishMarubozu:
		mid := (bar.Open + bar.Close) / 2
		p.Invalidation = mid
		p.Stop = mid * 0.99

	case patterns.BullFlag:
		flagLow := bar.Low
		pole := 0.0
		if meta != nil {
			if meta.FlagLow > 0 {
				flagLow = meta.FlagLow
			}
			pole = meta.PoleHeight
		}
		p.Invalidation = flagLow
		p.Stop = math.Max(SafeStopVal, flagLow*0.99)
		if pole > 0 {
			p.TP1 = entry + 0.5*pole
			p.TP2 = entry + 1.0*pole
			p.TP3 = entry + 1.5*pole
		}

	default:
		p.Invalidation = bar.Low
		p.Stop = bar.Low * 0.99
	}

	if p.TP1 == 0 {
		p.TP1 = entry + 2*atr
		p.TP2 = entry + 4*atr
		p.TP3 = entry + 6*atr
	}
	return p
}

// Classification resolves the pattern classification. Structural and
// harmonic detectors carry it on their meta; candle shapes are standard.
func Classification(t patterns.Type, meta *patterns.Meta) domain.PatternClassification {
	if meta != nil && meta.Classification != "" {
		return meta.Classification
	}
	return domain.StandardPattern
}

// DurationDays resolves the pattern's bar span: pivot span for structural
// and harmonic families, fixed candle width otherwise.
func DurationDays(t patterns.Type, meta *patterns.Meta) int {
	if meta != nil && meta.DurationDays > 0 {
		return meta.DurationDays
	}
	return patterns.Width(t)
}

// Validity returns the signal validity window for a classification.
func Validity(c domain.PatternClassification) time.Duration {
	if c == domain.MacroPattern || c == domain.MacroHarmonic {
		return macroValidity
	}
	return standardValidity
}

// Anchors selects the last up to maxAnchors pivots, ordered by bar index.
func Anchors(pivs []domain.Pivot) []domain.Pivot {
	if len(pivs) == 0 {
		return nil
	}
	sorted := make([]domain.Pivot, len(pivs))
	copy(sorted, pivs)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Index < sorted[b].Index })
	if len(sorted) > maxAnchors {
		sorted = sorted[len(sorted)-maxAnchors:]
	}
	return sorted
}

// HydrateSafeValues replaces non-positive stop and take-profit values with
// strictly positive sentinels so rejected shadow signals pass schema
// validation. The ladder ordering is preserved. Never applied to signals
// that feed the executor.
func HydrateSafeValues(s *domain.Signal) {
	if s.SuggestedStop <= 0 {
		s.SuggestedStop = SafeStopVal
	}
	if s.InvalidationPrice <= 0 {
		s.InvalidationPrice = SafeStopVal
	}
	if s.TakeProfit1 <= 0 {
		s.TakeProfit1 = 2 * SafeStopVal
	}
	if s.TakeProfit2 <= s.TakeProfit1 && s.TakeProfit2 <= 0 {
		s.TakeProfit2 = 3 * SafeStopVal
	}
	if s.TakeProfit3 <= s.TakeProfit2 && s.TakeProfit3 <= 0 {
		s.TakeProfit3 = 4 * SafeStopVal
	}
}
