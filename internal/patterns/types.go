// Package patterns detects candlestick, structural, and harmonic chart
// patterns over daily bars and their structural pivots.
package patterns

import (
	"alpaca-signal-engine/internal/domain"
)

// Type names a detectable pattern. The names are stable: they key signal
// identity, archival rows, and notifier output.
type Type string

const (
	// Single-candle shapes
	BullishHammer   Type = "BULLISH_HAMMER"
	InvertedHammer  Type = "INVERTED_HAMMER"
	DragonflyDoji   Type = "DRAGONFLY_DOJI"
	BullishBeltHold Type = "BULLISH_BELT_HOLD"
	BullishMarubozu Type = "BULLISH_MARUBOZU"

	// Two-candle shapes
	BullishEngulfing Type = "BULLISH_ENGULFING"
	BearishEngulfing Type = "BEARISH_ENGULFING"
	BullishHarami    Type = "BULLISH_HARAMI"
	BullishKicker    Type = "BULLISH_KICKER"

	// Three-candle shapes
	MorningStar        Type = "MORNING_STAR"
	PiercingLine       Type = "PIERCING_LINE"
	ThreeInsideUp      Type = "THREE_INSIDE_UP"
	ThreeWhiteSoldiers Type = "THREE_WHITE_SOLDIERS"

	// Five-candle continuation
	RisingThreeMethods Type = "RISING_THREE_METHODS"

	// Multi-day structural
	DoubleBottom            Type = "DOUBLE_BOTTOM"
	InverseHeadAndShoulders Type = "INVERSE_HEAD_AND_SHOULDERS"
	BullFlag                Type = "BULL_FLAG"
	CupAndHandle            Type = "CUP_AND_HANDLE"
	AscendingTriangle       Type = "ASCENDING_TRIANGLE"
	FallingWedge            Type = "FALLING_WEDGE"
	TweezerBottoms          Type = "TWEEZER_BOTTOMS"

	// Harmonic
	ABCD           Type = "ABCD"
	Gartley        Type = "GARTLEY"
	Bat            Type = "BAT"
	Butterfly      Type = "BUTTERFLY"
	Crab           Type = "CRAB"
	ElliottImpulse Type = "ELLIOTT_1_3_5"
)

// MinStructuralWidth is the minimum bar count between the first and last
// pivot of any structural pattern.
const MinStructuralWidth = 10

// Meta carries the structural context of a detected multi-day or harmonic
// pattern.
type Meta struct {
	DurationDays   int
	Classification domain.PatternClassification
	Anchors        []domain.Pivot
	Ratios         map[string]float64
	// PoleHeight is set only for BULL_FLAG; the parameter factory projects
	// take profits from it.
	PoleHeight float64
	// FlagLow is set only for BULL_FLAG.
	FlagLow float64
}

// BarPatterns is the typed per-bar analyzer output: one flag per detectable
// pattern plus per-pattern metadata for the structural and harmonic
// families.
type BarPatterns struct {
	BullishHammer   bool
	InvertedHammer  bool
	DragonflyDoji   bool
	BullishBeltHold bool
	BullishMarubozu bool

	BullishEngulfing bool
	BearishEngulfing bool
	BullishHarami    bool
	BullishKicker    bool
	KickerTrueGap    bool

	MorningStar        bool
	PiercingLine       bool
	ThreeInsideUp      bool
	ThreeWhiteSoldiers bool

	RisingThreeMethods bool

	DoubleBottom            bool
	InverseHeadAndShoulders bool
	BullFlag                bool
	CupAndHandle            bool
	AscendingTriangle       bool
	FallingWedge            bool
	TweezerBottoms          bool

	// Harmonic holds the detected harmonic pattern name, empty when none.
	// At most one harmonic is reported per bar.
	Harmonic Type

	Meta map[Type]*Meta

	// Pivots is the pivot tail the structural detectors evaluated, all at
	// or before the evaluation bar. Signal anchors are drawn from it.
	Pivots []domain.Pivot
}

// Has reports whether the named pattern fired on this bar.
func (bp *BarPatterns) Has(t Type) bool {
	switch t {
	case BullishHammer:
		return bp.BullishHammer
	case InvertedHammer:
		return bp.InvertedHammer
	case DragonflyDoji:
		return bp.DragonflyDoji
	case BullishBeltHold:
		return bp.BullishBeltHold
	case BullishMarubozu:
		return bp.BullishMarubozu
	case BullishEngulfing:
		return bp.BullishEngulfing
	case BearishEngulfing:
		return bp.BearishEngulfing
	case BullishHarami:
		return bp.BullishHarami
	case BullishKicker:
		return bp.BullishKicker
	case MorningStar:
		return bp.MorningStar
	case PiercingLine:
		return bp.PiercingLine
	case ThreeInsideUp:
		return bp.ThreeInsideUp
	case ThreeWhiteSoldiers:
		return bp.ThreeWhiteSoldiers
	case RisingThreeMethods:
		return bp.RisingThreeMethods
	case DoubleBottom:
		return bp.DoubleBottom
	case InverseHeadAndShoulders:
		return bp.InverseHeadAndShoulders
	case BullFlag:
		return bp.BullFlag
	case CupAndHandle:
		return bp.CupAndHandle
	case AscendingTriangle:
		return bp.AscendingTriangle
	case FallingWedge:
		return bp.FallingWedge
	case TweezerBottoms:
		return bp.TweezerBottoms
	case ABCD, Gartley, Bat, Butterfly, Crab, ElliottImpulse:
		return bp.Harmonic == t
	}
	return false
}

// flagOrder is the canonical enumeration order of the boolean columns.
var flagOrder = []Type{
	BullishHammer, InvertedHammer, DragonflyDoji, BullishBeltHold, BullishMarubozu,
	BullishEngulfing, BearishEngulfing, BullishHarami, BullishKicker,
	MorningStar, PiercingLine, ThreeInsideUp, ThreeWhiteSoldiers,
	RisingThreeMethods,
	DoubleBottom, InverseHeadAndShoulders, BullFlag, CupAndHandle,
	AscendingTriangle, FallingWedge, TweezerBottoms,
}

// Flagged lists every pattern that fired on this bar, harmonics last.
func (bp *BarPatterns) Flagged() []Type {
	var out []Type
	for _, t := range flagOrder {
		if bp.Has(t) {
			out = append(out, t)
		}
	}
	if bp.Harmonic != "" {
		out = append(out, bp.Harmonic)
	}
	return out
}

// MetaFor returns the metadata recorded for a pattern, or nil.
func (bp *BarPatterns) MetaFor(t Type) *Meta {
	if bp.Meta == nil {
		return nil
	}
	return bp.Meta[t]
}

func (bp *BarPatterns) setMeta(t Type, m *Meta) {
	if bp.Meta == nil {
		bp.Meta = make(map[Type]*Meta)
	}
	bp.Meta[t] = m
}
