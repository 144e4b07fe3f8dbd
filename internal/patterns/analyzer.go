package patterns

import (
	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/pivots"
)

// Analyzer produces the per-bar pattern record for a bar sequence. Candle
// shapes read the bars directly; structural and harmonic detectors read the
// pivot tail up to the evaluation bar.
type Analyzer struct {
	detector *pivots.Detector
}

// NewAnalyzer builds an analyzer whose pivot detector uses pctThreshold.
// Non-positive thresholds fall back to the detector default.
func NewAnalyzer(pctThreshold float64) *Analyzer {
	return &Analyzer{detector: pivots.NewDetector(pctThreshold)}
}

// Analyze evaluates the most recent bar of the sequence.
func (a *Analyzer) Analyze(bars []domain.Bar) *BarPatterns {
	if len(bars) == 0 {
		return &BarPatterns{}
	}
	pivs := a.detector.Detect(bars)
	return a.analyzeAt(bars, pivs, len(bars)-1)
}

// AnalyzeAt evaluates bar i as if it were the most recent observation.
// Pivots are re-derived from the prefix so no later bar leaks into the
// result.
func (a *Analyzer) AnalyzeAt(bars []domain.Bar, i int) *BarPatterns {
	if i < 0 || i >= len(bars) {
		return &BarPatterns{}
	}
	pivs := a.detector.Detect(bars[:i+1])
	return a.analyzeAt(bars, pivs, i)
}

func (a *Analyzer) analyzeAt(bars []domain.Bar, pivs []domain.Pivot, i int) *BarPatterns {
	bp := &BarPatterns{}

	// Only pivots at or before the evaluation bar participate.
	tail := pivs[:0:0]
	for _, p := range pivs {
		if p.Index <= i {
			tail = append(tail, p)
		}
	}
	bp.Pivots = tail

	cur := bars[i]
	bp.BullishHammer = isBullishHammer(cur)
	bp.DragonflyDoji = isDragonflyDoji(cur)
	bp.BullishBeltHold = isBullishBeltHold(cur)
	bp.BullishMarubozu = isBullishMarubozu(cur)

	if i >= 1 {
		prev := bars[i-1]
		// The inverted hammer only counts once the next bar confirms by
		// closing above the shape bar's high.
		bp.InvertedHammer = isInvertedHammerShape(prev) && cur.Close > prev.High
		bp.BullishEngulfing = isBullishEngulfing(prev, cur)
		bp.BearishEngulfing = isBearishEngulfing(prev, cur)
		bp.BullishHarami = isBullishHarami(prev, cur)
		bp.BullishKicker, bp.KickerTrueGap = isBullishKicker(prev, cur)
	}

	if i >= 2 {
		c1, c2, c3 := bars[i-2], bars[i-1], bars[i]
		bp.MorningStar = isMorningStar(c1, c2, c3)
		bp.PiercingLine = isPiercingLine(c2, c3)
		bp.ThreeInsideUp = isThreeInsideUp(c1, c2, c3)
		bp.ThreeWhiteSoldiers = isThreeWhiteSoldiers(c1, c2, c3)
	}

	if i >= 4 {
		bp.RisingThreeMethods = isRisingThreeMethods(bars[i-4], bars[i-3], bars[i-2], bars[i-1], bars[i])
	}

	if m, ok := detectDoubleBottom(tail); ok {
		bp.DoubleBottom = true
		bp.setMeta(DoubleBottom, m)
	}
	if m, ok := detectInverseHeadAndShoulders(bars, tail, i); ok {
		bp.InverseHeadAndShoulders = true
		bp.setMeta(InverseHeadAndShoulders, m)
	}
	if m, ok := detectBullFlag(bars, tail, i); ok {
		bp.BullFlag = true
		bp.setMeta(BullFlag, m)
	}
	if m, ok := detectCupAndHandle(bars, tail, i); ok {
		bp.CupAndHandle = true
		bp.setMeta(CupAndHandle, m)
	}
	if m, ok := detectAscendingTriangle(tail); ok {
		bp.AscendingTriangle = true
		bp.setMeta(AscendingTriangle, m)
	}
	if m, ok := detectFallingWedge(bars, tail, i); ok {
		bp.FallingWedge = true
		bp.setMeta(FallingWedge, m)
	}
	if m, ok := detectTweezerBottoms(tail); ok {
		bp.TweezerBottoms = true
		bp.setMeta(TweezerBottoms, m)
	}

	if t, m := detectHarmonic(tail); t != "" {
		bp.Harmonic = t
		bp.setMeta(t, m)
	}

	return bp
}

// Width returns the fixed bar span of a candlestick pattern, or 0 for
// structural and harmonic patterns whose span comes from their pivot
// anchors.
func Width(t Type) int {
	switch t {
	case BullishHammer, DragonflyDoji, BullishBeltHold, BullishMarubozu:
		return 1
	case InvertedHammer, BullishEngulfing, BearishEngulfing, BullishHarami, BullishKicker:
		return 2
	case MorningStar, PiercingLine, ThreeInsideUp, ThreeWhiteSoldiers:
		return 3
	case RisingThreeMethods:
		return 5
	}
	return 0
}
