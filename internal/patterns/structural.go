package patterns

import (
	"math"

	"alpaca-signal-engine/internal/domain"
)

// Structural detectors verify multi-day geometry over pivots. Every
// detector enforces MinStructuralWidth bars between the first and last
// anchor pivot.

// Geometry thresholds.
const (
	doubleBottomVariance  = 0.015 // max price variance between the two valleys
	doubleBottomNeckRise  = 0.03  // min peak rise above the lower valley
	ihsHeadDepth          = 0.03  // head below the lowest shoulder
	ihsShoulderVariance   = 0.03  // shoulders within this of each other
	ihsTimeRatioMin       = 0.6
	ihsTimeRatioMax       = 1.4
	bullFlagMinPoleRise   = 0.15 // valley to peak
	bullFlagMaxRetrace    = 0.5  // flag low stays in the upper half of the pole
	cupRimVariance        = 0.10 // right rim within this of the left rim
	cupMaxHandleRetrace   = 0.15 // of cup depth
	trianglePeakVariance  = 0.02 // flat resistance
	triangleMinValleyRise = 0.01
	tweezerVariance       = 0.003 // matching valley lows
)

func widthOK(first, last domain.Pivot) bool {
	return last.Index-first.Index >= MinStructuralWidth
}

func lastN(pivs []domain.Pivot, n int) []domain.Pivot {
	if len(pivs) < n {
		return nil
	}
	return pivs[len(pivs)-n:]
}

func spanDays(first, last domain.Pivot) int {
	return int(last.Ts.Sub(first.Ts).Hours() / 24)
}

func classify(anchors []domain.Pivot, harmonic bool) (domain.PatternClassification, int) {
	days := 0
	if len(anchors) >= 2 {
		days = spanDays(anchors[0], anchors[len(anchors)-1])
	}
	macro := days > domain.MacroSpanDays
	switch {
	case harmonic && macro:
		return domain.MacroHarmonic, days
	case harmonic:
		return domain.HarmonicPattern, days
	case macro:
		return domain.MacroPattern, days
	default:
		return domain.StandardPattern, days
	}
}

func structuralMeta(anchors []domain.Pivot) *Meta {
	cls, days := classify(anchors, false)
	return &Meta{
		DurationDays:   days,
		Classification: cls,
		Anchors:        anchors,
	}
}

// detectDoubleBottom verifies two near-equal valleys separated by a peak
// at least 3% above the lower valley.
func detectDoubleBottom(pivs []domain.Pivot) (*Meta, bool) {
	p := lastN(pivs, 3)
	if p == nil {
		return nil, false
	}
	v1, mid, v2 := p[0], p[1], p[2]
	if v1.Type != domain.PivotValley || mid.Type != domain.PivotPeak || v2.Type != domain.PivotValley {
		return nil, false
	}
	if !widthOK(v1, v2) {
		return nil, false
	}
	low := math.Min(v1.Price, v2.Price)
	if low <= 0 {
		return nil, false
	}
	if math.Abs(v1.Price-v2.Price)/low > doubleBottomVariance {
		return nil, false
	}
	if mid.Price < low*(1+doubleBottomNeckRise) {
		return nil, false
	}
	return structuralMeta(p), true
}

// detectInverseHeadAndShoulders verifies the five-pivot V-P-V-P-V geometry
// with a confirmed neckline breakout on the evaluation bar.
func detectInverseHeadAndShoulders(bars []domain.Bar, pivs []domain.Pivot, i int) (*Meta, bool) {
	p := lastN(pivs, 5)
	if p == nil {
		return nil, false
	}
	v1, p1, head, p2, v3 := p[0], p[1], p[2], p[3], p[4]
	if v1.Type != domain.PivotValley || p1.Type != domain.PivotPeak ||
		head.Type != domain.PivotValley || p2.Type != domain.PivotPeak ||
		v3.Type != domain.PivotValley {
		return nil, false
	}
	if !widthOK(v1, v3) {
		return nil, false
	}
	lowShoulder := math.Min(v1.Price, v3.Price)
	if lowShoulder <= 0 || head.Price > lowShoulder*(1-ihsHeadDepth) {
		return nil, false
	}
	if math.Abs(v1.Price-v3.Price)/lowShoulder > ihsShoulderVariance {
		return nil, false
	}

	leftSpan := float64(head.Index - v1.Index)
	rightSpan := float64(v3.Index - head.Index)
	if rightSpan <= 0 {
		return nil, false
	}
	ratio := leftSpan / rightSpan
	if ratio < ihsTimeRatioMin || ratio > ihsTimeRatioMax {
		return nil, false
	}

	neckline := math.Min(p1.Price, p2.Price)
	if bars[i].Close <= neckline {
		return nil, false
	}
	return structuralMeta(p), true
}

// detectBullFlag verifies a 15%+ pole followed by a shallow low-volume
// consolidation held in the upper half of the pole range.
func detectBullFlag(bars []domain.Bar, pivs []domain.Pivot, i int) (*Meta, bool) {
	p := lastN(pivs, 2)
	if p == nil {
		return nil, false
	}
	valley, peak := p[0], p[1]
	if valley.Type != domain.PivotValley || peak.Type != domain.PivotPeak {
		return nil, false
	}
	if !widthOK(valley, peak) || peak.Index >= i {
		return nil, false
	}
	if valley.Price <= 0 {
		return nil, false
	}
	pole := peak.Price - valley.Price
	if pole/valley.Price < bullFlagMinPoleRise {
		return nil, false
	}

	// Flag = every bar after the pole peak up to the evaluation bar.
	flagLow := math.Inf(1)
	flagVolume := 0.0
	flagBars := 0
	for j := peak.Index + 1; j <= i; j++ {
		if bars[j].Low < flagLow {
			flagLow = bars[j].Low
		}
		flagVolume += bars[j].Volume
		flagBars++
	}
	if flagBars == 0 {
		return nil, false
	}
	if flagLow < valley.Price+bullFlagMaxRetrace*pole {
		return nil, false
	}

	poleVolume := 0.0
	poleBars := 0
	for j := valley.Index; j <= peak.Index; j++ {
		poleVolume += bars[j].Volume
		poleBars++
	}
	if poleBars == 0 || flagVolume/float64(flagBars) >= poleVolume/float64(poleBars) {
		return nil, false
	}

	m := structuralMeta(p)
	m.PoleHeight = pole
	m.FlagLow = flagLow
	return m, true
}

// detectCupAndHandle verifies a U of at least three interior valleys between
// two rims within 10% of each other, plus a shallow handle after the right
// rim.
func detectCupAndHandle(bars []domain.Bar, pivs []domain.Pivot, i int) (*Meta, bool) {
	// Rims are peaks separated by exactly three interior valleys, which
	// under strict alternation is a seven-pivot window.
	p := lastN(pivs, 7)
	if p == nil {
		return nil, false
	}
	left, iv1, iv2, iv3, right := p[0], p[1], p[3], p[5], p[6]
	if left.Type != domain.PivotPeak || right.Type != domain.PivotPeak ||
		p[2].Type != domain.PivotPeak || p[4].Type != domain.PivotPeak {
		return nil, false
	}
	if iv1.Type != domain.PivotValley || iv2.Type != domain.PivotValley || iv3.Type != domain.PivotValley {
		return nil, false
	}
	if !widthOK(left, right) || right.Index >= i {
		return nil, false
	}
	if left.Price <= 0 || math.Abs(right.Price-left.Price)/left.Price > cupRimVariance {
		return nil, false
	}

	// U shape: the first and last interior valleys sit above the minimum.
	bottom := math.Min(iv1.Price, math.Min(iv2.Price, iv3.Price))
	if iv1.Price <= bottom || iv3.Price <= bottom {
		return nil, false
	}
	depth := left.Price - bottom
	if depth <= 0 {
		return nil, false
	}

	handleLow := math.Inf(1)
	for j := right.Index + 1; j <= i; j++ {
		if bars[j].Low < handleLow {
			handleLow = bars[j].Low
		}
	}
	if math.IsInf(handleLow, 1) {
		return nil, false
	}
	if handleLow < right.Price-cupMaxHandleRetrace*depth {
		return nil, false
	}
	return structuralMeta(p), true
}

// detectAscendingTriangle verifies flat resistance over the recent peaks and
// monotone rising valleys.
func detectAscendingTriangle(pivs []domain.Pivot) (*Meta, bool) {
	peaks, valleys := splitByType(pivs)
	if len(peaks) < 3 || len(valleys) < 3 {
		return nil, false
	}
	ps := peaks[len(peaks)-3:]
	vs := valleys[len(valleys)-3:]

	mean := (ps[0].Price + ps[1].Price + ps[2].Price) / 3
	if mean <= 0 {
		return nil, false
	}
	for _, pk := range ps {
		if math.Abs(pk.Price-mean)/mean > trianglePeakVariance {
			return nil, false
		}
	}

	if vs[1].Price < vs[0].Price || vs[2].Price < vs[1].Price {
		return nil, false
	}
	if vs[0].Price <= 0 || (vs[2].Price-vs[0].Price)/vs[0].Price < triangleMinValleyRise {
		return nil, false
	}

	anchors := mergeByIndex(ps, vs)
	if !widthOK(anchors[0], anchors[len(anchors)-1]) {
		return nil, false
	}
	return structuralMeta(anchors), true
}

// detectFallingWedge verifies converging lower-highs over lower-lows with a
// close breaking above the most recent peak.
func detectFallingWedge(bars []domain.Bar, pivs []domain.Pivot, i int) (*Meta, bool) {
	peaks, valleys := splitByType(pivs)
	if len(peaks) < 3 || len(valleys) < 3 {
		return nil, false
	}
	ps := peaks[len(peaks)-3:]
	vs := valleys[len(valleys)-3:]

	if !(ps[1].Price < ps[0].Price && ps[2].Price < ps[1].Price) {
		return nil, false
	}
	if !(vs[1].Price < vs[0].Price && vs[2].Price < vs[1].Price) {
		return nil, false
	}

	peakSlope := slope(ps[0], ps[2])
	valleySlope := slope(vs[0], vs[2])
	// Convergence: resistance falls more slowly than support.
	if math.Abs(peakSlope) >= math.Abs(valleySlope) {
		return nil, false
	}

	if bars[i].Close <= ps[2].Price {
		return nil, false
	}

	anchors := mergeByIndex(ps, vs)
	if !widthOK(anchors[0], anchors[len(anchors)-1]) {
		return nil, false
	}
	return structuralMeta(anchors), true
}

// detectTweezerBottoms verifies two matching valley pivots at least the
// minimum width apart.
func detectTweezerBottoms(pivs []domain.Pivot) (*Meta, bool) {
	_, valleys := splitByType(pivs)
	if len(valleys) < 2 {
		return nil, false
	}
	v1, v2 := valleys[len(valleys)-2], valleys[len(valleys)-1]
	if !widthOK(v1, v2) {
		return nil, false
	}
	low := math.Min(v1.Price, v2.Price)
	if low <= 0 || math.Abs(v1.Price-v2.Price)/low > tweezerVariance {
		return nil, false
	}
	return structuralMeta([]domain.Pivot{v1, v2}), true
}

func slope(a, b domain.Pivot) float64 {
	dx := float64(b.Index - a.Index)
	if dx == 0 {
		return 0
	}
	return (b.Price - a.Price) / dx
}

func splitByType(pivs []domain.Pivot) (peaks, valleys []domain.Pivot) {
	for _, p := range pivs {
		if p.Type == domain.PivotPeak {
			peaks = append(peaks, p)
		} else {
			valleys = append(valleys, p)
		}
	}
	return peaks, valleys
}

func mergeByIndex(a, b []domain.Pivot) []domain.Pivot {
	out := make([]domain.Pivot, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Index <= b[j].Index {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
