package patterns

import (
	"math"

	"alpaca-signal-engine/internal/domain"
)

// Harmonic detectors validate Fibonacci leg ratios over the most recent
// pivots. Ratios are |p3-p2| / |p2-p1|. The precision gate is 0.1% of the
// target; range gates widen both bounds by the same 0.1%.

const harmonicTolerance = 0.001

// Fibonacci retracement and extension targets.
const (
	fibGartleyB   = 0.618
	fibGartleyD   = 0.786
	fibBatBLow    = 0.382
	fibBatBHigh   = 0.500
	fibBatD       = 0.886
	fibButterflyB = 0.786
	fibButterflyD = 1.270
	fibCrabBLow   = 0.382
	fibCrabBHigh  = 0.618
	fibCrabD      = 1.618
)

func legRatio(p1, p2, p3 domain.Pivot) float64 {
	base := math.Abs(p2.Price - p1.Price)
	if base == 0 {
		return 0
	}
	return math.Abs(p3.Price-p2.Price) / base
}

func nearTarget(actual, target float64) bool {
	return math.Abs(actual-target) <= harmonicTolerance*target
}

func inWidenedRange(actual, lo, hi float64) bool {
	return actual >= lo*(1-harmonicTolerance) && actual <= hi*(1+harmonicTolerance)
}

func harmonicMeta(anchors []domain.Pivot, ratios map[string]float64) *Meta {
	cls, days := classify(anchors, true)
	return &Meta{
		DurationDays:   days,
		Classification: cls,
		Anchors:        anchors,
		Ratios:         ratios,
	}
}

// detectXABCD matches the bullish five-point patterns that share the
// X-A-B-C-D skeleton: valley X, peak A, then B and D retracements of the XA
// leg. Returns the matched pattern type, or empty when none.
func detectXABCD(pivs []domain.Pivot) (Type, *Meta) {
	p := lastN(pivs, 5)
	if p == nil {
		return "", nil
	}
	x, a, b, c, d := p[0], p[1], p[2], p[3], p[4]
	if x.Type != domain.PivotValley || a.Type != domain.PivotPeak ||
		b.Type != domain.PivotValley || c.Type != domain.PivotPeak ||
		d.Type != domain.PivotValley {
		return "", nil
	}
	if a.Price <= x.Price {
		return "", nil
	}

	bRatio := legRatio(x, a, b)
	dRatio := legRatio(x, a, d)
	ratios := map[string]float64{"b_of_xa": bRatio, "d_of_xa": dRatio}

	switch {
	case nearTarget(bRatio, fibGartleyB) && nearTarget(dRatio, fibGartleyD):
		return Gartley, harmonicMeta(p, ratios)
	case inWidenedRange(bRatio, fibBatBLow, fibBatBHigh) && nearTarget(dRatio, fibBatD):
		return Bat, harmonicMeta(p, ratios)
	case nearTarget(bRatio, fibButterflyB) && nearTarget(dRatio, fibButterflyD):
		return Butterfly, harmonicMeta(p, ratios)
	case inWidenedRange(bRatio, fibCrabBLow, fibCrabBHigh) && nearTarget(dRatio, fibCrabD):
		return Crab, harmonicMeta(p, ratios)
	}
	return "", nil
}

// detectABCD matches the four-point bullish zigzag where the CD leg mirrors
// the AB leg in both price and time at 1.000.
func detectABCD(pivs []domain.Pivot) (*Meta, bool) {
	p := lastN(pivs, 4)
	if p == nil {
		return nil, false
	}
	a, b, c, d := p[0], p[1], p[2], p[3]
	if a.Type != domain.PivotPeak || b.Type != domain.PivotValley ||
		c.Type != domain.PivotPeak || d.Type != domain.PivotValley {
		return nil, false
	}

	ab := math.Abs(b.Price - a.Price)
	cd := math.Abs(d.Price - c.Price)
	if ab == 0 {
		return nil, false
	}
	priceRatio := cd / ab

	abBars := float64(b.Index - a.Index)
	cdBars := float64(d.Index - c.Index)
	if abBars <= 0 {
		return nil, false
	}
	timeRatio := cdBars / abBars

	if !nearTarget(priceRatio, 1.0) || !nearTarget(timeRatio, 1.0) {
		return nil, false
	}
	ratios := map[string]float64{"cd_of_ab": priceRatio, "cd_time_of_ab": timeRatio}
	return harmonicMeta(p, ratios), true
}

// detectElliottImpulse matches a five-wave advance in progress: four
// confirmed pivots plus the trailing wave-five extreme. Wave three must
// exceed wave one and wave four must hold above wave-one territory.
func detectElliottImpulse(pivs []domain.Pivot) (*Meta, bool) {
	p := lastN(pivs, 6)
	if p == nil {
		return nil, false
	}
	v0, p1, v2, p3, v4, p5 := p[0], p[1], p[2], p[3], p[4], p[5]
	if v0.Type != domain.PivotValley || p1.Type != domain.PivotPeak ||
		v2.Type != domain.PivotValley || p3.Type != domain.PivotPeak ||
		v4.Type != domain.PivotValley || p5.Type != domain.PivotPeak {
		return nil, false
	}

	wave1 := p1.Price - v0.Price
	wave3 := p3.Price - v2.Price
	wave5 := p5.Price - v4.Price
	if wave1 <= 0 || wave3 <= 0 || wave5 <= 0 {
		return nil, false
	}
	// Wave three is never the shortest; here it must beat wave one.
	if wave3 <= wave1 {
		return nil, false
	}
	// Wave four may not retrace into wave-one territory.
	if v4.Price <= p1.Price {
		return nil, false
	}
	// The impulse is still advancing.
	if p5.Price <= p3.Price {
		return nil, false
	}

	ratios := map[string]float64{
		"wave_1": wave1,
		"wave_3": wave3,
		"wave_5": wave5,
	}
	return harmonicMeta(p, ratios), true
}

// detectHarmonic reports the highest-priority harmonic fired on the current
// pivot tail. XABCD patterns outrank ABCD, which outranks the Elliott
// impulse.
func detectHarmonic(pivs []domain.Pivot) (Type, *Meta) {
	if t, m := detectXABCD(pivs); t != "" {
		return t, m
	}
	if m, ok := detectABCD(pivs); ok {
		return ABCD, m
	}
	if m, ok := detectElliottImpulse(pivs); ok {
		return ElliottImpulse, m
	}
	return "", nil
}
