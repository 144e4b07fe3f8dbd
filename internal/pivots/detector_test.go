package pivots

import (
	"testing"
	"time"

	"alpaca-signal-engine/internal/domain"
)

func barsFromCloses(closes []float64) []domain.Bar {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Ts:     base.AddDate(0, 0, i),
			Open:   c,
			High:   c,
			Low:    c,
			Close:  c,
			Volume: 1000,
		}
	}
	return bars
}

func TestDetectEmptyInput(t *testing.T) {
	d := NewDetector(0.05)
	if got := d.Detect(nil); len(got) != 0 {
		t.Errorf("Empty input should yield no pivots, got %d", len(got))
	}
}

func TestDetectSimpleVReversal(t *testing.T) {
	// Falls 100 -> 90 (10%), then rises to 100 (11%). The bottom must be a
	// valley and the trailing extreme a provisional peak.
	d := NewDetector(0.05)
	bars := barsFromCloses([]float64{100, 97, 94, 90, 93, 97, 100})

	pivots := d.Detect(bars)
	if len(pivots) < 2 {
		t.Fatalf("Expected at least 2 pivots, got %d", len(pivots))
	}

	first := pivots[0]
	if first.Type != domain.PivotPeak || first.Index != 0 {
		t.Errorf("First pivot should be the peak at index 0, got %s at %d", first.Type, first.Index)
	}

	var valley *domain.Pivot
	for i := range pivots {
		if pivots[i].Type == domain.PivotValley {
			valley = &pivots[i]
			break
		}
	}
	if valley == nil {
		t.Fatal("Should detect the valley at the bottom of the V")
	}
	if valley.Index != 3 || valley.Price != 90 {
		t.Errorf("Valley should be at index 3 price 90, got index %d price %v", valley.Index, valley.Price)
	}

	last := pivots[len(pivots)-1]
	if last.Type != domain.PivotPeak {
		t.Errorf("Trailing provisional pivot should be a peak, got %s", last.Type)
	}
}

func TestDetectIgnoresSmallSwings(t *testing.T) {
	// 2% wiggles never cross the 5% threshold, so the trend is never
	// established and no pivots are emitted.
	d := NewDetector(0.05)
	bars := barsFromCloses([]float64{100, 102, 100, 102, 100, 101})

	if pivots := d.Detect(bars); len(pivots) != 0 {
		t.Errorf("Sub-threshold swings should emit no pivots, got %d", len(pivots))
	}
}

func TestDetectAlternation(t *testing.T) {
	d := NewDetector(0.05)
	closes := []float64{100, 110, 121, 110, 100, 111, 123, 110, 100, 112, 125}
	bars := barsFromCloses(closes)

	pivots := d.Detect(bars)
	if len(pivots) < 4 {
		t.Fatalf("Expected several pivots over repeated 10%%+ swings, got %d", len(pivots))
	}
	for i := 1; i < len(pivots); i++ {
		if pivots[i].Type == pivots[i-1].Type {
			t.Errorf("Pivots should alternate, got %s followed by %s at position %d",
				pivots[i-1].Type, pivots[i].Type, i)
		}
		if pivots[i].Index <= pivots[i-1].Index {
			t.Errorf("Pivot indices should be strictly increasing, got %d then %d",
				pivots[i-1].Index, pivots[i].Index)
		}
	}
}

func TestDetectExtendsLegExtreme(t *testing.T) {
	// Higher highs inside an up leg must move the extreme instead of
	// emitting intermediate pivots.
	d := NewDetector(0.05)
	bars := barsFromCloses([]float64{100, 106, 112, 118, 124, 117})

	pivots := d.Detect(bars)

	var peak *domain.Pivot
	for i := range pivots {
		if pivots[i].Type == domain.PivotPeak {
			peak = &pivots[i]
		}
	}
	if peak == nil {
		t.Fatal("Should emit a peak after the 5%+ pullback")
	}
	if peak.Price != 124 || peak.Index != 4 {
		t.Errorf("Peak should be the leg extreme 124 at index 4, got %v at %d", peak.Price, peak.Index)
	}
}

func TestFastPIPBounds(t *testing.T) {
	bars := barsFromCloses([]float64{100, 105, 90, 120, 95, 130, 85, 140, 100, 110})

	points := FastPIP(bars, 5)
	if len(points) > 5 {
		t.Errorf("FastPIP should keep at most 5 points, got %d", len(points))
	}
	if len(points) < 2 {
		t.Fatalf("FastPIP should keep at least the endpoints, got %d", len(points))
	}
	if points[0].Index != 0 {
		t.Errorf("First kept point should be index 0, got %d", points[0].Index)
	}
	if points[len(points)-1].Index != len(bars)-1 {
		t.Errorf("Last kept point should be the final index, got %d", points[len(points)-1].Index)
	}

	if got := FastPIP(nil, 5); got != nil {
		t.Error("Empty input should yield nil")
	}
}

func TestFastPIPKeepsExtremes(t *testing.T) {
	// The spike at index 5 is the most structurally important point.
	bars := barsFromCloses([]float64{100, 100, 100, 100, 100, 160, 100, 100, 100, 100})

	points := FastPIP(bars, 3)
	found := false
	for _, p := range points {
		if p.Index == 5 {
			found = true
		}
	}
	if !found {
		t.Error("FastPIP should keep the spike at index 5")
	}
}
