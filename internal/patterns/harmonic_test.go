package patterns

import (
	"math"
	"testing"

	"alpaca-signal-engine/internal/domain"
)

// TestDetectBat tests the Bat retracement window and D target
func TestDetectBat(t *testing.T) {
	// XA leg 100 -> 150, B retraces 45%, D retraces 88.6%.
	pivs := []domain.Pivot{
		piv(0, 100.0, domain.PivotValley),  // X
		piv(10, 150.0, domain.PivotPeak),   // A
		piv(20, 127.5, domain.PivotValley), // B, ratio 0.450
		piv(30, 140.0, domain.PivotPeak),   // C
		piv(40, 105.7, domain.PivotValley), // D, ratio 0.886
	}

	typ, m := detectXABCD(pivs)
	if typ != Bat {
		t.Fatalf("Expected BAT, got %q", typ)
	}
	if m.Classification != domain.HarmonicPattern {
		t.Errorf("Expected HARMONIC_PATTERN for a 40-day span, got %s", m.Classification)
	}
	if math.Abs(m.Ratios["b_of_xa"]-0.450) > 1e-9 {
		t.Errorf("Expected B ratio 0.450, got %v", m.Ratios["b_of_xa"])
	}
	if math.Abs(m.Ratios["d_of_xa"]-0.886) > 1e-9 {
		t.Errorf("Expected D ratio 0.886, got %v", m.Ratios["d_of_xa"])
	}
}

// TestDetectGartley tests the exact-target legs and the 0.1% precision gate
func TestDetectGartley(t *testing.T) {
	pivs := []domain.Pivot{
		piv(0, 100.0, domain.PivotValley),
		piv(10, 150.0, domain.PivotPeak),
		piv(20, 119.1, domain.PivotValley), // 0.618 of XA
		piv(30, 135.0, domain.PivotPeak),
		piv(40, 110.7, domain.PivotValley), // 0.786 of XA
	}

	if typ, _ := detectXABCD(pivs); typ != Gartley {
		t.Errorf("Expected GARTLEY, got %q", typ)
	}

	// D off target by 0.4%, outside the 0.1% gate.
	pivs[4] = piv(40, 110.5, domain.PivotValley)
	if typ, _ := detectXABCD(pivs); typ != "" {
		t.Errorf("Should NOT match any XABCD pattern off target, got %q", typ)
	}
}

// TestDetectButterflyAndCrab tests the extension patterns where D passes X
func TestDetectButterflyAndCrab(t *testing.T) {
	butterfly := []domain.Pivot{
		piv(0, 100.0, domain.PivotValley),
		piv(10, 150.0, domain.PivotPeak),
		piv(20, 110.7, domain.PivotValley), // 0.786
		piv(30, 130.0, domain.PivotPeak),
		piv(40, 86.5, domain.PivotValley), // 1.270
	}
	if typ, _ := detectXABCD(butterfly); typ != Butterfly {
		t.Errorf("Expected BUTTERFLY, got %q", typ)
	}

	crab := []domain.Pivot{
		piv(0, 100.0, domain.PivotValley),
		piv(10, 150.0, domain.PivotPeak),
		piv(20, 125.0, domain.PivotValley), // 0.500, inside the B window
		piv(30, 135.0, domain.PivotPeak),
		piv(40, 69.1, domain.PivotValley), // 1.618
	}
	if typ, _ := detectXABCD(crab); typ != Crab {
		t.Errorf("Expected CRAB, got %q", typ)
	}
}

// TestDetectABCD tests the mirrored leg in both price and time
func TestDetectABCD(t *testing.T) {
	pivs := []domain.Pivot{
		piv(0, 150.0, domain.PivotPeak),
		piv(10, 120.0, domain.PivotValley),
		piv(15, 140.0, domain.PivotPeak),
		piv(25, 110.0, domain.PivotValley),
	}

	m, ok := detectABCD(pivs)
	if !ok {
		t.Fatal("Should detect valid ABCD")
	}
	if m.Ratios["cd_of_ab"] != 1.0 || m.Ratios["cd_time_of_ab"] != 1.0 {
		t.Errorf("Expected unit ratios, got %v", m.Ratios)
	}

	// Invalid - CD takes one bar longer than AB
	pivs[3] = piv(26, 110.0, domain.PivotValley)
	if _, ok := detectABCD(pivs); ok {
		t.Error("Should NOT detect ABCD with mismatched leg duration")
	}

	// Invalid - CD travels further than AB
	pivs[3] = piv(25, 105.0, domain.PivotValley)
	if _, ok := detectABCD(pivs); ok {
		t.Error("Should NOT detect ABCD with mismatched leg price")
	}
}

// TestDetectElliottImpulse tests the wave ordering rules
func TestDetectElliottImpulse(t *testing.T) {
	pivs := []domain.Pivot{
		piv(0, 100.0, domain.PivotValley),
		piv(5, 110.0, domain.PivotPeak),   // wave 1 top, magnitude 10
		piv(10, 105.0, domain.PivotValley),
		piv(15, 125.0, domain.PivotPeak),  // wave 3 top, magnitude 20
		piv(20, 115.0, domain.PivotValley), // wave 4 holds above 110
		piv(25, 130.0, domain.PivotPeak),  // wave 5 advancing
	}

	if _, ok := detectElliottImpulse(pivs); !ok {
		t.Error("Should detect valid Elliott impulse")
	}

	// Invalid - wave 3 shorter than wave 1
	weakThree := make([]domain.Pivot, len(pivs))
	copy(weakThree, pivs)
	weakThree[3] = piv(15, 112.0, domain.PivotPeak)
	weakThree[4] = piv(20, 111.0, domain.PivotValley)
	weakThree[5] = piv(25, 118.0, domain.PivotPeak)
	if _, ok := detectElliottImpulse(weakThree); ok {
		t.Error("Should NOT detect impulse when wave 3 is shorter than wave 1")
	}

	// Invalid - wave 4 retraces into wave-1 territory
	overlap := make([]domain.Pivot, len(pivs))
	copy(overlap, pivs)
	overlap[4] = piv(20, 108.0, domain.PivotValley)
	if _, ok := detectElliottImpulse(overlap); ok {
		t.Error("Should NOT detect impulse when wave 4 overlaps wave 1")
	}
}

// TestDetectHarmonicPriority tests that XABCD outranks ABCD and Elliott
func TestDetectHarmonicPriority(t *testing.T) {
	bat := []domain.Pivot{
		piv(0, 100.0, domain.PivotValley),
		piv(10, 150.0, domain.PivotPeak),
		piv(20, 127.5, domain.PivotValley),
		piv(30, 140.0, domain.PivotPeak),
		piv(40, 105.7, domain.PivotValley),
	}
	if typ, _ := detectHarmonic(bat); typ != Bat {
		t.Errorf("Expected BAT from detectHarmonic, got %q", typ)
	}

	elliott := []domain.Pivot{
		piv(0, 100.0, domain.PivotValley),
		piv(5, 110.0, domain.PivotPeak),
		piv(10, 105.0, domain.PivotValley),
		piv(15, 125.0, domain.PivotPeak),
		piv(20, 115.0, domain.PivotValley),
		piv(25, 130.0, domain.PivotPeak),
	}
	if typ, _ := detectHarmonic(elliott); typ != ElliottImpulse {
		t.Errorf("Expected ELLIOTT_1_3_5 from detectHarmonic, got %q", typ)
	}
}

// TestHarmonicMacroClassification tests the 90-day span threshold for harmonics
func TestHarmonicMacroClassification(t *testing.T) {
	pivs := []domain.Pivot{
		pivOnDay(0, 0, 100.0, domain.PivotValley),
		pivOnDay(10, 50, 150.0, domain.PivotPeak),
		pivOnDay(20, 100, 127.5, domain.PivotValley),
		pivOnDay(30, 150, 140.0, domain.PivotPeak),
		pivOnDay(40, 200, 105.7, domain.PivotValley),
	}

	typ, m := detectXABCD(pivs)
	if typ != Bat {
		t.Fatalf("Expected BAT, got %q", typ)
	}
	if m.Classification != domain.MacroHarmonic {
		t.Errorf("Expected MACRO_HARMONIC for a 200-day span, got %s", m.Classification)
	}
}
