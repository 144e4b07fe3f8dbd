package indicators

import (
	"math"
	"testing"
	"time"

	"alpaca-signal-engine/internal/domain"
)

func makeBars(closes []float64) []domain.Bar {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Ts:     base.AddDate(0, 0, i),
			Open:   c - 0.5,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000 + float64(i),
		}
	}
	return bars
}

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	sma := SMA(values, 3)

	if !math.IsNaN(sma[0]) || !math.IsNaN(sma[1]) {
		t.Error("Warmup positions should be NaN")
	}
	if sma[2] != 2 {
		t.Errorf("SMA at index 2 should be 2, got %v", sma[2])
	}
	if sma[4] != 4 {
		t.Errorf("SMA at index 4 should be 4, got %v", sma[4])
	}
}

func TestEMASeededWithSMA(t *testing.T) {
	values := []float64{10, 10, 10, 10, 20}
	ema := EMA(values, 4)

	if ema[3] != 10 {
		t.Errorf("EMA seed should equal the SMA of the first period, got %v", ema[3])
	}
	// k = 2/5 = 0.4, so EMA = 20*0.4 + 10*0.6 = 14
	if math.Abs(ema[4]-14) > 1e-9 {
		t.Errorf("EMA at index 4 should be 14, got %v", ema[4])
	}
}

func TestRSIExtremes(t *testing.T) {
	up := make([]float64, 30)
	for i := range up {
		up[i] = 100 + float64(i)
	}
	rsi := RSI(up, 14)
	if rsi[29] != 100 {
		t.Errorf("All-gain series should read RSI 100, got %v", rsi[29])
	}

	down := make([]float64, 30)
	for i := range down {
		down[i] = 100 - float64(i)
	}
	rsi = RSI(down, 14)
	if rsi[29] != 0 {
		t.Errorf("All-loss series should read RSI 0, got %v", rsi[29])
	}
}

func TestATRConstantRange(t *testing.T) {
	// Flat closes with a constant 2-point high-low range settle to ATR 2.
	bars := makeBars([]float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100,
		100, 100, 100, 100, 100, 100, 100, 100, 100, 100})
	atr := ATR(bars, 14)

	v, ok := At(atr, len(bars)-1)
	if !ok {
		t.Fatal("ATR should be available after warmup")
	}
	if math.Abs(v-2) > 1e-9 {
		t.Errorf("Constant-range ATR should be 2, got %v", v)
	}
}

func TestBollingerLowerFlatSeries(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 50
	}
	bb := BollingerLower(closes, 20, 2)

	v, ok := At(bb, 24)
	if !ok {
		t.Fatal("Bollinger lower should be available after warmup")
	}
	if v != 50 {
		t.Errorf("Zero-variance series should put the lower band at the mean, got %v", v)
	}
}

func TestChandelierLong(t *testing.T) {
	bars := makeBars([]float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100,
		100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100})
	ch := ChandelierLong(bars, 22, 3)

	v, ok := At(ch, len(bars)-1)
	if !ok {
		t.Fatal("Chandelier should be available after warmup")
	}
	// Highest high = 101, ATR = 2 -> 101 - 6 = 95.
	if math.Abs(v-95) > 1e-9 {
		t.Errorf("Chandelier long should be 95, got %v", v)
	}
}

func TestMFIAllPositiveFlow(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	bars := makeBars(closes)
	mfi := MFI(bars, 14)

	v, ok := At(mfi, 19)
	if !ok {
		t.Fatal("MFI should be available after warmup")
	}
	if v != 100 {
		t.Errorf("Monotone rising typical prices should read MFI 100, got %v", v)
	}
}

func TestComputeShapesMatchInput(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + math.Sin(float64(i)/5)*10
	}
	bars := makeBars(closes)
	cols := Compute(bars)

	for name, col := range map[string][]float64{
		"EMA50":          cols.EMA50,
		"RSI14":          cols.RSI14,
		"ATR14":          cols.ATR14,
		"ATRSMA20":       cols.ATRSMA20,
		"BollingerLower": cols.BollingerLower,
		"MFI14":          cols.MFI14,
		"ADX14":          cols.ADX14,
		"KeltnerUpper":   cols.KeltnerUpper,
		"VolumeSMA20":    cols.VolumeSMA20,
		"ChandelierLong": cols.ChandelierLong,
	} {
		if len(col) != len(bars) {
			t.Errorf("%s length %d should match bar count %d", name, len(col), len(bars))
		}
	}

	if _, ok := At(cols.EMA50, 59); !ok {
		t.Error("EMA50 should be available with 60 bars")
	}
	if _, ok := At(cols.ADX14, 59); !ok {
		t.Error("ADX14 should be available with 60 bars")
	}
}

func TestAtBypassSemantics(t *testing.T) {
	if _, ok := At(nil, 0); ok {
		t.Error("Absent column should not be ok")
	}
	if _, ok := At([]float64{math.NaN()}, 0); ok {
		t.Error("NaN warmup value should not be ok")
	}
	if _, ok := At([]float64{1}, 5); ok {
		t.Error("Out-of-range index should not be ok")
	}
	if v, ok := At([]float64{1.5}, 0); !ok || v != 1.5 {
		t.Error("Valid value should be returned as-is")
	}
}
