package confluence

import (
	"testing"
	"time"

	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/indicators"
	"alpaca-signal-engine/internal/patterns"
)

func contextBars(n int) []domain.Bar {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{
			Ts:     base.Add(time.Duration(i) * 24 * time.Hour),
			Open:   100,
			High:   100.5,
			Low:    99.5,
			Close:  100,
			Volume: 1000,
		}
	}
	return bars
}

func fill(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func hasFactor(res Result, name string) bool {
	for _, f := range res.Factors {
		if f == name {
			return true
		}
	}
	return false
}

func hasBypass(res Result, name string) bool {
	for _, b := range res.Bypassed {
		if b == name {
			return true
		}
	}
	return false
}

// TestTrendPassesReversalContext tests the trend side of the reversal gate
func TestTrendPassesReversalContext(t *testing.T) {
	bars := contextBars(20)
	cols := &indicators.Columns{EMA50: fill(20, 99)} // close 100 above EMA

	res := NewContext(bars, cols, 19).Evaluate(patterns.BullishHammer)
	if !res.Passed {
		t.Fatal("Should pass with a bullish trend and bypassed filters")
	}
	if !hasFactor(res, FactorTrendBullish) {
		t.Error("Should record trend_bullish as a factor")
	}
	if !hasBypass(res, FactorVolContraction) || !hasBypass(res, FactorVolumeExpansion) {
		t.Error("Should record the missing filters as bypassed")
	}
}

// TestDivergencePassesReversalContext tests the divergence side of the gate
func TestDivergencePassesReversalContext(t *testing.T) {
	bars := contextBars(20)
	bars[19].Low = 99 // 14-bar low on the evaluation bar

	rsi := fill(20, 30)
	rsi[19] = 35 // not the 14-bar RSI low
	cols := &indicators.Columns{
		EMA50: fill(20, 101), // trend bearish
		RSI14: rsi,
	}

	res := NewContext(bars, cols, 19).Evaluate(patterns.BullishHammer)
	if !res.Passed {
		t.Fatal("Should pass on RSI bullish divergence alone")
	}
	if !hasFactor(res, FactorRSIDivergence) {
		t.Error("Should record rsi_bullish_divergence as a factor")
	}
	if hasFactor(res, FactorTrendBullish) {
		t.Error("Should NOT record trend_bullish in a bearish trend")
	}
}

// TestReversalContextBlocks tests rejection when both sides evaluate false
func TestReversalContextBlocks(t *testing.T) {
	bars := contextBars(20)
	bars[10].Low = 98 // today is not the 14-bar low

	rsi := fill(20, 30)
	cols := &indicators.Columns{
		EMA50: fill(20, 101),
		RSI14: rsi,
	}

	res := NewContext(bars, cols, 19).Evaluate(patterns.BullishHammer)
	if res.Passed {
		t.Error("Should block when neither trend nor divergence holds")
	}
}

// TestVolatilityContractionGate tests the ATR contraction filter
func TestVolatilityContractionGate(t *testing.T) {
	bars := contextBars(20)
	cols := &indicators.Columns{
		EMA50:    fill(20, 99),
		ATR14:    fill(20, 5),
		ATRSMA20: fill(20, 4), // ATR above its SMA, volatility expanding
	}

	res := NewContext(bars, cols, 19).Evaluate(patterns.BullishHammer)
	if res.Passed {
		t.Error("Should block when ATR is above its SMA")
	}

	cols.ATRSMA20 = fill(20, 6)
	res = NewContext(bars, cols, 19).Evaluate(patterns.BullishHammer)
	if !res.Passed {
		t.Error("Should pass when ATR is below its SMA")
	}
	if !hasFactor(res, FactorVolContraction) {
		t.Error("Should record volatility_contraction as a factor")
	}
}

// TestVolumeExpansionGate tests the 1.5x volume filter
func TestVolumeExpansionGate(t *testing.T) {
	bars := contextBars(20)
	cols := &indicators.Columns{
		EMA50:       fill(20, 99),
		VolumeSMA20: fill(20, 800), // threshold 1200 vs volume 1000
	}

	res := NewContext(bars, cols, 19).Evaluate(patterns.BullishHammer)
	if res.Passed {
		t.Error("Should block without a volume expansion")
	}

	bars[19].Volume = 1300
	res = NewContext(bars, cols, 19).Evaluate(patterns.BullishHammer)
	if !res.Passed {
		t.Error("Should pass when volume exceeds 1.5x its SMA")
	}
	if !hasFactor(res, FactorVolumeExpansion) {
		t.Error("Should record volume_expansion as a factor")
	}
}

// TestMorningStarRequiresDivergence tests the pattern-specific addition
func TestMorningStarRequiresDivergence(t *testing.T) {
	bars := contextBars(20)
	rsi := fill(20, 30)
	cols := &indicators.Columns{
		EMA50: fill(20, 99), // trend passes the general gate
		RSI14: rsi,
	}

	res := NewContext(bars, cols, 19).Evaluate(patterns.MorningStar)
	if res.Passed {
		t.Error("Should block Morning Star without RSI divergence")
	}

	bars[19].Low = 99
	rsi[19] = 35
	res = NewContext(bars, cols, 19).Evaluate(patterns.MorningStar)
	if !res.Passed {
		t.Error("Should pass Morning Star with RSI divergence")
	}
}

// TestMarubozuKeltnerGate tests the Keltner breakout addition
func TestMarubozuKeltnerGate(t *testing.T) {
	bars := contextBars(20)
	cols := &indicators.Columns{
		EMA50:        fill(20, 99),
		KeltnerUpper: fill(20, 101), // close 100 below the channel
	}

	res := NewContext(bars, cols, 19).Evaluate(patterns.BullishMarubozu)
	if res.Passed {
		t.Error("Should block Marubozu below the upper Keltner channel")
	}

	cols.KeltnerUpper = fill(20, 99.5)
	res = NewContext(bars, cols, 19).Evaluate(patterns.BullishMarubozu)
	if !res.Passed {
		t.Error("Should pass Marubozu closing above the channel")
	}
	if !hasFactor(res, FactorKeltnerBreakout) {
		t.Error("Should record keltner_breakout as a factor")
	}

	// Missing channel bypasses the addition.
	cols.KeltnerUpper = nil
	res = NewContext(bars, cols, 19).Evaluate(patterns.BullishMarubozu)
	if !res.Passed {
		t.Error("Should bypass the Keltner gate when the column is missing")
	}
}

// TestInvertedHammerMFIGate tests the pre-pattern MFI reading
func TestInvertedHammerMFIGate(t *testing.T) {
	bars := contextBars(20)
	mfi := fill(20, 50)
	mfi[17] = 15 // two bars before the confirmation bar
	cols := &indicators.Columns{
		EMA50: fill(20, 99),
		MFI14: mfi,
	}

	res := NewContext(bars, cols, 19).Evaluate(patterns.InvertedHammer)
	if !res.Passed {
		t.Fatal("Should pass Inverted Hammer with oversold pre-pattern MFI")
	}
	if !hasFactor(res, FactorMFIOversold) {
		t.Error("Should record mfi_oversold as a factor")
	}

	mfi[17] = 45
	res = NewContext(bars, cols, 19).Evaluate(patterns.InvertedHammer)
	if res.Passed {
		t.Error("Should block Inverted Hammer when pre-pattern MFI is not oversold")
	}
}

// TestThreeWhiteSoldiersBodyGate tests the aggregate body requirement
func TestThreeWhiteSoldiersBodyGate(t *testing.T) {
	bars := contextBars(20)
	for i := 17; i <= 19; i++ {
		bars[i].Open = 100
		bars[i].Close = 103 // three 3-point bodies, aggregate 9
	}
	cols := &indicators.Columns{
		EMA50: fill(20, 99),
		ATR14: fill(20, 4), // threshold 8
	}

	res := NewContext(bars, cols, 19).Evaluate(patterns.ThreeWhiteSoldiers)
	if !res.Passed {
		t.Fatal("Should pass soldiers with aggregate body above 2x ATR")
	}
	if !hasFactor(res, FactorSoldiersBody) {
		t.Error("Should record soldiers_body_expansion as a factor")
	}

	cols.ATR14 = fill(20, 5) // threshold 10
	res = NewContext(bars, cols, 19).Evaluate(patterns.ThreeWhiteSoldiers)
	if res.Passed {
		t.Error("Should block soldiers with aggregate body under 2x ATR")
	}
}

// TestSnapshotReadings tests snapshot key availability
func TestSnapshotReadings(t *testing.T) {
	bars := contextBars(20)
	cols := &indicators.Columns{EMA50: fill(20, 99)}

	snap := NewContext(bars, cols, 19).Snapshot()
	if snap["close"] != 100 || snap["volume"] != 1000 {
		t.Error("Snapshot should always carry close and volume")
	}
	if snap["ema_50"] != 99 {
		t.Errorf("Snapshot ema_50 = %v, want 99", snap["ema_50"])
	}
	if _, present := snap["rsi_14"]; present {
		t.Error("Snapshot should omit missing columns")
	}
}
