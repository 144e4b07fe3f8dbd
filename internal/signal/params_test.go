package signal

import (
	"math"
	"testing"
	"time"

	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/indicators"
	"alpaca-signal-engine/internal/patterns"
)

func paramBars() []domain.Bar {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	// Two bars are enough: the ATR column has not warmed up, so the bar's
	// true range stands in as the volatility unit.
	return []domain.Bar{
		{Ts: base, Open: 102, High: 102.5, Low: 99.5, Close: 100, Volume: 1000},
		{Ts: base.Add(24 * time.Hour), Open: 100, High: 104.5, Low: 99.8, Close: 104, Volume: 2000},
	}
}

// Bullish engulfing parameters: entry at the close, invalidation at the
// bar open, stop one percent under the open.
func TestBuildParamsBullishEngulfing(t *testing.T) {
	bars := paramBars()
	cols := indicators.Compute(bars)

	p := BuildParams(patterns.BullishEngulfing, nil, bars, cols, 1)
	if p.Entry != 104 {
		t.Errorf("Entry should be 104, got %f", p.Entry)
	}
	if p.Invalidation != 100 {
		t.Errorf("Invalidation should be the bar open 100, got %f", p.Invalidation)
	}
	if math.Abs(p.Stop-99.0) > 1e-9 {
		t.Errorf("Stop should be 99.0, got %f", p.Stop)
	}
	if !(p.TP1 < p.TP2 && p.TP2 < p.TP3) {
		t.Errorf("TP ladder must be ascending for BUY: %f %f %f", p.TP1, p.TP2, p.TP3)
	}
}

func TestBuildParamsHammerUsesLow(t *testing.T) {
	bars := paramBars()
	cols := indicators.Compute(bars)

	p := BuildParams(patterns.BullishHammer, nil, bars, cols, 1)
	if p.Invalidation != 99.8 {
		t.Errorf("Invalidation should be the bar low, got %f", p.Invalidation)
	}
	if math.Abs(p.Stop-99.8*0.99) > 1e-9 {
		t.Errorf("Stop should be low*0.99, got %f", p.Stop)
	}
}

func TestBuildParamsBullFlagProjection(t *testing.T) {
	bars := paramBars()
	cols := indicators.Compute(bars)
	meta := &patterns.Meta{PoleHeight: 20, FlagLow: 98}

	p := BuildParams(patterns.BullFlag, meta, bars, cols, 1)
	if p.Invalidation != 98 {
		t.Errorf("Invalidation should be the flag low, got %f", p.Invalidation)
	}
	if p.TP1 != 104+10 || p.TP2 != 104+20 || p.TP3 != 104+30 {
		t.Errorf("TPs should project 0.5/1.0/1.5x pole: %f %f %f", p.TP1, p.TP2, p.TP3)
	}
}

// The micro-cap safeguard: a flag stop can never go non-positive.
func TestBuildParamsStopFloor(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := []domain.Bar{
		{Ts: base, Open: 0.004, High: 0.02, Low: 0.001, Close: 0.01, Volume: 1000},
		{Ts: base.Add(24 * time.Hour), Open: 0.01, High: 0.05, Low: 0.002, Close: 0.04, Volume: 2000},
	}
	cols := indicators.Compute(bars)

	p := BuildParams(patterns.BullFlag, &patterns.Meta{FlagLow: 0.0001}, bars, cols, 1)
	if p.Stop <= 0 {
		t.Errorf("Bull-flag stop must be strictly positive, got %g", p.Stop)
	}
}

func TestHydrateSafeValuesShadowOnly(t *testing.T) {
	s := &domain.Signal{SuggestedStop: -1, InvalidationPrice: 0, TakeProfit1: -2, TakeProfit2: -1, TakeProfit3: 0}
	HydrateSafeValues(s)
	if s.SuggestedStop <= 0 || s.InvalidationPrice <= 0 {
		t.Error("Hydrated stop and invalidation must be strictly positive")
	}
	if !(s.TakeProfit1 > 0 && s.TakeProfit1 < s.TakeProfit2 && s.TakeProfit2 < s.TakeProfit3) {
		t.Errorf("Hydrated ladder must stay ascending: %g %g %g", s.TakeProfit1, s.TakeProfit2, s.TakeProfit3)
	}
}

func TestGenerateSignalEmptyBars(t *testing.T) {
	g := testGenerator(time.Now())
	if s := g.GenerateSignal("AAPL", domain.AssetEquity, nil, nil); s != nil {
		t.Error("Empty bars should generate no signal")
	}
}

func TestCooldownBlocksAfterInvalidation(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	policy := DefaultCooldown(24)

	lastExit := &domain.Signal{Status: domain.StatusInvalidated, CreatedAt: now.Add(-6 * time.Hour)}
	if !policy.Blocks(lastExit, now) {
		t.Error("Should block inside the 24h cooldown after invalidation")
	}

	lastExit.CreatedAt = now.Add(-30 * time.Hour)
	if policy.Blocks(lastExit, now) {
		t.Error("Should not block once the cooldown has elapsed")
	}

	expired := &domain.Signal{Status: domain.StatusExpired, CreatedAt: now.Add(-1 * time.Hour)}
	if policy.Blocks(expired, now) {
		t.Error("Expiry carries no cooldown")
	}
}

func TestSignalIDDeterminism(t *testing.T) {
	ts := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	a := domain.NewSignalID("2024-06-10", "chartist_v1", "BTC/USD", "BULL_FLAG", ts)
	b := domain.NewSignalID("2024-06-10", "chartist_v1", "BTC/USD", "BULL_FLAG", ts)
	if a != b {
		t.Error("Same detection must hash to the same signal id")
	}
	c := domain.NewSignalID("2024-06-10", "chartist_v1", "ETH/USD", "BULL_FLAG", ts)
	if a == c {
		t.Error("Different symbols must hash to different signal ids")
	}
}
