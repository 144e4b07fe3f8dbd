package signal

import (
	"time"

	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/indicators"
	"alpaca-signal-engine/internal/patterns"
)

// Invalidation thresholds.
const (
	rsiOverboughtLevel = 80.0
	rsiOversoldLevel   = 20.0
	adxExhaustionLevel = 50.0
)

// Mutation is one lifecycle change: the mutated signal plus the patch that
// persists exactly the changed fields.
type Mutation struct {
	Signal *domain.Signal
	Patch  domain.SignalPatch
}

// CheckExits advances every active signal against the latest bar of the
// series and returns the mutations. Signals are mutated in place; the
// caller persists the patches. Invalidation takes precedence over the
// take-profit ladder; the chandelier runner exit only applies to signals
// that entered the tick at TP1_HIT or TP2_HIT.
func (g *Generator) CheckExits(active []*domain.Signal, bars []domain.Bar) []Mutation {
	if len(active) == 0 || len(bars) == 0 {
		return nil
	}

	i := len(bars) - 1
	bar := bars[i]
	cols := indicators.Compute(bars)
	bp := g.analyzer.Analyze(bars)

	rsi, rsiOK := cols.At(cols.RSI14, i)
	adx, adxOK := cols.At(cols.ADX14, i)
	adxPrev, adxPrevOK := cols.At(cols.ADX14, i-1)
	chand, chandOK := cols.At(cols.ChandelierLong, i)

	var out []Mutation
	for _, s := range active {
		if !s.Status.Active() {
			continue
		}
		s.TrailUpdated = false
		s.PreviousTP3 = 0
		startStatus := s.Status
		var patch domain.SignalPatch

		// 1. Invalidation precedence.
		if reason, invalidated := invalidationReason(s, bar, bp, rsi, rsiOK, adx, adxOK, adxPrev, adxPrevOK); invalidated {
			s.Status = domain.StatusInvalidated
			s.ExitReason = reason
			patch.Status = statusPtr(domain.StatusInvalidated)
			patch.ExitReason = reasonPtr(reason)
			out = append(out, Mutation{Signal: s, Patch: patch})
			continue
		}

		// 2. Take-profit ladder.
		if s.Status == domain.StatusWaiting && tpTouched(s, bar, s.TakeProfit1) {
			s.Status = domain.StatusTP1Hit
			s.ExitReason = domain.ExitTP1
			s.SuggestedStop = s.EntryPrice
			patch.Status = statusPtr(domain.StatusTP1Hit)
			patch.ExitReason = reasonPtr(domain.ExitTP1)
			patch.SuggestedStop = floatPtr(s.EntryPrice)
		}
		if s.Status == domain.StatusTP1Hit && tpTouched(s, bar, s.TakeProfit2) {
			s.Status = domain.StatusTP2Hit
			s.ExitReason = domain.ExitTP2
			patch.Status = statusPtr(domain.StatusTP2Hit)
			patch.ExitReason = reasonPtr(domain.ExitTP2)
		}
		if (startStatus == domain.StatusTP1Hit || startStatus == domain.StatusTP2Hit) &&
			chandOK && chandelierHit(s, bar, chand) {
			s.Status = domain.StatusTP3Hit
			s.ExitReason = domain.ExitTPHit
			patch.Status = statusPtr(domain.StatusTP3Hit)
			patch.ExitReason = reasonPtr(domain.ExitTPHit)
			out = append(out, Mutation{Signal: s, Patch: patch})
			continue
		}

		// 3. Trailing update: runner stop follows the chandelier once it
		// moves past the current TP3. No status change.
		if (s.Status == domain.StatusTP1Hit || s.Status == domain.StatusTP2Hit) && chandOK {
			if trailImproves(s, chand) {
				s.PreviousTP3 = s.TakeProfit3
				s.TakeProfit3 = chand
				s.TrailUpdated = true
				patch.TakeProfit3 = floatPtr(chand)
			}
		}

		// 4. Expiration: a WAITING signal whose triggering-bar date plus one
		// day is already past. Signals beyond TP1 are never expired.
		if s.Status == domain.StatusWaiting {
			barDay := s.BarTs.UTC().Truncate(24 * time.Hour)
			today := g.now().UTC().Truncate(24 * time.Hour)
			if barDay.AddDate(0, 0, 1).Before(today) {
				s.Status = domain.StatusExpired
				s.ExitReason = domain.ExitExpired
				patch.Status = statusPtr(domain.StatusExpired)
				patch.ExitReason = reasonPtr(domain.ExitExpired)
			}
		}

		if !patch.Empty() {
			out = append(out, Mutation{Signal: s, Patch: patch})
		}
	}
	return out
}

// invalidationReason evaluates the invalidation rules in precedence order.
func invalidationReason(s *domain.Signal, bar domain.Bar, bp *patterns.BarPatterns,
	rsi float64, rsiOK bool, adx float64, adxOK bool, adxPrev float64, adxPrevOK bool) (domain.ExitReason, bool) {

	if s.Side == domain.SideBuy {
		if bar.Close < s.InvalidationPrice {
			return domain.ExitStructuralInvalidation, true
		}
		if bp.BearishEngulfing {
			return domain.ExitBearishEngulfing, true
		}
		if rsiOK && rsi > rsiOverboughtLevel {
			return domain.ExitRSIOverbought, true
		}
	} else {
		if bar.Close > s.InvalidationPrice {
			return domain.ExitStructuralInvalidation, true
		}
		if bp.BullishEngulfing {
			return domain.ExitBearishEngulfing, true
		}
		if rsiOK && rsi < rsiOversoldLevel {
			return domain.ExitRSIOverbought, true
		}
	}
	// ADX exhaustion uses the literal one-bar turn-down.
	if adxOK && adxPrevOK && adx > adxExhaustionLevel && adxPrev > adx {
		return domain.ExitADXExhaustion, true
	}
	return "", false
}

// tpTouched reports whether the bar reached a take-profit level.
func tpTouched(s *domain.Signal, bar domain.Bar, level float64) bool {
	if s.Side == domain.SideBuy {
		return bar.High >= level
	}
	return bar.Low <= level
}

// chandelierHit reports the runner exit: close through the chandelier.
func chandelierHit(s *domain.Signal, bar domain.Bar, chand float64) bool {
	if s.Side == domain.SideBuy {
		return bar.Close <= chand
	}
	return bar.Close >= chand
}

// trailImproves reports whether the chandelier moved favorably past the
// current TP3.
func trailImproves(s *domain.Signal, chand float64) bool {
	if s.Side == domain.SideBuy {
		return chand > s.TakeProfit3
	}
	return chand < s.TakeProfit3
}

func statusPtr(s domain.SignalStatus) *domain.SignalStatus { return &s }
func reasonPtr(r domain.ExitReason) *domain.ExitReason     { return &r }
func floatPtr(f float64) *float64                          { return &f }
