// Package confluence gates raw pattern shapes on indicator context. A shape
// only becomes a signal when the context passes; filters whose inputs are
// missing are bypassed rather than failed.
package confluence

import (
	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/indicators"
	"alpaca-signal-engine/internal/patterns"
)

// Factor names recorded on emitted signals.
const (
	FactorTrendBullish      = "trend_bullish"
	FactorRSIDivergence     = "rsi_bullish_divergence"
	FactorVolContraction    = "volatility_contraction"
	FactorVolumeExpansion   = "volume_expansion"
	FactorSoldiersBody      = "soldiers_body_expansion"
	FactorKeltnerBreakout   = "keltner_breakout"
	FactorMFIOversold       = "mfi_oversold"
	FactorHarmonicPrefix    = "harmonic:"
	volumeExpansionMultiple = 1.5
	mfiOversoldLevel        = 20.0
)

// Result is the gate outcome for one pattern on one bar.
type Result struct {
	Passed bool
	// Factors lists the context predicates that evaluated true.
	Factors []string
	// Bypassed lists the filters skipped because their inputs were missing.
	Bypassed []string
	// Snapshot captures the indicator readings at evaluation time.
	Snapshot map[string]float64
}

// Context evaluates confluence predicates for a single bar. Predicate
// results are cached so evaluating several patterns on the same bar stays
// cheap.
type Context struct {
	bars []domain.Bar
	cols *indicators.Columns
	i    int
}

// NewContext builds a gate context for bar i.
func NewContext(bars []domain.Bar, cols *indicators.Columns, i int) *Context {
	return &Context{bars: bars, cols: cols, i: i}
}

// TrendBullish reports close > EMA(50). ok is false when the EMA is not
// available on this bar.
func (c *Context) TrendBullish() (value, ok bool) {
	ema, ok := c.cols.At(c.cols.EMA50, c.i)
	if !ok {
		return false, false
	}
	return c.bars[c.i].Close > ema, true
}

// RSIBullishDivergence reports that today's low is the 14-bar low while the
// RSI is not. ok is false when the RSI is unavailable or the window does not
// fit.
func (c *Context) RSIBullishDivergence() (value, ok bool) {
	rsi, rsiOK := c.cols.At(c.cols.RSI14, c.i)
	if !rsiOK || c.i < indicators.RSIPeriod-1 {
		return false, false
	}

	lowIsLowest := true
	rsiIsLowest := true
	for j := c.i - indicators.RSIPeriod + 1; j < c.i; j++ {
		if c.bars[j].Low < c.bars[c.i].Low {
			lowIsLowest = false
			break
		}
	}
	if !lowIsLowest {
		return false, true
	}
	for j := c.i - indicators.RSIPeriod + 1; j < c.i; j++ {
		prev, okJ := c.cols.At(c.cols.RSI14, j)
		if !okJ {
			return false, false
		}
		if prev < rsi {
			rsiIsLowest = false
			break
		}
	}
	return !rsiIsLowest, true
}

// VolatilityContraction reports ATR below its 20-period SMA. ok is false
// when either column is missing, in which case the filter is bypassed.
func (c *Context) VolatilityContraction() (value, ok bool) {
	atr, atrOK := c.cols.At(c.cols.ATR14, c.i)
	sma, smaOK := c.cols.At(c.cols.ATRSMA20, c.i)
	if !atrOK || !smaOK {
		return false, false
	}
	return atr < sma, true
}

// VolumeExpansion reports volume above 1.5x its 20-period SMA. ok is false
// when the SMA is missing, in which case the filter is bypassed.
func (c *Context) VolumeExpansion() (value, ok bool) {
	sma, smaOK := c.cols.At(c.cols.VolumeSMA20, c.i)
	if !smaOK {
		return false, false
	}
	return c.bars[c.i].Volume > volumeExpansionMultiple*sma, true
}

// Snapshot returns the indicator readings available on this bar, keyed by
// column name. Close and volume are always present.
func (c *Context) Snapshot() map[string]float64 {
	snap := map[string]float64{
		"close":  c.bars[c.i].Close,
		"volume": c.bars[c.i].Volume,
	}
	put := func(key string, col []float64) {
		if v, ok := c.cols.At(col, c.i); ok {
			snap[key] = v
		}
	}
	put("ema_50", c.cols.EMA50)
	put("rsi_14", c.cols.RSI14)
	put("atr_14", c.cols.ATR14)
	put("atr_sma_20", c.cols.ATRSMA20)
	put("bollinger_lower", c.cols.BollingerLower)
	put("mfi_14", c.cols.MFI14)
	put("adx_14", c.cols.ADX14)
	put("keltner_upper", c.cols.KeltnerUpper)
	put("volume_sma_20", c.cols.VolumeSMA20)
	put("chandelier_long", c.cols.ChandelierLong)
	return snap
}

// Evaluate runs the general context gate plus the pattern-specific
// additions for one candidate pattern.
func (c *Context) Evaluate(t patterns.Type) Result {
	res := Result{Snapshot: c.Snapshot()}

	trend, trendOK := c.TrendBullish()
	div, divOK := c.RSIBullishDivergence()
	if trendOK && trend {
		res.Factors = append(res.Factors, FactorTrendBullish)
	}
	if divOK && div {
		res.Factors = append(res.Factors, FactorRSIDivergence)
	}

	// Reversal context: bullish trend or RSI divergence. Bypassed only when
	// neither side can be evaluated.
	reversal := (trendOK && trend) || (divOK && div)
	if !trendOK && !divOK {
		reversal = true
		res.Bypassed = append(res.Bypassed, "reversal_context")
	}
	if !reversal {
		return res
	}

	if contraction, ok := c.VolatilityContraction(); !ok {
		res.Bypassed = append(res.Bypassed, FactorVolContraction)
	} else if contraction {
		res.Factors = append(res.Factors, FactorVolContraction)
	} else {
		return res
	}

	if expansion, ok := c.VolumeExpansion(); !ok {
		res.Bypassed = append(res.Bypassed, FactorVolumeExpansion)
	} else if expansion {
		res.Factors = append(res.Factors, FactorVolumeExpansion)
	} else {
		return res
	}

	if !c.patternGate(t, &res) {
		return res
	}

	res.Passed = true
	return res
}

// patternGate applies the per-pattern confluence additions.
func (c *Context) patternGate(t patterns.Type, res *Result) bool {
	switch t {
	case patterns.MorningStar:
		// Requires the RSI divergence outright, not just reversal context.
		div, ok := c.RSIBullishDivergence()
		if !ok {
			res.Bypassed = append(res.Bypassed, FactorRSIDivergence)
			return true
		}
		return div

	case patterns.ThreeWhiteSoldiers:
		// Aggregate body of the three soldiers must exceed 2x ATR.
		atr, ok := c.cols.At(c.cols.ATR14, c.i)
		if !ok {
			res.Bypassed = append(res.Bypassed, FactorSoldiersBody)
			return true
		}
		if c.i < 2 {
			return false
		}
		agg := 0.0
		for j := c.i - 2; j <= c.i; j++ {
			agg += c.bars[j].Close - c.bars[j].Open
		}
		if agg > 2*atr {
			res.Factors = append(res.Factors, FactorSoldiersBody)
			return true
		}
		return false

	case patterns.BullishMarubozu:
		ku, ok := c.cols.At(c.cols.KeltnerUpper, c.i)
		if !ok {
			res.Bypassed = append(res.Bypassed, FactorKeltnerBreakout)
			return true
		}
		if c.bars[c.i].Close > ku {
			res.Factors = append(res.Factors, FactorKeltnerBreakout)
			return true
		}
		return false

	case patterns.InvertedHammer:
		// The shape bar is i-1, so the pre-pattern MFI reading sits at i-2.
		if c.i < 2 {
			return false
		}
		mfi, ok := c.cols.At(c.cols.MFI14, c.i-2)
		if !ok {
			res.Bypassed = append(res.Bypassed, FactorMFIOversold)
			return true
		}
		if mfi < mfiOversoldLevel {
			res.Factors = append(res.Factors, FactorMFIOversold)
			return true
		}
		return false
	}
	return true
}
