// Package indicators derives the columns the pattern analyzer and lifecycle
// engine filter on. All series are aligned with the input bars; warmup
// positions hold NaN so downstream filters can bypass missing data instead
// of failing on it.
package indicators

import (
	"math"

	"alpaca-signal-engine/internal/domain"
)

// Periods used by the engine. The column set is fixed; consumers bypass any
// column that is nil or NaN at their index.
const (
	EMAPeriod        = 50
	RSIPeriod        = 14
	ATRPeriod        = 14
	ATRSMAPeriod     = 20
	BollingerPeriod  = 20
	BollingerStdDevs = 2.0
	MFIPeriod        = 14
	ADXPeriod        = 14
	KeltnerPeriod    = 20
	KeltnerMult      = 2.0
	VolumeSMAPeriod  = 20
	ChandelierPeriod = 22
	ChandelierMult   = 3.0
)

// Columns holds every derived series, aligned index-for-index with the bars
// they were computed from. A nil slice means the column is absent entirely.
type Columns struct {
	EMA50          []float64
	RSI14          []float64
	ATR14          []float64
	ATRSMA20       []float64
	BollingerLower []float64
	MFI14          []float64
	ADX14          []float64
	KeltnerUpper   []float64
	VolumeSMA20    []float64
	ChandelierLong []float64
}

// Compute builds the full column set for a bar sequence.
func Compute(bars []domain.Bar) *Columns {
	if len(bars) == 0 {
		return &Columns{}
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		volumes[i] = b.Volume
	}

	atr := ATR(bars, ATRPeriod)

	return &Columns{
		EMA50:          EMA(closes, EMAPeriod),
		RSI14:          RSI(closes, RSIPeriod),
		ATR14:          atr,
		ATRSMA20:       SMA(atr, ATRSMAPeriod),
		BollingerLower: BollingerLower(closes, BollingerPeriod, BollingerStdDevs),
		MFI14:          MFI(bars, MFIPeriod),
		ADX14:          ADX(bars, ADXPeriod),
		KeltnerUpper:   KeltnerUpper(bars, KeltnerPeriod, KeltnerMult),
		VolumeSMA20:    SMA(volumes, VolumeSMAPeriod),
		ChandelierLong: ChandelierLong(bars, ChandelierPeriod, ChandelierMult),
	}
}

// At reads a column at an index. ok is false when the column is absent, the
// index is out of range, or the value is still in its warmup window.
func (c *Columns) At(col []float64, i int) (float64, bool) {
	return At(col, i)
}

// At reads any column slice at an index with the same missing-data rules as
// Columns.At.
func At(col []float64, i int) (float64, bool) {
	if col == nil || i < 0 || i >= len(col) {
		return 0, false
	}
	v := col[i]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// ===== MOVING AVERAGES =====

// SMA computes a simple moving average. NaN inputs inside the window
// propagate as NaN output.
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		sum := 0.0
		valid := true
		for j := i - period + 1; j <= i; j++ {
			if math.IsNaN(values[j]) {
				valid = false
				break
			}
			sum += values[j]
		}
		if valid {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes an exponential moving average seeded with the SMA of the
// first period values.
func EMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	seed /= float64(period)
	out[period-1] = seed

	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// ===== MOMENTUM =====

// RSI computes the relative strength index with Wilder smoothing.
func RSI(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if period <= 0 || len(closes) < period+1 {
		return out
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ===== VOLATILITY =====

// TrueRange for bar i against the prior close.
func trueRange(bars []domain.Bar, i int) float64 {
	if i == 0 {
		return bars[0].High - bars[0].Low
	}
	hl := bars[i].High - bars[i].Low
	hc := math.Abs(bars[i].High - bars[i-1].Close)
	lc := math.Abs(bars[i].Low - bars[i-1].Close)
	return math.Max(hl, math.Max(hc, lc))
}

// ATR computes the average true range with Wilder smoothing.
func ATR(bars []domain.Bar, period int) []float64 {
	out := nanSlice(len(bars))
	if period <= 0 || len(bars) < period+1 {
		return out
	}

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += trueRange(bars, i)
	}
	atr := sum / float64(period)
	out[period] = atr

	for i := period + 1; i < len(bars); i++ {
		atr = (atr*float64(period-1) + trueRange(bars, i)) / float64(period)
		out[i] = atr
	}
	return out
}

// BollingerLower computes the lower Bollinger band: SMA minus stdDevs
// population standard deviations.
func BollingerLower(closes []float64, period int, stdDevs float64) []float64 {
	out := nanSlice(len(closes))
	if period <= 0 || len(closes) < period {
		return out
	}
	for i := period - 1; i < len(closes); i++ {
		mean := 0.0
		for j := i - period + 1; j <= i; j++ {
			mean += closes[j]
		}
		mean /= float64(period)

		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := closes[j] - mean
			variance += d * d
		}
		variance /= float64(period)

		out[i] = mean - stdDevs*math.Sqrt(variance)
	}
	return out
}

// KeltnerUpper computes the upper Keltner channel: EMA of closes plus a
// multiple of ATR, both over the same period.
func KeltnerUpper(bars []domain.Bar, period int, mult float64) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	ema := EMA(closes, period)
	atr := ATR(bars, period)

	out := nanSlice(len(bars))
	for i := range bars {
		e, okE := At(ema, i)
		a, okA := At(atr, i)
		if okE && okA {
			out[i] = e + mult*a
		}
	}
	return out
}

// ChandelierLong computes the long chandelier exit: highest high over the
// period minus a multiple of ATR over the same period.
func ChandelierLong(bars []domain.Bar, period int, mult float64) []float64 {
	out := nanSlice(len(bars))
	atr := ATR(bars, period)
	if len(bars) < period {
		return out
	}
	for i := period - 1; i < len(bars); i++ {
		a, ok := At(atr, i)
		if !ok {
			continue
		}
		highest := bars[i-period+1].High
		for j := i - period + 2; j <= i; j++ {
			if bars[j].High > highest {
				highest = bars[j].High
			}
		}
		out[i] = highest - mult*a
	}
	return out
}

// ===== VOLUME / FLOW =====

// MFI computes the money flow index over typical prices and volume.
func MFI(bars []domain.Bar, period int) []float64 {
	out := nanSlice(len(bars))
	if period <= 0 || len(bars) < period+1 {
		return out
	}

	typical := func(b domain.Bar) float64 { return (b.High + b.Low + b.Close) / 3 }

	for i := period; i < len(bars); i++ {
		posFlow, negFlow := 0.0, 0.0
		for j := i - period + 1; j <= i; j++ {
			tp := typical(bars[j])
			prevTp := typical(bars[j-1])
			flow := tp * bars[j].Volume
			if tp > prevTp {
				posFlow += flow
			} else if tp < prevTp {
				negFlow += flow
			}
		}
		if negFlow == 0 {
			out[i] = 100
			continue
		}
		ratio := posFlow / negFlow
		out[i] = 100 - 100/(1+ratio)
	}
	return out
}

// ===== TREND STRENGTH =====

// ADX computes the average directional index with Wilder smoothing.
func ADX(bars []domain.Bar, period int) []float64 {
	out := nanSlice(len(bars))
	if period <= 0 || len(bars) < 2*period+1 {
		return out
	}

	n := len(bars)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		upMove := bars[i].High - bars[i-1].High
		downMove := bars[i-1].Low - bars[i].Low
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		tr[i] = trueRange(bars, i)
	}

	// Wilder-smoothed sums over the first period.
	smTR, smPlus, smMinus := 0.0, 0.0, 0.0
	for i := 1; i <= period; i++ {
		smTR += tr[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	dx := make([]float64, n)
	dx[period] = dxValue(smPlus, smMinus, smTR)
	for i := period + 1; i < n; i++ {
		smTR = smTR - smTR/float64(period) + tr[i]
		smPlus = smPlus - smPlus/float64(period) + plusDM[i]
		smMinus = smMinus - smMinus/float64(period) + minusDM[i]
		dx[i] = dxValue(smPlus, smMinus, smTR)
	}

	// ADX is the Wilder smoothing of DX.
	sum := 0.0
	for i := period + 1; i <= 2*period; i++ {
		sum += dx[i]
	}
	adx := sum / float64(period)
	out[2*period] = adx
	for i := 2*period + 1; i < n; i++ {
		adx = (adx*float64(period-1) + dx[i]) / float64(period)
		out[i] = adx
	}
	return out
}

func dxValue(plus, minus, tr float64) float64 {
	if tr == 0 {
		return 0
	}
	plusDI := 100 * plus / tr
	minusDI := 100 * minus / tr
	sum := plusDI + minusDI
	if sum == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / sum
}
