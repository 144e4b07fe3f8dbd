package patterns

import (
	"math"

	"alpaca-signal-engine/internal/domain"
)

// Candlestick shape detection. Rules are ratios over body, wicks, and total
// range, evaluated on one to five consecutive bars.

func body(b domain.Bar) float64 {
	return math.Abs(b.Close - b.Open)
}

func totalRange(b domain.Bar) float64 {
	return b.High - b.Low
}

func upperWick(b domain.Bar) float64 {
	return b.High - math.Max(b.Open, b.Close)
}

func lowerWick(b domain.Bar) float64 {
	return math.Min(b.Open, b.Close) - b.Low
}

func isBullish(b domain.Bar) bool {
	return b.Close > b.Open
}

func isBearish(b domain.Bar) bool {
	return b.Close < b.Open
}

// isBullishHammer checks for a hammer: small body near the top of the range
// with a long lower shadow.
func isBullishHammer(b domain.Bar) bool {
	r := totalRange(b)
	if r <= 0 {
		return false
	}
	bd := body(b)
	if bd > r*0.35 {
		return false
	}
	if lowerWick(b) < bd*2 {
		return false
	}
	// Upper shadow stays small relative to the lower one.
	return upperWick(b) <= r*0.15
}

// isInvertedHammerShape checks the raw shape: small body near the bottom
// with a long upper shadow. Confirmation is handled by the analyzer.
func isInvertedHammerShape(b domain.Bar) bool {
	r := totalRange(b)
	if r <= 0 {
		return false
	}
	bd := body(b)
	if bd > r*0.35 {
		return false
	}
	if upperWick(b) < bd*2 {
		return false
	}
	return lowerWick(b) <= r*0.15
}

// isDragonflyDoji checks for a doji with a long lower shadow and almost no
// upper shadow.
func isDragonflyDoji(b domain.Bar) bool {
	r := totalRange(b)
	if r <= 0 {
		return false
	}
	if body(b) > r*0.05 {
		return false
	}
	return lowerWick(b) >= r*0.6 && upperWick(b) <= r*0.1
}

// isBullishBeltHold checks for a bullish candle opening on its low with a
// dominant body.
func isBullishBeltHold(b domain.Bar) bool {
	if !isBullish(b) {
		return false
	}
	r := totalRange(b)
	if r <= 0 {
		return false
	}
	if lowerWick(b) > r*0.03 {
		return false
	}
	return body(b) >= r*0.7
}

// isBullishMarubozu checks for a full-body bullish candle with negligible
// shadows.
func isBullishMarubozu(b domain.Bar) bool {
	if !isBullish(b) {
		return false
	}
	r := totalRange(b)
	if r <= 0 {
		return false
	}
	return body(b) >= r*0.95
}

// isBullishEngulfing checks that a bullish body fully engulfs the prior
// bearish body.
func isBullishEngulfing(prev, cur domain.Bar) bool {
	if !isBearish(prev) || !isBullish(cur) {
		return false
	}
	if cur.Open > prev.Close || cur.Close < prev.Open {
		return false
	}
	// Strict engulfment on at least one side.
	return cur.Open < prev.Close || cur.Close > prev.Open
}

// isBearishEngulfing is the mirror image, used as an exit trigger.
func isBearishEngulfing(prev, cur domain.Bar) bool {
	if !isBullish(prev) || !isBearish(cur) {
		return false
	}
	if cur.Open < prev.Close || cur.Close > prev.Open {
		return false
	}
	return cur.Open > prev.Close || cur.Close < prev.Open
}

// isBullishHarami checks for a small body contained inside the prior large
// bearish body.
func isBullishHarami(prev, cur domain.Bar) bool {
	if !isBearish(prev) {
		return false
	}
	prevRange := totalRange(prev)
	if prevRange <= 0 || body(prev) < prevRange*0.6 {
		return false
	}
	if body(cur) >= body(prev)*0.5 {
		return false
	}
	lo := math.Min(cur.Open, cur.Close)
	hi := math.Max(cur.Open, cur.Close)
	return lo >= prev.Close && hi <= prev.Open
}

// isBullishKicker checks for a bullish candle opening above the prior
// bearish open. trueGap additionally requires the current low to clear the
// prior high.
func isBullishKicker(prev, cur domain.Bar) (fired, trueGap bool) {
	if !isBearish(prev) || !isBullish(cur) {
		return false, false
	}
	if cur.Open <= prev.Open {
		return false, false
	}
	return true, cur.Low > prev.High
}

// isMorningStar checks the three-bar reversal: long bearish bar, small
// indecision bar, then a bullish bar penetrating at least 50% of the first
// body.
func isMorningStar(c1, c2, c3 domain.Bar) bool {
	if !isBearish(c1) {
		return false
	}
	r1 := totalRange(c1)
	if r1 <= 0 || body(c1) < r1*0.6 {
		return false
	}
	if body(c2) >= body(c1)*0.3 {
		return false
	}
	if !isBullish(c3) {
		return false
	}
	midpoint := (c1.Open + c1.Close) / 2
	return c3.Close > midpoint
}

// isPiercingLine checks for a bullish bar opening below the prior bearish
// close and closing above the midpoint of the prior body without engulfing
// it.
func isPiercingLine(prev, cur domain.Bar) bool {
	if !isBearish(prev) || !isBullish(cur) {
		return false
	}
	if cur.Open >= prev.Close {
		return false
	}
	midpoint := (prev.Open + prev.Close) / 2
	return cur.Close > midpoint && cur.Close < prev.Open
}

// isThreeInsideUp checks for a bullish harami whose third bar closes above
// the first bar's open.
func isThreeInsideUp(c1, c2, c3 domain.Bar) bool {
	if !isBullishHarami(c1, c2) {
		return false
	}
	return isBullish(c3) && c3.Close > c1.Open
}

// isThreeWhiteSoldiers checks for three consecutive bullish bodies with
// rising closes, each opening within the prior body, on stepping volume.
func isThreeWhiteSoldiers(c1, c2, c3 domain.Bar) bool {
	for _, c := range []domain.Bar{c1, c2, c3} {
		r := totalRange(c)
		if !isBullish(c) || r <= 0 || body(c) < r*0.5 {
			return false
		}
	}
	if c2.Close <= c1.Close || c3.Close <= c2.Close {
		return false
	}
	if c2.Open < c1.Open || c2.Open > c1.Close {
		return false
	}
	if c3.Open < c2.Open || c3.Open > c2.Close {
		return false
	}
	// Volume step-up across the three bars.
	return c1.Volume < c2.Volume && c2.Volume < c3.Volume
}

// isRisingThreeMethods checks the five-bar continuation: a long bullish bar,
// three small pullback bars held inside its range, then a bullish bar
// closing above the first close.
func isRisingThreeMethods(c1, c2, c3, c4, c5 domain.Bar) bool {
	r1 := totalRange(c1)
	if !isBullish(c1) || r1 <= 0 || body(c1) < r1*0.6 {
		return false
	}
	for _, c := range []domain.Bar{c2, c3, c4} {
		if body(c) >= body(c1)*0.5 {
			return false
		}
		if c.Low < c1.Low || c.High > c1.High {
			return false
		}
	}
	return isBullish(c5) && c5.Close > c1.Close
}
