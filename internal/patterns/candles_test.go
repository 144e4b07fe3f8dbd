package patterns

import (
	"testing"

	"alpaca-signal-engine/internal/domain"
)

// TestBullishHammer tests hammer shape detection
func TestBullishHammer(t *testing.T) {
	// Valid hammer: small body at top, long lower shadow
	hammer := domain.Bar{Open: 100, High: 100.5, Low: 94, Close: 100.4}
	if !isBullishHammer(hammer) {
		t.Error("Should detect valid hammer")
	}

	// Invalid - body too large
	bigBody := domain.Bar{Open: 95, High: 100.5, Low: 94, Close: 100}
	if isBullishHammer(bigBody) {
		t.Error("Should NOT detect hammer with a large body")
	}

	// Invalid - shadow on the wrong side
	inverted := domain.Bar{Open: 100, High: 106, Low: 99.8, Close: 100.4}
	if isBullishHammer(inverted) {
		t.Error("Should NOT detect hammer with upper shadow only")
	}
}

// TestInvertedHammerShape tests the raw inverted hammer shape
func TestInvertedHammerShape(t *testing.T) {
	// Valid: small body at bottom, long upper shadow
	inv := domain.Bar{Open: 100, High: 106, Low: 99.9, Close: 100.4}
	if !isInvertedHammerShape(inv) {
		t.Error("Should detect valid inverted hammer shape")
	}

	// Invalid - regular hammer shape
	hammer := domain.Bar{Open: 100, High: 100.5, Low: 94, Close: 100.4}
	if isInvertedHammerShape(hammer) {
		t.Error("Should NOT detect inverted hammer on a regular hammer")
	}
}

// TestDragonflyDoji tests Dragonfly Doji detection
func TestDragonflyDoji(t *testing.T) {
	// Valid: near-zero body, long lower shadow, no upper shadow
	dragonfly := domain.Bar{Open: 100, High: 100.5, Low: 94, Close: 100.2}
	if !isDragonflyDoji(dragonfly) {
		t.Error("Should detect valid Dragonfly Doji")
	}

	// Invalid - upper shadow too long
	notDragonfly := domain.Bar{Open: 100, High: 105, Low: 94, Close: 100.2}
	if isDragonflyDoji(notDragonfly) {
		t.Error("Should NOT detect Dragonfly with a long upper shadow")
	}
}

// TestBullishBeltHold tests Belt Hold detection
func TestBullishBeltHold(t *testing.T) {
	// Valid: opens on the low, dominant bullish body
	belt := domain.Bar{Open: 100, High: 108, Low: 100, Close: 107}
	if !isBullishBeltHold(belt) {
		t.Error("Should detect valid Belt Hold")
	}

	// Invalid - opens well above the low
	offLow := domain.Bar{Open: 100, High: 108, Low: 98, Close: 107}
	if isBullishBeltHold(offLow) {
		t.Error("Should NOT detect Belt Hold when open is off the low")
	}
}

// TestBullishMarubozu tests Marubozu detection
func TestBullishMarubozu(t *testing.T) {
	// Valid: body fills nearly the entire range
	maru := domain.Bar{Open: 100, High: 110.2, Low: 99.9, Close: 110}
	if !isBullishMarubozu(maru) {
		t.Error("Should detect valid Marubozu")
	}

	// Invalid - meaningful shadows
	wicks := domain.Bar{Open: 100, High: 112, Low: 98, Close: 110}
	if isBullishMarubozu(wicks) {
		t.Error("Should NOT detect Marubozu with long shadows")
	}
}

// TestBullishEngulfing tests Bullish Engulfing detection
func TestBullishEngulfing(t *testing.T) {
	// Valid: bullish body engulfs the prior bearish body
	c1 := domain.Bar{Open: 102, High: 103, Low: 99.5, Close: 100} // bearish
	c2 := domain.Bar{Open: 100, High: 105, Low: 99.8, Close: 104} // engulfs
	if !isBullishEngulfing(c1, c2) {
		t.Error("Should detect valid Bullish Engulfing")
	}

	// Invalid - first bar not bearish
	c1Bull := domain.Bar{Open: 100, High: 103, Low: 99.5, Close: 102}
	if isBullishEngulfing(c1Bull, c2) {
		t.Error("Should NOT detect pattern when first bar is not bearish")
	}

	// Invalid - second bar does not clear the prior open
	c2Small := domain.Bar{Open: 100, High: 102, Low: 99.8, Close: 101}
	if isBullishEngulfing(c1, c2Small) {
		t.Error("Should NOT detect pattern when body is not engulfed")
	}
}

// TestBearishEngulfing tests the exit-side engulfing
func TestBearishEngulfing(t *testing.T) {
	c1 := domain.Bar{Open: 99, High: 101, Low: 98.5, Close: 100} // bullish
	c2 := domain.Bar{Open: 101, High: 101.5, Low: 95, Close: 96} // engulfs down
	if !isBearishEngulfing(c1, c2) {
		t.Error("Should detect valid Bearish Engulfing")
	}

	if isBearishEngulfing(c2, c1) {
		t.Error("Should NOT detect Bearish Engulfing in reverse order")
	}
}

// TestBullishHarami tests Harami detection
func TestBullishHarami(t *testing.T) {
	c1 := domain.Bar{Open: 105, High: 106, Low: 95, Close: 96} // large bearish
	c2 := domain.Bar{Open: 98, High: 100, Low: 97, Close: 99}  // small, inside
	if !isBullishHarami(c1, c2) {
		t.Error("Should detect valid Bullish Harami")
	}

	// Invalid - second body too large
	c2Large := domain.Bar{Open: 96.5, High: 104, Low: 96, Close: 103}
	if isBullishHarami(c1, c2Large) {
		t.Error("Should NOT detect Harami when second body is too large")
	}
}

// TestBullishKicker tests Kicker detection and the true-gap subtype
func TestBullishKicker(t *testing.T) {
	c1 := domain.Bar{Open: 100, High: 100.5, Low: 96.5, Close: 97} // bearish

	// True gap: current low clears the prior high
	gapped := domain.Bar{Open: 101, High: 104.5, Low: 100.8, Close: 104}
	fired, trueGap := isBullishKicker(c1, gapped)
	if !fired || !trueGap {
		t.Errorf("Should detect Kicker with true gap, got fired=%v trueGap=%v", fired, trueGap)
	}

	// Kicker without a true gap: open above prior open but low overlaps
	overlap := domain.Bar{Open: 101, High: 104.5, Low: 100.2, Close: 104}
	fired, trueGap = isBullishKicker(c1, overlap)
	if !fired || trueGap {
		t.Errorf("Should detect Kicker without true gap, got fired=%v trueGap=%v", fired, trueGap)
	}

	// Invalid - opens below the prior open
	weak := domain.Bar{Open: 99, High: 104.5, Low: 98.8, Close: 104}
	if fired, _ := isBullishKicker(c1, weak); fired {
		t.Error("Should NOT detect Kicker when open is below prior open")
	}
}

// TestMorningStar tests the three-bar reversal with 50% penetration
func TestMorningStar(t *testing.T) {
	c1 := domain.Bar{Open: 105, High: 105.5, Low: 95.5, Close: 96}    // long bearish
	c2 := domain.Bar{Open: 95.8, High: 96.8, Low: 95.2, Close: 96.5}  // indecision
	c3 := domain.Bar{Open: 97, High: 101.5, Low: 96.8, Close: 101.2}  // closes above midpoint 100.5
	if !isMorningStar(c1, c2, c3) {
		t.Error("Should detect valid Morning Star")
	}

	// Invalid - third bar stops short of the 50% penetration
	c3Weak := domain.Bar{Open: 97, High: 100.4, Low: 96.8, Close: 100}
	if isMorningStar(c1, c2, c3Weak) {
		t.Error("Should NOT detect Morning Star without 50% penetration")
	}
}

// TestPiercingLine tests Piercing Line detection
func TestPiercingLine(t *testing.T) {
	c1 := domain.Bar{Open: 105, High: 105.5, Low: 96.5, Close: 97}
	c2 := domain.Bar{Open: 96, High: 102.5, Low: 95.5, Close: 102} // opens below, closes past midpoint
	if !isPiercingLine(c1, c2) {
		t.Error("Should detect valid Piercing Line")
	}

	// Invalid - closes above the prior open, which is an engulfing instead
	c2Engulf := domain.Bar{Open: 96, High: 106.5, Low: 95.5, Close: 106}
	if isPiercingLine(c1, c2Engulf) {
		t.Error("Should NOT detect Piercing Line when prior body is engulfed")
	}
}

// TestThreeInsideUp tests the harami-plus-confirmation combination
func TestThreeInsideUp(t *testing.T) {
	c1 := domain.Bar{Open: 105, High: 106, Low: 95, Close: 96}
	c2 := domain.Bar{Open: 98, High: 100, Low: 97, Close: 99}
	c3 := domain.Bar{Open: 99, High: 106.5, Low: 98.5, Close: 105.5} // closes above c1 open
	if !isThreeInsideUp(c1, c2, c3) {
		t.Error("Should detect valid Three Inside Up")
	}

	// Invalid - third close stays inside the first body
	c3Weak := domain.Bar{Open: 99, High: 104.5, Low: 98.5, Close: 104}
	if isThreeInsideUp(c1, c2, c3Weak) {
		t.Error("Should NOT detect Three Inside Up without confirmation close")
	}
}

// TestThreeWhiteSoldiers tests the volume-stepped three-soldier advance
func TestThreeWhiteSoldiers(t *testing.T) {
	c1 := domain.Bar{Open: 100, High: 104.5, Low: 99.8, Close: 104, Volume: 1000}
	c2 := domain.Bar{Open: 102, High: 106.5, Low: 101.8, Close: 106, Volume: 1200}
	c3 := domain.Bar{Open: 104, High: 108.5, Low: 103.8, Close: 108, Volume: 1500}
	if !isThreeWhiteSoldiers(c1, c2, c3) {
		t.Error("Should detect valid Three White Soldiers")
	}

	// Invalid - volume does not step up
	c3Flat := c3
	c3Flat.Volume = 1100
	if isThreeWhiteSoldiers(c1, c2, c3Flat) {
		t.Error("Should NOT detect Three White Soldiers without volume step")
	}

	// Invalid - third bar opens outside the prior body
	c3Gap := c3
	c3Gap.Open = 107
	if isThreeWhiteSoldiers(c1, c2, c3Gap) {
		t.Error("Should NOT detect Three White Soldiers when open leaves prior body")
	}
}

// TestRisingThreeMethods tests the five-bar continuation
func TestRisingThreeMethods(t *testing.T) {
	c1 := domain.Bar{Open: 100, High: 110.5, Low: 99.5, Close: 110}
	c2 := domain.Bar{Open: 109, High: 109.5, Low: 105.5, Close: 106}
	c3 := domain.Bar{Open: 106, High: 106.5, Low: 103.5, Close: 104}
	c4 := domain.Bar{Open: 104, High: 106, Low: 103.8, Close: 105.5}
	c5 := domain.Bar{Open: 106, High: 112.5, Low: 105.8, Close: 112}
	if !isRisingThreeMethods(c1, c2, c3, c4, c5) {
		t.Error("Should detect valid Rising Three Methods")
	}

	// Invalid - pullback breaks below the first bar's low
	c3Break := c3
	c3Break.Low = 99
	if isRisingThreeMethods(c1, c2, c3Break, c4, c5) {
		t.Error("Should NOT detect Rising Three Methods when pullback breaks the range")
	}
}
