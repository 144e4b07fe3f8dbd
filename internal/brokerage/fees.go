package brokerage

// cryptoTakerRates maps the broker's crypto fee tier to its taker rate.
// Tier 0 is the default retail tier. Used only for fee estimation at
// position close; the archival fee patch reconciles against CFEE
// activities at T+1.
var cryptoTakerRates = map[int]float64{
	0: 0.0025,
	1: 0.0022,
	2: 0.0020,
	3: 0.0018,
	4: 0.0015,
	5: 0.0013,
	6: 0.0012,
	7: 0.0010,
	8: 0.0008,
}

// CryptoTakerRate returns the taker fee rate for a crypto tier. Unknown
// tiers fall back to the tier-0 rate.
func CryptoTakerRate(tier int) float64 {
	if rate, ok := cryptoTakerRates[tier]; ok {
		return rate
	}
	return cryptoTakerRates[0]
}

// EstimateCryptoFee estimates the taker fee for one fill.
func EstimateCryptoFee(notional float64, tier int) float64 {
	if notional <= 0 {
		return 0
	}
	return notional * CryptoTakerRate(tier)
}
