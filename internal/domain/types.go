package domain

import "time"

// AssetClass distinguishes the two tradeable universes. Crypto and equities
// differ in buying-power source, order class support, and quantity precision.
type AssetClass string

const (
	AssetCrypto AssetClass = "CRYPTO"
	AssetEquity AssetClass = "EQUITY"
)

// Side is the trade direction of a signal or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Environment selects collection naming, execution gating and job gating.
type Environment string

const (
	EnvProd Environment = "PROD"
	EnvDev  Environment = "DEV"
	EnvTest Environment = "TEST"
)

// Bar is a single immutable daily OHLCV record.
type Bar struct {
	Ts     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PivotType marks a structural extreme as a local top or bottom.
type PivotType string

const (
	PivotPeak   PivotType = "PEAK"
	PivotValley PivotType = "VALLEY"
)

// Pivot is a structural extreme emitted by the pivot detector. Index is the
// position of the pivot bar in the source bar sequence.
type Pivot struct {
	Ts    time.Time `json:"ts"`
	Price float64   `json:"price"`
	Type  PivotType `json:"type"`
	Index int       `json:"index"`
}

// PatternClassification buckets a pattern by family and pivot span.
type PatternClassification string

const (
	StandardPattern PatternClassification = "STANDARD_PATTERN"
	MacroPattern    PatternClassification = "MACRO_PATTERN"
	HarmonicPattern PatternClassification = "HARMONIC_PATTERN"
	MacroHarmonic   PatternClassification = "MACRO_HARMONIC"
)

// MacroSpanDays is the first-to-last pivot span beyond which a structural or
// harmonic pattern is classified as macro.
const MacroSpanDays = 90

// TradeType records how a position came to exist.
type TradeType string

const (
	TradeExecuted    TradeType = "EXECUTED"
	TradeTheoretical TradeType = "THEORETICAL"
	TradeRiskBlocked TradeType = "RISK_BLOCKED"
)

// PositionStatus is the broker-side trade state.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
	PositionFailed PositionStatus = "FAILED"
)

// ExitReason explains why a signal or position reached a terminal state.
type ExitReason string

const (
	ExitTP1                    ExitReason = "TP1"
	ExitTP2                    ExitReason = "TP2"
	ExitTPHit                  ExitReason = "TP_HIT"
	ExitStopLoss               ExitReason = "STOP_LOSS"
	ExitStructuralInvalidation ExitReason = "STRUCTURAL_INVALIDATION"
	ExitBearishEngulfing       ExitReason = "BEARISH_ENGULFING"
	ExitRSIOverbought          ExitReason = "RSI_OVERBOUGHT"
	ExitADXExhaustion          ExitReason = "ADX_EXHAUSTION"
	ExitExpired                ExitReason = "EXPIRED"
	ExitManualExit             ExitReason = "MANUAL_EXIT"
	ExitEmergencyClose         ExitReason = "EMERGENCY_CLOSE"
)
