package domain

import "time"

// SignalStatus is the lifecycle state of a signal.
type SignalStatus string

const (
	StatusWaiting          SignalStatus = "WAITING"
	StatusTP1Hit           SignalStatus = "TP1_HIT"
	StatusTP2Hit           SignalStatus = "TP2_HIT"
	StatusTP3Hit           SignalStatus = "TP3_HIT"
	StatusInvalidated      SignalStatus = "INVALIDATED"
	StatusExpired          SignalStatus = "EXPIRED"
	StatusRejectedByFilter SignalStatus = "REJECTED_BY_FILTER"
)

// Terminal reports whether a status admits no further transitions.
func (s SignalStatus) Terminal() bool {
	switch s {
	case StatusTP3Hit, StatusInvalidated, StatusExpired, StatusRejectedByFilter:
		return true
	}
	return false
}

// Active reports whether a signal in this status is still advanced by the
// lifecycle engine.
func (s SignalStatus) Active() bool {
	switch s {
	case StatusWaiting, StatusTP1Hit, StatusTP2Hit:
		return true
	}
	return false
}

// Signal is the central entity: a detected pattern plus precomputed trade
// parameters, advanced through its lifecycle by subsequent market data.
type Signal struct {
	SignalID   string     `json:"signal_id"`
	DS         string     `json:"ds"` // date of the triggering bar, YYYY-MM-DD
	StrategyID string     `json:"strategy_id"`
	Symbol     string     `json:"symbol"`
	AssetClass AssetClass `json:"asset_class"`
	Side       Side       `json:"side"`

	PatternName           string                `json:"pattern_name"`
	PatternClassification PatternClassification `json:"pattern_classification"`
	PatternDurationDays   int                   `json:"pattern_duration_days"`
	StructuralAnchors     []Pivot               `json:"structural_anchors,omitempty"`
	HarmonicMetadata      map[string]float64    `json:"harmonic_metadata,omitempty"`

	EntryPrice        float64 `json:"entry_price"`
	SuggestedStop     float64 `json:"suggested_stop"`
	InvalidationPrice float64 `json:"invalidation_price"`
	TakeProfit1       float64 `json:"take_profit_1"`
	TakeProfit2       float64 `json:"take_profit_2"`
	TakeProfit3       float64 `json:"take_profit_3"`

	Status     SignalStatus `json:"status"`
	ExitReason ExitReason   `json:"exit_reason,omitempty"`

	BarTs      time.Time `json:"bar_ts"`
	CreatedAt  time.Time `json:"created_at"`
	ValidUntil time.Time `json:"valid_until"`
	DeleteAt   time.Time `json:"delete_at"`

	DiscordThreadID string `json:"discord_thread_id,omitempty"`

	ConfluenceFactors  []string           `json:"confluence_factors,omitempty"`
	ConfluenceSnapshot map[string]float64 `json:"confluence_snapshot,omitempty"`

	// LastNotifiedTP3 is the take_profit_3 value carried by the most recent
	// trail notification; the scheduler notifies again only on a >=1% move.
	LastNotifiedTP3 float64 `json:"last_notified_tp3,omitempty"`

	// Transient trail markers set by the lifecycle engine for the current
	// tick. Never persisted.
	TrailUpdated bool    `json:"-"`
	PreviousTP3  float64 `json:"-"`
}

// IsMacro reports whether the signal carries a macro classification, which
// lengthens its validity window.
func (s *Signal) IsMacro() bool {
	return s.PatternClassification == MacroPattern || s.PatternClassification == MacroHarmonic
}

// SignalPatch carries only the fields changed by a lifecycle transition.
// Nil fields are not written.
type SignalPatch struct {
	Status          *SignalStatus `json:"status,omitempty"`
	ExitReason      *ExitReason   `json:"exit_reason,omitempty"`
	SuggestedStop   *float64      `json:"suggested_stop,omitempty"`
	TakeProfit3     *float64      `json:"take_profit_3,omitempty"`
	LastNotifiedTP3 *float64      `json:"last_notified_tp3,omitempty"`
	DiscordThreadID *string       `json:"discord_thread_id,omitempty"`
	DeleteAt        *time.Time    `json:"delete_at,omitempty"`
}

// Empty reports whether the patch carries no changes.
func (p *SignalPatch) Empty() bool {
	return p.Status == nil && p.ExitReason == nil && p.SuggestedStop == nil &&
		p.TakeProfit3 == nil && p.LastNotifiedTP3 == nil && p.DiscordThreadID == nil &&
		p.DeleteAt == nil
}

// RejectedSignal is a shadow signal blocked by a risk gate, retained for
// filter tuning. It is never executed.
type RejectedSignal struct {
	Signal
	RejectionReason string    `json:"rejection_reason"`
	RejectedAt      time.Time `json:"rejected_at"`
}
