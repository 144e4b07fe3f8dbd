package domain

import "time"

// ScaleOutFill records one partial exit of a position.
type ScaleOutFill struct {
	Qty     float64   `json:"qty"`
	Price   float64   `json:"price"`
	Ts      time.Time `json:"ts"`
	OrderID string    `json:"order_id"`
}

// Position is the broker-side trade opened for a signal. PositionID equals
// the originating SignalID and doubles as the broker client order id, which
// makes submission idempotent end to end.
type Position struct {
	PositionID string         `json:"position_id"`
	SignalID   string         `json:"signal_id"`
	Symbol     string         `json:"symbol"`
	AssetClass AssetClass     `json:"asset_class"`
	Side       Side           `json:"side"`
	Status     PositionStatus `json:"status"`
	TradeType  TradeType      `json:"trade_type"`

	Qty              float64 `json:"qty"`
	OriginalQty      float64 `json:"original_qty"`
	EntryFillPrice   float64 `json:"entry_fill_price"`
	TargetEntryPrice float64 `json:"target_entry_price"`
	EntrySlippagePct float64 `json:"entry_slippage_pct"`
	CurrentStopLoss  float64 `json:"current_stop_loss"`

	TPOrderID     string `json:"tp_order_id,omitempty"`
	SLOrderID     string `json:"sl_order_id,omitempty"`
	AlpacaOrderID string `json:"alpaca_order_id,omitempty"`
	ExitOrderID   string `json:"exit_order_id,omitempty"`

	ExitFillPrice *float64   `json:"exit_fill_price,omitempty"`
	ExitTime      *time.Time `json:"exit_time,omitempty"`
	ExitReason    ExitReason `json:"exit_reason,omitempty"`

	ScaledOutQty    float64        `json:"scaled_out_qty"`
	ScaledOutPrices []ScaleOutFill `json:"scaled_out_prices,omitempty"`

	BreakevenApplied  bool    `json:"breakeven_applied"`
	AwaitingBackfill  bool    `json:"awaiting_backfill"`
	TrailingStopFinal float64 `json:"trailing_stop_final,omitempty"`

	Commission           float64 `json:"commission"`
	TradeDurationSeconds int64   `json:"trade_duration_seconds,omitempty"`
	RealizedPnLUSD       float64 `json:"realized_pnl_usd,omitempty"`
	RealizedPnLPct       float64 `json:"realized_pnl_pct,omitempty"`

	// RejectionReason is set only on RISK_BLOCKED positions.
	RejectionReason string `json:"rejection_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RemainingQty is the live quantity after scale-outs.
func (p *Position) RemainingQty() float64 {
	return p.Qty
}

// WeightedExitPrice returns the quantity-weighted mean over the recorded
// scale-out fills plus an optional final exit fill. Fills whose price has
// not been captured yet are excluded. Returns 0 when no priced quantity
// has exited.
func WeightedExitPrice(fills []ScaleOutFill, finalQty, finalPrice float64) float64 {
	totalQty := finalQty
	totalNotional := finalQty * finalPrice
	for _, f := range fills {
		if f.Price <= 0 {
			continue
		}
		totalQty += f.Qty
		totalNotional += f.Qty * f.Price
	}
	if totalQty <= 0 {
		return 0
	}
	return totalNotional / totalQty
}

// PendingFills counts scale-out tranches whose fill price is still unknown.
func (p *Position) PendingFills() int {
	n := 0
	for _, f := range p.ScaledOutPrices {
		if f.Price <= 0 {
			n++
		}
	}
	return n
}

// ReconciliationReport summarises one reconciler run.
type ReconciliationReport struct {
	RunID           string    `json:"run_id"`
	Zombies         []string  `json:"zombies"`
	Orphans         []string  `json:"orphans"`
	ReverseOrphans  []string  `json:"reverse_orphans"`
	ReconciledCount int       `json:"reconciled_count"`
	DurationSeconds float64   `json:"duration_seconds"`
	CriticalIssues  []string  `json:"critical_issues"`
	StartedAt       time.Time `json:"started_at"`
}

// HasCriticalIssues reports whether the run surfaced anything that needs a
// human.
func (r *ReconciliationReport) HasCriticalIssues() bool {
	return len(r.CriticalIssues) > 0
}
