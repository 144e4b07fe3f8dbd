package archival

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"alpaca-signal-engine/internal/brokerage"
	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/marketdata"
	"alpaca-signal-engine/internal/warehouse"
)

// rejectedRetention is how long shadow signals age in the operational
// store before archival, giving the theoretical simulation a full window.
const rejectedRetention = 30 * 24 * time.Hour

var rejectedColumns = []string{
	"id", "ds", "symbol", "asset_class", "pattern_name", "rejection_reason",
	"confluence_snapshot", "entry_price", "suggested_stop", "take_profit_1",
	"theoretical_outcome", "theoretical_pnl_pct", "rejected_at",
}

type rejectedSource interface {
	GetRejectedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.RejectedSignal, error)
	DeleteRejected(ctx context.Context, signalIDs []string) error
}

// RejectedPipeline archives aged shadow signals with a simulated outcome:
// would the trade have hit TP1 or the stop over the 30 days after
// rejection, net of taker fees. The result feeds filter tuning.
type RejectedPipeline struct {
	signals rejectedSource
	broker  brokerage.Broker
	bars    marketdata.Provider
	store   factWriter
	now     func() time.Time
}

// NewRejectedPipeline wires the shadow-signal archival pipeline.
func NewRejectedPipeline(signals rejectedSource, broker brokerage.Broker, bars marketdata.Provider, store factWriter) *RejectedPipeline {
	return &RejectedPipeline{signals: signals, broker: broker, bars: bars, store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (r *RejectedPipeline) Name() string { return "rejected" }

func (r *RejectedPipeline) Extract(ctx context.Context) ([]interface{}, error) {
	aged, err := r.signals.GetRejectedBefore(ctx, r.now().Add(-rejectedRetention), extractBatchSize)
	if err != nil {
		return nil, err
	}
	records := make([]interface{}, len(aged))
	for i, s := range aged {
		records[i] = s
	}
	return records, nil
}

func (r *RejectedPipeline) Transform(ctx context.Context, records []interface{}) ([]Row, error) {
	tier := 0
	if account, err := r.broker.GetAccount(ctx); err == nil {
		tier = account.CryptoTier
	}

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rej, okCast := rec.(*domain.RejectedSignal)
		if !okCast {
			return nil, fmt.Errorf("unexpected record type %T", rec)
		}

		snapshot, err := json.Marshal(rej.ConfluenceSnapshot)
		if err != nil {
			return nil, fmt.Errorf("marshal confluence snapshot %s: %w", rej.SignalID, err)
		}

		outcome, pnlPct := r.simulate(ctx, rej, tier)
		rows = append(rows, Row{
			"id":                  rej.SignalID,
			"ds":                  rej.DS,
			"symbol":              rej.Symbol,
			"asset_class":         string(rej.AssetClass),
			"pattern_name":        rej.PatternName,
			"rejection_reason":    rej.RejectionReason,
			"confluence_snapshot": string(snapshot),
			"entry_price":         rej.EntryPrice,
			"suggested_stop":      rej.SuggestedStop,
			"take_profit_1":       rej.TakeProfit1,
			"theoretical_outcome": outcome,
			"theoretical_pnl_pct": pnlPct,
			"rejected_at":         rej.RejectedAt,
		})
	}
	return rows, nil
}

func (r *RejectedPipeline) Load(ctx context.Context, rows []Row) error {
	return r.store.ArchiveRows(ctx, warehouse.TableRejected, "id", "ds", rejectedColumns, rows)
}

func (r *RejectedPipeline) Cleanup(ctx context.Context, records []interface{}) error {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if rej, okCast := rec.(*domain.RejectedSignal); okCast {
			ids = append(ids, rej.SignalID)
		}
	}
	return r.signals.DeleteRejected(ctx, ids)
}

// simulate walks the bars after rejection through a TP1/stop ladder. A bar
// touching both levels counts as a loss. Shadow sentinel parameters (the
// hydrated epsilon ladder) make simulation meaningless and yield UNKNOWN.
func (r *RejectedPipeline) simulate(ctx context.Context, rej *domain.RejectedSignal, tier int) (string, float64) {
	if rej.EntryPrice <= 0 || rej.SuggestedStop < 1e-6 || rej.TakeProfit1 < 1e-6 {
		return "UNKNOWN", 0
	}

	lookback := int(r.now().Sub(rej.RejectedAt).Hours()/24) + 2
	bars, err := r.bars.GetDailyBars(ctx, rej.Symbol, rej.AssetClass, lookback)
	if err != nil || len(bars) == 0 {
		return "UNKNOWN", 0
	}

	feePct := 0.0
	if rej.AssetClass == domain.AssetCrypto {
		feePct = 2 * brokerage.CryptoTakerRate(tier) * 100
	}

	entry := rej.EntryPrice
	sell := rej.Side == domain.SideSell
	var lastClose float64
	for _, b := range bars {
		if b.Ts.Before(rej.RejectedAt) {
			continue
		}
		lastClose = b.Close

		stopHit := b.Low <= rej.SuggestedStop
		tpHit := b.High >= rej.TakeProfit1
		if sell {
			stopHit = b.High >= rej.SuggestedStop
			tpHit = b.Low <= rej.TakeProfit1
		}
		if stopHit {
			return "LOSS", signedMove(entry, rej.SuggestedStop, sell) - feePct
		}
		if tpHit {
			return "WIN", signedMove(entry, rej.TakeProfit1, sell) - feePct
		}
	}
	if lastClose == 0 {
		return "UNKNOWN", 0
	}
	return "OPEN", signedMove(entry, lastClose, sell) - feePct
}

// signedMove is the percentage move from entry to price in the trade's
// favourable direction.
func signedMove(entry, price float64, sell bool) float64 {
	pct := (price - entry) / entry * 100
	if sell {
		pct = -pct
	}
	return pct
}
