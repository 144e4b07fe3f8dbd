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

// extractBatchSize bounds one archival run.
const extractBatchSize = 200

var tradeColumns = []string{
	"id", "ds", "symbol", "asset_class", "side", "pattern_name", "trade_type",
	"qty", "original_qty", "entry_fill_price", "target_entry_price",
	"entry_slippage_pct", "exit_fill_price", "exit_slippage_pct",
	"exit_reason", "scaled_out_qty", "scale_out_fills", "mfe_pct", "fees_usd",
	"fee_finalized", "pnl_usd", "pnl_pct", "trade_duration_seconds",
	"opened_at", "closed_at",
}

type closedPositionSource interface {
	GetClosedPositions(ctx context.Context, limit int) ([]*domain.Position, error)
	GetAwaitingBackfill(ctx context.Context, limit int) ([]*domain.Position, error)
	DeletePositions(ctx context.Context, positionIDs []string) error
}

type exitBackfiller interface {
	BackfillExitFills(ctx context.Context, p *domain.Position) (bool, error)
}

type signalLookup interface {
	GetSignal(ctx context.Context, signalID string) (*domain.Signal, error)
}

type factWriter interface {
	ArchiveRows(ctx context.Context, fact, idCol, dsCol string, cols []string, rows []map[string]interface{}) error
}

// TradesPipeline archives CLOSED positions into fact_trades, enriched with
// max-favorable-excursion from market bars and the crypto fee estimate.
// Exact CFEE reconciliation is the fee-patch pipeline's job.
type TradesPipeline struct {
	positions closedPositionSource
	signals   signalLookup
	broker    brokerage.Broker
	bars      marketdata.Provider
	store     factWriter
	backfill  exitBackfiller
}

// NewTradesPipeline wires the trade archival pipeline.
func NewTradesPipeline(positions closedPositionSource, signals signalLookup, broker brokerage.Broker, bars marketdata.Provider, store factWriter, backfill exitBackfiller) *TradesPipeline {
	return &TradesPipeline{positions: positions, signals: signals, broker: broker, bars: bars, store: store, backfill: backfill}
}

func (t *TradesPipeline) Name() string { return "trades" }

// Extract repairs positions still awaiting exit fills, then pulls the batch
// of archivable CLOSED positions. A row whose fills remain unconfirmed stays
// parked until a later run sees them.
func (t *TradesPipeline) Extract(ctx context.Context) ([]interface{}, error) {
	if t.backfill != nil {
		awaiting, err := t.positions.GetAwaitingBackfill(ctx, extractBatchSize)
		if err != nil {
			return nil, err
		}
		for _, p := range awaiting {
			if _, err := t.backfill.BackfillExitFills(ctx, p); err != nil {
				return nil, fmt.Errorf("backfill exit fills %s: %w", p.PositionID, err)
			}
		}
	}

	closed, err := t.positions.GetClosedPositions(ctx, extractBatchSize)
	if err != nil {
		return nil, err
	}
	records := make([]interface{}, len(closed))
	for i, p := range closed {
		records[i] = p
	}
	return records, nil
}

func (t *TradesPipeline) Transform(ctx context.Context, records []interface{}) ([]Row, error) {
	tier := 0
	if account, err := t.broker.GetAccount(ctx); err == nil {
		tier = account.CryptoTier
	}

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		p, okCast := rec.(*domain.Position)
		if !okCast {
			return nil, fmt.Errorf("unexpected record type %T", rec)
		}

		var sig *domain.Signal
		if s, err := t.signals.GetSignal(ctx, p.SignalID); err == nil {
			sig = s
		}

		closedAt := p.UpdatedAt
		if p.ExitTime != nil {
			closedAt = *p.ExitTime
		}
		ds := closedAt.UTC().Format("2006-01-02")

		fills, err := json.Marshal(p.ScaledOutPrices)
		if err != nil {
			return nil, fmt.Errorf("marshal scale-out fills %s: %w", p.PositionID, err)
		}

		row := Row{
			"id":                     p.PositionID,
			"ds":                     ds,
			"symbol":                 p.Symbol,
			"asset_class":            string(p.AssetClass),
			"side":                   string(p.Side),
			"pattern_name":           patternName(sig),
			"trade_type":             string(p.TradeType),
			"qty":                    p.Qty,
			"original_qty":           p.OriginalQty,
			"entry_fill_price":       p.EntryFillPrice,
			"target_entry_price":     p.TargetEntryPrice,
			"entry_slippage_pct":     p.EntrySlippagePct,
			"exit_fill_price":        floatOrNil(p.ExitFillPrice),
			"exit_slippage_pct":      exitSlippage(p, sig),
			"exit_reason":            string(p.ExitReason),
			"scaled_out_qty":         p.ScaledOutQty,
			"scale_out_fills":        string(fills),
			"mfe_pct":                t.maxFavorableExcursion(ctx, p, closedAt),
			"fees_usd":               estimatedFees(p, tier),
			"fee_finalized":          p.AssetClass != domain.AssetCrypto,
			"pnl_usd":                p.RealizedPnLUSD,
			"pnl_pct":                p.RealizedPnLPct,
			"trade_duration_seconds": p.TradeDurationSeconds,
			"opened_at":              p.CreatedAt,
			"closed_at":              closedAt,
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (t *TradesPipeline) Load(ctx context.Context, rows []Row) error {
	return t.store.ArchiveRows(ctx, warehouse.TableTrades, "id", "ds", tradeColumns, rows)
}

func (t *TradesPipeline) Cleanup(ctx context.Context, records []interface{}) error {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if p, okCast := rec.(*domain.Position); okCast {
			ids = append(ids, p.PositionID)
		}
	}
	return t.positions.DeletePositions(ctx, ids)
}

// maxFavorableExcursion is the best price reached during the trade relative
// to the entry fill, in percent. Missing bars degrade to 0.
func (t *TradesPipeline) maxFavorableExcursion(ctx context.Context, p *domain.Position, closedAt time.Time) float64 {
	entry := p.EntryFillPrice
	if entry == 0 {
		entry = p.TargetEntryPrice
	}
	if entry == 0 {
		return 0
	}
	lookback := int(closedAt.Sub(p.CreatedAt).Hours()/24) + 2
	bars, err := t.bars.GetDailyBars(ctx, p.Symbol, p.AssetClass, lookback)
	if err != nil || len(bars) == 0 {
		return 0
	}

	best := 0.0
	for _, b := range bars {
		if b.Ts.Before(p.CreatedAt) || b.Ts.After(closedAt) {
			continue
		}
		var excursion float64
		if p.Side == domain.SideSell {
			excursion = (entry - b.Low) / entry * 100
		} else {
			excursion = (b.High - entry) / entry * 100
		}
		if excursion > best {
			best = excursion
		}
	}
	return best
}

func patternName(sig *domain.Signal) string {
	if sig == nil {
		return ""
	}
	return sig.PatternName
}

// exitSlippage is the direction-aware fill slippage against the level the
// exit was supposed to honour.
func exitSlippage(p *domain.Position, sig *domain.Signal) float64 {
	if p.ExitFillPrice == nil || sig == nil {
		return 0
	}
	var level float64
	switch p.ExitReason {
	case domain.ExitStopLoss:
		level = sig.SuggestedStop
	case domain.ExitTPHit:
		level = sig.TakeProfit3
	default:
		return 0
	}
	if level == 0 {
		return 0
	}
	pct := (level - *p.ExitFillPrice) / level * 100
	if p.Side == domain.SideSell {
		pct = -pct
	}
	return pct
}

func estimatedFees(p *domain.Position, tier int) float64 {
	fees := p.Commission
	if p.AssetClass != domain.AssetCrypto {
		return fees
	}
	entry := p.EntryFillPrice
	if entry == 0 {
		entry = p.TargetEntryPrice
	}
	fees += brokerage.EstimateCryptoFee(entry*p.OriginalQty, tier)
	if p.ExitFillPrice != nil {
		fees += brokerage.EstimateCryptoFee(*p.ExitFillPrice*p.OriginalQty, tier)
	}
	return fees
}

func floatOrNil(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
