package archival

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"alpaca-signal-engine/internal/brokerage"
	"alpaca-signal-engine/internal/warehouse"
)

// feeSettleDelay is how long after close the broker's CFEE activities are
// expected to be visible.
const feeSettleDelay = 24 * time.Hour

type feeStore interface {
	UnfinalizedCryptoTrades(ctx context.Context, closedBefore time.Time, limit int) ([]warehouse.TradeFeeRow, error)
	FinalizeTradeFee(ctx context.Context, id, ds string, exactFee float64) error
}

// FeePatchPipeline replaces estimated crypto fees on archived trades with
// the broker's exact CFEE activities once they settle at T+1. Trades with
// no visible activity fall back to a zero fee and are still finalized, so
// the patch converges.
type FeePatchPipeline struct {
	store  feeStore
	broker brokerage.Broker
	now    func() time.Time
}

// NewFeePatchPipeline wires the fee reconciliation pipeline.
func NewFeePatchPipeline(store feeStore, broker brokerage.Broker) *FeePatchPipeline {
	return &FeePatchPipeline{store: store, broker: broker, now: func() time.Time { return time.Now().UTC() }}
}

func (f *FeePatchPipeline) Name() string { return "fees" }

func (f *FeePatchPipeline) Extract(ctx context.Context) ([]interface{}, error) {
	trades, err := f.store.UnfinalizedCryptoTrades(ctx, f.now().Add(-feeSettleDelay), extractBatchSize)
	if err != nil {
		return nil, err
	}
	records := make([]interface{}, len(trades))
	for i, t := range trades {
		records[i] = t
	}
	return records, nil
}

func (f *FeePatchPipeline) Transform(ctx context.Context, records []interface{}) ([]Row, error) {
	// CFEE activities are keyed by date; fetch each date once.
	byDate := make(map[string][]brokerage.Activity)

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		trade, okCast := rec.(warehouse.TradeFeeRow)
		if !okCast {
			return nil, fmt.Errorf("unexpected record type %T", rec)
		}
		date := trade.ClosedAt.UTC().Format("2006-01-02")
		activities, cached := byDate[date]
		if !cached {
			var err error
			activities, err = f.broker.GetAccountActivities(ctx, brokerage.ActivityTypeCryptoFee, date)
			if err != nil {
				return nil, fmt.Errorf("fetch CFEE activities %s: %w", date, err)
			}
			byDate[date] = activities
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(activityQueryPause):
			}
		}

		rows = append(rows, Row{
			"id":  trade.ID,
			"ds":  trade.DS,
			"fee": matchFee(activities, trade.Symbol),
		})
	}
	return rows, nil
}

// Load writes finalized fees directly onto fact_trades; the fee patch has
// no staging table of its own.
func (f *FeePatchPipeline) Load(ctx context.Context, rows []Row) error {
	for _, row := range rows {
		id := row["id"].(string)
		ds := row["ds"].(string)
		fee := row["fee"].(float64)
		if err := f.store.FinalizeTradeFee(ctx, id, ds, fee); err != nil {
			return err
		}
	}
	return nil
}

func (f *FeePatchPipeline) Cleanup(context.Context, []interface{}) error { return nil }

// matchFee sums the CFEE amounts for one symbol on one day. Fee amounts
// come back negative; missing activities yield zero.
func matchFee(activities []brokerage.Activity, symbol string) float64 {
	normalized := strings.ReplaceAll(symbol, "/", "")
	total := 0.0
	for _, a := range activities {
		if strings.ReplaceAll(a.Symbol, "/", "") != normalized {
			continue
		}
		total += math.Abs(a.NetAmount)
	}
	return total
}
