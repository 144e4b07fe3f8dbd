package archival

import (
	"context"
	"fmt"
	"time"

	"alpaca-signal-engine/internal/brokerage"
	"alpaca-signal-engine/internal/warehouse"
)

// calmarMinHistory is the guardrail floor: with fewer equity points the
// Calmar ratio is reported as 0 instead of a noisy extrapolation.
const calmarMinHistory = 30

var snapshotColumns = []string{
	"id", "ds", "equity", "last_equity", "cash", "regt_buying_power",
	"non_marginable_buying_power", "drawdown_pct", "calmar_ratio",
	"crypto_tier", "captured_at",
}

type snapshotRecord struct {
	account *brokerage.Account
	history *brokerage.PortfolioHistory
}

// SnapshotPipeline captures one daily account snapshot with derived
// drawdown and Calmar figures. It reads only broker state and never
// deletes anything.
type SnapshotPipeline struct {
	broker brokerage.Broker
	store  factWriter
	now    func() time.Time
}

// NewSnapshotPipeline wires the account snapshot pipeline.
func NewSnapshotPipeline(broker brokerage.Broker, store factWriter) *SnapshotPipeline {
	return &SnapshotPipeline{broker: broker, store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SnapshotPipeline) Name() string { return "snapshot" }

func (s *SnapshotPipeline) Extract(ctx context.Context) ([]interface{}, error) {
	account, err := s.broker.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	history, err := s.broker.GetPortfolioHistory(ctx, "1A", "1D")
	if err != nil {
		return nil, fmt.Errorf("fetch portfolio history: %w", err)
	}
	return []interface{}{snapshotRecord{account: account, history: history}}, nil
}

func (s *SnapshotPipeline) Transform(_ context.Context, records []interface{}) ([]Row, error) {
	rec, okCast := records[0].(snapshotRecord)
	if !okCast {
		return nil, fmt.Errorf("unexpected record type %T", records[0])
	}
	account := rec.account

	now := s.now()
	ds := now.Format("2006-01-02")
	return []Row{{
		"id":                          ds,
		"ds":                          ds,
		"equity":                      account.Equity,
		"last_equity":                 account.LastEquity,
		"cash":                        account.Cash,
		"regt_buying_power":           account.RegTBuyingPower,
		"non_marginable_buying_power": account.NonMarginableBuyingPower,
		"drawdown_pct":                MaxDrawdownPct(rec.history.Equity),
		"calmar_ratio":                CalmarRatio(rec.history.Equity),
		"crypto_tier":                 account.CryptoTier,
		"captured_at":                 now,
	}}, nil
}

func (s *SnapshotPipeline) Load(ctx context.Context, rows []Row) error {
	return s.store.ArchiveRows(ctx, warehouse.TableSnapshots, "id", "ds", snapshotColumns, rows)
}

// Cleanup is a no-op: snapshots have no operational-store source to remove.
func (s *SnapshotPipeline) Cleanup(context.Context, []interface{}) error { return nil }

// MaxDrawdownPct is the deepest peak-to-trough decline over an equity
// curve, in percent. Empty or non-positive curves yield 0.
func MaxDrawdownPct(equity []float64) float64 {
	peak := 0.0
	worst := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak * 100; dd > worst {
			worst = dd
		}
	}
	return worst
}

// CalmarRatio is annualized return over max drawdown with explicit
// guardrails: short history, non-positive start equity and a flat curve all
// report 0 rather than a misleading figure.
func CalmarRatio(equity []float64) float64 {
	if len(equity) < calmarMinHistory {
		return 0
	}
	start := equity[0]
	if start <= 0 {
		return 0
	}
	maxDD := MaxDrawdownPct(equity)
	if maxDD == 0 {
		return 0
	}

	end := equity[len(equity)-1]
	days := float64(len(equity))
	annualized := (end/start - 1) * (365 / days) * 100
	return annualized / maxDD
}
