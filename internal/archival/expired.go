package archival

import (
	"context"
	"fmt"
	"time"

	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/marketdata"
	"alpaca-signal-engine/internal/warehouse"
)

var expiredColumns = []string{
	"id", "ds", "symbol", "asset_class", "pattern_name", "entry_price",
	"mfe_pct", "distance_to_trigger_pct", "created_at", "expired_at",
}

type expiredSource interface {
	GetSignalsByStatus(ctx context.Context, status domain.SignalStatus, limit int) ([]*domain.Signal, error)
	DeleteSignals(ctx context.Context, signalIDs []string) error
}

// ExpiredPipeline archives signals that timed out in WAITING, recording how
// close price came to the entry trigger and the best excursion past it
// during the validity window. Both feed trigger-placement tuning.
type ExpiredPipeline struct {
	signals expiredSource
	bars    marketdata.Provider
	store   factWriter
	now     func() time.Time
}

// NewExpiredPipeline wires the expired-signal archival pipeline.
func NewExpiredPipeline(signals expiredSource, bars marketdata.Provider, store factWriter) *ExpiredPipeline {
	return &ExpiredPipeline{signals: signals, bars: bars, store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (e *ExpiredPipeline) Name() string { return "expired" }

func (e *ExpiredPipeline) Extract(ctx context.Context) ([]interface{}, error) {
	expired, err := e.signals.GetSignalsByStatus(ctx, domain.StatusExpired, extractBatchSize)
	if err != nil {
		return nil, err
	}
	records := make([]interface{}, len(expired))
	for i, s := range expired {
		records[i] = s
	}
	return records, nil
}

func (e *ExpiredPipeline) Transform(ctx context.Context, records []interface{}) ([]Row, error) {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		s, okCast := rec.(*domain.Signal)
		if !okCast {
			return nil, fmt.Errorf("unexpected record type %T", rec)
		}

		mfe, distance := e.windowExcursion(ctx, s)
		rows = append(rows, Row{
			"id":                      s.SignalID,
			"ds":                      s.DS,
			"symbol":                  s.Symbol,
			"asset_class":             string(s.AssetClass),
			"pattern_name":            s.PatternName,
			"entry_price":             s.EntryPrice,
			"mfe_pct":                 mfe,
			"distance_to_trigger_pct": distance,
			"created_at":              s.CreatedAt,
			"expired_at":              s.ValidUntil,
		})
	}
	return rows, nil
}

func (e *ExpiredPipeline) Load(ctx context.Context, rows []Row) error {
	return e.store.ArchiveRows(ctx, warehouse.TableExpired, "id", "ds", expiredColumns, rows)
}

func (e *ExpiredPipeline) Cleanup(ctx context.Context, records []interface{}) error {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if s, okCast := rec.(*domain.Signal); okCast {
			ids = append(ids, s.SignalID)
		}
	}
	return e.signals.DeleteSignals(ctx, ids)
}

// windowExcursion scans the validity window. mfe is the best move past the
// entry trigger in percent (0 when never triggered); distance is how close
// the best bar came to the trigger, in percent of entry, 0 when touched.
func (e *ExpiredPipeline) windowExcursion(ctx context.Context, s *domain.Signal) (mfe, distance float64) {
	if s.EntryPrice <= 0 {
		return 0, 0
	}
	lookback := int(e.now().Sub(s.CreatedAt).Hours()/24) + 2
	bars, err := e.bars.GetDailyBars(ctx, s.Symbol, s.AssetClass, lookback)
	if err != nil || len(bars) == 0 {
		return 0, 0
	}

	sell := s.Side == domain.SideSell
	closest := -1.0
	for _, b := range bars {
		if b.Ts.Before(s.CreatedAt) || b.Ts.After(s.ValidUntil) {
			continue
		}
		best := b.High
		if sell {
			best = b.Low
		}
		move := signedMove(s.EntryPrice, best, sell)
		if move > mfe {
			mfe = move
		}
		if gap := -move; closest < 0 || gap < closest {
			closest = gap
		}
	}
	if closest > 0 {
		distance = closest
	}
	return mfe, distance
}
