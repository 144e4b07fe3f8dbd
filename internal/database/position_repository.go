package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"alpaca-signal-engine/internal/domain"
)

// PositionRepository persists positions keyed by position_id, which equals
// the originating signal_id. Saves are idempotent upserts.
type PositionRepository struct {
	db *DB
}

// NewPositionRepository returns the repository.
func NewPositionRepository(db *DB) *PositionRepository {
	return &PositionRepository{db: db}
}

const positionColumns = `position_id, signal_id, symbol, asset_class, side, status, trade_type,
	qty, original_qty, entry_fill_price, target_entry_price, entry_slippage_pct, current_stop_loss,
	tp_order_id, sl_order_id, alpaca_order_id, exit_order_id,
	exit_fill_price, exit_time, exit_reason,
	scaled_out_qty, scaled_out_prices,
	breakeven_applied, awaiting_backfill, trailing_stop_final,
	commission, trade_duration_seconds, realized_pnl_usd, realized_pnl_pct,
	rejection_reason, created_at, updated_at`

// Save inserts a position. An existing position_id is left untouched so a
// retried submission cannot duplicate state.
func (r *PositionRepository) Save(ctx context.Context, p *domain.Position) error {
	scaleOuts, err := json.Marshal(p.ScaledOutPrices)
	if err != nil {
		return fmt.Errorf("marshal scale-out fills: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32)
		ON CONFLICT (position_id) DO NOTHING
	`, r.db.Table("positions"), positionColumns)

	_, err = r.db.Pool.Exec(ctx, query,
		p.PositionID, p.SignalID, p.Symbol, p.AssetClass, p.Side, p.Status, p.TradeType,
		p.Qty, p.OriginalQty, p.EntryFillPrice, p.TargetEntryPrice, p.EntrySlippagePct, p.CurrentStopLoss,
		nullStr(p.TPOrderID), nullStr(p.SLOrderID), nullStr(p.AlpacaOrderID), nullStr(p.ExitOrderID),
		p.ExitFillPrice, p.ExitTime, nullStr(string(p.ExitReason)),
		p.ScaledOutQty, scaleOuts,
		p.BreakevenApplied, p.AwaitingBackfill, p.TrailingStopFinal,
		p.Commission, p.TradeDurationSeconds, p.RealizedPnLUSD, p.RealizedPnLPct,
		nullStr(p.RejectionReason), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save position %s: %w", p.PositionID, err)
	}
	return nil
}

// Update rewrites every mutable field of a position.
func (r *PositionRepository) Update(ctx context.Context, p *domain.Position) error {
	scaleOuts, err := json.Marshal(p.ScaledOutPrices)
	if err != nil {
		return fmt.Errorf("marshal scale-out fills: %w", err)
	}
	p.UpdatedAt = time.Now().UTC()

	query := fmt.Sprintf(`
		UPDATE %s SET
			status = $2, qty = $3, original_qty = $4,
			entry_fill_price = $5, entry_slippage_pct = $6, current_stop_loss = $7,
			tp_order_id = $8, sl_order_id = $9, alpaca_order_id = $10, exit_order_id = $11,
			exit_fill_price = $12, exit_time = $13, exit_reason = $14,
			scaled_out_qty = $15, scaled_out_prices = $16,
			breakeven_applied = $17, awaiting_backfill = $18, trailing_stop_final = $19,
			commission = $20, trade_duration_seconds = $21,
			realized_pnl_usd = $22, realized_pnl_pct = $23, updated_at = $24
		WHERE position_id = $1
	`, r.db.Table("positions"))

	tag, err := r.db.Pool.Exec(ctx, query,
		p.PositionID, p.Status, p.Qty, p.OriginalQty,
		p.EntryFillPrice, p.EntrySlippagePct, p.CurrentStopLoss,
		nullStr(p.TPOrderID), nullStr(p.SLOrderID), nullStr(p.AlpacaOrderID), nullStr(p.ExitOrderID),
		p.ExitFillPrice, p.ExitTime, nullStr(string(p.ExitReason)),
		p.ScaledOutQty, scaleOuts,
		p.BreakevenApplied, p.AwaitingBackfill, p.TrailingStopFinal,
		p.Commission, p.TradeDurationSeconds,
		p.RealizedPnLUSD, p.RealizedPnLPct, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update position %s: %w", p.PositionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPositionNotFound
	}
	return nil
}

// GetPosition fetches one position.
func (r *PositionRepository) GetPosition(ctx context.Context, positionID string) (*domain.Position, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE position_id = $1", positionColumns, r.db.Table("positions"))
	p, err := scanPosition(r.db.Pool.QueryRow(ctx, query, positionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return p, nil
}

// GetOpenPositions lists every OPEN position. includeTheoretical controls
// whether THEORETICAL trades appear; the reconciler excludes them because
// the broker has never heard of them.
func (r *PositionRepository) GetOpenPositions(ctx context.Context, includeTheoretical bool) ([]*domain.Position, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE status = 'OPEN'
	`, positionColumns, r.db.Table("positions"))
	if !includeTheoretical {
		query += " AND trade_type <> 'THEORETICAL'"
	}
	query += " ORDER BY created_at"
	return r.queryPositions(ctx, query)
}

// GetOpenPositionBySymbol returns the OPEN position for a symbol, or nil
// when none exists. Theoretical positions count here: the duplicate-symbol
// gate applies to them too.
func (r *PositionRepository) GetOpenPositionBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE symbol = $1 AND status = 'OPEN'
		ORDER BY created_at DESC LIMIT 1
	`, positionColumns, r.db.Table("positions"))
	p, err := scanPosition(r.db.Pool.QueryRow(ctx, query, symbol))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// GetClosedPositions lists CLOSED executed positions for archival, oldest
// first.
func (r *PositionRepository) GetClosedPositions(ctx context.Context, limit int) ([]*domain.Position, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status = 'CLOSED' AND awaiting_backfill = FALSE
		ORDER BY updated_at LIMIT $1
	`, positionColumns, r.db.Table("positions"))
	return r.queryPositions(ctx, query, limit)
}

// GetAwaitingBackfill lists executed positions with exit fills still
// unconfirmed at the broker, oldest first, so the archival pipeline can
// repair them before extraction.
func (r *PositionRepository) GetAwaitingBackfill(ctx context.Context, limit int) ([]*domain.Position, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE awaiting_backfill = TRUE AND trade_type = 'EXECUTED'
		ORDER BY updated_at LIMIT $1
	`, positionColumns, r.db.Table("positions"))
	return r.queryPositions(ctx, query, limit)
}

// GetRecentlyClosed samples the most recently closed executed positions;
// the reconciler checks these for reverse orphans.
func (r *PositionRepository) GetRecentlyClosed(ctx context.Context, limit int) ([]*domain.Position, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status = 'CLOSED' AND trade_type = 'EXECUTED'
		ORDER BY updated_at DESC LIMIT $1
	`, positionColumns, r.db.Table("positions"))
	return r.queryPositions(ctx, query, limit)
}

// DeletePositions removes archived positions from the operational store.
func (r *PositionRepository) DeletePositions(ctx context.Context, positionIDs []string) error {
	if len(positionIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE position_id = ANY($1)", r.db.Table("positions"))
	_, err := r.db.Pool.Exec(ctx, query, positionIDs)
	return err
}

func (r *PositionRepository) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*domain.Position, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var (
		p          domain.Position
		scaleOuts  []byte
		tpOrder    *string
		slOrder    *string
		entryOrder *string
		exitOrder  *string
		exitReason *string
		rejection  *string
	)
	err := row.Scan(
		&p.PositionID, &p.SignalID, &p.Symbol, &p.AssetClass, &p.Side, &p.Status, &p.TradeType,
		&p.Qty, &p.OriginalQty, &p.EntryFillPrice, &p.TargetEntryPrice, &p.EntrySlippagePct, &p.CurrentStopLoss,
		&tpOrder, &slOrder, &entryOrder, &exitOrder,
		&p.ExitFillPrice, &p.ExitTime, &exitReason,
		&p.ScaledOutQty, &scaleOuts,
		&p.BreakevenApplied, &p.AwaitingBackfill, &p.TrailingStopFinal,
		&p.Commission, &p.TradeDurationSeconds, &p.RealizedPnLUSD, &p.RealizedPnLPct,
		&rejection, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if tpOrder != nil {
		p.TPOrderID = *tpOrder
	}
	if slOrder != nil {
		p.SLOrderID = *slOrder
	}
	if entryOrder != nil {
		p.AlpacaOrderID = *entryOrder
	}
	if exitOrder != nil {
		p.ExitOrderID = *exitOrder
	}
	if exitReason != nil {
		p.ExitReason = domain.ExitReason(*exitReason)
	}
	if rejection != nil {
		p.RejectionReason = *rejection
	}
	if len(scaleOuts) > 0 {
		_ = json.Unmarshal(scaleOuts, &p.ScaledOutPrices)
	}
	return &p, nil
}
