package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TradeFeeRow is one archived crypto trade awaiting exact fee
// reconciliation.
type TradeFeeRow struct {
	ID       string    `db:"id"`
	DS       string    `db:"ds"`
	Symbol   string    `db:"symbol"`
	FeesUSD  float64   `db:"fees_usd"`
	PnLUSD   float64   `db:"pnl_usd"`
	ClosedAt time.Time `db:"closed_at"`
}

// UnfinalizedCryptoTrades lists archived crypto trades whose fees are still
// estimates. CFEE activities land at T+1, so only trades closed before the
// cutoff are candidates.
func (s *Store) UnfinalizedCryptoTrades(ctx context.Context, closedBefore time.Time, limit int) ([]TradeFeeRow, error) {
	query := fmt.Sprintf(`
		SELECT id, ds, symbol, fees_usd, pnl_usd, closed_at
		FROM %s
		WHERE asset_class = 'CRYPTO' AND fee_finalized = FALSE AND closed_at < $1
		ORDER BY closed_at
		LIMIT $2`, TableTrades)

	var rows []TradeFeeRow
	if err := s.db.SelectContext(ctx, &rows, query, closedBefore, limit); err != nil {
		return nil, fmt.Errorf("list unfinalized crypto trades: %w", err)
	}
	return rows, nil
}

// FinalizeTradeFee replaces the estimated fee with the broker-reported one
// and re-bases PnL accordingly.
func (s *Store) FinalizeTradeFee(ctx context.Context, id, ds string, exactFee float64) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET pnl_usd = pnl_usd + fees_usd - $3,
		    fees_usd = $3,
		    fee_finalized = TRUE
		WHERE id = $1 AND ds = $2`, TableTrades)

	res, err := s.db.ExecContext(ctx, query, id, ds, exactFee)
	if err != nil {
		return fmt.Errorf("finalize fee %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finalize fee %s: trade not found", id)
	}
	return nil
}

// CurrentStrategyHash returns the content hash of the current dimension row
// for a strategy, or ok=false when none exists.
func (s *Store) CurrentStrategyHash(ctx context.Context, strategyID string) (hash string, ok bool, err error) {
	query := fmt.Sprintf(
		"SELECT content_hash FROM %s WHERE strategy_id = $1 AND is_current = TRUE",
		TableStrategies,
	)
	err = s.db.GetContext(ctx, &hash, query, strategyID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("current strategy hash %s: %w", strategyID, err)
	}
	return hash, true, nil
}

// UpsertStrategy applies SCD Type 2 semantics: an unchanged hash is a
// no-op, a changed one closes the current row and inserts a new current
// row.
func (s *Store) UpsertStrategy(ctx context.Context, strategyID, hash string, payload []byte, now time.Time) (changed bool, err error) {
	current, ok, err := s.CurrentStrategyHash(ctx, strategyID)
	if err != nil {
		return false, err
	}
	if ok && current == hash {
		return false, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin strategy tx: %w", err)
	}
	defer tx.Rollback()

	if ok {
		closeQuery := fmt.Sprintf(
			"UPDATE %s SET valid_to = $2, is_current = FALSE WHERE strategy_id = $1 AND is_current = TRUE",
			TableStrategies,
		)
		if _, err := tx.ExecContext(ctx, closeQuery, strategyID, now); err != nil {
			return false, fmt.Errorf("close strategy row %s: %w", strategyID, err)
		}
	}
	insertQuery := fmt.Sprintf(
		"INSERT INTO %s (strategy_id, content_hash, payload, valid_from, is_current) VALUES ($1, $2, $3, $4, TRUE)",
		TableStrategies,
	)
	if _, err := tx.ExecContext(ctx, insertQuery, strategyID, hash, payload, now); err != nil {
		return false, fmt.Errorf("insert strategy row %s: %w", strategyID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit strategy row %s: %w", strategyID, err)
	}
	return true, nil
}
