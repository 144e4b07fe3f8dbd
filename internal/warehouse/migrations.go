package warehouse

import (
	"context"
	"fmt"
	"strings"
)

// tradeColumns are shared by stage_ and fact_ trade tables.
const tradeDDL = `(
	id VARCHAR(64) NOT NULL,
	ds VARCHAR(10) NOT NULL,
	symbol VARCHAR(20) NOT NULL,
	asset_class VARCHAR(10) NOT NULL,
	side VARCHAR(4) NOT NULL,
	pattern_name VARCHAR(40),
	trade_type VARCHAR(15) NOT NULL,
	qty DOUBLE PRECISION NOT NULL,
	original_qty DOUBLE PRECISION NOT NULL,
	entry_fill_price DOUBLE PRECISION,
	target_entry_price DOUBLE PRECISION,
	entry_slippage_pct DOUBLE PRECISION,
	exit_fill_price DOUBLE PRECISION,
	exit_slippage_pct DOUBLE PRECISION,
	exit_reason VARCHAR(30),
	scaled_out_qty DOUBLE PRECISION,
	scale_out_fills JSONB,
	mfe_pct DOUBLE PRECISION,
	fees_usd DOUBLE PRECISION,
	fee_finalized BOOLEAN NOT NULL DEFAULT FALSE,
	pnl_usd DOUBLE PRECISION,
	pnl_pct DOUBLE PRECISION,
	trade_duration_seconds BIGINT,
	opened_at TIMESTAMPTZ,
	closed_at TIMESTAMPTZ
)`

const rejectedDDL = `(
	id VARCHAR(64) NOT NULL,
	ds VARCHAR(10) NOT NULL,
	symbol VARCHAR(20) NOT NULL,
	asset_class VARCHAR(10) NOT NULL,
	pattern_name VARCHAR(40),
	rejection_reason TEXT,
	confluence_snapshot JSONB,
	entry_price DOUBLE PRECISION,
	suggested_stop DOUBLE PRECISION,
	take_profit_1 DOUBLE PRECISION,
	theoretical_outcome VARCHAR(10),
	theoretical_pnl_pct DOUBLE PRECISION,
	rejected_at TIMESTAMPTZ
)`

const expiredDDL = `(
	id VARCHAR(64) NOT NULL,
	ds VARCHAR(10) NOT NULL,
	symbol VARCHAR(20) NOT NULL,
	asset_class VARCHAR(10) NOT NULL,
	pattern_name VARCHAR(40),
	entry_price DOUBLE PRECISION,
	mfe_pct DOUBLE PRECISION,
	distance_to_trigger_pct DOUBLE PRECISION,
	created_at TIMESTAMPTZ,
	expired_at TIMESTAMPTZ
)`

const snapshotDDL = `(
	id VARCHAR(64) NOT NULL,
	ds VARCHAR(10) NOT NULL,
	equity DOUBLE PRECISION NOT NULL,
	last_equity DOUBLE PRECISION NOT NULL,
	cash DOUBLE PRECISION NOT NULL,
	regt_buying_power DOUBLE PRECISION NOT NULL,
	non_marginable_buying_power DOUBLE PRECISION NOT NULL,
	drawdown_pct DOUBLE PRECISION NOT NULL,
	calmar_ratio DOUBLE PRECISION NOT NULL,
	crypto_tier INT NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL
)`

// RunMigrations creates the warehouse schema. Fact tables get the (id, ds)
// uniqueness the merge upserts against; staging twins stay bare.
func (s *Store) RunMigrations(ctx context.Context) error {
	s.logger.Info().Msg("running warehouse migrations")

	pairs := map[string]string{
		TableTrades:    tradeDDL,
		TableRejected:  rejectedDDL,
		TableExpired:   expiredDDL,
		TableSnapshots: snapshotDDL,
	}

	var statements []string
	for table, ddl := range pairs {
		statements = append(statements,
			fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s %s", table, ddl),
			fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s %s", Stage(table), ddl),
			fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS uq_%s_id_ds ON %s(id, ds)", table, table),
		)
	}

	statements = append(statements,
		`CREATE TABLE IF NOT EXISTS `+TableStrategies+` (
			strategy_id VARCHAR(64) NOT NULL,
			content_hash VARCHAR(64) NOT NULL,
			payload JSONB NOT NULL,
			valid_from TIMESTAMPTZ NOT NULL,
			valid_to TIMESTAMPTZ,
			is_current BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dim_strategies_current ON `+TableStrategies+`(strategy_id, is_current)`,
	)

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("warehouse migration failed (%s...): %w", firstWords(stmt, 5), err)
		}
	}
	s.logger.Info().Msg("warehouse migrations complete")
	return nil
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}
