// Package database is the operational store: signals, positions, rejected
// signals, the lifecycle event journal, and scheduled-job locks. Table
// names are environment-aware (live_ in PROD, test_ elsewhere) so the same
// schema serves every environment.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"alpaca-signal-engine/config"
	"alpaca-signal-engine/internal/logging"
)

// Sentinel errors callers branch on.
var (
	ErrSignalNotFound   = errors.New("signal not found")
	ErrPositionNotFound = errors.New("position not found")
	ErrLockNotAcquired  = errors.New("job lock not acquired")
)

// DB wraps the PostgreSQL connection pool plus the environment table
// prefix.
type DB struct {
	Pool   *pgxpool.Pool
	prefix string
}

// NewDB connects to the operational store.
func NewDB(ctx context.Context, cfg config.DatabaseConfig, prefix string) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger := logging.Component("database")
	logger.Info().Str("database", cfg.Database).Str("prefix", prefix).Msg("connected to operational store")
	return &DB{Pool: pool, prefix: prefix}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Table returns the prefixed table name.
func (db *DB) Table(name string) string {
	return db.prefix + name
}

// HealthCheck pings the store.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations creates the operational tables for the active prefix.
func (db *DB) RunMigrations(ctx context.Context) error {
	logger := logging.Component("database")
	logger.Info().Msg("running operational store migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS {p}signals (
			signal_id VARCHAR(64) PRIMARY KEY,
			ds VARCHAR(10) NOT NULL,
			strategy_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			asset_class VARCHAR(10) NOT NULL,
			side VARCHAR(4) NOT NULL,
			pattern_name VARCHAR(40) NOT NULL,
			pattern_classification VARCHAR(20) NOT NULL,
			pattern_duration_days INT NOT NULL DEFAULT 0,
			structural_anchors JSONB,
			harmonic_metadata JSONB,
			entry_price DOUBLE PRECISION NOT NULL,
			suggested_stop DOUBLE PRECISION NOT NULL,
			invalidation_price DOUBLE PRECISION NOT NULL,
			take_profit_1 DOUBLE PRECISION NOT NULL,
			take_profit_2 DOUBLE PRECISION NOT NULL,
			take_profit_3 DOUBLE PRECISION NOT NULL,
			status VARCHAR(20) NOT NULL,
			exit_reason VARCHAR(30),
			bar_ts TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			valid_until TIMESTAMPTZ NOT NULL,
			delete_at TIMESTAMPTZ NOT NULL,
			discord_thread_id TEXT,
			confluence_factors JSONB,
			confluence_snapshot JSONB,
			last_notified_tp3 DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_{p}signals_symbol_status ON {p}signals(symbol, status)`,
		`CREATE INDEX IF NOT EXISTS idx_{p}signals_status ON {p}signals(status)`,

		`CREATE TABLE IF NOT EXISTS {p}rejected_signals (
			signal_id VARCHAR(64) PRIMARY KEY,
			ds VARCHAR(10) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			payload JSONB NOT NULL,
			rejection_reason VARCHAR(60) NOT NULL,
			confluence_snapshot JSONB,
			rejected_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_{p}rejected_signals_rejected_at ON {p}rejected_signals(rejected_at)`,

		`CREATE TABLE IF NOT EXISTS {p}positions (
			position_id VARCHAR(64) PRIMARY KEY,
			signal_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			asset_class VARCHAR(10) NOT NULL,
			side VARCHAR(4) NOT NULL,
			status VARCHAR(10) NOT NULL,
			trade_type VARCHAR(15) NOT NULL,
			qty DOUBLE PRECISION NOT NULL,
			original_qty DOUBLE PRECISION NOT NULL,
			entry_fill_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			target_entry_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			entry_slippage_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			current_stop_loss DOUBLE PRECISION NOT NULL DEFAULT 0,
			tp_order_id TEXT,
			sl_order_id TEXT,
			alpaca_order_id TEXT,
			exit_order_id TEXT,
			exit_fill_price DOUBLE PRECISION,
			exit_time TIMESTAMPTZ,
			exit_reason VARCHAR(30),
			scaled_out_qty DOUBLE PRECISION NOT NULL DEFAULT 0,
			scaled_out_prices JSONB,
			breakeven_applied BOOLEAN NOT NULL DEFAULT FALSE,
			awaiting_backfill BOOLEAN NOT NULL DEFAULT FALSE,
			trailing_stop_final DOUBLE PRECISION NOT NULL DEFAULT 0,
			commission DOUBLE PRECISION NOT NULL DEFAULT 0,
			trade_duration_seconds BIGINT NOT NULL DEFAULT 0,
			realized_pnl_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			realized_pnl_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			rejection_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_{p}positions_symbol_status ON {p}positions(symbol, status)`,
		`CREATE INDEX IF NOT EXISTS idx_{p}positions_status ON {p}positions(status)`,

		`CREATE TABLE IF NOT EXISTS {p}signal_events (
			id BIGSERIAL PRIMARY KEY,
			signal_id VARCHAR(64) NOT NULL,
			event_type VARCHAR(40) NOT NULL,
			event_subtype VARCHAR(40),
			old_value TEXT,
			new_value TEXT,
			trigger_price DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_{p}signal_events_signal ON {p}signal_events(signal_id)`,
	}

	for i, migration := range migrations {
		stmt := strings.ReplaceAll(migration, "{p}", db.prefix)
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	logger.Info().Msg("operational store migrations completed")
	return nil
}
