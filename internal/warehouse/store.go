// Package warehouse is the analytical store behind the archival pipelines.
// Every pipeline writes through the same truncate-stage-merge discipline:
// stage tables are scratch space wiped before each load, fact tables are
// the durable record, and the merge is an upsert keyed by (id, ds).
package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"alpaca-signal-engine/internal/logging"
)

// Table names. Each fact table has a stage_ twin with the same columns.
const (
	TableTrades     = "fact_trades"
	TableRejected   = "fact_rejected_signals"
	TableExpired    = "fact_expired_signals"
	TableSnapshots  = "fact_account_snapshots"
	TableStrategies = "dim_strategies"
)

// StagePrefix marks scratch tables.
const StagePrefix = "stage_"

// Store wraps the warehouse connection.
type Store struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

// NewStore connects to the analytical store.
func NewStore(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect warehouse: %w", err)
	}
	db.SetMaxOpenConns(5)
	logger := logging.Component("warehouse")
	logger.Info().Msg("connected to analytical store")
	return &Store{db: db, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// HealthCheck pings the store.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Stage returns the staging twin of a fact table.
func Stage(fact string) string {
	return StagePrefix + fact
}

// Truncate wipes a staging table ahead of a load.
func (s *Store) Truncate(ctx context.Context, table string) error {
	if !strings.HasPrefix(table, StagePrefix) {
		return fmt.Errorf("refusing to truncate non-staging table %s", table)
	}
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE "+table); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	return nil
}

// Load inserts rows into a staging table. Rows are maps keyed by column
// name; every row must carry the same columns.
func (s *Store) Load(ctx context.Context, table string, cols []string, rows []map[string]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		placeholders[i] = ":" + c
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin load tx: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return fmt.Errorf("load into %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit load %s: %w", table, err)
	}
	s.logger.Debug().Str("table", table).Int("rows", len(rows)).Msg("staged rows")
	return nil
}

// Merge upserts the staging table into its fact table keyed by
// (idCol, dsCol). Re-running the same merge is a no-op for unchanged rows.
func (s *Store) Merge(ctx context.Context, fact, idCol, dsCol string, cols []string) error {
	updates := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == idCol || c == dsCol {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s, %s) DO UPDATE SET %s",
		fact,
		strings.Join(cols, ", "),
		strings.Join(cols, ", "),
		Stage(fact),
		idCol, dsCol,
		strings.Join(updates, ", "),
	)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("merge %s: %w", fact, err)
	}
	return nil
}

// ArchiveRows runs the full truncate-stage-merge sequence for one batch.
func (s *Store) ArchiveRows(ctx context.Context, fact, idCol, dsCol string, cols []string, rows []map[string]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	stage := Stage(fact)
	if err := s.Truncate(ctx, stage); err != nil {
		return err
	}
	if err := s.Load(ctx, stage, cols, rows); err != nil {
		return err
	}
	if err := s.Merge(ctx, fact, idCol, dsCol, cols); err != nil {
		return err
	}
	s.logger.Info().Str("table", fact).Int("rows", len(rows)).Msg("archived rows")
	return nil
}
