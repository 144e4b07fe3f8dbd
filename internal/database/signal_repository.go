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

// SignalRepository persists signals keyed by signal_id. Saves are
// idempotent: re-saving an existing signal is a no-op.
type SignalRepository struct {
	db *DB
}

// NewSignalRepository returns the repository.
func NewSignalRepository(db *DB) *SignalRepository {
	return &SignalRepository{db: db}
}

const signalColumns = `signal_id, ds, strategy_id, symbol, asset_class, side,
	pattern_name, pattern_classification, pattern_duration_days,
	structural_anchors, harmonic_metadata,
	entry_price, suggested_stop, invalidation_price,
	take_profit_1, take_profit_2, take_profit_3,
	status, exit_reason, bar_ts, created_at, valid_until, delete_at,
	discord_thread_id, confluence_factors, confluence_snapshot, last_notified_tp3`

// Save inserts a signal. An existing signal_id is left untouched.
func (r *SignalRepository) Save(ctx context.Context, s *domain.Signal) error {
	anchors, err := json.Marshal(s.StructuralAnchors)
	if err != nil {
		return fmt.Errorf("marshal structural anchors: %w", err)
	}
	harmonic, _ := json.Marshal(s.HarmonicMetadata)
	factors, _ := json.Marshal(s.ConfluenceFactors)
	snapshot, _ := json.Marshal(s.ConfluenceSnapshot)

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
		ON CONFLICT (signal_id) DO NOTHING
	`, r.db.Table("signals"), signalColumns)

	_, err = r.db.Pool.Exec(ctx, query,
		s.SignalID, s.DS, s.StrategyID, s.Symbol, s.AssetClass, s.Side,
		s.PatternName, s.PatternClassification, s.PatternDurationDays,
		anchors, harmonic,
		s.EntryPrice, s.SuggestedStop, s.InvalidationPrice,
		s.TakeProfit1, s.TakeProfit2, s.TakeProfit3,
		s.Status, nullStr(string(s.ExitReason)), s.BarTs, s.CreatedAt, s.ValidUntil, s.DeleteAt,
		nullStr(s.DiscordThreadID), factors, snapshot, s.LastNotifiedTP3,
	)
	if err != nil {
		return fmt.Errorf("save signal %s: %w", s.SignalID, err)
	}
	return nil
}

// UpdateSignalAtomic writes only the fields set on the patch.
func (r *SignalRepository) UpdateSignalAtomic(ctx context.Context, signalID string, patch *domain.SignalPatch) error {
	if patch == nil || patch.Empty() {
		return nil
	}

	sets := make([]string, 0, 7)
	args := make([]interface{}, 0, 8)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Status != nil {
		sets = append(sets, "status = "+arg(*patch.Status))
	}
	if patch.ExitReason != nil {
		sets = append(sets, "exit_reason = "+arg(string(*patch.ExitReason)))
	}
	if patch.SuggestedStop != nil {
		sets = append(sets, "suggested_stop = "+arg(*patch.SuggestedStop))
	}
	if patch.TakeProfit3 != nil {
		sets = append(sets, "take_profit_3 = "+arg(*patch.TakeProfit3))
	}
	if patch.LastNotifiedTP3 != nil {
		sets = append(sets, "last_notified_tp3 = "+arg(*patch.LastNotifiedTP3))
	}
	if patch.DiscordThreadID != nil {
		sets = append(sets, "discord_thread_id = "+arg(*patch.DiscordThreadID))
	}
	if patch.DeleteAt != nil {
		sets = append(sets, "delete_at = "+arg(*patch.DeleteAt))
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE signal_id = %s",
		r.db.Table("signals"), joinSets(sets), arg(signalID))

	tag, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update signal %s: %w", signalID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSignalNotFound
	}
	return nil
}

// GetSignal fetches one signal.
func (r *SignalRepository) GetSignal(ctx context.Context, signalID string) (*domain.Signal, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE signal_id = $1", signalColumns, r.db.Table("signals"))
	s, err := scanSignal(r.db.Pool.QueryRow(ctx, query, signalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSignalNotFound
		}
		return nil, err
	}
	return s, nil
}

// GetActiveSignals lists the signals still advanced by the lifecycle
// engine for a symbol.
func (r *SignalRepository) GetActiveSignals(ctx context.Context, symbol string) ([]*domain.Signal, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE symbol = $1 AND status IN ('WAITING', 'TP1_HIT', 'TP2_HIT')
		ORDER BY created_at
	`, signalColumns, r.db.Table("signals"))
	return r.querySignals(ctx, query, symbol)
}

// GetSignalsByStatus lists signals in one status, oldest first.
func (r *SignalRepository) GetSignalsByStatus(ctx context.Context, status domain.SignalStatus, limit int) ([]*domain.Signal, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE status = $1 ORDER BY created_at LIMIT $2
	`, signalColumns, r.db.Table("signals"))
	return r.querySignals(ctx, query, status, limit)
}

// GetMostRecentExit returns the exit time and reason of the most recently
// terminal signal for a symbol, or nil when none exists. The cooldown
// policy reads this.
func (r *SignalRepository) GetMostRecentExit(ctx context.Context, symbol string) (*domain.Signal, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE symbol = $1 AND status IN ('TP3_HIT', 'INVALIDATED', 'EXPIRED')
		ORDER BY created_at DESC LIMIT 1
	`, signalColumns, r.db.Table("signals"))
	s, err := scanSignal(r.db.Pool.QueryRow(ctx, query, symbol))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// DeleteSignals removes archived signals from the operational store.
func (r *SignalRepository) DeleteSignals(ctx context.Context, signalIDs []string) error {
	if len(signalIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE signal_id = ANY($1)", r.db.Table("signals"))
	_, err := r.db.Pool.Exec(ctx, query, signalIDs)
	return err
}

func (r *SignalRepository) querySignals(ctx context.Context, query string, args ...interface{}) ([]*domain.Signal, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*domain.Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSignal(row rowScanner) (*domain.Signal, error) {
	var (
		s          domain.Signal
		anchors    []byte
		harmonic   []byte
		factors    []byte
		snapshot   []byte
		exitReason *string
		threadID   *string
	)
	err := row.Scan(
		&s.SignalID, &s.DS, &s.StrategyID, &s.Symbol, &s.AssetClass, &s.Side,
		&s.PatternName, &s.PatternClassification, &s.PatternDurationDays,
		&anchors, &harmonic,
		&s.EntryPrice, &s.SuggestedStop, &s.InvalidationPrice,
		&s.TakeProfit1, &s.TakeProfit2, &s.TakeProfit3,
		&s.Status, &exitReason, &s.BarTs, &s.CreatedAt, &s.ValidUntil, &s.DeleteAt,
		&threadID, &factors, &snapshot, &s.LastNotifiedTP3,
	)
	if err != nil {
		return nil, err
	}
	if exitReason != nil {
		s.ExitReason = domain.ExitReason(*exitReason)
	}
	if threadID != nil {
		s.DiscordThreadID = *threadID
	}
	if len(anchors) > 0 {
		_ = json.Unmarshal(anchors, &s.StructuralAnchors)
	}
	if len(harmonic) > 0 {
		_ = json.Unmarshal(harmonic, &s.HarmonicMetadata)
	}
	if len(factors) > 0 {
		_ = json.Unmarshal(factors, &s.ConfluenceFactors)
	}
	if len(snapshot) > 0 {
		_ = json.Unmarshal(snapshot, &s.ConfluenceSnapshot)
	}
	return &s, nil
}

// ===== REJECTED SIGNALS =====

// SaveRejected persists a shadow signal blocked by a risk gate.
func (r *SignalRepository) SaveRejected(ctx context.Context, rej *domain.RejectedSignal) error {
	payload, err := json.Marshal(rej.Signal)
	if err != nil {
		return fmt.Errorf("marshal rejected signal: %w", err)
	}
	snapshot, _ := json.Marshal(rej.ConfluenceSnapshot)

	query := fmt.Sprintf(`
		INSERT INTO %s (signal_id, ds, symbol, payload, rejection_reason, confluence_snapshot, rejected_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (signal_id) DO NOTHING
	`, r.db.Table("rejected_signals"))
	_, err = r.db.Pool.Exec(ctx, query,
		rej.SignalID, rej.DS, rej.Symbol, payload, rej.RejectionReason, snapshot, rej.RejectedAt)
	if err != nil {
		return fmt.Errorf("save rejected signal %s: %w", rej.SignalID, err)
	}
	return nil
}

// GetRejectedBefore lists rejected signals older than the cutoff for
// archival.
func (r *SignalRepository) GetRejectedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.RejectedSignal, error) {
	query := fmt.Sprintf(`
		SELECT payload, rejection_reason, rejected_at FROM %s
		WHERE rejected_at < $1 ORDER BY rejected_at LIMIT $2
	`, r.db.Table("rejected_signals"))
	rows, err := r.db.Pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.RejectedSignal
	for rows.Next() {
		var (
			payload []byte
			rej     domain.RejectedSignal
		)
		if err := rows.Scan(&payload, &rej.RejectionReason, &rej.RejectedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &rej.Signal); err != nil {
			return nil, fmt.Errorf("unmarshal rejected signal payload: %w", err)
		}
		out = append(out, &rej)
	}
	return out, rows.Err()
}

// DeleteRejected removes archived rejected signals.
func (r *SignalRepository) DeleteRejected(ctx context.Context, signalIDs []string) error {
	if len(signalIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE signal_id = ANY($1)", r.db.Table("rejected_signals"))
	_, err := r.db.Pool.Exec(ctx, query, signalIDs)
	return err
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func joinSets(sets []string) string {
	out := ""
	for i, s := range sets {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
