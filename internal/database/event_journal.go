package database

import (
	"context"
	"fmt"
	"time"
)

// Journal event types. Subtypes carry the transition detail (new status,
// exit reason, heal source).
const (
	JournalStatusChange = "STATUS_CHANGE"
	JournalTrailUpdate  = "TRAIL_UPDATE"
	JournalBreakeven    = "BREAKEVEN_SHIFT"
	JournalReconciled   = "RECONCILER_HEAL"
	JournalScaleOut     = "SCALE_OUT"
)

// SignalEvent is one append-only journal row.
type SignalEvent struct {
	ID           int64     `json:"id"`
	SignalID     string    `json:"signal_id"`
	EventType    string    `json:"event_type"`
	EventSubtype string    `json:"event_subtype,omitempty"`
	OldValue     string    `json:"old_value,omitempty"`
	NewValue     string    `json:"new_value,omitempty"`
	TriggerPrice float64   `json:"trigger_price,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// EventJournal appends lifecycle events. Rows are never updated; the
// journal is the audit trail behind every status change, trail move and
// reconciler heal.
type EventJournal struct {
	db *DB
}

// NewEventJournal returns the journal writer.
func NewEventJournal(db *DB) *EventJournal {
	return &EventJournal{db: db}
}

// Append writes one journal row.
func (j *EventJournal) Append(ctx context.Context, signalID, eventType, subtype, oldValue, newValue string, triggerPrice float64) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (signal_id, event_type, event_subtype, old_value, new_value, trigger_price)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, j.db.Table("signal_events"))
	_, err := j.db.Pool.Exec(ctx, query,
		signalID, eventType, nullStr(subtype), nullStr(oldValue), nullStr(newValue), triggerPrice)
	if err != nil {
		return fmt.Errorf("append journal event for %s: %w", signalID, err)
	}
	return nil
}

// Recent lists the latest journal rows for one signal, newest first.
func (j *EventJournal) Recent(ctx context.Context, signalID string, limit int) ([]SignalEvent, error) {
	query := fmt.Sprintf(`
		SELECT id, signal_id, event_type, COALESCE(event_subtype, ''),
		       COALESCE(old_value, ''), COALESCE(new_value, ''),
		       COALESCE(trigger_price, 0), created_at
		FROM %s WHERE signal_id = $1 ORDER BY id DESC LIMIT $2
	`, j.db.Table("signal_events"))
	rows, err := j.db.Pool.Query(ctx, query, signalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SignalEvent
	for rows.Next() {
		var e SignalEvent
		if err := rows.Scan(&e.ID, &e.SignalID, &e.EventType, &e.EventSubtype,
			&e.OldValue, &e.NewValue, &e.TriggerPrice, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
