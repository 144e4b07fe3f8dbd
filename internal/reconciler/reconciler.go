// Package reconciler detects and heals divergence between broker state and
// the operational store. It never closes broker positions and never guesses:
// anything it cannot verify becomes a critical issue for a human.
package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"alpaca-signal-engine/internal/brokerage"
	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/events"
	"alpaca-signal-engine/internal/logging"
	"alpaca-signal-engine/internal/notification"
)

// DefaultMinAge is the zombie-healing age floor. Positions younger than
// this may still be mid-submission on the execution path.
const DefaultMinAge = 5 * time.Minute

// reverseOrphanSample bounds how many recently closed positions are
// re-checked against the broker each run.
const reverseOrphanSample = 20

// positionStore is the slice of the position repository the reconciler
// reads.
type positionStore interface {
	GetOpenPositions(ctx context.Context, includeTheoretical bool) ([]*domain.Position, error)
	GetRecentlyClosed(ctx context.Context, limit int) ([]*domain.Position, error)
}

// positionCloser finalizes a verified exit. The execution engine implements
// it; routing closure through execution keeps PnL and weighted-exit math in
// one place.
type positionCloser interface {
	ClosePosition(ctx context.Context, p *domain.Position, fillPrice float64, fillTime time.Time, reason domain.ExitReason, exitOrderID string) error
}

// Reconciler compares broker-open against DB-open positions and repairs
// what it can prove.
type Reconciler struct {
	broker    brokerage.Broker
	positions positionStore
	closer    positionCloser
	notifier  notification.Notifier
	bus       *events.Bus

	minAge time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewReconciler wires a reconciler. bus may be nil; minAge <= 0 selects the
// default.
func NewReconciler(broker brokerage.Broker, positions positionStore, closer positionCloser, notifier notification.Notifier, bus *events.Bus, minAge time.Duration) *Reconciler {
	if minAge <= 0 {
		minAge = DefaultMinAge
	}
	if notifier == nil {
		notifier = notification.Noop{}
	}
	return &Reconciler{
		broker:    broker,
		positions: positions,
		closer:    closer,
		notifier:  notifier,
		bus:       bus,
		minAge:    minAge,
		logger:    logging.Component("reconciler"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile runs one full divergence pass and returns the report. The
// report is produced even when individual healings fail; only an inability
// to read broker or DB state aborts the run.
func (r *Reconciler) Reconcile(ctx context.Context) (*domain.ReconciliationReport, error) {
	started := r.now()
	report := &domain.ReconciliationReport{
		RunID:     uuid.NewString(),
		StartedAt: started,
	}

	brokerOpen, err := r.broker.GetAllPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch broker positions: %w", err)
	}
	dbOpen, err := r.positions.GetOpenPositions(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("fetch db positions: %w", err)
	}

	brokerBySymbol := make(map[string]brokerage.Position, len(brokerOpen))
	for _, p := range brokerOpen {
		brokerBySymbol[normalizeSymbol(p.Symbol)] = p
	}
	dbBySymbol := make(map[string]*domain.Position, len(dbOpen))
	for _, p := range dbOpen {
		dbBySymbol[normalizeSymbol(p.Symbol)] = p
	}

	// Zombies: open in the DB, gone at the broker.
	for key, p := range dbBySymbol {
		if _, live := brokerBySymbol[key]; live {
			continue
		}
		if age := r.now().Sub(p.CreatedAt); age < r.minAge {
			r.logger.Debug().
				Str("position_id", p.PositionID).
				Dur("age", age).
				Msg("zombie candidate too young, skipping")
			continue
		}
		report.Zombies = append(report.Zombies, p.Symbol)
		healed, err := r.HandleManualExitVerification(ctx, p)
		if err != nil {
			report.CriticalIssues = append(report.CriticalIssues, fmt.Sprintf("zombie %s: verification failed: %v", p.Symbol, err))
			continue
		}
		if healed {
			report.ReconciledCount++
			continue
		}
		issue := fmt.Sprintf("exit gap: %s open in DB, absent at broker, no closing order found", p.Symbol)
		report.CriticalIssues = append(report.CriticalIssues, issue)
		r.alert(ctx, issue)
	}

	// Orphans: live at the broker, unknown to the DB. Never closed here.
	for key, p := range brokerBySymbol {
		if _, known := dbBySymbol[key]; known {
			continue
		}
		report.Orphans = append(report.Orphans, p.Symbol)
		issue := fmt.Sprintf("orphan: broker holds %.8f %s with no DB position", p.Qty, p.Symbol)
		report.CriticalIssues = append(report.CriticalIssues, issue)
		r.alert(ctx, issue)
	}

	r.checkReverseOrphans(ctx, brokerBySymbol, report)

	report.DurationSeconds = r.now().Sub(started).Seconds()
	if r.bus != nil {
		r.bus.Publish(events.EventReconciliationCompleted, map[string]interface{}{
			"run_id":     report.RunID,
			"zombies":    len(report.Zombies),
			"orphans":    len(report.Orphans),
			"reconciled": report.ReconciledCount,
			"critical":   len(report.CriticalIssues),
		})
	}
	r.logger.Info().
		Str("run_id", report.RunID).
		Int("zombies", len(report.Zombies)).
		Int("orphans", len(report.Orphans)).
		Int("reconciled", report.ReconciledCount).
		Int("critical", len(report.CriticalIssues)).
		Float64("seconds", report.DurationSeconds).
		Msg("reconciliation complete")
	return report, nil
}

// checkReverseOrphans samples recently closed DB positions and flags any
// the broker still reports open.
func (r *Reconciler) checkReverseOrphans(ctx context.Context, brokerBySymbol map[string]brokerage.Position, report *domain.ReconciliationReport) {
	closed, err := r.positions.GetRecentlyClosed(ctx, reverseOrphanSample)
	if err != nil {
		report.CriticalIssues = append(report.CriticalIssues, fmt.Sprintf("reverse-orphan scan failed: %v", err))
		return
	}
	for _, p := range closed {
		if _, live := brokerBySymbol[normalizeSymbol(p.Symbol)]; !live {
			continue
		}
		report.ReverseOrphans = append(report.ReverseOrphans, p.Symbol)
		issue := fmt.Sprintf("reverse orphan: %s closed in DB but still open at broker", p.Symbol)
		report.CriticalIssues = append(report.CriticalIssues, issue)
		r.alert(ctx, issue)
	}
}

// HandleManualExitVerification looks for a filled broker order that closed
// the position outside the engine. The position's own TP, SL, entry and
// client-prefixed orders are excluded so an entry or scale-out is never
// mistaken for an exit. Returns false, leaving the position OPEN, when no
// closing order can be identified.
func (r *Reconciler) HandleManualExitVerification(ctx context.Context, p *domain.Position) (bool, error) {
	closeSide := domain.SideSell
	if p.Side == domain.SideSell {
		closeSide = domain.SideBuy
	}

	orders, err := r.broker.GetOrders(ctx, brokerage.OrderFilter{
		Symbols: []string{normalizeSymbol(p.Symbol)},
		Status:  "closed",
		After:   p.CreatedAt,
		Side:    closeSide,
		Nested:  true,
	})
	if err != nil {
		return false, fmt.Errorf("list closing orders %s: %w", p.Symbol, err)
	}

	var match *brokerage.Order
	for i := range orders {
		o := &orders[i]
		if !o.Filled() {
			continue
		}
		if r.ownOrder(p, o) {
			continue
		}
		if match == nil || laterFill(o, match) {
			match = o
		}
	}
	if match == nil {
		return false, nil
	}

	fillTime := r.now()
	if match.FilledAt != nil {
		fillTime = *match.FilledAt
	}
	if err := r.closer.ClosePosition(ctx, p, match.FilledAvgPrice, fillTime, domain.ExitManualExit, match.ID); err != nil {
		return false, fmt.Errorf("apply manual exit %s: %w", p.PositionID, err)
	}
	r.alert(ctx, fmt.Sprintf("manual exit detected: %s closed at %.4f via order %s", p.Symbol, match.FilledAvgPrice, match.ID))
	r.logger.Info().
		Str("position_id", p.PositionID).
		Str("order_id", match.ID).
		Float64("fill", match.FilledAvgPrice).
		Msg("manual exit healed")
	return true, nil
}

// ownOrder reports whether an order belongs to the position's own lifecycle
// (entry, bracket legs, or engine-submitted exits).
func (r *Reconciler) ownOrder(p *domain.Position, o *brokerage.Order) bool {
	switch o.ID {
	case p.TPOrderID, p.SLOrderID, p.AlpacaOrderID, p.ExitOrderID:
		return true
	}
	// Entry, scale-out and emergency orders all carry client ids derived
	// from the position id.
	return o.ClientOrderID != "" && strings.HasPrefix(o.ClientOrderID, p.PositionID)
}

func laterFill(a, b *brokerage.Order) bool {
	if a.FilledAt == nil {
		return false
	}
	if b.FilledAt == nil {
		return true
	}
	return a.FilledAt.After(*b.FilledAt)
}

func (r *Reconciler) alert(ctx context.Context, issue string) {
	if err := r.notifier.SendMessage(ctx, "CRITICAL: "+issue, "", ""); err != nil {
		r.logger.Warn().Err(err).Msg("critical alert delivery failed")
	}
}

func normalizeSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}
