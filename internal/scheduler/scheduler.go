// Package scheduler runs the main engine loop: one cooperative pass over
// the configured symbol universe. For each symbol it fetches bars, emits a
// signal when a pattern confluences, then advances the lifecycle of the
// symbol's active signals against the same bars and drives the matching
// position actions. Symbols are independent; a failure on one is recorded
// and the loop moves on.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"alpaca-signal-engine/config"
	"alpaca-signal-engine/internal/database"
	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/events"
	"alpaca-signal-engine/internal/logging"
	"alpaca-signal-engine/internal/marketdata"
	"alpaca-signal-engine/internal/metrics"
	"alpaca-signal-engine/internal/notification"
	"alpaca-signal-engine/internal/signal"
)

// trailNotifyThresholdPct gates trail-update notifications: the runner stop
// must have moved at least this far from the last notified value.
const trailNotifyThresholdPct = 1.0

// Pair is one (symbol, asset class) entry of the trading universe.
type Pair struct {
	Symbol     string
	AssetClass domain.AssetClass
}

// Universe expands the configured symbol lists into ordered pairs, crypto
// first.
func Universe(cfg config.EngineConfig) []Pair {
	pairs := make([]Pair, 0, len(cfg.CryptoSymbols)+len(cfg.EquitySymbols))
	for _, s := range cfg.CryptoSymbols {
		pairs = append(pairs, Pair{Symbol: s, AssetClass: domain.AssetCrypto})
	}
	for _, s := range cfg.EquitySymbols {
		pairs = append(pairs, Pair{Symbol: s, AssetClass: domain.AssetEquity})
	}
	return pairs
}

type signalStore interface {
	Save(ctx context.Context, s *domain.Signal) error
	UpdateSignalAtomic(ctx context.Context, signalID string, patch *domain.SignalPatch) error
	GetActiveSignals(ctx context.Context, symbol string) ([]*domain.Signal, error)
	GetMostRecentExit(ctx context.Context, symbol string) (*domain.Signal, error)
	SaveRejected(ctx context.Context, rej *domain.RejectedSignal) error
}

type positionStore interface {
	GetOpenPositionBySymbol(ctx context.Context, symbol string) (*domain.Position, error)
}

// executor is the slice of the execution engine the loop drives.
type executor interface {
	ExecuteSignal(ctx context.Context, s *domain.Signal) (*domain.Position, error)
	SyncPositionStatus(ctx context.Context, p *domain.Position) (*domain.Position, error)
	ScaleOutPosition(ctx context.Context, p *domain.Position, scalePct float64) (bool, error)
	MoveStopToBreakeven(ctx context.Context, p *domain.Position) (bool, error)
	ClosePositionEmergency(ctx context.Context, p *domain.Position) (bool, error)
	ClosePosition(ctx context.Context, p *domain.Position, fillPrice float64, fillTime time.Time, reason domain.ExitReason, exitOrderID string) error
}

type journal interface {
	Append(ctx context.Context, signalID, eventType, subtype, oldValue, newValue string, triggerPrice float64) error
}

// Scheduler iterates the universe once per Run call.
type Scheduler struct {
	pairs     []Pair
	lookback  int
	delay     time.Duration
	bars      marketdata.Provider
	generator *signal.Generator
	signals   signalStore
	positions positionStore
	exec      executor
	notifier  notification.Notifier
	journal   journal
	bus       *events.Bus
	collector *metrics.Collector
	logger    zerolog.Logger
	now       func() time.Time

	mu    sync.Mutex
	state cycleState
}

type cycleState struct {
	LastCycleStart   time.Time
	LastCycleSeconds float64
	CurrentSymbol    string
	SymbolsProcessed int
	SymbolErrors     int
	SignalsEmitted   int
}

// New builds the scheduler. notifier, journal, bus and collector may be nil.
func New(cfg config.EngineConfig, pairs []Pair, bars marketdata.Provider,
	generator *signal.Generator, signals signalStore, positions positionStore,
	exec executor, notifier notification.Notifier, jrnl journal,
	bus *events.Bus, collector *metrics.Collector) *Scheduler {

	if notifier == nil {
		notifier = notification.Noop{}
	}
	return &Scheduler{
		pairs:     pairs,
		lookback:  cfg.LookbackDays,
		delay:     time.Duration(cfg.RateLimitDelay * float64(time.Second)),
		bars:      bars,
		generator: generator,
		signals:   signals,
		positions: positions,
		exec:      exec,
		notifier:  notifier,
		journal:   jrnl,
		bus:       bus,
		collector: collector,
		logger:    logging.Component("scheduler"),
		now:       time.Now,
	}
}

// State reports loop progress for the ops debug endpoint.
func (s *Scheduler) State() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"last_cycle_start":   s.state.LastCycleStart,
		"last_cycle_seconds": s.state.LastCycleSeconds,
		"current_symbol":     s.state.CurrentSymbol,
		"symbols_processed":  s.state.SymbolsProcessed,
		"symbol_errors":      s.state.SymbolErrors,
		"signals_emitted":    s.state.SignalsEmitted,
	}
}

// Run executes one full pass over the universe. Cancellation is honored
// between symbols: the symbol in flight always completes. Per-symbol
// failures are counted and skipped; Run only returns an error when the
// context is cancelled before the pass finishes.
func (s *Scheduler) Run(ctx context.Context) error {
	start := s.now()
	s.mu.Lock()
	s.state = cycleState{LastCycleStart: start}
	s.mu.Unlock()

	s.logger.Info().Int("symbols", len(s.pairs)).Msg("cycle started")

	for i, pair := range s.pairs {
		if ctx.Err() != nil {
			s.logger.Warn().Str("symbol", pair.Symbol).Msg("shutdown requested, stopping before next symbol")
			return ctx.Err()
		}
		s.mu.Lock()
		s.state.CurrentSymbol = pair.Symbol
		s.mu.Unlock()

		if err := s.processSymbol(ctx, pair); err != nil {
			s.logger.Error().Err(err).Str("symbol", pair.Symbol).Msg("symbol iteration failed")
			s.recordSymbolError(pair.Symbol, err)
		}
		s.mu.Lock()
		s.state.SymbolsProcessed++
		s.mu.Unlock()
		if s.collector != nil {
			s.collector.SymbolsProcessed.Inc()
		}

		if s.delay > 0 && i < len(s.pairs)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(s.delay):
			}
		}
	}

	elapsed := s.now().Sub(start).Seconds()
	s.mu.Lock()
	s.state.CurrentSymbol = ""
	s.state.LastCycleSeconds = elapsed
	emitted := s.state.SignalsEmitted
	processed := s.state.SymbolsProcessed
	s.mu.Unlock()
	if s.collector != nil {
		s.collector.CycleDuration.Observe(elapsed)
	}
	s.logger.Info().
		Int("symbols", processed).
		Int("signals", emitted).
		Float64("seconds", elapsed).
		Msg("cycle completed")
	return nil
}

// processSymbol runs generation, then lifecycle advancement, against the
// same bar series so a freshly emitted signal is never double-advanced in
// its emission tick.
func (s *Scheduler) processSymbol(ctx context.Context, pair Pair) error {
	bars, err := s.bars.GetDailyBars(ctx, pair.Symbol, pair.AssetClass, s.lookback)
	if err != nil {
		return fmt.Errorf("fetch bars for %s: %w", pair.Symbol, err)
	}
	if len(bars) == 0 {
		s.logger.Debug().Str("symbol", pair.Symbol).Msg("no bars, skipping symbol")
		return nil
	}

	emitted, err := s.generate(ctx, pair, bars)
	if err != nil {
		return err
	}

	active, err := s.signals.GetActiveSignals(ctx, pair.Symbol)
	if err != nil {
		return fmt.Errorf("load active signals for %s: %w", pair.Symbol, err)
	}
	if emitted != nil {
		filtered := active[:0]
		for _, a := range active {
			if a.SignalID != emitted.SignalID {
				filtered = append(filtered, a)
			}
		}
		active = filtered
	}
	s.syncOpenPosition(ctx, pair.Symbol)
	if len(active) == 0 {
		return nil
	}

	lastClose := bars[len(bars)-1].Close
	for _, mut := range s.generator.CheckExits(active, bars) {
		if err := s.applyMutation(ctx, mut, lastClose); err != nil {
			// One bad signal must not block its siblings.
			s.logger.Error().Err(err).
				Str("signal_id", mut.Signal.SignalID).
				Msg("lifecycle mutation failed")
			s.recordSymbolError(pair.Symbol, err)
		}
	}
	return nil
}

// generate emits at most one signal for the symbol and hands it to the
// execution engine.
func (s *Scheduler) generate(ctx context.Context, pair Pair, bars []domain.Bar) (*domain.Signal, error) {
	lastExit, err := s.signals.GetMostRecentExit(ctx, pair.Symbol)
	if err != nil {
		return nil, fmt.Errorf("load most recent exit for %s: %w", pair.Symbol, err)
	}

	sig := s.generator.GenerateSignal(pair.Symbol, pair.AssetClass, bars, lastExit)
	if sig == nil {
		return nil, nil
	}
	if err := s.signals.Save(ctx, sig); err != nil {
		return nil, fmt.Errorf("persist signal %s: %w", sig.SignalID, err)
	}
	s.journalAppend(ctx, sig.SignalID, database.JournalStatusChange, sig.PatternName,
		"", string(domain.StatusWaiting), sig.EntryPrice)
	s.publish(events.EventSignalEmitted, map[string]interface{}{
		"signal_id": sig.SignalID,
		"symbol":    sig.Symbol,
		"pattern":   sig.PatternName,
	})
	s.mu.Lock()
	s.state.SignalsEmitted++
	s.mu.Unlock()

	threadName := fmt.Sprintf("%s %s %s", sig.Symbol, sig.PatternName, sig.DS)
	threadID, err := s.notifier.SendSignal(ctx, sig, threadName)
	if err != nil {
		s.logger.Warn().Err(err).Str("signal_id", sig.SignalID).Msg("signal notification failed")
	} else if threadID != "" {
		tid := string(threadID)
		sig.DiscordThreadID = tid
		if err := s.signals.UpdateSignalAtomic(ctx, sig.SignalID, &domain.SignalPatch{DiscordThreadID: &tid}); err != nil {
			s.logger.Warn().Err(err).Str("signal_id", sig.SignalID).Msg("thread id persist failed")
		}
	}

	pos, err := s.exec.ExecuteSignal(ctx, sig)
	if err != nil {
		return sig, fmt.Errorf("execute signal %s: %w", sig.SignalID, err)
	}
	if pos != nil && pos.TradeType == domain.TradeRiskBlocked {
		s.recordRejection(ctx, sig, pos.RejectionReason)
	}
	return sig, nil
}

// recordRejection turns a risk-blocked signal into a shadow record for
// filter tuning; the signal itself terminates as REJECTED_BY_FILTER.
func (s *Scheduler) recordRejection(ctx context.Context, sig *domain.Signal, reason string) {
	status := domain.StatusRejectedByFilter
	if err := s.signals.UpdateSignalAtomic(ctx, sig.SignalID, &domain.SignalPatch{Status: &status}); err != nil {
		s.logger.Warn().Err(err).Str("signal_id", sig.SignalID).Msg("rejected status persist failed")
	}
	sig.Status = status

	rej := &domain.RejectedSignal{Signal: *sig, RejectionReason: reason, RejectedAt: s.now().UTC()}
	if err := s.signals.SaveRejected(ctx, rej); err != nil {
		s.logger.Warn().Err(err).Str("signal_id", sig.SignalID).Msg("rejected signal persist failed")
	}
	if err := s.notifier.SendShadowSignal(ctx, rej); err != nil {
		s.logger.Warn().Err(err).Str("signal_id", sig.SignalID).Msg("shadow notification failed")
	}
	s.publish(events.EventSignalRejected, map[string]interface{}{
		"signal_id": sig.SignalID,
		"symbol":    sig.Symbol,
		"gate":      gateName(reason),
	})
}

// applyMutation persists one lifecycle change and drives the matching
// position action and notifications.
func (s *Scheduler) applyMutation(ctx context.Context, mut signal.Mutation, lastClose float64) error {
	sig := mut.Signal
	patch := mut.Patch

	// Trail persistence is unconditional; notification is gated on a >=1%
	// move from the last notified value, and the previous value shown is
	// the last notified one.
	notifyTrail := false
	var previousNotified float64
	if sig.TrailUpdated {
		previousNotified = sig.LastNotifiedTP3
		if trailMovedEnough(previousNotified, sig.TakeProfit3) {
			notifyTrail = true
			patch.LastNotifiedTP3 = &sig.TakeProfit3
			sig.LastNotifiedTP3 = sig.TakeProfit3
		}
	}

	if err := s.signals.UpdateSignalAtomic(ctx, sig.SignalID, &patch); err != nil {
		return fmt.Errorf("persist lifecycle patch for %s: %w", sig.SignalID, err)
	}

	if patch.Status != nil {
		s.journalAppend(ctx, sig.SignalID, database.JournalStatusChange,
			string(sig.ExitReason), "", string(*patch.Status), lastClose)
		s.publish(events.EventLifecycleTransition, map[string]interface{}{
			"signal_id": sig.SignalID,
			"symbol":    sig.Symbol,
			"status":    string(*patch.Status),
		})
		if err := s.notifier.SendSignalUpdate(ctx, sig); err != nil {
			s.logger.Warn().Err(err).Str("signal_id", sig.SignalID).Msg("lifecycle notification failed")
		}
	}

	if sig.TrailUpdated {
		s.journalAppend(ctx, sig.SignalID, database.JournalTrailUpdate, "",
			fmt.Sprintf("%.8f", sig.PreviousTP3), fmt.Sprintf("%.8f", sig.TakeProfit3), sig.TakeProfit3)
		s.publish(events.EventTrailUpdated, map[string]interface{}{
			"signal_id": sig.SignalID,
			"symbol":    sig.Symbol,
		})
		if notifyTrail {
			if err := s.notifier.SendTrailUpdate(ctx, sig, previousNotified); err != nil {
				s.logger.Warn().Err(err).Str("signal_id", sig.SignalID).Msg("trail notification failed")
			}
		}
	}

	if patch.Status != nil {
		s.drivePosition(ctx, sig, *patch.Status, lastClose)
	}
	return nil
}

// drivePosition maps a lifecycle transition onto the open position for the
// signal: scale out half and go breakeven at TP1, scale out half again at
// TP2, close the remainder on any terminal status. Theoretical positions
// never touch the broker; they close at the latest bar close.
func (s *Scheduler) drivePosition(ctx context.Context, sig *domain.Signal, status domain.SignalStatus, lastClose float64) {
	p, err := s.positions.GetOpenPositionBySymbol(ctx, sig.Symbol)
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", sig.Symbol).Msg("open position lookup failed")
		return
	}
	if p == nil || p.SignalID != sig.SignalID {
		return
	}

	if p.TradeType == domain.TradeTheoretical {
		if terminal(status) {
			if err := s.exec.ClosePosition(ctx, p, lastClose, s.now().UTC(), exitReasonFor(sig, status), ""); err != nil {
				s.logger.Error().Err(err).Str("position_id", p.PositionID).Msg("theoretical close failed")
				return
			}
			s.notifyTradeClose(ctx, sig, p)
		}
		return
	}

	switch status {
	case domain.StatusTP1Hit:
		if _, err := s.exec.ScaleOutPosition(ctx, p, 0.5); err != nil {
			s.logger.Error().Err(err).Str("position_id", p.PositionID).Msg("tp1 scale-out failed")
		} else {
			s.journalAppend(ctx, sig.SignalID, database.JournalScaleOut, "TP1", "", "", lastClose)
		}
		if ok, err := s.exec.MoveStopToBreakeven(ctx, p); err != nil {
			s.logger.Error().Err(err).Str("position_id", p.PositionID).Msg("breakeven shift failed")
		} else if ok {
			s.journalAppend(ctx, sig.SignalID, database.JournalBreakeven, "",
				fmt.Sprintf("%.8f", sig.SuggestedStop), fmt.Sprintf("%.8f", p.CurrentStopLoss), p.CurrentStopLoss)
		}
	case domain.StatusTP2Hit:
		if _, err := s.exec.ScaleOutPosition(ctx, p, 0.5); err != nil {
			s.logger.Error().Err(err).Str("position_id", p.PositionID).Msg("tp2 scale-out failed")
		} else {
			s.journalAppend(ctx, sig.SignalID, database.JournalScaleOut, "TP2", "", "", lastClose)
		}
	default:
		if terminal(status) {
			if _, err := s.exec.ClosePositionEmergency(ctx, p); err != nil {
				s.logger.Error().Err(err).Str("position_id", p.PositionID).Msg("terminal close failed")
				return
			}
			s.notifyTradeClose(ctx, sig, p)
		}
	}
}

// syncOpenPosition refreshes the symbol's open position from broker state
// before the lifecycle tick so fills land ahead of exit decisions.
func (s *Scheduler) syncOpenPosition(ctx context.Context, symbol string) {
	p, err := s.positions.GetOpenPositionBySymbol(ctx, symbol)
	if err != nil || p == nil {
		return
	}
	if _, err := s.exec.SyncPositionStatus(ctx, p); err != nil {
		s.logger.Warn().Err(err).Str("position_id", p.PositionID).Msg("position sync failed")
	}
}

func (s *Scheduler) notifyTradeClose(ctx context.Context, sig *domain.Signal, p *domain.Position) {
	if err := s.notifier.SendTradeClose(ctx, sig, p, p.RealizedPnLUSD, p.RealizedPnLPct,
		humanDuration(p.TradeDurationSeconds), p.ExitReason); err != nil {
		s.logger.Warn().Err(err).Str("position_id", p.PositionID).Msg("trade close notification failed")
	}
}

func (s *Scheduler) recordSymbolError(symbol string, err error) {
	s.mu.Lock()
	s.state.SymbolErrors++
	s.mu.Unlock()
	if s.collector != nil {
		s.collector.SymbolErrors.Inc()
	}
	s.publish(events.EventEngineError, map[string]interface{}{
		"symbol": symbol,
		"error":  err.Error(),
	})
}

func (s *Scheduler) journalAppend(ctx context.Context, signalID, eventType, subtype, oldValue, newValue string, trigger float64) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(ctx, signalID, eventType, subtype, oldValue, newValue, trigger); err != nil {
		s.logger.Warn().Err(err).Str("signal_id", signalID).Msg("journal append failed")
	}
}

func (s *Scheduler) publish(eventType events.EventType, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventType, data)
}

// trailMovedEnough applies the notification gate relative to the last
// notified value.
func trailMovedEnough(lastNotified, current float64) bool {
	if lastNotified == 0 {
		return true
	}
	move := (current - lastNotified) / lastNotified * 100
	if move < 0 {
		move = -move
	}
	return move >= trailNotifyThresholdPct
}

func terminal(status domain.SignalStatus) bool {
	switch status {
	case domain.StatusTP3Hit, domain.StatusInvalidated, domain.StatusExpired:
		return true
	}
	return false
}

func exitReasonFor(sig *domain.Signal, status domain.SignalStatus) domain.ExitReason {
	switch status {
	case domain.StatusTP3Hit:
		return domain.ExitTPHit
	case domain.StatusExpired:
		return domain.ExitExpired
	default:
		if sig.ExitReason != "" {
			return sig.ExitReason
		}
		return domain.ExitStructuralInvalidation
	}
}

// gateName extracts the gate token from a "gate: reason" rejection string.
func gateName(reason string) string {
	for i := 0; i < len(reason); i++ {
		if reason[i] == ':' {
			return reason[:i]
		}
	}
	return reason
}

func humanDuration(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	return fmt.Sprintf("%.1fd", d.Hours()/24)
}
