// Package execution turns approved signals into broker orders and keeps
// local position state in lockstep with broker fills.
package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"alpaca-signal-engine/config"
	"alpaca-signal-engine/internal/brokerage"
	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/events"
	"alpaca-signal-engine/internal/logging"
	"alpaca-signal-engine/internal/risk"
)

const (
	cryptoQtyDecimals  int32 = 6
	equityQtyDecimals  int32 = 4
	scaleQtyDecimals   int32 = 8
	breakevenOffsetPct       = 0.001

	// scale-out and emergency fills are re-read this many times before the
	// position is parked as awaiting_backfill.
	fillRetryBudget = 3
)

// GateEvaluator is the pre-trade risk check applied before any broker call.
type GateEvaluator interface {
	Evaluate(ctx context.Context, s *domain.Signal) risk.GateResult
}

// ManualExitVerifier identifies the closing order when a position vanished
// from the broker without either bracket leg filling. The reconciler
// implements it; execution only delegates.
type ManualExitVerifier interface {
	HandleManualExitVerification(ctx context.Context, p *domain.Position) (bool, error)
}

// PositionStore is the slice of the position repository execution writes
// through.
type PositionStore interface {
	Save(ctx context.Context, p *domain.Position) error
	Update(ctx context.Context, p *domain.Position) error
}

// Engine owns order submission and position synchronisation.
type Engine struct {
	cfg          config.ExecutionConfig
	riskPerTrade float64
	prod         bool

	broker    brokerage.Broker
	gates     GateEvaluator
	positions PositionStore
	verifier  ManualExitVerifier
	bus       *events.Bus

	logger     zerolog.Logger
	now        func() time.Time
	retryDelay time.Duration
}

// NewEngine wires an execution engine. bus may be nil.
func NewEngine(cfg config.ExecutionConfig, riskPerTrade float64, prod bool, broker brokerage.Broker, gates GateEvaluator, positions PositionStore, bus *events.Bus) *Engine {
	return &Engine{
		cfg:          cfg,
		riskPerTrade: riskPerTrade,
		prod:         prod,
		broker:       broker,
		gates:        gates,
		positions:    positions,
		bus:          bus,
		logger:       logging.Component("execution"),
		now:          func() time.Time { return time.Now().UTC() },
		retryDelay:   500 * time.Millisecond,
	}
}

// AttachVerifier connects the reconciler's manual-exit check. Called after
// construction because execution and the reconciler reference each other.
func (e *Engine) AttachVerifier(v ManualExitVerifier) {
	e.verifier = v
}

// ExecuteSignal sizes and submits an order for a freshly emitted signal.
// Returns nil when the signal is unexecutable (bad parameters or below the
// notional floor). When risk gates block, a RISK_BLOCKED position is
// persisted so the rejection is auditable. Outside production, or with
// execution disabled, a THEORETICAL position with a synthetic fill is
// recorded instead of calling the broker.
func (e *Engine) ExecuteSignal(ctx context.Context, s *domain.Signal) (*domain.Position, error) {
	if s.EntryPrice <= 0 || s.SuggestedStop <= 0 || s.TakeProfit1 <= 0 {
		e.logger.Warn().Str("signal_id", s.SignalID).Msg("signal parameters incomplete, not executing")
		return nil, nil
	}
	stopDistance := s.EntryPrice - s.SuggestedStop
	if stopDistance < 0 {
		stopDistance = -stopDistance
	}
	if stopDistance == 0 {
		e.logger.Warn().Str("signal_id", s.SignalID).Msg("zero stop distance, not executing")
		return nil, nil
	}

	qty := e.positionSize(s, stopDistance)
	if qty <= 0 {
		return nil, nil
	}
	if notional := qty * s.EntryPrice; notional < e.cfg.MinOrderNotionalUSD {
		e.logger.Info().
			Str("signal_id", s.SignalID).
			Float64("notional", notional).
			Float64("floor", e.cfg.MinOrderNotionalUSD).
			Msg("order below notional floor, skipping")
		return nil, nil
	}

	if gate := e.gates.Evaluate(ctx, s); !gate.Passed {
		p := e.newPosition(s, qty)
		p.Status = domain.PositionFailed
		p.TradeType = domain.TradeRiskBlocked
		p.RejectionReason = fmt.Sprintf("%s: %s", gate.Gate, gate.Reason)
		if err := e.positions.Save(ctx, p); err != nil {
			return nil, fmt.Errorf("persist risk-blocked position: %w", err)
		}
		e.logger.Info().
			Str("signal_id", s.SignalID).
			Str("gate", gate.Gate).
			Str("reason", gate.Reason).
			Msg("signal blocked by risk gate")
		return p, nil
	}

	if !e.prod || !e.cfg.EnableExecution {
		return e.recordTheoretical(ctx, s, qty)
	}
	return e.submitLive(ctx, s, qty)
}

// positionSize converts per-trade risk into units, rounded to the asset
// class's precision and capped so micro-cap tight stops cannot produce
// absurd quantities.
func (e *Engine) positionSize(s *domain.Signal, stopDistance float64) float64 {
	raw := e.riskPerTrade / stopDistance
	qty, _ := decimal.NewFromFloat(raw).Round(e.qtyDecimals(s.AssetClass)).Float64()
	limit := e.cfg.MaxPositionSize
	if limit <= 0 {
		limit = 1e6
	}
	if qty > limit {
		qty = limit
	}
	return qty
}

func (e *Engine) qtyDecimals(class domain.AssetClass) int32 {
	if class == domain.AssetCrypto {
		return cryptoQtyDecimals
	}
	return equityQtyDecimals
}

func (e *Engine) recordTheoretical(ctx context.Context, s *domain.Signal, qty float64) (*domain.Position, error) {
	fill := s.EntryPrice * (1 + e.cfg.TheoreticalSlippagePct/100)
	if s.Side == domain.SideSell {
		fill = s.EntryPrice * (1 - e.cfg.TheoreticalSlippagePct/100)
	}

	p := e.newPosition(s, qty)
	p.TradeType = domain.TradeTheoretical
	p.EntryFillPrice = fill
	p.EntrySlippagePct = slippagePct(s.Side, s.EntryPrice, fill)
	if err := e.positions.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("persist theoretical position: %w", err)
	}
	e.publish(events.EventPositionOpened, p)
	e.logger.Info().
		Str("signal_id", s.SignalID).
		Float64("qty", qty).
		Float64("fill", fill).
		Msg("theoretical position recorded")
	return p, nil
}

func (e *Engine) submitLive(ctx context.Context, s *domain.Signal, qty float64) (*domain.Position, error) {
	req := brokerage.OrderRequest{
		Symbol:        s.Symbol,
		Qty:           qty,
		QtyDecimals:   e.qtyDecimals(s.AssetClass),
		Side:          s.Side,
		TimeInForce:   "gtc",
		ClientOrderID: s.SignalID,
	}
	// Alpaca rejects bracket orders for crypto, so crypto entries go in as
	// simple market orders and the lifecycle manages exits.
	if s.AssetClass == domain.AssetEquity {
		req.Bracket = true
		req.TakeProfitLimit = s.TakeProfit3
		req.StopLossStop = s.SuggestedStop
	}

	order, err := e.broker.SubmitOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("submit entry order %s: %w", s.Symbol, err)
	}

	p := e.newPosition(s, qty)
	p.TradeType = domain.TradeExecuted
	p.AlpacaOrderID = order.ID
	if order.Filled() {
		p.EntryFillPrice = order.FilledAvgPrice
		p.EntrySlippagePct = slippagePct(s.Side, s.EntryPrice, order.FilledAvgPrice)
	}
	for _, leg := range order.Legs {
		switch leg.Type {
		case "limit":
			p.TPOrderID = leg.ID
		case "stop":
			p.SLOrderID = leg.ID
		}
	}
	if err := e.positions.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("persist live position: %w", err)
	}
	e.publish(events.EventPositionOpened, p)
	e.logger.Info().
		Str("signal_id", s.SignalID).
		Str("order_id", order.ID).
		Float64("qty", qty).
		Bool("bracket", req.Bracket).
		Msg("entry order submitted")
	return p, nil
}

func (e *Engine) newPosition(s *domain.Signal, qty float64) *domain.Position {
	now := e.now()
	return &domain.Position{
		PositionID:       s.SignalID,
		SignalID:         s.SignalID,
		Symbol:           s.Symbol,
		AssetClass:       s.AssetClass,
		Side:             s.Side,
		Status:           domain.PositionOpen,
		Qty:              qty,
		OriginalQty:      qty,
		TargetEntryPrice: s.EntryPrice,
		CurrentStopLoss:  s.SuggestedStop,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// GetOrderDetails fetches one order. A broker 404 and any other failure both
// come back as nil; the difference only matters for the log line.
func (e *Engine) GetOrderDetails(ctx context.Context, orderID string) *brokerage.Order {
	order, err := e.broker.GetOrderByID(ctx, orderID)
	if err != nil {
		e.logger.Warn().Err(err).Str("order_id", orderID).Msg("order lookup failed")
		return nil
	}
	return order
}

// SyncPositionStatus refreshes a position from broker state: deferred exit
// fills first, then entry fill details from the parent order, leg ids for
// brackets, and the TP and SL probes. A position that disappeared from the
// broker without a leg fill is handed to the manual-exit verifier; without
// one attached it stays OPEN.
func (e *Engine) SyncPositionStatus(ctx context.Context, p *domain.Position) (*domain.Position, error) {
	if p.TradeType != domain.TradeExecuted {
		return p, nil
	}
	if p.AwaitingBackfill {
		if _, err := e.BackfillExitFills(ctx, p); err != nil {
			return p, err
		}
	}
	if p.Status != domain.PositionOpen {
		return p, nil
	}

	parent := e.parentOrder(ctx, p)
	if parent != nil {
		if parent.Filled() && p.EntryFillPrice == 0 {
			p.EntryFillPrice = parent.FilledAvgPrice
			p.EntrySlippagePct = slippagePct(p.Side, p.TargetEntryPrice, parent.FilledAvgPrice)
			if parent.FilledAt != nil {
				p.CreatedAt = *parent.FilledAt
			}
		}
		for _, leg := range parent.Legs {
			switch leg.Type {
			case "limit":
				if p.TPOrderID == "" {
					p.TPOrderID = leg.ID
				}
			case "stop":
				if p.SLOrderID == "" {
					p.SLOrderID = leg.ID
				}
			}
		}
	}

	if p.TPOrderID != "" {
		if tp := e.GetOrderDetails(ctx, p.TPOrderID); tp != nil && tp.Filled() {
			return p, e.closeFromOrder(ctx, p, tp, domain.ExitTPHit)
		}
	}
	if p.SLOrderID != "" {
		if sl := e.GetOrderDetails(ctx, p.SLOrderID); sl != nil && sl.Filled() {
			return p, e.closeFromOrder(ctx, p, sl, domain.ExitStopLoss)
		}
	}

	broker, err := e.broker.GetOpenPosition(ctx, strings.ReplaceAll(p.Symbol, "/", ""))
	if err != nil {
		return p, fmt.Errorf("probe broker position %s: %w", p.Symbol, err)
	}
	if broker == nil {
		if e.verifier == nil {
			e.logger.Warn().
				Str("position_id", p.PositionID).
				Msg("position gone from broker, no verifier attached, leaving open")
			return p, nil
		}
		if _, err := e.verifier.HandleManualExitVerification(ctx, p); err != nil {
			return p, fmt.Errorf("manual exit verification %s: %w", p.PositionID, err)
		}
		return p, nil
	}

	if err := e.positions.Update(ctx, p); err != nil {
		return p, fmt.Errorf("persist synced position: %w", err)
	}
	return p, nil
}

func (e *Engine) parentOrder(ctx context.Context, p *domain.Position) *brokerage.Order {
	if p.AlpacaOrderID != "" {
		if o := e.GetOrderDetails(ctx, p.AlpacaOrderID); o != nil {
			return o
		}
	}
	o, err := e.broker.GetOrderByClientOrderID(ctx, p.PositionID)
	if err != nil {
		e.logger.Warn().Err(err).Str("position_id", p.PositionID).Msg("parent order lookup failed")
		return nil
	}
	return o
}

// closeFromOrder finalizes a position against a filled exit order.
func (e *Engine) closeFromOrder(ctx context.Context, p *domain.Position, exit *brokerage.Order, reason domain.ExitReason) error {
	when := e.now()
	if exit.FilledAt != nil {
		when = *exit.FilledAt
	}
	return e.closePosition(ctx, p, exit.FilledAvgPrice, when, reason, exit.ID)
}

// ClosePosition finalizes local state for a verified exit. Exposed for the
// reconciler, which discovers exits execution cannot see.
func (e *Engine) ClosePosition(ctx context.Context, p *domain.Position, fillPrice float64, fillTime time.Time, reason domain.ExitReason, exitOrderID string) error {
	return e.closePosition(ctx, p, fillPrice, fillTime, reason, exitOrderID)
}

func (e *Engine) closePosition(ctx context.Context, p *domain.Position, fillPrice float64, fillTime time.Time, reason domain.ExitReason, exitOrderID string) error {
	p.Status = domain.PositionClosed
	p.ExitReason = reason
	p.ExitOrderID = exitOrderID
	p.ExitTime = &fillTime
	p.TrailingStopFinal = p.CurrentStopLoss
	p.TradeDurationSeconds = int64(fillTime.Sub(p.CreatedAt).Seconds())

	if p.PendingFills() > 0 {
		// An unpriced scale-out tranche would poison the weighted exit,
		// so pricing and PnL wait for BackfillExitFills.
		p.AwaitingBackfill = true
		p.ExitFillPrice = nil
		if err := e.positions.Update(ctx, p); err != nil {
			return fmt.Errorf("persist closed position: %w", err)
		}
		e.publish(events.EventPositionClosed, p)
		e.logger.Warn().
			Str("position_id", p.PositionID).
			Int("pending_fills", p.PendingFills()).
			Msg("position closed with unpriced tranches, exit pricing deferred")
		return nil
	}

	weighted := domain.WeightedExitPrice(p.ScaledOutPrices, p.Qty, fillPrice)
	p.ExitFillPrice = &weighted
	p.AwaitingBackfill = false
	p.RealizedPnLUSD, p.RealizedPnLPct = e.realizedPnL(ctx, p, fillPrice, p.Qty)

	if err := e.positions.Update(ctx, p); err != nil {
		return fmt.Errorf("persist closed position: %w", err)
	}
	e.publish(events.EventPositionClosed, p)
	e.logger.Info().
		Str("position_id", p.PositionID).
		Str("exit_reason", string(reason)).
		Float64("pnl_usd", p.RealizedPnLUSD).
		Msg("position closed")
	return nil
}

// realizedPnL sums the per-tranche edge over entry across every scale-out
// plus the final exit, direction-aware, then subtracts commission and the
// estimated crypto taker fees. Exact CFEE reconciliation happens at
// archival time.
func (e *Engine) realizedPnL(ctx context.Context, p *domain.Position, finalExit, finalQty float64) (usd, pct float64) {
	entry := p.EntryFillPrice
	if entry == 0 {
		entry = p.TargetEntryPrice
	}
	if entry == 0 || p.OriginalQty == 0 {
		return 0, 0
	}

	dir := 1.0
	if p.Side == domain.SideSell {
		dir = -1.0
	}
	gross := dir * (finalExit - entry) * finalQty
	exitNotional := finalExit * finalQty
	for _, f := range p.ScaledOutPrices {
		if f.Price <= 0 {
			continue
		}
		gross += dir * (f.Price - entry) * f.Qty
		exitNotional += f.Price * f.Qty
	}

	fees := p.Commission
	if p.AssetClass == domain.AssetCrypto {
		tier := 0
		if account, err := e.broker.GetAccount(ctx); err == nil {
			tier = account.CryptoTier
		}
		fees += brokerage.EstimateCryptoFee(entry*p.OriginalQty, tier)
		fees += brokerage.EstimateCryptoFee(exitNotional, tier)
	}

	usd = gross - fees
	pct = usd / (entry * p.OriginalQty) * 100
	return usd, pct
}

// BackfillExitFills re-reads every exit fill the broker had not confirmed
// at submit time. Repaired tranches are persisted even when others are
// still pending. Once every fill is priced the deferred exit bookkeeping
// completes: weighted exit, realized PnL on closed positions, and the
// awaiting_backfill flag cleared. Returns true when nothing is pending
// anymore.
func (e *Engine) BackfillExitFills(ctx context.Context, p *domain.Position) (bool, error) {
	if !p.AwaitingBackfill {
		return true, nil
	}

	changed := false
	for i := range p.ScaledOutPrices {
		f := &p.ScaledOutPrices[i]
		if f.Price > 0 || f.OrderID == "" {
			continue
		}
		order := e.GetOrderDetails(ctx, f.OrderID)
		if order == nil || !order.Filled() {
			continue
		}
		f.Price = order.FilledAvgPrice
		if order.FilledAt != nil {
			f.Ts = *order.FilledAt
		}
		changed = true
	}

	persistPartial := func() (bool, error) {
		if !changed {
			return false, nil
		}
		if err := e.positions.Update(ctx, p); err != nil {
			return false, fmt.Errorf("persist partial backfill: %w", err)
		}
		return false, nil
	}
	if p.PendingFills() > 0 {
		return persistPartial()
	}

	finalPrice, finalQty := 0.0, 0.0
	if p.Status == domain.PositionClosed && p.ExitOrderID != "" {
		exit := e.GetOrderDetails(ctx, p.ExitOrderID)
		if exit == nil || !exit.Filled() {
			return persistPartial()
		}
		finalPrice = exit.FilledAvgPrice
		finalQty = p.Qty
		if exit.FilledAt != nil {
			p.ExitTime = exit.FilledAt
			p.TradeDurationSeconds = int64(exit.FilledAt.Sub(p.CreatedAt).Seconds())
		}
	}

	weighted := domain.WeightedExitPrice(p.ScaledOutPrices, finalQty, finalPrice)
	p.ExitFillPrice = &weighted
	p.AwaitingBackfill = false
	if p.Status == domain.PositionClosed {
		p.RealizedPnLUSD, p.RealizedPnLPct = e.realizedPnL(ctx, p, finalPrice, finalQty)
	}
	if err := e.positions.Update(ctx, p); err != nil {
		return false, fmt.Errorf("persist backfilled exit: %w", err)
	}
	e.logger.Info().
		Str("position_id", p.PositionID).
		Float64("exit_fill_price", weighted).
		Msg("deferred exit fills captured")
	return true, nil
}

// ModifyStopLoss replaces the live stop order at a new price. Only orders
// the broker still reports as new or accepted can be replaced.
func (e *Engine) ModifyStopLoss(ctx context.Context, p *domain.Position, newStop float64) (bool, error) {
	if p.SLOrderID == "" {
		return false, nil
	}
	sl := e.GetOrderDetails(ctx, p.SLOrderID)
	if sl == nil || !sl.Replaceable() {
		e.logger.Info().
			Str("position_id", p.PositionID).
			Str("sl_order_id", p.SLOrderID).
			Msg("stop order not replaceable")
		return false, nil
	}

	replacement, err := e.broker.ReplaceOrder(ctx, p.SLOrderID, brokerage.ReplaceRequest{StopPrice: newStop})
	if err != nil {
		return false, fmt.Errorf("replace stop %s: %w", p.SLOrderID, err)
	}
	p.SLOrderID = replacement.ID
	p.CurrentStopLoss = newStop
	if err := e.positions.Update(ctx, p); err != nil {
		return false, fmt.Errorf("persist stop update: %w", err)
	}
	return true, nil
}

// MoveStopToBreakeven nudges the stop just past the entry fill so a winner
// cannot round-trip into a loss.
func (e *Engine) MoveStopToBreakeven(ctx context.Context, p *domain.Position) (bool, error) {
	if p.BreakevenApplied {
		return true, nil
	}
	entry := p.EntryFillPrice
	if entry == 0 {
		entry = p.TargetEntryPrice
	}
	newStop := entry * (1 + breakevenOffsetPct)
	if p.Side == domain.SideSell {
		newStop = entry * (1 - breakevenOffsetPct)
	}
	ok, err := e.ModifyStopLoss(ctx, p, newStop)
	if err != nil || !ok {
		return ok, err
	}
	p.BreakevenApplied = true
	if err := e.positions.Update(ctx, p); err != nil {
		return false, fmt.Errorf("persist breakeven flag: %w", err)
	}
	return true, nil
}

// ScaleOutPosition exits scale_pct of the remaining quantity at market.
// The fill is re-read up to the retry budget; an unconfirmed fill parks the
// position as awaiting_backfill for BackfillExitFills to complete.
func (e *Engine) ScaleOutPosition(ctx context.Context, p *domain.Position, scalePct float64) (bool, error) {
	if scalePct <= 0 || scalePct >= 1 || p.Qty <= 0 {
		return false, nil
	}
	qty, _ := decimal.NewFromFloat(p.Qty * scalePct).Round(scaleQtyDecimals).Float64()
	if qty <= 0 {
		return false, nil
	}
	if p.OriginalQty == 0 {
		p.OriginalQty = p.Qty
	}

	side := domain.SideSell
	if p.Side == domain.SideSell {
		side = domain.SideBuy
	}
	order, err := e.broker.SubmitOrder(ctx, brokerage.OrderRequest{
		Symbol:        p.Symbol,
		Qty:           qty,
		QtyDecimals:   scaleQtyDecimals,
		Side:          side,
		TimeInForce:   "gtc",
		ClientOrderID: fmt.Sprintf("%s-scale-%d", p.PositionID, len(p.ScaledOutPrices)+1),
	})
	if err != nil {
		return false, fmt.Errorf("submit scale-out %s: %w", p.Symbol, err)
	}

	filled := e.awaitFill(ctx, order)
	fill := domain.ScaleOutFill{Qty: qty, Ts: e.now(), OrderID: order.ID}
	if filled != nil {
		fill.Price = filled.FilledAvgPrice
		if filled.FilledAt != nil {
			fill.Ts = *filled.FilledAt
		}
	} else {
		p.AwaitingBackfill = true
		p.ExitFillPrice = nil
		e.logger.Warn().
			Str("position_id", p.PositionID).
			Str("order_id", order.ID).
			Msg("scale-out fill unconfirmed, deferring to backfill")
	}

	p.ScaledOutPrices = append(p.ScaledOutPrices, fill)
	p.ScaledOutQty += qty
	p.Qty -= qty
	if p.Qty < 0 {
		p.Qty = 0
	}
	if !p.AwaitingBackfill {
		weighted := domain.WeightedExitPrice(p.ScaledOutPrices, 0, 0)
		p.ExitFillPrice = &weighted
	}

	if err := e.positions.Update(ctx, p); err != nil {
		return false, fmt.Errorf("persist scale-out: %w", err)
	}
	e.logger.Info().
		Str("position_id", p.PositionID).
		Float64("qty", qty).
		Float64("remaining", p.Qty).
		Msg("scaled out")
	return true, nil
}

// ClosePositionEmergency cancels both bracket legs best-effort and market
// closes the remainder.
func (e *Engine) ClosePositionEmergency(ctx context.Context, p *domain.Position) (bool, error) {
	for _, legID := range []string{p.TPOrderID, p.SLOrderID} {
		if legID == "" {
			continue
		}
		if err := e.broker.CancelOrder(ctx, legID); err != nil {
			e.logger.Warn().Err(err).Str("order_id", legID).Msg("leg cancel failed during emergency close")
		}
	}

	side := domain.SideSell
	if p.Side == domain.SideSell {
		side = domain.SideBuy
	}
	qty, _ := decimal.NewFromFloat(p.Qty).Round(scaleQtyDecimals).Float64()
	order, err := e.broker.SubmitOrder(ctx, brokerage.OrderRequest{
		Symbol:        p.Symbol,
		Qty:           qty,
		QtyDecimals:   scaleQtyDecimals,
		Side:          side,
		TimeInForce:   "gtc",
		ClientOrderID: p.PositionID + "-emergency",
	})
	if err != nil {
		return false, fmt.Errorf("submit emergency close %s: %w", p.Symbol, err)
	}

	if filled := e.awaitFill(ctx, order); filled != nil {
		when := e.now()
		if filled.FilledAt != nil {
			when = *filled.FilledAt
		}
		return true, e.closePosition(ctx, p, filled.FilledAvgPrice, when, domain.ExitEmergencyClose, order.ID)
	}

	// Exit happened at the broker but the fill is not visible yet. Record
	// the closure without a price and let the sync path complete it.
	p.Status = domain.PositionClosed
	p.ExitReason = domain.ExitEmergencyClose
	p.ExitOrderID = order.ID
	p.AwaitingBackfill = true
	p.ExitFillPrice = nil
	p.TrailingStopFinal = p.CurrentStopLoss
	now := e.now()
	p.ExitTime = &now
	p.TradeDurationSeconds = int64(now.Sub(p.CreatedAt).Seconds())
	if err := e.positions.Update(ctx, p); err != nil {
		return false, fmt.Errorf("persist emergency close: %w", err)
	}
	e.publish(events.EventPositionClosed, p)
	return true, nil
}

// awaitFill re-reads an order until it fills or the retry budget runs out.
func (e *Engine) awaitFill(ctx context.Context, order *brokerage.Order) *brokerage.Order {
	if order.Filled() {
		return order
	}
	for attempt := 0; attempt < fillRetryBudget; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.retryDelay):
		}
		latest := e.GetOrderDetails(ctx, order.ID)
		if latest != nil && latest.Filled() {
			return latest
		}
	}
	return nil
}

func (e *Engine) publish(eventType events.EventType, p *domain.Position) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventType, map[string]interface{}{
		"position_id": p.PositionID,
		"symbol":      p.Symbol,
		"trade_type":  string(p.TradeType),
		"status":      string(p.Status),
	})
}

// slippagePct is the signed fill slippage relative to the target price,
// positive when the fill is worse than intended.
func slippagePct(side domain.Side, target, fill float64) float64 {
	if target == 0 {
		return 0
	}
	pct := (fill - target) / target * 100
	if side == domain.SideSell {
		pct = -pct
	}
	return pct
}
