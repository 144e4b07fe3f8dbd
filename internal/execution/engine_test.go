package execution

import (
	"context"
	"math"
	"testing"
	"time"

	"alpaca-signal-engine/config"
	"alpaca-signal-engine/internal/brokerage"
	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/risk"
)

type memStore struct {
	positions map[string]*domain.Position
	updates   int
}

func newMemStore() *memStore {
	return &memStore{positions: make(map[string]*domain.Position)}
}

func (s *memStore) Save(_ context.Context, p *domain.Position) error {
	s.positions[p.PositionID] = p
	return nil
}

func (s *memStore) Update(_ context.Context, p *domain.Position) error {
	s.positions[p.PositionID] = p
	s.updates++
	return nil
}

type stubGates struct{ result risk.GateResult }

func (s stubGates) Evaluate(_ context.Context, _ *domain.Signal) risk.GateResult {
	return s.result
}

func passGates() stubGates { return stubGates{result: risk.GateResult{Passed: true}} }

type stubVerifier struct {
	called bool
}

func (v *stubVerifier) HandleManualExitVerification(_ context.Context, _ *domain.Position) (bool, error) {
	v.called = true
	return true, nil
}

func testExecConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		EnableExecution:        true,
		TheoreticalSlippagePct: 0.5,
		MinOrderNotionalUSD:    10,
		MaxPositionSize:        1e6,
	}
}

func newTestEngine(broker brokerage.Broker, store PositionStore, gates GateEvaluator, prod bool, cfg config.ExecutionConfig) *Engine {
	e := NewEngine(cfg, 100, prod, broker, gates, store, nil)
	e.retryDelay = time.Millisecond
	return e
}

func buySignal() *domain.Signal {
	return &domain.Signal{
		SignalID:      "sig-1",
		Symbol:        "AAPL",
		AssetClass:    domain.AssetEquity,
		Side:          domain.SideBuy,
		EntryPrice:    100,
		SuggestedStop: 95,
		TakeProfit1:   104,
		TakeProfit2:   108,
		TakeProfit3:   112,
	}
}

func openPosition() *domain.Position {
	return &domain.Position{
		PositionID:       "sig-1",
		SignalID:         "sig-1",
		Symbol:           "AAPL",
		AssetClass:       domain.AssetEquity,
		Side:             domain.SideBuy,
		Status:           domain.PositionOpen,
		TradeType:        domain.TradeExecuted,
		Qty:              20,
		OriginalQty:      20,
		EntryFillPrice:   100,
		TargetEntryPrice: 100,
		CurrentStopLoss:  95,
		CreatedAt:        time.Now().UTC().Add(-time.Hour),
	}
}

func TestExecuteSignalTheoreticalOutsideProd(t *testing.T) {
	broker := brokerage.NewMockBroker()
	store := newMemStore()
	e := newTestEngine(broker, store, passGates(), false, testExecConfig())

	p, err := e.ExecuteSignal(context.Background(), buySignal())
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.TradeType != domain.TradeTheoretical {
		t.Fatalf("Should record a theoretical position, got %+v", p)
	}
	if math.Abs(p.EntryFillPrice-100.5) > 1e-9 {
		t.Errorf("Synthetic fill should include slippage, got %f", p.EntryFillPrice)
	}
	if p.Qty != 20 {
		t.Errorf("Qty should be risk/stop-distance = 20, got %f", p.Qty)
	}
	if len(broker.SubmittedOrders) != 0 {
		t.Error("Theoretical execution must not touch the broker")
	}
	if store.positions["sig-1"] == nil {
		t.Error("Position should be persisted")
	}
}

func TestExecuteSignalRiskBlocked(t *testing.T) {
	broker := brokerage.NewMockBroker()
	store := newMemStore()
	blocked := stubGates{result: risk.GateResult{Gate: risk.GateDuplicateSymbol, Reason: "open position exists"}}
	e := newTestEngine(broker, store, blocked, true, testExecConfig())

	p, err := e.ExecuteSignal(context.Background(), buySignal())
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.TradeType != domain.TradeRiskBlocked || p.Status != domain.PositionFailed {
		t.Fatalf("Should persist a RISK_BLOCKED position, got %+v", p)
	}
	if p.RejectionReason == "" {
		t.Error("Rejection reason should carry the gate name")
	}
	if len(broker.SubmittedOrders) != 0 {
		t.Error("Blocked signal must not reach the broker")
	}
}

func TestExecuteSignalEquityBracket(t *testing.T) {
	broker := brokerage.NewMockBroker()
	broker.FillPrice = 100.2
	store := newMemStore()
	e := newTestEngine(broker, store, passGates(), true, testExecConfig())

	p, err := e.ExecuteSignal(context.Background(), buySignal())
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.TradeType != domain.TradeExecuted {
		t.Fatalf("Should open a live position, got %+v", p)
	}

	req := broker.SubmittedOrders[0]
	if !req.Bracket || req.TakeProfitLimit != 112 || req.StopLossStop != 95 {
		t.Errorf("Equity entry should be a bracket with TP3/stop legs, got %+v", req)
	}
	if req.ClientOrderID != "sig-1" {
		t.Errorf("Client order id should be the signal id, got %s", req.ClientOrderID)
	}
	if p.TPOrderID == "" || p.SLOrderID == "" {
		t.Error("Bracket leg ids should be captured on the position")
	}
	if p.EntryFillPrice != 100.2 {
		t.Errorf("Fill price should come from the order, got %f", p.EntryFillPrice)
	}
}

func TestExecuteSignalCryptoSimpleMarket(t *testing.T) {
	broker := brokerage.NewMockBroker()
	store := newMemStore()
	e := newTestEngine(broker, store, passGates(), true, testExecConfig())

	s := buySignal()
	s.Symbol = "BTC/USD"
	s.AssetClass = domain.AssetCrypto
	if _, err := e.ExecuteSignal(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if broker.SubmittedOrders[0].Bracket {
		t.Error("Crypto entries must be simple market orders")
	}
}

func TestExecuteSignalCapsQuantity(t *testing.T) {
	broker := brokerage.NewMockBroker()
	store := newMemStore()
	cfg := testExecConfig()
	cfg.MaxPositionSize = 50
	e := newTestEngine(broker, store, passGates(), false, cfg)

	s := buySignal()
	s.SuggestedStop = 99.999 // 0.001 distance, raw qty 100k
	p, err := e.ExecuteSignal(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if p.Qty != 50 {
		t.Errorf("Qty should be capped at max position size, got %f", p.Qty)
	}
}

func TestExecuteSignalSkipsBelowNotionalFloor(t *testing.T) {
	broker := brokerage.NewMockBroker()
	store := newMemStore()
	cfg := testExecConfig()
	cfg.MinOrderNotionalUSD = 5000
	e := newTestEngine(broker, store, passGates(), true, cfg)

	p, err := e.ExecuteSignal(context.Background(), buySignal()) // notional 2000
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Errorf("Below-floor order should be skipped, got %+v", p)
	}
}

func TestSyncClosesOnTakeProfitFill(t *testing.T) {
	broker := brokerage.NewMockBroker()
	store := newMemStore()
	e := newTestEngine(broker, store, passGates(), true, testExecConfig())

	filledAt := time.Now().UTC()
	broker.AddOrder(brokerage.Order{ID: "tp-1", Type: "limit", Status: brokerage.OrderStatusFilled, FilledQty: 20, FilledAvgPrice: 108, FilledAt: &filledAt})

	p := openPosition()
	p.TPOrderID = "tp-1"
	p.SLOrderID = "sl-1"
	if _, err := e.SyncPositionStatus(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.PositionClosed || p.ExitReason != domain.ExitTPHit {
		t.Fatalf("Should close with TP_HIT, got %s/%s", p.Status, p.ExitReason)
	}
	if p.ExitFillPrice == nil || *p.ExitFillPrice != 108 {
		t.Errorf("Exit fill should be 108, got %v", p.ExitFillPrice)
	}
	if p.RealizedPnLUSD != 160 {
		t.Errorf("PnL should be (108-100)*20 = 160, got %f", p.RealizedPnLUSD)
	}
	if p.RealizedPnLPct != 8 {
		t.Errorf("PnL pct should be 8, got %f", p.RealizedPnLPct)
	}
}

func TestSyncDelegatesManualExit(t *testing.T) {
	broker := brokerage.NewMockBroker() // no broker position for AAPL
	store := newMemStore()
	e := newTestEngine(broker, store, passGates(), true, testExecConfig())
	verifier := &stubVerifier{}
	e.AttachVerifier(verifier)

	p := openPosition()
	if _, err := e.SyncPositionStatus(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if !verifier.called {
		t.Error("Vanished position should be delegated to the verifier")
	}
}

func TestSyncLeavesOpenWithoutVerifier(t *testing.T) {
	broker := brokerage.NewMockBroker()
	store := newMemStore()
	e := newTestEngine(broker, store, passGates(), true, testExecConfig())

	p := openPosition()
	if _, err := e.SyncPositionStatus(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.PositionOpen {
		t.Errorf("Without a verifier the position must stay open, got %s", p.Status)
	}
}

func TestModifyStopLossReplacesOrder(t *testing.T) {
	broker := brokerage.NewMockBroker()
	store := newMemStore()
	e := newTestEngine(broker, store, passGates(), true, testExecConfig())

	broker.AddOrder(brokerage.Order{ID: "sl-1", Type: "stop", Status: brokerage.OrderStatusNew, StopPrice: 95})
	p := openPosition()
	p.SLOrderID = "sl-1"

	ok, err := e.ModifyStopLoss(context.Background(), p, 98)
	if err != nil || !ok {
		t.Fatalf("Replace should succeed, ok=%v err=%v", ok, err)
	}
	if p.SLOrderID == "sl-1" {
		t.Error("Replacement order id should be captured")
	}
	if p.CurrentStopLoss != 98 {
		t.Errorf("Current stop should be 98, got %f", p.CurrentStopLoss)
	}
}

func TestModifyStopLossRefusesFilledOrder(t *testing.T) {
	broker := brokerage.NewMockBroker()
	store := newMemStore()
	e := newTestEngine(broker, store, passGates(), true, testExecConfig())

	broker.AddOrder(brokerage.Order{ID: "sl-1", Type: "stop", Status: brokerage.OrderStatusFilled})
	p := openPosition()
	p.SLOrderID = "sl-1"

	ok, err := e.ModifyStopLoss(context.Background(), p, 98)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("A filled stop must not be replaced")
	}
}

func TestMoveStopToBreakeven(t *testing.T) {
	broker := brokerage.NewMockBroker()
	store := newMemStore()
	e := newTestEngine(broker, store, passGates(), true, testExecConfig())

	broker.AddOrder(brokerage.Order{ID: "sl-1", Type: "stop", Status: brokerage.OrderStatusNew})
	p := openPosition()
	p.SLOrderID = "sl-1"

	ok, err := e.MoveStopToBreakeven(context.Background(), p)
	if err != nil || !ok {
		t.Fatalf("Breakeven move should succeed, ok=%v err=%v", ok, err)
	}
	if !p.BreakevenApplied {
		t.Error("breakeven_applied should be set")
	}
	if p.CurrentStopLoss != 100*(1+breakevenOffsetPct) {
		t.Errorf("Stop should sit just above entry for BUY, got %f", p.CurrentStopLoss)
	}
}

func TestScaleOutHalvesPosition(t *testing.T) {
	broker := brokerage.NewMockBroker()
	broker.FillPrice = 110
	store := newMemStore()
	e := newTestEngine(broker, store, passGates(), true, testExecConfig())

	p := openPosition()
	ok, err := e.ScaleOutPosition(context.Background(), p, 0.5)
	if err != nil || !ok {
		t.Fatalf("Scale-out should succeed, ok=%v err=%v", ok, err)
	}
	if p.Qty != 10 || p.ScaledOutQty != 10 {
		t.Errorf("Half the position should remain, qty=%f scaled=%f", p.Qty, p.ScaledOutQty)
	}
	if len(p.ScaledOutPrices) != 1 || p.ScaledOutPrices[0].Price != 110 {
		t.Errorf("Scale fill should be recorded at 110, got %+v", p.ScaledOutPrices)
	}
	if p.ExitFillPrice == nil || *p.ExitFillPrice != 110 {
		t.Errorf("Exit fill should be the weighted scale-out average, got %v", p.ExitFillPrice)
	}
	if broker.SubmittedOrders[0].Side != domain.SideSell {
		t.Error("Scale-out of a BUY position should sell")
	}
}

func TestScaleOutDefersToBackfillWhenUnfilled(t *testing.T) {
	broker := brokerage.NewMockBroker()
	broker.HoldFills = true
	store := newMemStore()
	e := newTestEngine(broker, store, passGates(), true, testExecConfig())

	p := openPosition()
	ok, err := e.ScaleOutPosition(context.Background(), p, 0.5)
	if err != nil || !ok {
		t.Fatalf("Scale-out should still be recorded, ok=%v err=%v", ok, err)
	}
	if !p.AwaitingBackfill {
		t.Error("Unconfirmed fill should mark awaiting_backfill")
	}
	if p.ExitFillPrice != nil {
		t.Error("Exit fill must stay null pending backfill")
	}
}

func TestScaleOutDeferClearsEarlierWeightedExit(t *testing.T) {
	broker := brokerage.NewMockBroker()
	broker.FillPrice = 104
	store := newMemStore()
	e := newTestEngine(broker, store, passGates(), true, testExecConfig())

	p := openPosition()
	if _, err := e.ScaleOutPosition(context.Background(), p, 0.5); err != nil {
		t.Fatal(err)
	}
	if p.ExitFillPrice == nil {
		t.Fatal("Confirmed scale-out should set the weighted exit")
	}

	broker.HoldFills = true
	if _, err := e.ScaleOutPosition(context.Background(), p, 0.5); err != nil {
		t.Fatal(err)
	}
	if !p.AwaitingBackfill {
		t.Error("Second unconfirmed fill should mark awaiting_backfill")
	}
	if p.ExitFillPrice != nil {
		t.Error("Exit fill must go back to null while a tranche is unpriced")
	}
}

func TestCloseWithUnconfirmedScaleOutDefersPnL(t *testing.T) {
	broker := brokerage.NewMockBroker()
	broker.HoldFills = true
	store := newMemStore()
	e := newTestEngine(broker, store, passGates(), true, testExecConfig())

	p := openPosition()
	if _, err := e.ScaleOutPosition(context.Background(), p, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := e.ClosePosition(context.Background(), p, 110, time.Now().UTC(), domain.ExitTPHit, "exit-1"); err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.PositionClosed || !p.AwaitingBackfill {
		t.Fatalf("Close should record CLOSED and keep awaiting_backfill, got %s/%v", p.Status, p.AwaitingBackfill)
	}
	if p.ExitFillPrice != nil {
		t.Errorf("Exit fill must stay null until the tranche is priced, got %v", *p.ExitFillPrice)
	}
	if p.RealizedPnLUSD != 0 || p.RealizedPnLPct != 0 {
		t.Errorf("PnL must wait for the backfilled fill, got %f/%f", p.RealizedPnLUSD, p.RealizedPnLPct)
	}
}

func TestBackfillCompletesDeferredExit(t *testing.T) {
	broker := brokerage.NewMockBroker()
	broker.HoldFills = true
	store := newMemStore()
	e := newTestEngine(broker, store, passGates(), true, testExecConfig())

	p := openPosition()
	if _, err := e.ScaleOutPosition(context.Background(), p, 0.5); err != nil {
		t.Fatal(err)
	}
	scaleOrderID := p.ScaledOutPrices[0].OrderID
	if ok, err := e.ClosePositionEmergency(context.Background(), p); err != nil || !ok {
		t.Fatalf("Emergency close should succeed, ok=%v err=%v", ok, err)
	}
	if p.ExitFillPrice != nil || !p.AwaitingBackfill {
		t.Fatalf("Unconfirmed close must defer pricing, got %v/%v", p.ExitFillPrice, p.AwaitingBackfill)
	}

	// Only the scale-out tranche fills; the final exit stays invisible.
	broker.FillPrice = 104
	broker.FillHeldOrder(scaleOrderID)
	if _, err := e.SyncPositionStatus(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if p.ScaledOutPrices[0].Price != 104 {
		t.Errorf("Tranche price should be repaired to 104, got %f", p.ScaledOutPrices[0].Price)
	}
	if p.ExitFillPrice != nil || !p.AwaitingBackfill {
		t.Error("Exit fill must stay null until every fill is priced")
	}

	broker.FillPrice = 110
	broker.FillHeldOrder(p.ExitOrderID)
	if _, err := e.SyncPositionStatus(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if p.AwaitingBackfill {
		t.Error("Backfill should clear awaiting_backfill once every fill is priced")
	}
	// (10*104 + 10*110) / 20 = 107
	if p.ExitFillPrice == nil || *p.ExitFillPrice != 107 {
		t.Errorf("Weighted exit should be 107, got %v", p.ExitFillPrice)
	}
	// (104-100)*10 + (110-100)*10 = 140
	if p.RealizedPnLUSD != 140 {
		t.Errorf("PnL should use the repaired fills, got %f", p.RealizedPnLUSD)
	}
	if math.Abs(p.RealizedPnLPct-7) > 1e-9 {
		t.Errorf("PnL pct should be 7, got %f", p.RealizedPnLPct)
	}
}

func TestClosePositionEmergency(t *testing.T) {
	broker := brokerage.NewMockBroker()
	broker.FillPrice = 97
	store := newMemStore()
	e := newTestEngine(broker, store, passGates(), true, testExecConfig())

	broker.AddOrder(brokerage.Order{ID: "tp-1", Type: "limit", Status: brokerage.OrderStatusNew})
	broker.AddOrder(brokerage.Order{ID: "sl-1", Type: "stop", Status: brokerage.OrderStatusNew})
	p := openPosition()
	p.TPOrderID = "tp-1"
	p.SLOrderID = "sl-1"

	ok, err := e.ClosePositionEmergency(context.Background(), p)
	if err != nil || !ok {
		t.Fatalf("Emergency close should succeed, ok=%v err=%v", ok, err)
	}
	if len(broker.CanceledOrders) != 2 {
		t.Errorf("Both legs should be canceled, got %v", broker.CanceledOrders)
	}
	if p.Status != domain.PositionClosed || p.ExitReason != domain.ExitEmergencyClose {
		t.Fatalf("Should close with EMERGENCY_CLOSE, got %s/%s", p.Status, p.ExitReason)
	}
	if p.ExitFillPrice == nil || *p.ExitFillPrice != 97 {
		t.Errorf("Exit fill should be 97, got %v", p.ExitFillPrice)
	}
}

func TestWeightedExitWithScaleOutsAndFinalFill(t *testing.T) {
	broker := brokerage.NewMockBroker()
	store := newMemStore()
	e := newTestEngine(broker, store, passGates(), true, testExecConfig())

	p := openPosition()
	p.Qty = 10
	p.ScaledOutQty = 10
	p.ScaledOutPrices = []domain.ScaleOutFill{{Qty: 10, Price: 104}}

	if err := e.ClosePosition(context.Background(), p, 112, time.Now().UTC(), domain.ExitTPHit, "exit-1"); err != nil {
		t.Fatal(err)
	}
	// (10*104 + 10*112) / 20 = 108
	if p.ExitFillPrice == nil || *p.ExitFillPrice != 108 {
		t.Errorf("Weighted exit should be 108, got %v", p.ExitFillPrice)
	}
	// (104-100)*10 + (112-100)*10 = 160
	if p.RealizedPnLUSD != 160 {
		t.Errorf("PnL should include scale-outs, got %f", p.RealizedPnLUSD)
	}
}
