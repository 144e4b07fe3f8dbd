package archival

import (
	"context"
	"testing"
	"time"

	"alpaca-signal-engine/internal/brokerage"
	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/marketdata"
	"alpaca-signal-engine/internal/warehouse"
)

type fakePositionSource struct {
	closed   []*domain.Position
	awaiting []*domain.Position
	deleted  []string
}

func (f *fakePositionSource) GetClosedPositions(_ context.Context, _ int) ([]*domain.Position, error) {
	return f.closed, nil
}

func (f *fakePositionSource) GetAwaitingBackfill(_ context.Context, _ int) ([]*domain.Position, error) {
	return f.awaiting, nil
}

func (f *fakePositionSource) DeletePositions(_ context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

type fakeBackfiller struct {
	repaired []string
	complete bool
}

func (f *fakeBackfiller) BackfillExitFills(_ context.Context, p *domain.Position) (bool, error) {
	f.repaired = append(f.repaired, p.PositionID)
	if f.complete {
		p.AwaitingBackfill = false
	}
	return f.complete, nil
}

type fakeSignalLookup struct {
	signals map[string]*domain.Signal
}

func (f *fakeSignalLookup) GetSignal(_ context.Context, id string) (*domain.Signal, error) {
	return f.signals[id], nil
}

func closedTrade() *domain.Position {
	exit := 110.0
	exitTime := time.Date(2026, 8, 20, 14, 0, 0, 0, time.UTC)
	return &domain.Position{
		PositionID:     "pos-1",
		SignalID:       "pos-1",
		Symbol:         "AAPL",
		AssetClass:     domain.AssetEquity,
		Side:           domain.SideBuy,
		Status:         domain.PositionClosed,
		TradeType:      domain.TradeExecuted,
		Qty:            10,
		OriginalQty:    10,
		EntryFillPrice: 100,
		ExitFillPrice:  &exit,
		ExitTime:       &exitTime,
		ExitReason:     domain.ExitTPHit,
		RealizedPnLUSD: 100,
		RealizedPnLPct: 10,
		CreatedAt:      exitTime.AddDate(0, 0, -5),
	}
}

func tradeWindowBars(from time.Time, days int, high float64) []domain.Bar {
	bars := make([]domain.Bar, days)
	for i := range bars {
		bars[i] = domain.Bar{
			Ts:    from.AddDate(0, 0, i),
			Open:  100, Close: 105, Low: 98, High: high,
			Volume: 1000,
		}
	}
	return bars
}

func TestTradesPipelineArchivesAndCleansUp(t *testing.T) {
	p := closedTrade()
	positions := &fakePositionSource{closed: []*domain.Position{p}}
	signals := &fakeSignalLookup{signals: map[string]*domain.Signal{
		"pos-1": {SignalID: "pos-1", PatternName: "BULL_FLAG", TakeProfit3: 110, SuggestedStop: 95},
	}}
	bars := marketdata.NewMockProvider()
	bars.SetBars("AAPL", tradeWindowBars(p.CreatedAt, 6, 115))
	writer := &recordingWriter{}

	pipe := NewTradesPipeline(positions, signals, brokerage.NewMockBroker(), bars, writer, nil)
	count, err := NewRunner(nil, nil).Run(context.Background(), pipe)
	if err != nil || count != 1 {
		t.Fatalf("Should archive one trade, got %d err=%v", count, err)
	}
	if writer.fact != warehouse.TableTrades {
		t.Errorf("Should write to fact_trades, got %s", writer.fact)
	}

	row := writer.rows[0]
	if row["ds"] != "2026-08-20" {
		t.Errorf("ds should be the close date, got %v", row["ds"])
	}
	if row["pattern_name"] != "BULL_FLAG" {
		t.Errorf("Pattern should come from the signal, got %v", row["pattern_name"])
	}
	// High 115 against entry 100 during the window.
	if row["mfe_pct"] != 15.0 {
		t.Errorf("MFE should be 15%%, got %v", row["mfe_pct"])
	}
	if row["fee_finalized"] != true {
		t.Error("Equity fees are final at archival time")
	}
	if len(positions.deleted) != 1 || positions.deleted[0] != "pos-1" {
		t.Errorf("Source position should be deleted after merge, got %v", positions.deleted)
	}
}

func TestTradesPipelineCryptoFeesStayEstimated(t *testing.T) {
	p := closedTrade()
	p.Symbol = "BTC/USD"
	p.AssetClass = domain.AssetCrypto
	positions := &fakePositionSource{closed: []*domain.Position{p}}
	writer := &recordingWriter{}

	pipe := NewTradesPipeline(positions, &fakeSignalLookup{}, brokerage.NewMockBroker(), marketdata.NewMockProvider(), writer, nil)
	if _, err := NewRunner(nil, nil).Run(context.Background(), pipe); err != nil {
		t.Fatal(err)
	}

	row := writer.rows[0]
	if row["fee_finalized"] != false {
		t.Error("Crypto fees await CFEE reconciliation")
	}
	fees := row["fees_usd"].(float64)
	if fees <= 0 {
		t.Errorf("Crypto trade should carry a taker-fee estimate, got %f", fees)
	}
}

func TestTradesPipelineRepairsAwaitingBackfillFirst(t *testing.T) {
	parked := closedTrade()
	parked.PositionID = "pos-2"
	parked.AwaitingBackfill = true
	positions := &fakePositionSource{awaiting: []*domain.Position{parked}}
	backfill := &fakeBackfiller{complete: true}

	pipe := NewTradesPipeline(positions, &fakeSignalLookup{}, brokerage.NewMockBroker(), marketdata.NewMockProvider(), &recordingWriter{}, backfill)
	if _, err := NewRunner(nil, nil).Run(context.Background(), pipe); err != nil {
		t.Fatal(err)
	}
	if len(backfill.repaired) != 1 || backfill.repaired[0] != "pos-2" {
		t.Errorf("Awaiting positions should be backfilled before extraction, got %v", backfill.repaired)
	}
}

func TestFeePatchFallsBackToZeroFee(t *testing.T) {
	store := &fakeFeeStore{trades: []warehouse.TradeFeeRow{{
		ID: "pos-1", DS: "2026-08-20", Symbol: "BTC/USD",
		ClosedAt: time.Now().UTC().Add(-48 * time.Hour),
	}}}
	broker := brokerage.NewMockBroker() // no CFEE activities

	pipe := NewFeePatchPipeline(store, broker)
	count, err := NewRunner(nil, nil).Run(context.Background(), pipe)
	if err != nil || count != 1 {
		t.Fatalf("Patch should finalize one trade, got %d err=%v", count, err)
	}
	if store.finalized["pos-1"] != 0 {
		t.Errorf("Missing activities should finalize at zero fee, got %f", store.finalized["pos-1"])
	}
}

func TestFeePatchSumsMatchingActivities(t *testing.T) {
	closedAt := time.Now().UTC().Add(-48 * time.Hour)
	store := &fakeFeeStore{trades: []warehouse.TradeFeeRow{{
		ID: "pos-1", DS: "2026-08-20", Symbol: "BTC/USD", ClosedAt: closedAt,
	}}}
	broker := brokerage.NewMockBroker()
	broker.Activities = []brokerage.Activity{
		{ActivityType: brokerage.ActivityTypeCryptoFee, Symbol: "BTCUSD", NetAmount: -1.25, Date: closedAt.Format("2006-01-02")},
		{ActivityType: brokerage.ActivityTypeCryptoFee, Symbol: "ETHUSD", NetAmount: -9.99, Date: closedAt.Format("2006-01-02")},
	}

	pipe := NewFeePatchPipeline(store, broker)
	if _, err := NewRunner(nil, nil).Run(context.Background(), pipe); err != nil {
		t.Fatal(err)
	}
	if store.finalized["pos-1"] != 1.25 {
		t.Errorf("Only the matching symbol's CFEE should count, got %f", store.finalized["pos-1"])
	}
}

type fakeFeeStore struct {
	trades    []warehouse.TradeFeeRow
	finalized map[string]float64
}

func (f *fakeFeeStore) UnfinalizedCryptoTrades(_ context.Context, _ time.Time, _ int) ([]warehouse.TradeFeeRow, error) {
	return f.trades, nil
}

func (f *fakeFeeStore) FinalizeTradeFee(_ context.Context, id, _ string, fee float64) error {
	if f.finalized == nil {
		f.finalized = make(map[string]float64)
	}
	f.finalized[id] = fee
	return nil
}
