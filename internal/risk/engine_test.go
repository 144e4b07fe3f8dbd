package risk

import (
	"context"
	"testing"
	"time"

	"alpaca-signal-engine/config"
	"alpaca-signal-engine/internal/brokerage"
	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/marketdata"
)

type fakePositions struct {
	bySymbol map[string]*domain.Position
	open     []*domain.Position
}

func (f *fakePositions) GetOpenPositionBySymbol(_ context.Context, symbol string) (*domain.Position, error) {
	return f.bySymbol[symbol], nil
}

func (f *fakePositions) GetOpenPositions(_ context.Context, _ bool) ([]*domain.Position, error) {
	return f.open, nil
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		RiskPerTrade:        100,
		MaxCryptoPositions:  2,
		MaxEquityPositions:  3,
		MaxDailyDrawdownPct: 3.0,
		MinAssetBPUSD:       100,
		CorrelationWindow:   90,
		CorrelationLimit:    0.8,
	}
}

func candidate(symbol string, class domain.AssetClass) *domain.Signal {
	return &domain.Signal{Symbol: symbol, AssetClass: class, Side: domain.SideBuy, EntryPrice: 100, SuggestedStop: 95}
}

func trendBars(n int, slope float64) []domain.Bar {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		close := 100 + slope*float64(i)
		bars[i] = domain.Bar{Ts: base.AddDate(0, 0, i), Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 1000}
	}
	return bars
}

func TestEvaluateAllGatesPass(t *testing.T) {
	broker := brokerage.NewMockBroker()
	e := NewEngine(testRiskConfig(), broker, &fakePositions{bySymbol: map[string]*domain.Position{}}, marketdata.NewMockProvider(), []string{"BTC/USD"})

	res := e.Evaluate(context.Background(), candidate("AAPL", domain.AssetEquity))
	if !res.Passed {
		t.Fatalf("All gates should pass, blocked by %s: %s", res.Gate, res.Reason)
	}
}

func TestDrawdownGateBlocks(t *testing.T) {
	broker := brokerage.NewMockBroker()
	broker.Account_.Equity = 90000
	broker.Account_.LastEquity = 100000 // -10% today

	e := NewEngine(testRiskConfig(), broker, &fakePositions{}, marketdata.NewMockProvider(), nil)
	res := e.Evaluate(context.Background(), candidate("AAPL", domain.AssetEquity))
	if res.Passed || res.Gate != GateDailyDrawdown {
		t.Fatalf("Should block on daily drawdown, got %+v", res)
	}
}

func TestDrawdownGatePassesOnZeroLastEquity(t *testing.T) {
	broker := brokerage.NewMockBroker()
	broker.Account_.LastEquity = 0

	e := NewEngine(testRiskConfig(), broker, &fakePositions{}, marketdata.NewMockProvider(), nil)
	res := e.checkDailyDrawdown(context.Background(), candidate("AAPL", domain.AssetEquity))
	if !res.Passed {
		t.Error("Zero last_equity should pass the drawdown gate")
	}
}

func TestDuplicateSymbolGateBlocks(t *testing.T) {
	broker := brokerage.NewMockBroker()
	positions := &fakePositions{bySymbol: map[string]*domain.Position{
		"AAPL": {Symbol: "AAPL", Status: domain.PositionOpen},
	}}

	e := NewEngine(testRiskConfig(), broker, positions, marketdata.NewMockProvider(), nil)
	res := e.Evaluate(context.Background(), candidate("AAPL", domain.AssetEquity))
	if res.Passed || res.Gate != GateDuplicateSymbol {
		t.Fatalf("Should block duplicate symbol, got %+v", res)
	}
}

func TestSectorCapCountsBrokerPositions(t *testing.T) {
	broker := brokerage.NewMockBroker()
	broker.Positions["BTCUSD"] = &brokerage.Position{Symbol: "BTCUSD", Qty: 1}
	broker.Positions["ETHUSD"] = &brokerage.Position{Symbol: "ETHUSD", Qty: 1}

	e := NewEngine(testRiskConfig(), broker, &fakePositions{}, marketdata.NewMockProvider(), []string{"BTC/USD", "ETH/USD", "SOL/USD"})
	res := e.Evaluate(context.Background(), candidate("SOL/USD", domain.AssetCrypto))
	if res.Passed || res.Gate != GateSectorCap {
		t.Fatalf("Should block at the crypto cap of 2, got %+v", res)
	}

	// Equities are a separate bucket and stay open.
	res = e.Evaluate(context.Background(), candidate("AAPL", domain.AssetEquity))
	if !res.Passed {
		t.Errorf("Equity candidate should pass, blocked by %s", res.Gate)
	}
}

func TestCorrelationGateBlocksHighCorrelation(t *testing.T) {
	broker := brokerage.NewMockBroker()
	bars := marketdata.NewMockProvider()
	// Identical upward trends correlate at 1.0.
	bars.SetBars("AAPL", trendBars(90, 1))
	bars.SetBars("MSFT", trendBars(90, 2))

	positions := &fakePositions{open: []*domain.Position{{Symbol: "MSFT", AssetClass: domain.AssetEquity, Status: domain.PositionOpen}}}
	e := NewEngine(testRiskConfig(), broker, positions, bars, nil)

	res := e.Evaluate(context.Background(), candidate("AAPL", domain.AssetEquity))
	if res.Passed || res.Gate != GateCorrelation {
		t.Fatalf("Should block on correlation, got %+v", res)
	}
}

// Missing bar history for the candidate or any open position fails closed.
func TestCorrelationGateBlocksOnMissingData(t *testing.T) {
	broker := brokerage.NewMockBroker()
	bars := marketdata.NewMockProvider()
	bars.SetBars("AAPL", trendBars(90, 1))

	positions := &fakePositions{open: []*domain.Position{{Symbol: "MSFT", AssetClass: domain.AssetEquity, Status: domain.PositionOpen}}}
	e := NewEngine(testRiskConfig(), broker, positions, bars, nil)

	res := e.checkCorrelation(context.Background(), candidate("AAPL", domain.AssetEquity))
	if res.Passed || res.Gate != GateCorrelation {
		t.Fatalf("Missing history must fail closed, got %+v", res)
	}
}

func TestBuyingPowerGatePerAssetClass(t *testing.T) {
	broker := brokerage.NewMockBroker()
	broker.Account_.NonMarginableBuyingPower = 50 // below the 100 floor
	broker.Account_.RegTBuyingPower = 200000

	e := NewEngine(testRiskConfig(), broker, &fakePositions{}, marketdata.NewMockProvider(), nil)

	res := e.checkBuyingPower(context.Background(), candidate("BTC/USD", domain.AssetCrypto))
	if res.Passed || res.Gate != GateBuyingPower {
		t.Fatalf("Crypto should block on non-marginable BP, got %+v", res)
	}

	res = e.checkBuyingPower(context.Background(), candidate("AAPL", domain.AssetEquity))
	if !res.Passed {
		t.Error("Equity should pass on Reg-T BP")
	}
}

func TestPearsonCloses(t *testing.T) {
	a := trendBars(30, 1)
	b := trendBars(30, 3)
	corr, valid := PearsonCloses(a, b)
	if !valid {
		t.Fatal("Correlation should be computable")
	}
	if corr < 0.999 {
		t.Errorf("Linear trends should correlate at 1.0, got %f", corr)
	}

	flat := trendBars(30, 0)
	if _, valid := PearsonCloses(a, flat); valid {
		t.Error("Constant series must be reported as not computable")
	}
}
