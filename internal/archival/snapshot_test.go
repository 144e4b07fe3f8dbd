package archival

import (
	"context"
	"testing"

	"alpaca-signal-engine/internal/brokerage"
	"alpaca-signal-engine/internal/warehouse"
)

type recordingWriter struct {
	fact string
	rows []Row
}

func (w *recordingWriter) ArchiveRows(_ context.Context, fact, _, _ string, _ []string, rows []map[string]interface{}) error {
	w.fact = fact
	for _, r := range rows {
		w.rows = append(w.rows, r)
	}
	return nil
}

func equityCurve(n int, values ...float64) []float64 {
	curve := make([]float64, n)
	for i := range curve {
		curve[i] = 100000
	}
	copy(curve, values)
	return curve
}

func TestMaxDrawdownPct(t *testing.T) {
	curve := []float64{100, 120, 90, 110}
	if dd := MaxDrawdownPct(curve); dd != 25 {
		t.Errorf("Drawdown from 120 to 90 should be 25%%, got %f", dd)
	}
	if dd := MaxDrawdownPct(nil); dd != 0 {
		t.Errorf("Empty curve should yield 0, got %f", dd)
	}
}

func TestCalmarGuardrails(t *testing.T) {
	if c := CalmarRatio(equityCurve(10)); c != 0 {
		t.Errorf("History below 30 points should yield 0, got %f", c)
	}
	if c := CalmarRatio(equityCurve(40, 0)); c != 0 {
		t.Errorf("Start equity <= 0 should yield 0, got %f", c)
	}
	if c := CalmarRatio(equityCurve(40)); c != 0 {
		t.Errorf("Flat curve (zero drawdown) should yield 0, got %f", c)
	}

	curve := equityCurve(365)
	curve[100] = 80000 // 20% drawdown
	curve[364] = 110000
	if c := CalmarRatio(curve); c <= 0 {
		t.Errorf("Profitable year with drawdown should have positive Calmar, got %f", c)
	}
}

func TestSnapshotPipelineNeverDeletesSource(t *testing.T) {
	broker := brokerage.NewMockBroker()
	broker.PortfolioHistory_ = brokerage.PortfolioHistory{Equity: equityCurve(40)}
	writer := &recordingWriter{}
	p := NewSnapshotPipeline(broker, writer)
	r := NewRunner(nil, nil)

	count, err := r.Run(context.Background(), p)
	if err != nil || count != 1 {
		t.Fatalf("Snapshot run should archive one row, got %d err=%v", count, err)
	}
	if writer.fact != warehouse.TableSnapshots {
		t.Errorf("Should write to the snapshots table, got %s", writer.fact)
	}
	row := writer.rows[0]
	if row["equity"] != 100000.0 {
		t.Errorf("Equity should come from the account, got %v", row["equity"])
	}
	if row["calmar_ratio"] != 0.0 {
		t.Errorf("Flat curve should report 0 Calmar, got %v", row["calmar_ratio"])
	}
}
