package marketdata

import (
	"context"
	"sync"

	"alpaca-signal-engine/internal/domain"
)

// MockProvider serves canned bars for tests.
type MockProvider struct {
	mu   sync.RWMutex
	Bars map[string][]domain.Bar
	Err  error
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider returns an empty mock.
func NewMockProvider() *MockProvider {
	return &MockProvider{Bars: make(map[string][]domain.Bar)}
}

// SetBars seeds the bars returned for a symbol.
func (m *MockProvider) SetBars(symbol string, bars []domain.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Bars[symbol] = bars
}

func (m *MockProvider) GetDailyBars(ctx context.Context, symbol string, assetClass domain.AssetClass, lookbackDays int) ([]domain.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	bars := m.Bars[symbol]
	if lookbackDays > 0 && len(bars) > lookbackDays {
		bars = bars[len(bars)-lookbackDays:]
	}
	return bars, nil
}

func (m *MockProvider) GetDailyBarsMulti(ctx context.Context, symbols []string, assetClass domain.AssetClass, lookbackDays int) (map[string][]domain.Bar, error) {
	out := make(map[string][]domain.Bar, len(symbols))
	for _, sym := range symbols {
		bars, err := m.GetDailyBars(ctx, sym, assetClass, lookbackDays)
		if err != nil {
			return nil, err
		}
		out[sym] = bars
	}
	return out, nil
}
