// Package marketdata fetches daily OHLCV bars behind a capability
// interface, with an optional on-disk cache keyed per trading day.
package marketdata

import (
	"context"

	"alpaca-signal-engine/internal/domain"
)

// Provider serves daily bars. Implementations must be safe for concurrent
// reads and idempotent for the same arguments within a trading day.
type Provider interface {
	// GetDailyBars returns up to lookbackDays daily bars for one symbol in
	// ascending timestamp order. Empty output means no data, not an error.
	GetDailyBars(ctx context.Context, symbol string, assetClass domain.AssetClass, lookbackDays int) ([]domain.Bar, error)

	// GetDailyBarsMulti returns bars for several symbols keyed by symbol.
	GetDailyBarsMulti(ctx context.Context, symbols []string, assetClass domain.AssetClass, lookbackDays int) (map[string][]domain.Bar, error)
}
