package marketdata

import (
	"context"
	"fmt"
	"time"

	"alpaca-signal-engine/config"
	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/logging"

	md "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rs/zerolog"
)

// AlpacaProvider fetches daily bars from the Alpaca data API. Equity and
// crypto go through separate endpoints with the same bar shape.
type AlpacaProvider struct {
	client *md.Client
	logger zerolog.Logger
}

var _ Provider = (*AlpacaProvider)(nil)

// NewAlpacaProvider builds the data adapter.
func NewAlpacaProvider(cfg config.BrokerConfig) *AlpacaProvider {
	return &AlpacaProvider{
		client: md.NewClient(md.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
		}),
		logger: logging.Component("marketdata"),
	}
}

func (p *AlpacaProvider) GetDailyBars(ctx context.Context, symbol string, assetClass domain.AssetClass, lookbackDays int) ([]domain.Bar, error) {
	start, end := window(lookbackDays)

	if assetClass == domain.AssetCrypto {
		raw, err := p.client.GetCryptoBars(symbol, md.GetCryptoBarsRequest{
			TimeFrame: md.OneDay,
			Start:     start,
			End:       end,
		})
		if err != nil {
			return nil, fmt.Errorf("get crypto bars %s: %w", symbol, err)
		}
		return fromCryptoBars(raw), nil
	}

	raw, err := p.client.GetBars(symbol, md.GetBarsRequest{
		TimeFrame:  md.OneDay,
		Start:      start,
		End:        end,
		Adjustment: md.Split,
	})
	if err != nil {
		return nil, fmt.Errorf("get bars %s: %w", symbol, err)
	}
	return fromStockBars(raw), nil
}

func (p *AlpacaProvider) GetDailyBarsMulti(ctx context.Context, symbols []string, assetClass domain.AssetClass, lookbackDays int) (map[string][]domain.Bar, error) {
	start, end := window(lookbackDays)
	out := make(map[string][]domain.Bar, len(symbols))

	if assetClass == domain.AssetCrypto {
		raw, err := p.client.GetCryptoMultiBars(symbols, md.GetCryptoBarsRequest{
			TimeFrame: md.OneDay,
			Start:     start,
			End:       end,
		})
		if err != nil {
			return nil, fmt.Errorf("get crypto multi bars: %w", err)
		}
		for sym, bars := range raw {
			out[sym] = fromCryptoBars(bars)
		}
		return out, nil
	}

	raw, err := p.client.GetMultiBars(symbols, md.GetBarsRequest{
		TimeFrame:  md.OneDay,
		Start:      start,
		End:        end,
		Adjustment: md.Split,
	})
	if err != nil {
		return nil, fmt.Errorf("get multi bars: %w", err)
	}
	for sym, bars := range raw {
		out[sym] = fromStockBars(bars)
	}
	return out, nil
}

func window(lookbackDays int) (time.Time, time.Time) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -lookbackDays)
	return start, end
}

func fromStockBars(raw []md.Bar) []domain.Bar {
	bars := make([]domain.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, domain.Bar{
			Ts:     b.Timestamp,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	return bars
}

func fromCryptoBars(raw []md.CryptoBar) []domain.Bar {
	bars := make([]domain.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, domain.Bar{
			Ts:     b.Timestamp,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}
	return bars
}
