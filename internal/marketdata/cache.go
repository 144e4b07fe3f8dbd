package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/logging"

	"github.com/rs/zerolog"
)

// CachingProvider memoises bars on disk. The key includes the current UTC
// date so a cache entry never straddles trading sessions. Writes are
// tmp+rename so a crashed write never leaves a torn file.
type CachingProvider struct {
	inner  Provider
	dir    string
	logger zerolog.Logger
}

var _ Provider = (*CachingProvider)(nil)

// NewCachingProvider wraps a provider with the on-disk cache.
func NewCachingProvider(inner Provider, dir string) *CachingProvider {
	return &CachingProvider{
		inner:  inner,
		dir:    dir,
		logger: logging.Component("marketdata-cache"),
	}
}

func (c *CachingProvider) GetDailyBars(ctx context.Context, symbol string, assetClass domain.AssetClass, lookbackDays int) ([]domain.Bar, error) {
	path := c.cachePath(symbol, assetClass, lookbackDays)
	if bars, ok := c.read(path); ok {
		return bars, nil
	}

	bars, err := c.inner.GetDailyBars(ctx, symbol, assetClass, lookbackDays)
	if err != nil {
		return nil, err
	}
	c.write(path, bars)
	return bars, nil
}

func (c *CachingProvider) GetDailyBarsMulti(ctx context.Context, symbols []string, assetClass domain.AssetClass, lookbackDays int) (map[string][]domain.Bar, error) {
	out := make(map[string][]domain.Bar, len(symbols))
	var misses []string
	for _, sym := range symbols {
		if bars, ok := c.read(c.cachePath(sym, assetClass, lookbackDays)); ok {
			out[sym] = bars
		} else {
			misses = append(misses, sym)
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := c.inner.GetDailyBarsMulti(ctx, misses, assetClass, lookbackDays)
	if err != nil {
		return nil, err
	}
	for sym, bars := range fetched {
		out[sym] = bars
		c.write(c.cachePath(sym, assetClass, lookbackDays), bars)
	}
	return out, nil
}

func (c *CachingProvider) cachePath(symbol string, assetClass domain.AssetClass, lookbackDays int) string {
	day := time.Now().UTC().Format("2006-01-02")
	name := fmt.Sprintf("%s_%s_%d_%s.json", sanitize(symbol), assetClass, lookbackDays, day)
	return filepath.Join(c.dir, name)
}

func (c *CachingProvider) read(path string) ([]domain.Bar, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var bars []domain.Bar
	if err := json.Unmarshal(data, &bars); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("discarding unreadable cache entry")
		return nil, false
	}
	return bars, true
}

func (c *CachingProvider) write(path string, bars []domain.Bar) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		c.logger.Warn().Err(err).Msg("cache dir unavailable")
		return
	}
	data, err := json.Marshal(bars)
	if err != nil {
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("cache write failed")
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("cache rename failed")
		os.Remove(tmp)
	}
}

func sanitize(symbol string) string {
	out := make([]rune, 0, len(symbol))
	for _, r := range symbol {
		if r == '/' || r == ':' {
			r = '-'
		}
		out = append(out, r)
	}
	return string(out)
}
