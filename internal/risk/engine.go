// Package risk runs the ordered pre-trade gates. Every gate fails closed:
// an internal error blocks the candidate with the gate's name recorded, so
// a flaky dependency can never let an unchecked trade through.
package risk

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"alpaca-signal-engine/config"
	"alpaca-signal-engine/internal/brokerage"
	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/logging"
	"alpaca-signal-engine/internal/marketdata"
)

// Gate names recorded on rejected signals.
const (
	GateDailyDrawdown   = "daily_drawdown"
	GateDuplicateSymbol = "duplicate_symbol"
	GateSectorCap       = "sector_cap"
	GateCorrelation     = "correlation"
	GateBuyingPower     = "buying_power"
)

// GateResult is the outcome of the gate chain. Rejections are values, not
// errors.
type GateResult struct {
	Passed bool
	Gate   string
	Reason string
}

// ok is the passing result.
func ok() GateResult { return GateResult{Passed: true} }

func blocked(gate, format string, args ...interface{}) GateResult {
	return GateResult{Gate: gate, Reason: fmt.Sprintf(format, args...)}
}

// positionLister is the slice of the repository the gates read.
type positionLister interface {
	GetOpenPositionBySymbol(ctx context.Context, symbol string) (*domain.Position, error)
	GetOpenPositions(ctx context.Context, includeTheoretical bool) ([]*domain.Position, error)
}

// Engine evaluates the gate chain in a fixed order, first failure wins.
type Engine struct {
	cfg       config.RiskConfig
	broker    brokerage.Broker
	positions positionLister
	bars      marketdata.Provider
	cryptoSet map[string]bool
	logger    zerolog.Logger
}

// NewEngine builds the risk engine. cryptoSymbols classifies broker
// positions whose asset class the broker does not report.
func NewEngine(cfg config.RiskConfig, broker brokerage.Broker, positions positionLister, bars marketdata.Provider, cryptoSymbols []string) *Engine {
	set := make(map[string]bool, len(cryptoSymbols))
	for _, s := range cryptoSymbols {
		set[normalizeSymbol(s)] = true
	}
	return &Engine{
		cfg:       cfg,
		broker:    broker,
		positions: positions,
		bars:      bars,
		cryptoSet: set,
		logger:    logging.Component("risk"),
	}
}

// Evaluate runs every gate against a candidate signal. The first blocking
// gate stops the chain.
func (e *Engine) Evaluate(ctx context.Context, s *domain.Signal) GateResult {
	gates := []func(context.Context, *domain.Signal) GateResult{
		e.checkDailyDrawdown,
		e.checkDuplicateSymbol,
		e.checkSectorCap,
		e.checkCorrelation,
		e.checkBuyingPower,
	}
	for _, gate := range gates {
		if res := gate(ctx, s); !res.Passed {
			e.logger.Warn().
				Str("symbol", s.Symbol).
				Str("gate", res.Gate).
				Str("reason", res.Reason).
				Msg("signal blocked by risk gate")
			return res
		}
	}
	return ok()
}

// checkDailyDrawdown blocks when today's equity change breaches the
// configured drawdown. Zero last_equity passes (fresh account).
func (e *Engine) checkDailyDrawdown(ctx context.Context, _ *domain.Signal) GateResult {
	account, err := e.broker.GetAccount(ctx)
	if err != nil {
		return blocked(GateDailyDrawdown, "account fetch failed: %v", err)
	}
	if account.LastEquity == 0 {
		return ok()
	}
	dd := (account.Equity - account.LastEquity) / account.LastEquity
	limit := -math.Abs(e.cfg.MaxDailyDrawdownPct) / 100
	if dd < limit {
		return blocked(GateDailyDrawdown, "daily drawdown %.2f%% breaches limit %.2f%%", dd*100, limit*100)
	}
	return ok()
}

// checkDuplicateSymbol blocks pyramiding: one open position per symbol.
func (e *Engine) checkDuplicateSymbol(ctx context.Context, s *domain.Signal) GateResult {
	existing, err := e.positions.GetOpenPositionBySymbol(ctx, s.Symbol)
	if err != nil {
		return blocked(GateDuplicateSymbol, "position lookup failed: %v", err)
	}
	if existing != nil {
		return blocked(GateDuplicateSymbol, "open position exists for %s", s.Symbol)
	}
	return ok()
}

// checkSectorCap counts live broker positions plus pending BUY orders in
// the candidate's asset class. The broker is the source of truth here, not
// the database.
func (e *Engine) checkSectorCap(ctx context.Context, s *domain.Signal) GateResult {
	positions, err := e.broker.GetAllPositions(ctx)
	if err != nil {
		return blocked(GateSectorCap, "broker positions fetch failed: %v", err)
	}
	orders, err := e.broker.GetOrders(ctx, brokerage.OrderFilter{Status: "open", Side: domain.SideBuy, Limit: 500})
	if err != nil {
		return blocked(GateSectorCap, "open orders fetch failed: %v", err)
	}

	count := 0
	seen := make(map[string]bool)
	for _, p := range positions {
		if e.classify(p.Symbol) == s.AssetClass {
			count++
			seen[normalizeSymbol(p.Symbol)] = true
		}
	}
	for _, o := range orders {
		key := normalizeSymbol(o.Symbol)
		if !seen[key] && e.classify(o.Symbol) == s.AssetClass {
			count++
			seen[key] = true
		}
	}

	limit := e.cfg.MaxEquityPositions
	if s.AssetClass == domain.AssetCrypto {
		limit = e.cfg.MaxCryptoPositions
	}
	if count >= limit {
		return blocked(GateSectorCap, "%d %s positions at or above cap %d", count, s.AssetClass, limit)
	}
	return ok()
}

// checkCorrelation blocks when the candidate's daily closes correlate above
// the limit with any open position. Missing data blocks: an unverifiable
// correlation is treated as too high.
func (e *Engine) checkCorrelation(ctx context.Context, s *domain.Signal) GateResult {
	open, err := e.positions.GetOpenPositions(ctx, false)
	if err != nil {
		return blocked(GateCorrelation, "open positions fetch failed: %v", err)
	}
	if len(open) == 0 {
		return ok()
	}

	window := e.cfg.CorrelationWindow
	candidate, err := e.bars.GetDailyBars(ctx, s.Symbol, s.AssetClass, window)
	if err != nil || len(candidate) < 2 {
		return blocked(GateCorrelation, "no bar history for candidate %s", s.Symbol)
	}

	for _, p := range open {
		other, err := e.bars.GetDailyBars(ctx, p.Symbol, p.AssetClass, window)
		if err != nil || len(other) < 2 {
			return blocked(GateCorrelation, "no bar history for open position %s", p.Symbol)
		}
		corr, valid := PearsonCloses(candidate, other)
		if !valid {
			return blocked(GateCorrelation, "correlation with %s not computable", p.Symbol)
		}
		if corr > e.cfg.CorrelationLimit {
			return blocked(GateCorrelation, "correlation %.2f with %s exceeds %.2f", corr, p.Symbol, e.cfg.CorrelationLimit)
		}
	}
	return ok()
}

// checkBuyingPower blocks when the asset class's buying power is below the
// configured floor. Crypto uses non-marginable BP, equities Reg-T.
func (e *Engine) checkBuyingPower(ctx context.Context, s *domain.Signal) GateResult {
	account, err := e.broker.GetAccount(ctx)
	if err != nil {
		return blocked(GateBuyingPower, "account fetch failed: %v", err)
	}
	available := account.RegTBuyingPower
	if s.AssetClass == domain.AssetCrypto {
		available = account.NonMarginableBuyingPower
	}
	if available < e.cfg.MinAssetBPUSD {
		return blocked(GateBuyingPower, "buying power %.2f below minimum %.2f", available, e.cfg.MinAssetBPUSD)
	}
	return ok()
}

// classify buckets a broker symbol into an asset class. The broker strips
// the quote separator from crypto symbols, so both spellings are checked.
func (e *Engine) classify(symbol string) domain.AssetClass {
	if strings.Contains(symbol, "/") || e.cryptoSet[normalizeSymbol(symbol)] {
		return domain.AssetCrypto
	}
	return domain.AssetEquity
}

// normalizeSymbol strips the crypto quote separator, matching the broker's
// position spelling.
func normalizeSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// PearsonCloses computes the Pearson correlation of two close series over
// their overlapping tail. valid is false when either series is constant or
// the overlap is shorter than two points.
func PearsonCloses(a, b []domain.Bar) (float64, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0, false
	}
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		xs[i] = a[len(a)-n+i].Close
		ys[i] = b[len(b)-n+i].Close
	}

	meanX, meanY := mean(xs), mean(ys)
	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varX*varY), true
}

func mean(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
