package signal

import (
	"time"

	"github.com/rs/zerolog"

	"alpaca-signal-engine/internal/confluence"
	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/indicators"
	"alpaca-signal-engine/internal/logging"
	"alpaca-signal-engine/internal/patterns"
)

// priority is the fixed selection order when several patterns fire on the
// same bar: continuation beats reversal beats single-bar shapes. Patterns
// not in the mandated head keep their family order behind it. Harmonics
// never appear here; a detected harmonic is extra confluence on the
// primary, not a primary itself.
var priority = []patterns.Type{
	patterns.BullFlag,
	patterns.ThreeWhiteSoldiers,
	patterns.BullishMarubozu,
	patterns.MorningStar,
	patterns.PiercingLine,
	patterns.BullishEngulfing,
	patterns.BullishHammer,
	patterns.InvertedHammer,
	patterns.DoubleBottom,
	patterns.CupAndHandle,
	patterns.InverseHeadAndShoulders,
	patterns.AscendingTriangle,
	patterns.FallingWedge,
	patterns.TweezerBottoms,
	patterns.RisingThreeMethods,
	patterns.ThreeInsideUp,
	patterns.BullishKicker,
	patterns.BullishHarami,
	patterns.BullishBeltHold,
	patterns.DragonflyDoji,
}

// CooldownPolicy refuses a new signal for a symbol inside the window after
// certain terminal exits.
type CooldownPolicy struct {
	Duration  time.Duration
	AppliesTo []domain.SignalStatus
}

// DefaultCooldown applies 24h after structural invalidation and runner
// exits; expiry carries no cooldown.
func DefaultCooldown(hours int) CooldownPolicy {
	return CooldownPolicy{
		Duration:  time.Duration(hours) * time.Hour,
		AppliesTo: []domain.SignalStatus{domain.StatusInvalidated, domain.StatusTP3Hit},
	}
}

// Blocks reports whether the most recent exit holds the symbol in
// cooldown at now.
func (p CooldownPolicy) Blocks(lastExit *domain.Signal, now time.Time) bool {
	if lastExit == nil || p.Duration <= 0 {
		return false
	}
	applies := false
	for _, st := range p.AppliesTo {
		if lastExit.Status == st {
			applies = true
			break
		}
	}
	if !applies {
		return false
	}
	return now.Sub(lastExit.CreatedAt) < p.Duration
}

// Generator converts bars into signals and advances live signals. One
// generator serves every symbol; it carries no per-symbol state.
type Generator struct {
	analyzer   *patterns.Analyzer
	strategyID string
	cooldown   CooldownPolicy
	ttl        time.Duration
	logger     zerolog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewGenerator builds the generator.
func NewGenerator(analyzer *patterns.Analyzer, strategyID string, cooldown CooldownPolicy, ttl time.Duration) *Generator {
	return &Generator{
		analyzer:   analyzer,
		strategyID: strategyID,
		cooldown:   cooldown,
		ttl:        ttl,
		logger:     logging.Component("signal"),
		now:        time.Now,
	}
}

// GenerateSignal evaluates the latest bar of symbol's series and returns a
// signal when a pattern passes confluence, or nil. lastExit is the
// symbol's most recent terminal signal for cooldown, nil when none.
func (g *Generator) GenerateSignal(symbol string, assetClass domain.AssetClass, bars []domain.Bar, lastExit *domain.Signal) *domain.Signal {
	if len(bars) == 0 {
		return nil
	}
	now := g.now().UTC()

	if g.cooldown.Blocks(lastExit, now) {
		g.logger.Debug().Str("symbol", symbol).Msg("symbol in cooldown, skipping generation")
		return nil
	}

	cols := indicators.Compute(bars)
	bp := g.analyzer.Analyze(bars)
	i := len(bars) - 1

	primary, gate := g.selectPrimary(bars, cols, bp, i)
	if primary == "" {
		return nil
	}

	meta := bp.MetaFor(primary)
	params := BuildParams(primary, meta, bars, cols, i)
	classification := Classification(primary, meta)

	factors := append([]string(nil), gate.Factors...)
	var harmonic map[string]float64
	if bp.Harmonic != "" {
		factors = append(factors, confluence.FactorHarmonicPrefix+string(bp.Harmonic))
		if hm := bp.MetaFor(bp.Harmonic); hm != nil {
			harmonic = hm.Ratios
		}
	}

	anchors := Anchors(bp.Pivots)
	if meta != nil && len(meta.Anchors) > 0 {
		anchors = Anchors(meta.Anchors)
	}

	bar := bars[i]
	ds := domain.DateDS(bar.Ts)
	s := &domain.Signal{
		SignalID:   domain.NewSignalID(ds, g.strategyID, symbol, string(primary), bar.Ts),
		DS:         ds,
		StrategyID: g.strategyID,
		Symbol:     symbol,
		AssetClass: assetClass,
		Side:       domain.SideBuy,

		PatternName:           string(primary),
		PatternClassification: classification,
		PatternDurationDays:   DurationDays(primary, meta),
		StructuralAnchors:     anchors,
		HarmonicMetadata:      harmonic,

		EntryPrice:        params.Entry,
		SuggestedStop:     params.Stop,
		InvalidationPrice: params.Invalidation,
		TakeProfit1:       params.TP1,
		TakeProfit2:       params.TP2,
		TakeProfit3:       params.TP3,

		Status:          domain.StatusWaiting,
		BarTs:           bar.Ts,
		CreatedAt:       now,
		ValidUntil:      bar.Ts.Add(Validity(classification)),
		DeleteAt:        now.Add(g.ttl),
		LastNotifiedTP3: params.TP3,

		ConfluenceFactors:  factors,
		ConfluenceSnapshot: gate.Snapshot,
	}

	g.logger.Info().
		Str("symbol", symbol).
		Str("pattern", string(primary)).
		Float64("entry", s.EntryPrice).
		Float64("stop", s.SuggestedStop).
		Msg("signal generated")
	return s
}

// selectPrimary walks the priority order and returns the first flagged
// pattern whose confluence gate passes.
func (g *Generator) selectPrimary(bars []domain.Bar, cols *indicators.Columns, bp *patterns.BarPatterns, i int) (patterns.Type, confluence.Result) {
	ctx := confluence.NewContext(bars, cols, i)
	for _, t := range priority {
		if !bp.Has(t) {
			continue
		}
		if res := ctx.Evaluate(t); res.Passed {
			return t, res
		}
	}
	return "", confluence.Result{}
}
