package archival

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"alpaca-signal-engine/config"
)

type strategyStore interface {
	UpsertStrategy(ctx context.Context, strategyID, hash string, payload []byte, now time.Time) (bool, error)
}

// strategyContent is the hashed slice of configuration that defines a
// strategy's identity over time.
type strategyContent struct {
	StrategyID     string   `json:"strategy_id"`
	CryptoSymbols  []string `json:"crypto_symbols"`
	EquitySymbols  []string `json:"equity_symbols"`
	PivotThreshold float64  `json:"pivot_threshold"`
	RiskPerTrade   float64  `json:"risk_per_trade"`
	CooldownHours  int      `json:"cooldown_hours"`
}

// StrategySyncPipeline maintains the SCD Type 2 strategy dimension: when
// the hashed strategy content changes, the current row is closed and a new
// current row inserted; an unchanged hash leaves the dimension untouched.
type StrategySyncPipeline struct {
	cfg   *config.Config
	store strategyStore
	now   func() time.Time
}

// NewStrategySyncPipeline wires the strategy dimension sync.
func NewStrategySyncPipeline(cfg *config.Config, store strategyStore) *StrategySyncPipeline {
	return &StrategySyncPipeline{cfg: cfg, store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (s *StrategySyncPipeline) Name() string { return "strategies" }

func (s *StrategySyncPipeline) Extract(context.Context) ([]interface{}, error) {
	content := strategyContent{
		StrategyID:     s.cfg.EngineConfig.StrategyID,
		CryptoSymbols:  s.cfg.EngineConfig.CryptoSymbols,
		EquitySymbols:  s.cfg.EngineConfig.EquitySymbols,
		PivotThreshold: s.cfg.EngineConfig.PivotThreshold,
		RiskPerTrade:   s.cfg.RiskConfig.RiskPerTrade,
		CooldownHours:  s.cfg.EngineConfig.CooldownHours,
	}
	return []interface{}{content}, nil
}

func (s *StrategySyncPipeline) Transform(_ context.Context, records []interface{}) ([]Row, error) {
	content, okCast := records[0].(strategyContent)
	if !okCast {
		return nil, fmt.Errorf("unexpected record type %T", records[0])
	}
	payload, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal strategy content: %w", err)
	}
	sum := sha256.Sum256(payload)
	return []Row{{
		"strategy_id": content.StrategyID,
		"hash":        hex.EncodeToString(sum[:]),
		"payload":     payload,
	}}, nil
}

func (s *StrategySyncPipeline) Load(ctx context.Context, rows []Row) error {
	row := rows[0]
	_, err := s.store.UpsertStrategy(
		ctx,
		row["strategy_id"].(string),
		row["hash"].(string),
		row["payload"].([]byte),
		s.now(),
	)
	return err
}

func (s *StrategySyncPipeline) Cleanup(context.Context, []interface{}) error { return nil }
