package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
)

const configStateKey = "strategy_config"

var ErrInvalidConfig = errors.New("invalid strategy config")

// LeverageDiffToQuoteAmountRule maps a leverage gap in [GTE, LT) to the
// quote-currency notional to trade.
type LeverageDiffToQuoteAmountRule struct {
	GTE         float64 `json:"gte"`
	LT          float64 `json:"lt"`
	QuoteAmount float64 `json:"quote_amount"`
}

type AlarmConfig struct {
	Enabled    bool    `json:"enabled"`
	GTLeverage float64 `json:"gt_leverage"`
}

type IncreasePairConfig struct {
	Enabled      bool                            `json:"enabled"`
	LTLeverage   float64                         `json:"lt_leverage"`
	GTSpreadRate float64                         `json:"gt_spread_rate"`
	Rules        []LeverageDiffToQuoteAmountRule `json:"leverage_diff_to_quote_amount_rules"`
}

type AlwaysIncreasePairConfig struct {
	Enabled      bool    `json:"enabled"`
	GTSpreadRate float64 `json:"gt_spread_rate"`
	QuoteAmount  float64 `json:"quote_amount"`
}

type DecreasePairConfig struct {
	Enabled      bool                            `json:"enabled"`
	GTLeverage   float64                         `json:"gt_leverage"`
	LTSpreadRate float64                         `json:"lt_spread_rate"`
	Rules        []LeverageDiffToQuoteAmountRule `json:"leverage_diff_to_quote_amount_rules"`
}

type AlwaysDecreasePairConfig struct {
	Enabled      bool    `json:"enabled"`
	LTSpreadRate float64 `json:"lt_spread_rate"`
	QuoteAmount  float64 `json:"quote_amount"`
}

type ClosePairConfig struct {
	Enabled    bool    `json:"enabled"`
	GTLeverage float64 `json:"gt_leverage"`
}

type GarbageCollectConfig struct {
	Enabled              bool    `json:"enabled"`
	LTDecreaseSpreadRate float64 `json:"lt_decrease_spread_rate"`
}

// Config holds every tunable threshold of the engine. It is read every cycle
// and replaced wholesale by UpdateConfig, never mutated in place.
type Config struct {
	Alarm              AlarmConfig              `json:"alarm"`
	IncreasePair       IncreasePairConfig       `json:"increase_pair"`
	AlwaysIncreasePair AlwaysIncreasePairConfig `json:"always_increase_pair"`
	DecreasePair       DecreasePairConfig       `json:"decrease_pair"`
	AlwaysDecreasePair AlwaysDecreasePairConfig `json:"always_decrease_pair"`
	ClosePair          ClosePairConfig          `json:"close_pair"`
	GarbageCollect     GarbageCollectConfig     `json:"garbage_collect"`
}

func DefaultConfig() Config {
	rules := []LeverageDiffToQuoteAmountRule{
		{GTE: 0, LT: 1, QuoteAmount: 100},
		{GTE: 1, LT: 2, QuoteAmount: 200},
		{GTE: 2, LT: 4, QuoteAmount: 400},
		{GTE: 4, LT: math.MaxFloat64, QuoteAmount: 800},
	}
	return Config{
		Alarm:              AlarmConfig{Enabled: true, GTLeverage: 20},
		IncreasePair:       IncreasePairConfig{Enabled: true, LTLeverage: 11, GTSpreadRate: 0.001, Rules: rules},
		AlwaysIncreasePair: AlwaysIncreasePairConfig{Enabled: false, GTSpreadRate: 0.01, QuoteAmount: 100},
		DecreasePair:       DecreasePairConfig{Enabled: true, GTLeverage: 15, LTSpreadRate: 0.0005, Rules: rules},
		AlwaysDecreasePair: AlwaysDecreasePairConfig{Enabled: false, LTSpreadRate: -0.01, QuoteAmount: 100},
		ClosePair:          ClosePairConfig{Enabled: true, GTLeverage: 17},
		GarbageCollect:     GarbageCollectConfig{Enabled: true, LTDecreaseSpreadRate: 0.0002},
	}
}

func (c Config) validate() error {
	if c.IncreasePair.Enabled && c.DecreasePair.Enabled &&
		c.IncreasePair.LTLeverage >= c.DecreasePair.GTLeverage {
		return fmt.Errorf("%w: increase_pair.lt_leverage must be below decrease_pair.gt_leverage", ErrInvalidConfig)
	}
	if c.DecreasePair.Enabled && c.ClosePair.Enabled &&
		c.DecreasePair.GTLeverage > c.ClosePair.GTLeverage {
		return fmt.Errorf("%w: decrease_pair.gt_leverage must not exceed close_pair.gt_leverage", ErrInvalidConfig)
	}
	for _, rules := range [][]LeverageDiffToQuoteAmountRule{c.IncreasePair.Rules, c.DecreasePair.Rules} {
		for _, rule := range rules {
			if rule.GTE >= rule.LT {
				return fmt.Errorf("%w: rule range [%v, %v) is empty", ErrInvalidConfig, rule.GTE, rule.LT)
			}
			if rule.QuoteAmount <= 0 {
				return fmt.Errorf("%w: rule quote_amount must be positive", ErrInvalidConfig)
			}
		}
	}
	return nil
}

// quoteAmountForDiff picks the first rule whose [GTE, LT) range contains the
// leverage gap.
func quoteAmountForDiff(rules []LeverageDiffToQuoteAmountRule, diff float64) (float64, bool) {
	for _, rule := range rules {
		if diff >= rule.GTE && diff < rule.LT {
			return rule.QuoteAmount, true
		}
	}
	return 0, false
}

// GetConfig returns the current configuration snapshot.
func (e *Engine) GetConfig() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// ConfigVersion increments on every successful update.
func (e *Engine) ConfigVersion() int {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfgVersion
}

// UpdateConfig deep-merges a partial JSON document into the current
// configuration, validates the result, and swaps it in atomically. The new
// snapshot is persisted so restarts keep operator tuning.
func (e *Engine) UpdateConfig(ctx context.Context, partial []byte) (Config, error) {
	var patch map[string]any
	if err := json.Unmarshal(partial, &patch); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	merged, err := mergeConfig(e.cfg, patch)
	if err != nil {
		return Config{}, err
	}
	if err := merged.validate(); err != nil {
		return Config{}, err
	}
	e.cfg = merged
	e.cfgVersion++
	if e.store != nil {
		data, err := json.Marshal(merged)
		if err == nil {
			err = e.store.Set(ctx, configStateKey, string(data))
		}
		if err != nil {
			e.log.Warn("failed to persist strategy config", zap.Error(err))
		}
	}
	return merged, nil
}

// loadConfigFromStore replaces the defaults with the last persisted snapshot
// when one exists.
func (e *Engine) loadConfigFromStore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	value, ok, err := e.store.Get(ctx, configStateKey)
	if err != nil || !ok {
		return err
	}
	var cfg Config
	if err := json.Unmarshal([]byte(value), &cfg); err != nil {
		return fmt.Errorf("stored strategy config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()
	return nil
}

func mergeConfig(current Config, patch map[string]any) (Config, error) {
	data, err := json.Marshal(current)
	if err != nil {
		return Config{}, err
	}
	var base map[string]any
	if err := json.Unmarshal(data, &base); err != nil {
		return Config{}, err
	}
	deepMerge(base, patch)
	merged, err := json.Marshal(base)
	if err != nil {
		return Config{}, err
	}
	var out Config
	if err := json.Unmarshal(merged, &out); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return out, nil
}

// deepMerge overlays src onto dst. Nested objects merge key by key; any
// other value, including arrays, replaces the existing one.
func deepMerge(dst, src map[string]any) {
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
}
