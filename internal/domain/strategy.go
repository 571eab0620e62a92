package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyType enumerates the strategy kinds the platform can run.
type StrategyType string

const (
	StrategyCoveredCalls   StrategyType = "covered_calls"
	StrategyIronCondor     StrategyType = "iron_condor"
	StrategyStraddle       StrategyType = "straddle"
	StrategyWheel          StrategyType = "wheel"
	StrategySpotGrid       StrategyType = "spot_grid"
	StrategyFuturesGrid    StrategyType = "futures_grid"
	StrategyInfinityGrid   StrategyType = "infinity_grid"
	StrategySmartRebalance StrategyType = "smart_rebalance"
	StrategyDCA            StrategyType = "dca"
	StrategyMomentum       StrategyType = "momentum_breakout"
	StrategyPairsTrading   StrategyType = "pairs_trading"
	StrategyMeanReversion  StrategyType = "mean_reversion"
)

var knownStrategyTypes = map[StrategyType]struct{}{
	StrategyCoveredCalls:   {},
	StrategyIronCondor:     {},
	StrategyStraddle:       {},
	StrategyWheel:          {},
	StrategySpotGrid:       {},
	StrategyFuturesGrid:    {},
	StrategyInfinityGrid:   {},
	StrategySmartRebalance: {},
	StrategyDCA:            {},
	StrategyMomentum:       {},
	StrategyPairsTrading:   {},
	StrategyMeanReversion:  {},
}

// Valid reports whether t is a supported strategy kind.
func (t StrategyType) Valid() bool {
	_, ok := knownStrategyTypes[t]
	return ok
}

// RiskLevel is the coarse risk bucket of a strategy.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether r is one of low, medium or high.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// StrategyDraft is an extracted, unconfirmed strategy proposal.
// Drafts are values: confirmation accepts or discards one, never edits it.
type StrategyDraft struct {
	Name          string          `json:"name"`
	Type          StrategyType    `json:"type"`
	Description   string          `json:"description"`
	RiskLevel     RiskLevel       `json:"risk_level"`
	MinCapital    decimal.Decimal `json:"min_capital"`
	Configuration map[string]any  `json:"configuration"`
	Reasoning     string          `json:"reasoning"`
}

// Clone returns a copy whose configuration map is not shared.
func (d StrategyDraft) Clone() StrategyDraft {
	out := d
	out.Configuration = make(map[string]any, len(d.Configuration))
	for k, v := range d.Configuration {
		out.Configuration[k] = v
	}
	return out
}

// TradingStrategy is a persisted strategy record.
type TradingStrategy struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Name          string          `json:"name"`
	Type          StrategyType    `json:"type"`
	Description   string          `json:"description"`
	RiskLevel     RiskLevel       `json:"risk_level"`
	MinCapital    decimal.Decimal `json:"min_capital"`
	IsActive      bool            `json:"is_active"`
	Configuration map[string]any  `json:"configuration"`
	Reasoning     string          `json:"reasoning,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
