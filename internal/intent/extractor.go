// Package intent detects strategy-creation requests in chat utterances and
// derives session titles. Everything here is deterministic keyword and
// pattern matching; there is no state.
package intent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/brokernomex/strategy-chat/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const defaultSymbol = "AAPL"

var defaultCapital = decimal.NewFromInt(10000)

var creationVerbs = []string{
	"create", "build", "set up", "design", "make", "generate", "develop",
}

var strategyNouns = []string{
	"strategy", "bot", "covered call", "iron condor", "straddle", "wheel",
	"grid", "dca", "rebalance", "momentum", "pairs trading",
}

type typeRule struct {
	keyword string
	typ     domain.StrategyType
}

// Order matters: first match wins.
var typeRules = []typeRule{
	{"covered call", domain.StrategyCoveredCalls},
	{"iron condor", domain.StrategyIronCondor},
	{"straddle", domain.StrategyStraddle},
	{"wheel", domain.StrategyWheel},
	{"grid", domain.StrategySpotGrid},
	{"dca", domain.StrategyDCA},
	{"rebalance", domain.StrategySmartRebalance},
}

var (
	capitalPattern = regexp.MustCompile(`\$?(\d+(?:,\d{3})*(?:\.\d{2})?)([kK])?`)
	symbolPattern  = regexp.MustCompile(`\b([A-Z]{2,5})\b`)
)

// Extract returns a draft when utterance asks to create a strategy, or nil.
// Both a creation verb and a strategy noun must appear in the utterance; the
// assistant reply never changes the outcome.
func Extract(utterance, reply string) *domain.StrategyDraft {
	lower := strings.ToLower(utterance)
	if !containsAny(lower, creationVerbs) || !containsAny(lower, strategyNouns) {
		return nil
	}

	typ := DetectType(lower)
	symbol := ExtractSymbol(utterance)
	words := strings.ReplaceAll(string(typ), "_", " ")

	return &domain.StrategyDraft{
		Name:          fmt.Sprintf("AI %s - %s", cases.Title(language.English).String(words), symbol),
		Type:          typ,
		Description:   fmt.Sprintf("AI-generated %s strategy for %s based on your requirements.", words, symbol),
		RiskLevel:     DetectRisk(lower),
		MinCapital:    ExtractCapital(utterance),
		Configuration: DefaultConfiguration(typ, symbol),
		Reasoning: fmt.Sprintf("This strategy was created based on your request: %q. "+
			"The AI analyzed your requirements and configured the strategy with appropriate parameters for your risk level and capital amount.", utterance),
	}
}

// DetectType maps a lower-cased utterance to a strategy kind, defaulting to covered calls.
func DetectType(lower string) domain.StrategyType {
	for _, rule := range typeRules {
		if strings.Contains(lower, rule.keyword) {
			return rule.typ
		}
	}
	return domain.StrategyCoveredCalls
}

// DetectRisk maps a lower-cased utterance to a risk level, defaulting to medium.
func DetectRisk(lower string) domain.RiskLevel {
	switch {
	case strings.Contains(lower, "conservative"), strings.Contains(lower, "low risk"):
		return domain.RiskLow
	case strings.Contains(lower, "aggressive"), strings.Contains(lower, "high risk"):
		return domain.RiskHigh
	}
	return domain.RiskMedium
}

// ExtractCapital returns the first currency-like amount in text.
// A trailing k or K on the matched amount multiplies it by 1000. Amounts
// that are not positive yield the default capital.
func ExtractCapital(text string) decimal.Decimal {
	m := capitalPattern.FindStringSubmatch(text)
	if m == nil {
		return defaultCapital
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return defaultCapital
	}
	if m[2] != "" {
		amount = amount.Mul(decimal.NewFromInt(1000))
	}
	if !amount.IsPositive() {
		return defaultCapital
	}
	return amount
}

// ExtractSymbol returns the first bare uppercase token of 2 to 5 letters.
func ExtractSymbol(text string) string {
	if m := symbolPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return defaultSymbol
}

// DefaultConfiguration returns the static parameter set for typ merged with symbol.
func DefaultConfiguration(typ domain.StrategyType, symbol string) map[string]any {
	config := map[string]any{"symbol": symbol}
	switch typ {
	case domain.StrategyCoveredCalls:
		config["strike_delta"] = 0.30
		config["dte_target"] = 30
		config["profit_target"] = 0.5
	case domain.StrategyIronCondor:
		config["wing_width"] = 10
		config["dte_target"] = 45
		config["profit_target"] = 0.25
	case domain.StrategySpotGrid:
		config["price_range_lower"] = 0
		config["price_range_upper"] = 0
		config["number_of_grids"] = 25
		config["grid_spacing_percent"] = 1.0
	case domain.StrategyDCA:
		config["investment_amount_per_interval"] = 100
		config["frequency"] = "daily"
		config["investment_target_percent"] = 20
	}
	return config
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
