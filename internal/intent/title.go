package intent

import "strings"

const maxTitleLen = 30

type titleRule struct {
	keywords []string // all must appear
	title    string
}

// Strategy topics first, then general topics. First match wins.
var titleRules = []titleRule{
	{[]string{"covered call"}, "Covered Calls Discussion"},
	{[]string{"iron condor"}, "Iron Condor Strategy"},
	{[]string{"straddle"}, "Straddle Strategy"},
	{[]string{"wheel"}, "Wheel Strategy"},
	{[]string{"grid", "bot"}, "Grid Bot Setup"},
	{[]string{"dca"}, "DCA Strategy"},
	{[]string{"rebalance"}, "Portfolio Rebalancing"},
	{[]string{"risk"}, "Risk Management"},
	{[]string{"portfolio"}, "Portfolio Discussion"},
	{[]string{"options"}, "Options Trading"},
	{[]string{"crypto"}, "Crypto Trading"},
	{[]string{"beginner"}, "Beginner Trading Help"},
}

// Title derives a session title from the first user utterance.
func Title(utterance string) string {
	lower := strings.ToLower(utterance)
	for _, rule := range titleRules {
		if containsAll(lower, rule.keywords) {
			return rule.title
		}
	}

	words := strings.Fields(utterance)
	if len(words) > 4 {
		words = words[:4]
	}
	title := strings.Join(words, " ")
	if r := []rune(title); len(r) > maxTitleLen {
		return string(r[:maxTitleLen]) + "..."
	}
	return title
}

func containsAll(s string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(s, term) {
			return false
		}
	}
	return true
}
