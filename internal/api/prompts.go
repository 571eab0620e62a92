package api

import "net/http"

// Prompts are the starter questions and one-click strategy requests shown
// beside the chat input.
type Prompts struct {
	SuggestedQuestions []string `json:"suggested_questions"`
	ActionablePrompts  []string `json:"actionable_prompts"`
}

var defaultPrompts = Prompts{
	SuggestedQuestions: []string{
		"What's the best strategy for a beginner with $10,000?",
		"How do covered calls work and what are the risks?",
		"Should I use a grid bot or DCA for crypto?",
		"What's the difference between iron condor and straddle?",
		"How do I manage risk in options trading?",
		"What allocation should I use for a balanced portfolio?",
	},
	ActionablePrompts: []string{
		"Create a covered calls strategy for AAPL with $30K capital and conservative risk",
		"Build me a DCA bot for ETH with $100 weekly investments",
		"Design a smart rebalance portfolio with my current holdings",
		"Set up an iron condor strategy for SPY with 45 DTE",
		"Create a grid bot for BTC between $40K-$50K price range",
		"Build a wheel strategy for high dividend stocks with $25K",
		"Design a momentum strategy for tech stocks with stop losses",
		"Create a pairs trading strategy for correlated assets",
	},
}

// HandlePrompts returns the static prompt lists.
func HandlePrompts(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, defaultPrompts)
}
