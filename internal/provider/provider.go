// Package provider adapts remote language-model completion services.
package provider

import (
	"context"
	"errors"

	"github.com/brokernomex/strategy-chat/internal/domain"
)

// ErrEmptyCompletion is returned when the provider answers without any text.
var ErrEmptyCompletion = errors.New("completion returned no content")

// Turn is one role/content pair of conversation history.
type Turn struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

// Request is a single completion call.
type Request struct {
	Message string
	History []Turn
	Model   string
}

// Completion is the provider's answer to a Request.
type Completion struct {
	Message string
	Usage   domain.TokenUsage
	Model   string
}

// Completer produces an assistant reply for a user message.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// SystemPrompt frames every completion as the trading strategy assistant.
const SystemPrompt = `You are Brokernomex AI, an expert trading strategy assistant for the Brokernomex platform. You help users understand different trading strategies, analyze market conditions, and guide them through creating automated trading bots.

Key areas of expertise:
- Options strategies (covered calls, iron condors, straddles, the wheel)
- Grid trading bots (spot grid, futures grid, infinity grid)
- DCA (Dollar Cost Averaging) strategies
- Smart rebalancing and portfolio management
- Risk management and position sizing
- Market analysis and technical indicators

Always provide practical, actionable advice while emphasizing risk management. When discussing strategies, explain both the potential benefits and risks. Be helpful but remind users to do their own research and consider their risk tolerance.`
