package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/brokernomex/strategy-chat/internal/domain"
)

// Mock is a deterministic Completer used in development and tests.
type Mock struct {
	Model string
}

// NewMock returns a mock provider reporting the given model id.
func NewMock(model string) *Mock {
	if model == "" {
		model = "mock-1"
	}
	return &Mock{Model: model}
}

// Complete echoes the message back with a canned assistant framing.
// Token counts are whitespace word counts so tests can predict them.
func (m *Mock) Complete(ctx context.Context, req Request) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reply := fmt.Sprintf("Here is how I would approach %q. Remember to size positions to your risk tolerance.", req.Message)

	input := int64(len(strings.Fields(req.Message)))
	for _, turn := range req.History {
		input += int64(len(strings.Fields(turn.Content)))
	}
	output := int64(len(strings.Fields(reply)))

	model := req.Model
	if model == "" {
		model = m.Model
	}
	return &Completion{
		Message: reply,
		Model:   model,
		Usage: domain.TokenUsage{
			InputTokens:  input,
			OutputTokens: output,
			TotalTokens:  input + output,
		},
	}, nil
}

var _ Completer = (*Mock)(nil)
