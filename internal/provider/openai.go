package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brokernomex/strategy-chat/internal/domain"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
}

// OpenAI implements Completer against the chat completions API.
type OpenAI struct {
	client openai.Client
	cfg    OpenAIConfig
	logger *slog.Logger
}

// NewOpenAI creates a completion client.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		logger: logger,
	}
}

// Complete sends the system prompt, history and message, and returns the first choice.
func (o *OpenAI) Complete(ctx context.Context, req Request) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = o.cfg.DefaultModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	messages = append(messages, openai.SystemMessage(SystemPrompt))
	for _, turn := range req.History {
		switch turn.Role {
		case domain.RoleUser:
			messages = append(messages, openai.UserMessage(turn.Content))
		case domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.Message))

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		MaxTokens:   openai.Int(int64(o.cfg.MaxTokens)),
		Temperature: openai.Float(o.cfg.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion with %s: %w", model, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrEmptyCompletion
	}

	o.logger.Debug("Completion received",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration", time.Since(start),
	)

	return &Completion{
		Message: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: domain.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
		},
	}, nil
}

var _ Completer = (*OpenAI)(nil)
