package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brokernomex/strategy-chat/internal/domain"
)

// ErrInvalidDraft is returned when a confirmed draft fails validation.
var ErrInvalidDraft = errors.New("invalid strategy draft")

// Inserter is the slice of the store the creator needs.
type Inserter interface {
	InsertStrategy(ctx context.Context, strategy domain.TradingStrategy) (*domain.TradingStrategy, error)
}

// Creator validates confirmed drafts, persists them and keeps the user's
// in-memory strategy list.
type Creator struct {
	store  Inserter
	logger *slog.Logger

	mu         sync.RWMutex
	strategies []domain.TradingStrategy
}

// NewCreator returns a creator seeded with already-persisted strategies.
// logger is expected to carry the owning user.
func NewCreator(store Inserter, existing []domain.TradingStrategy, logger *slog.Logger) *Creator {
	if logger == nil {
		logger = slog.Default()
	}
	seed := make([]domain.TradingStrategy, len(existing))
	copy(seed, existing)
	return &Creator{store: store, logger: logger, strategies: seed}
}

// Validate checks that a draft can be persisted.
func Validate(draft domain.StrategyDraft) error {
	switch {
	case draft.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidDraft)
	case !draft.Type.Valid():
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidDraft, draft.Type)
	case !draft.RiskLevel.Valid():
		return fmt.Errorf("%w: unsupported risk level %q", ErrInvalidDraft, draft.RiskLevel)
	case !draft.MinCapital.IsPositive():
		return fmt.Errorf("%w: min capital must be positive", ErrInvalidDraft)
	}
	return nil
}

// Create persists draft for userID as an inactive strategy and returns the stored record.
// On failure nothing is retained.
func (c *Creator) Create(ctx context.Context, userID string, draft domain.StrategyDraft) (*domain.TradingStrategy, error) {
	if err := Validate(draft); err != nil {
		return nil, err
	}

	draft = draft.Clone()
	record := domain.TradingStrategy{
		UserID:        userID,
		Name:          draft.Name,
		Type:          draft.Type,
		Description:   draft.Description,
		RiskLevel:     draft.RiskLevel,
		MinCapital:    draft.MinCapital,
		IsActive:      false,
		Configuration: draft.Configuration,
		Reasoning:     draft.Reasoning,
	}

	created, err := c.store.InsertStrategy(ctx, record)
	if err != nil {
		c.logger.Error("failed to save strategy", "name", draft.Name, "error", err)
		return nil, fmt.Errorf("save strategy: %w", err)
	}

	c.mu.Lock()
	c.strategies = append(c.strategies, *created)
	c.mu.Unlock()

	c.logger.Info("strategy created", "strategy_id", created.ID, "type", created.Type)
	return created, nil
}

// Strategies returns a snapshot of the user's strategies in creation order.
func (c *Creator) Strategies() []domain.TradingStrategy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.TradingStrategy, len(c.strategies))
	copy(out, c.strategies)
	return out
}
