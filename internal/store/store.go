// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/brokernomex/strategy-chat/internal/domain"
)

// ErrNotFound is returned when a row does not exist or is not owned by the caller.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting sessions, messages and strategies.
type Repository interface {
	// CreateSession inserts a session and its welcome message in one transaction.
	// The store assigns the session ID and timestamps.
	CreateSession(ctx context.Context, userID, title string, welcome domain.ChatMessage) (*domain.ChatSession, error)

	// ListSessionsByUser returns a user's sessions ordered by updated_at descending.
	// Messages are not populated.
	ListSessionsByUser(ctx context.Context, userID string) ([]*domain.ChatSession, error)

	// UpdateSessionTitle renames a session owned by userID.
	UpdateSessionTitle(ctx context.Context, sessionID, userID, title string) error

	// TouchSession refreshes a session's updated_at.
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// DeleteSession removes a session owned by userID together with its messages.
	DeleteSession(ctx context.Context, sessionID, userID string) error

	// InsertMessage appends a message to a session. The message ID is the primary key.
	InsertMessage(ctx context.Context, sessionID string, msg domain.ChatMessage) error

	// ListMessagesBySession returns a session's messages in creation order.
	ListMessagesBySession(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)

	// InsertStrategy persists a strategy and returns the stored record with its assigned ID.
	InsertStrategy(ctx context.Context, strategy domain.TradingStrategy) (*domain.TradingStrategy, error)

	// ListStrategiesByUser returns a user's strategies in creation order.
	ListStrategiesByUser(ctx context.Context, userID string) ([]domain.TradingStrategy, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
