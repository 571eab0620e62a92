package chat

import (
	"time"

	"github.com/brokernomex/strategy-chat/internal/domain"
)

// MessageEvent carries an appended or finalized message.
type MessageEvent struct {
	SessionID string             `json:"session_id"`
	Message   domain.ChatMessage `json:"message"`
}

// RevealEvent carries the visible prefix of a transient reply.
type RevealEvent struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// SessionEvent describes a session lifecycle change.
type SessionEvent struct {
	SessionID        string `json:"session_id"`
	Title            string `json:"title,omitempty"`
	CurrentSessionID string `json:"current_session_id"`
}

// SessionSummary is a session without its messages.
type SessionSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

func summarize(s *domain.ChatSession) SessionSummary {
	return SessionSummary{
		ID:           s.ID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.Messages),
	}
}
