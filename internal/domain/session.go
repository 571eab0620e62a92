// Package domain contains core domain types for the strategy chat engine.
package domain

import (
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is a single entry in a session timeline.
type ChatMessage struct {
	ID        string      `json:"id"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
	Transient bool        `json:"transient"`
	Welcome   bool        `json:"welcome,omitempty"`
	Usage     *TokenUsage `json:"usage,omitempty"`
}

// ChatSession is one conversation thread with its own ordered history.
type ChatSession struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Title     string        `json:"title"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []ChatMessage `json:"messages"`
}

// HasUserMessage reports whether the session already received a user message.
func (s *ChatSession) HasUserMessage() bool {
	for i := range s.Messages {
		if s.Messages[i].Role == RoleUser {
			return true
		}
	}
	return false
}

// Message returns a pointer to the message with the given id, or nil.
func (s *ChatSession) Message(id string) *ChatMessage {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return &s.Messages[i]
		}
	}
	return nil
}

// RecentMessages returns the last n messages of the session.
func (s *ChatSession) RecentMessages(n int) []ChatMessage {
	if n >= len(s.Messages) {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// Clone returns a deep copy safe to hand to readers.
func (s *ChatSession) Clone() ChatSession {
	out := *s
	out.Messages = make([]ChatMessage, len(s.Messages))
	copy(out.Messages, s.Messages)
	for i := range out.Messages {
		if u := out.Messages[i].Usage; u != nil {
			usage := *u
			out.Messages[i].Usage = &usage
		}
	}
	return out
}
