package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/brokernomex/strategy-chat/internal/domain"
	"github.com/brokernomex/strategy-chat/internal/store"
	"github.com/google/uuid"
)

const (
	// DefaultSessionTitle names the session synthesized for a user with none.
	DefaultSessionTitle = "Trading Strategy Help"
	// NewSessionTitle names explicitly created sessions until their first utterance.
	NewSessionTitle = "New Chat"
	// WelcomeMessage opens every session.
	WelcomeMessage = "Hello! I'm Brokernomex AI, your trading strategy assistant. I can help you understand different trading strategies, analyze market conditions, and guide you through creating automated trading bots. What would you like to know about trading strategies?"
)

// SessionStore is the slice of the store the session manager needs.
type SessionStore interface {
	CreateSession(ctx context.Context, userID, title string, welcome domain.ChatMessage) (*domain.ChatSession, error)
	ListSessionsByUser(ctx context.Context, userID string) ([]*domain.ChatSession, error)
	ListMessagesBySession(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)
	UpdateSessionTitle(ctx context.Context, sessionID, userID, title string) error
	DeleteSession(ctx context.Context, sessionID, userID string) error
}

// SessionManager owns one user's sessions and the current-session pointer.
// It is not safe for concurrent use; the Engine serializes access.
type SessionManager struct {
	userID string
	store  SessionStore
	ledger *TokenLedger
	logger *slog.Logger
	now    func() time.Time

	// insertion order: loaded recency order with creations prepended
	sessions []*domain.ChatSession
	current  string
	// ids of sessions built locally after the store rejected them
	local map[string]struct{}
}

// NewSessionManager returns an empty manager for userID. logger is expected
// to carry the user id already.
func NewSessionManager(userID string, st SessionStore, ledger *TokenLedger, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		userID: userID,
		store:  st,
		ledger: ledger,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		local:  make(map[string]struct{}),
	}
}

// LoadAll replaces the in-memory sessions with the user's stored ones.
// A user always ends up with at least one session: when the store has none,
// or cannot be read, a default session is created.
func (m *SessionManager) LoadAll(ctx context.Context) error {
	stored, err := m.store.ListSessionsByUser(ctx, m.userID)
	if err != nil {
		m.logger.Error("failed to load chat sessions", "error", err)
		return m.fallback(ctx, fmt.Errorf("list sessions: %w", err))
	}

	loaded := make([]*domain.ChatSession, 0, len(stored))
	var failures []error
	for _, s := range stored {
		msgs, err := m.store.ListMessagesBySession(ctx, s.ID)
		if err != nil {
			m.logger.Error("failed to load chat messages", "session_id", s.ID, "error", err)
			failures = append(failures, fmt.Errorf("list messages for %s: %w", s.ID, err))
			continue
		}
		s.Messages = msgs
		loaded = append(loaded, s)
	}

	if len(loaded) == 0 {
		return m.fallback(ctx, failures...)
	}

	m.sessions = loaded
	m.current = loaded[0].ID
	clear(m.local)
	m.logger.Debug("chat sessions loaded", "count", len(loaded))
	return storeFailure("load sessions", failures...)
}

func (m *SessionManager) fallback(ctx context.Context, causes ...error) error {
	welcome := m.newWelcome()
	sess, err := m.store.CreateSession(ctx, m.userID, DefaultSessionTitle, welcome)
	if err != nil {
		m.logger.Error("failed to create default session", "error", err)
		sess = m.localSession(DefaultSessionTitle, welcome)
		causes = append(causes, fmt.Errorf("create default session: %w", err))
	}
	clear(m.local)
	if err != nil {
		m.local[sess.ID] = struct{}{}
	}
	m.sessions = []*domain.ChatSession{sess}
	m.current = sess.ID
	return storeFailure("load sessions", causes...)
}

// Create persists a new session, prepends it and makes it current.
// If the store rejects it the session still exists locally.
func (m *SessionManager) Create(ctx context.Context) (*domain.ChatSession, error) {
	welcome := m.newWelcome()
	var failure error
	sess, err := m.store.CreateSession(ctx, m.userID, NewSessionTitle, welcome)
	if err != nil {
		m.logger.Error("failed to create chat session", "error", err)
		sess = m.localSession(NewSessionTitle, welcome)
		m.local[sess.ID] = struct{}{}
		failure = storeFailure("create session", err)
	}

	m.sessions = append([]*domain.ChatSession{sess}, m.sessions...)
	m.current = sess.ID
	m.ledger.ResetSession()
	m.logger.Info("chat session created", "session_id", sess.ID)
	return sess, failure
}

// SwitchTo moves the current-session pointer. Messages are not reloaded and
// the session token counter restarts at zero.
func (m *SessionManager) SwitchTo(sessionID string) error {
	if m.index(sessionID) < 0 {
		return ErrSessionNotFound
	}
	m.current = sessionID
	m.ledger.ResetSession()
	return nil
}

// Delete removes a session from the store and from memory. The last session
// is never deleted. When the current session goes, the first remaining one
// becomes current. A session that only ever existed locally is removed
// even though the store has no row for it.
func (m *SessionManager) Delete(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	idx := m.index(sessionID)
	if idx < 0 {
		return nil, ErrSessionNotFound
	}
	if len(m.sessions) <= 1 {
		return nil, ErrLastSession
	}

	if err := m.store.DeleteSession(ctx, sessionID, m.userID); err != nil {
		_, local := m.local[sessionID]
		switch {
		case errors.Is(err, store.ErrNotFound) && local:
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrSessionNotFound
		default:
			m.logger.Error("failed to delete chat session", "session_id", sessionID, "error", err)
			return nil, fmt.Errorf("delete session: %w", err)
		}
	}
	delete(m.local, sessionID)

	removed := m.sessions[idx]
	m.sessions = slices.Delete(m.sessions, idx, idx+1)
	if m.current == sessionID {
		m.current = m.sessions[0].ID
	}
	m.logger.Info("chat session deleted", "session_id", sessionID)
	return removed, nil
}

// Rename sets a session title locally and in the store.
func (m *SessionManager) Rename(ctx context.Context, sessionID, title string) error {
	sess := m.Get(sessionID)
	if sess == nil {
		return ErrSessionNotFound
	}
	sess.Title = title
	if err := m.store.UpdateSessionTitle(ctx, sessionID, m.userID, title); err != nil {
		m.logger.Error("failed to update session title", "session_id", sessionID, "error", err)
		return storeFailure("rename session", err)
	}
	return nil
}

// Current returns the current session.
func (m *SessionManager) Current() *domain.ChatSession {
	return m.Get(m.current)
}

// CurrentID returns the current session id.
func (m *SessionManager) CurrentID() string {
	return m.current
}

// Get returns the session with the given id, or nil.
func (m *SessionManager) Get(sessionID string) *domain.ChatSession {
	if i := m.index(sessionID); i >= 0 {
		return m.sessions[i]
	}
	return nil
}

// All returns the sessions in insertion order.
func (m *SessionManager) All() []*domain.ChatSession {
	return slices.Clone(m.sessions)
}

// ByRecency returns the sessions ordered by updatedAt descending.
func (m *SessionManager) ByRecency() []*domain.ChatSession {
	out := slices.Clone(m.sessions)
	slices.SortStableFunc(out, func(a, b *domain.ChatSession) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out
}

func (m *SessionManager) index(sessionID string) int {
	return slices.IndexFunc(m.sessions, func(s *domain.ChatSession) bool {
		return s.ID == sessionID
	})
}

func (m *SessionManager) newWelcome() domain.ChatMessage {
	return domain.ChatMessage{
		ID:        uuid.NewString(),
		Role:      domain.RoleAssistant,
		Content:   WelcomeMessage,
		CreatedAt: m.now(),
		Welcome:   true,
	}
}

func (m *SessionManager) localSession(title string, welcome domain.ChatMessage) *domain.ChatSession {
	now := m.now()
	return &domain.ChatSession{
		ID:        uuid.NewString(),
		UserID:    m.userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []domain.ChatMessage{welcome},
	}
}
