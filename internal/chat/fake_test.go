package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brokernomex/strategy-chat/internal/domain"
	"github.com/brokernomex/strategy-chat/internal/provider"
	"github.com/brokernomex/strategy-chat/internal/store"
	"github.com/google/uuid"
)

var errStoreDown = errors.New("store unavailable")

// fakeRepo is an in-memory Store that counts writes and injects failures.
type fakeRepo struct {
	mu         sync.Mutex
	sessions   []*domain.ChatSession
	messages   map[string][]domain.ChatMessage
	strategies []domain.TradingStrategy

	messageInserts int
	touches        int

	listErr     error
	createErr   error
	insertErr   error
	deleteErr   error
	strategyErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{messages: make(map[string][]domain.ChatMessage)}
}

// seed adds a stored session with the given messages.
func (f *fakeRepo) seed(userID, title string, updated time.Time, msgs ...domain.ChatMessage) *domain.ChatSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &domain.ChatSession{ID: uuid.NewString(), UserID: userID, Title: title, CreatedAt: updated, UpdatedAt: updated}
	f.sessions = append(f.sessions, s)
	f.messages[s.ID] = append([]domain.ChatMessage(nil), msgs...)
	return s
}

func (f *fakeRepo) CreateSession(_ context.Context, userID, title string, welcome domain.ChatMessage) (*domain.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	now := time.Now().UTC()
	s := &domain.ChatSession{ID: uuid.NewString(), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	f.sessions = append(f.sessions, s)
	f.messages[s.ID] = []domain.ChatMessage{welcome}
	out := *s
	out.Messages = []domain.ChatMessage{welcome}
	return &out, nil
}

func (f *fakeRepo) ListSessionsByUser(_ context.Context, userID string) ([]*domain.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*domain.ChatSession
	for i := len(f.sessions) - 1; i >= 0; i-- {
		if s := f.sessions[i]; s.UserID == userID {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListMessagesBySession(_ context.Context, sessionID string) ([]domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ChatMessage(nil), f.messages[sessionID]...), nil
}

func (f *fakeRepo) UpdateSessionTitle(_ context.Context, sessionID, userID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ID == sessionID && s.UserID == userID {
			s.Title = title
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeRepo) DeleteSession(_ context.Context, sessionID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i, s := range f.sessions {
		if s.ID == sessionID && s.UserID == userID {
			f.sessions = append(f.sessions[:i], f.sessions[i+1:]...)
			delete(f.messages, sessionID)
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeRepo) InsertMessage(_ context.Context, sessionID string, msg domain.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.messageInserts++
	f.messages[sessionID] = append(f.messages[sessionID], msg)
	return nil
}

func (f *fakeRepo) TouchSession(_ context.Context, sessionID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	for _, s := range f.sessions {
		if s.ID == sessionID {
			s.UpdatedAt = at
		}
	}
	return nil
}

func (f *fakeRepo) InsertStrategy(_ context.Context, s domain.TradingStrategy) (*domain.TradingStrategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.strategyErr != nil {
		return nil, f.strategyErr
	}
	s.ID = uuid.NewString()
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	f.strategies = append(f.strategies, s)
	return &s, nil
}

func (f *fakeRepo) ListStrategiesByUser(_ context.Context, userID string) ([]domain.TradingStrategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TradingStrategy
	for _, s := range f.strategies {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepo) inserts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messageInserts
}

func (f *fakeRepo) stored(sessionID string) []domain.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ChatMessage(nil), f.messages[sessionID]...)
}

// scriptedCompleter returns a fixed reply, or fails.
type scriptedCompleter struct {
	mu       sync.Mutex
	reply    string
	usage    domain.TokenUsage
	model    string
	err      error
	requests []provider.Request
	block    chan struct{}
}

func (c *scriptedCompleter) Complete(ctx context.Context, req provider.Request) (*provider.Completion, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	block := c.block
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	model := c.model
	if model == "" {
		model = req.Model
	}
	return &provider.Completion{Message: c.reply, Usage: c.usage, Model: model}, nil
}

func (c *scriptedCompleter) lastRequest() provider.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1]
}

func newTestEngine(t *testing.T, repo *fakeRepo, completer provider.Completer, opts Options) *Engine {
	t.Helper()
	if opts.DefaultModel == "" {
		opts.DefaultModel = "test-model"
	}
	e, err := NewEngine(context.Background(), "user-1", repo, completer, opts, nil)
	if err != nil && !IsStoreFailure(err) {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}
