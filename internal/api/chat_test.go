package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brokernomex/strategy-chat/internal/chat"
	"github.com/brokernomex/strategy-chat/internal/domain"
	"github.com/brokernomex/strategy-chat/internal/identity"
	"github.com/brokernomex/strategy-chat/internal/provider"
	"github.com/brokernomex/strategy-chat/internal/store"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func newTestServer(t *testing.T, limit int) *httptest.Server {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}

	registry := chat.NewRegistry(func(ctx context.Context, userID string) (*chat.Engine, error) {
		return chat.NewEngine(ctx, userID, repo, provider.NewMock(""), chat.Options{}, nil)
	}, time.Minute, nil)
	limiter := NewRateLimiter(limit, time.Minute)

	r := chi.NewRouter()
	r.Use(identity.Middleware(false, true))
	NewChatHandler(registry, limiter).RegisterRoutes(r)
	r.Get("/ws/chat", NewStreamHandler(registry, "", true).ServeHTTP)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		limiter.Close()
		registry.Evict("user-1")
		_ = repo.Close()
	})
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(identity.UserHeaderName, "user-1")

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestChatRequiresUser(t *testing.T) {
	srv := newTestServer(t, 10)

	resp, err := srv.Client().Get(srv.URL + "/api/chat/state")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", resp.StatusCode)
	}
}

func TestChatStrategyCreationFlow(t *testing.T) {
	srv := newTestServer(t, 10)

	var state chat.State
	if code := do(t, srv, http.MethodGet, "/api/chat/state", nil, &state); code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}
	if len(state.Sessions) != 1 || state.Sessions[0].Title != chat.DefaultSessionTitle {
		t.Fatalf("expected default session, got %+v", state.Sessions)
	}

	var sent struct {
		Draft *domain.StrategyDraft `json:"draft"`
		Reply domain.ChatMessage    `json:"reply"`
	}
	code := do(t, srv, http.MethodPost, "/api/chat/messages", SendMessageRequest{
		Message: "Create a covered calls strategy for AAPL with $30K capital and conservative risk",
	}, &sent)
	if code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}
	if sent.Draft == nil || sent.Draft.Name != "AI Covered Calls - AAPL" {
		t.Fatalf("expected covered calls draft, got %+v", sent.Draft)
	}

	if code := do(t, srv, http.MethodPost, "/api/chat/draft/confirm", ConfirmDraftRequest{}, nil); code != http.StatusBadRequest {
		t.Fatalf("Expected status 400 without acknowledgement, got %d", code)
	}

	var created struct {
		Strategy domain.TradingStrategy `json:"strategy"`
	}
	if code := do(t, srv, http.MethodPost, "/api/chat/draft/confirm", ConfirmDraftRequest{Acknowledged: true}, &created); code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", code)
	}
	if created.Strategy.IsActive || !created.Strategy.MinCapital.Equal(decimal.NewFromInt(30000)) {
		t.Fatalf("unexpected strategy: %+v", created.Strategy)
	}

	if code := do(t, srv, http.MethodPost, "/api/chat/draft/confirm", ConfirmDraftRequest{Acknowledged: true}, nil); code != http.StatusConflict {
		t.Fatalf("Expected status 409 with nothing pending, got %d", code)
	}

	var list struct {
		Strategies []domain.TradingStrategy `json:"strategies"`
	}
	do(t, srv, http.MethodGet, "/api/chat/strategies", nil, &list)
	if len(list.Strategies) != 1 || list.Strategies[0].Name != "AI Covered Calls - AAPL" {
		t.Fatalf("unexpected strategies: %+v", list.Strategies)
	}

	do(t, srv, http.MethodGet, "/api/chat/state", nil, &state)
	last := state.Messages[len(state.Messages)-1]
	if !strings.Contains(last.Content, "Strategy Created Successfully") {
		t.Fatalf("expected confirmation message, got %q", last.Content)
	}
	if state.Sessions[0].Title != "Covered Calls Discussion" {
		t.Errorf("expected renamed session, got %q", state.Sessions[0].Title)
	}
}

func TestChatSessionRoutes(t *testing.T) {
	srv := newTestServer(t, 10)

	var state chat.State
	do(t, srv, http.MethodGet, "/api/chat/state", nil, &state)
	first := state.CurrentSessionID

	if code := do(t, srv, http.MethodDelete, "/api/chat/sessions/"+first, nil, nil); code != http.StatusConflict {
		t.Fatalf("Expected status 409 deleting the last session, got %d", code)
	}

	var created struct {
		Session chat.SessionSummary `json:"session"`
	}
	if code := do(t, srv, http.MethodPost, "/api/chat/sessions", nil, &created); code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", code)
	}
	if created.Session.Title != chat.NewSessionTitle {
		t.Errorf("expected %q, got %q", chat.NewSessionTitle, created.Session.Title)
	}

	if code := do(t, srv, http.MethodPost, "/api/chat/sessions/"+first+"/switch", nil, &state); code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}
	if state.CurrentSessionID != first {
		t.Fatalf("expected current session %s, got %s", first, state.CurrentSessionID)
	}

	if code := do(t, srv, http.MethodPost, "/api/chat/sessions/missing/switch", nil, nil); code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", code)
	}

	if code := do(t, srv, http.MethodDelete, "/api/chat/sessions/"+first, nil, &state); code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}
	if state.CurrentSessionID != created.Session.ID || len(state.Sessions) != 1 {
		t.Fatalf("expected the remaining session to be current, got %+v", state)
	}
}

func TestChatRejectsEmptyMessageAndRateLimits(t *testing.T) {
	srv := newTestServer(t, 1)

	if code := do(t, srv, http.MethodPost, "/api/chat/messages", SendMessageRequest{Message: "  "}, nil); code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", code)
	}
	if code := do(t, srv, http.MethodPost, "/api/chat/messages", SendMessageRequest{Message: "hello"}, nil); code != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", code)
	}
}

func TestPrompts(t *testing.T) {
	srv := newTestServer(t, 10)

	var got Prompts
	if code := do(t, srv, http.MethodGet, "/api/chat/prompts", nil, &got); code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}
	if len(got.SuggestedQuestions) != 6 || len(got.ActionablePrompts) != 8 {
		t.Fatalf("unexpected prompts: %+v", got)
	}
}

func TestStreamPushesEvents(t *testing.T) {
	srv := newTestServer(t, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	header.Set(identity.UserHeaderName, "user-1")
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/chat", &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "test done")

	read := func() streamFrame {
		t.Helper()
		_, data, err := ws.Read(ctx)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		var frame streamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return frame
	}

	if frame := read(); frame.Type != "state" {
		t.Fatalf("expected initial state frame, got %q", frame.Type)
	}

	if code := do(t, srv, http.MethodPost, "/api/chat/sessions", nil, nil); code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", code)
	}
	for {
		if frame := read(); frame.Type == "session.created" {
			return
		}
	}
}
