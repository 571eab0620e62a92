package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/brokernomex/strategy-chat/internal/chat"
	"github.com/brokernomex/strategy-chat/internal/domain"
	"github.com/brokernomex/strategy-chat/internal/identity"
	"github.com/brokernomex/strategy-chat/internal/store"
	"github.com/brokernomex/strategy-chat/internal/strategy"
	"github.com/go-chi/chi/v5"
)

// ChatHandler exposes the chat engine operations over HTTP.
type ChatHandler struct {
	registry *chat.Registry
	limiter  *RateLimiter
}

// NewChatHandler creates a chat handler. A nil limiter disables rate limiting.
func NewChatHandler(registry *chat.Registry, limiter *RateLimiter) *ChatHandler {
	return &ChatHandler{registry: registry, limiter: limiter}
}

// SendMessageRequest is the body of POST /api/chat/messages.
type SendMessageRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

// ConfirmDraftRequest is the body of POST /api/chat/draft/confirm.
type ConfirmDraftRequest struct {
	Acknowledged bool `json:"acknowledged"`
}

type sendMessageResponse struct {
	*chat.SendResult
	Warning string `json:"warning,omitempty"`
}

type stateResponse struct {
	chat.State
	Warning string `json:"warning,omitempty"`
}

type sessionResponse struct {
	Session chat.SessionSummary `json:"session"`
	Warning string              `json:"warning,omitempty"`
}

type strategyResponse struct {
	Strategy *domain.TradingStrategy `json:"strategy"`
	Warning  string                  `json:"warning,omitempty"`
}

type stopResponse struct {
	Stopped int    `json:"stopped"`
	Warning string `json:"warning,omitempty"`
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/state", h.HandleState)
		r.Post("/messages", h.HandleSendMessage)
		r.Post("/stop", h.HandleStop)
		r.Post("/sessions", h.HandleCreateSession)
		r.Post("/sessions/{sessionID}/switch", h.HandleSwitchSession)
		r.Delete("/sessions/{sessionID}", h.HandleDeleteSession)
		r.Post("/draft/confirm", h.HandleConfirmDraft)
		r.Post("/draft/discard", h.HandleDiscardDraft)
		r.Get("/strategies", h.HandleStrategies)
		r.Get("/prompts", HandlePrompts)
	})
}

// HandleState returns everything the chat view renders.
func (h *ChatHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, stateResponse{State: engine.State()})
}

// HandleSendMessage sends one utterance and returns the reply.
func (h *ChatHandler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}

	if h.limiter != nil && !h.limiter.Allow(engine.UserID()) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := engine.SendUtterance(r.Context(), req.Message, req.Model)
	if fatal(err) {
		writeEngineError(w, err)
		return
	}
	JSON(w, http.StatusOK, sendMessageResponse{SendResult: result, Warning: warning(err)})
}

// HandleStop stops revealing replies in the current session.
func (h *ChatHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	stopped, err := engine.StopResponse(r.Context())
	if fatal(err) {
		writeEngineError(w, err)
		return
	}
	JSON(w, http.StatusOK, stopResponse{Stopped: stopped, Warning: warning(err)})
}

// HandleCreateSession starts a new current session.
func (h *ChatHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	session, err := engine.CreateSession(r.Context())
	if fatal(err) {
		writeEngineError(w, err)
		return
	}
	JSON(w, http.StatusCreated, sessionResponse{Session: session, Warning: warning(err)})
}

// HandleSwitchSession makes the path session current.
func (h *ChatHandler) HandleSwitchSession(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	err := engine.SwitchSession(r.Context(), chi.URLParam(r, "sessionID"))
	if fatal(err) {
		writeEngineError(w, err)
		return
	}
	JSON(w, http.StatusOK, stateResponse{State: engine.State(), Warning: warning(err)})
}

// HandleDeleteSession deletes the path session.
func (h *ChatHandler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	if err := engine.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeEngineError(w, err)
		return
	}
	JSON(w, http.StatusOK, stateResponse{State: engine.State()})
}

// HandleConfirmDraft creates the pending draft. The body must carry the
// user's acknowledgement.
func (h *ChatHandler) HandleConfirmDraft(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}

	var req ConfirmDraftRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := engine.ConfirmDraft(r.Context(), req.Acknowledged)
	if fatal(err) {
		writeEngineError(w, err)
		return
	}
	JSON(w, http.StatusCreated, strategyResponse{Strategy: created, Warning: warning(err)})
}

// HandleDiscardDraft drops the pending draft.
func (h *ChatHandler) HandleDiscardDraft(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	if err := engine.DiscardDraft(); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStrategies lists the user's strategies.
func (h *ChatHandler) HandleStrategies(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"strategies": engine.Strategies()})
}

func (h *ChatHandler) engine(w http.ResponseWriter, r *http.Request) (*chat.Engine, bool) {
	userID := identity.UserIDFromContext(r.Context())
	engine, err := h.registry.Get(r.Context(), userID)
	if err != nil {
		writeEngineError(w, err)
		return nil, false
	}
	return engine, true
}

// fatal reports whether err should fail the request. Store failures the
// engine recovered from are reported as warnings instead.
func fatal(err error) bool {
	return err != nil && !chat.IsStoreFailure(err)
}

func warning(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrAuthMissing):
		Error(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, chat.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrLastSession),
		errors.Is(err, chat.ErrBusy),
		errors.Is(err, chat.ErrSwitchBlocked),
		errors.Is(err, strategy.ErrNoPendingDraft):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, chat.ErrEmptyUtterance),
		errors.Is(err, strategy.ErrNotAcknowledged),
		errors.Is(err, strategy.ErrInvalidDraft):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrClosed):
		Error(w, http.StatusServiceUnavailable, "chat engine restarting, retry")
	default:
		slog.Error("chat request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
