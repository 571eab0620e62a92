package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brokernomex/strategy-chat/internal/domain"
)

// MessageStore is the slice of the store the reconciler needs.
type MessageStore interface {
	InsertMessage(ctx context.Context, sessionID string, msg domain.ChatMessage) error
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
}

// MessageReconciler appends messages to sessions and persists each eligible
// message at most once. Transient and welcome messages are never written.
// It is not safe for concurrent use; the Engine serializes access.
type MessageReconciler struct {
	store   MessageStore
	logger  *slog.Logger
	now     func() time.Time
	flushed map[string]struct{}
}

// NewMessageReconciler returns a reconciler with nothing flushed.
func NewMessageReconciler(st MessageStore, logger *slog.Logger) *MessageReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageReconciler{
		store:   st,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		flushed: make(map[string]struct{}),
	}
}

// MarkFlushed records messages that are already durable, such as those loaded from the store.
func (r *MessageReconciler) MarkFlushed(msgs ...domain.ChatMessage) {
	for _, m := range msgs {
		r.flushed[m.ID] = struct{}{}
	}
}

// Forget drops flush bookkeeping for messages of a deleted session.
func (r *MessageReconciler) Forget(msgs ...domain.ChatMessage) {
	for _, m := range msgs {
		delete(r.flushed, m.ID)
	}
}

// Append adds msg to the end of session immediately and then flushes it.
func (r *MessageReconciler) Append(ctx context.Context, session *domain.ChatSession, msg domain.ChatMessage) error {
	session.Messages = append(session.Messages, msg)
	return r.Flush(ctx, session, msg.ID)
}

// Flush persists the message if it is eligible and not yet written.
// Repeated calls for the same message write it once. A failed write is
// logged and left unflushed so a later explicit Flush may try again.
func (r *MessageReconciler) Flush(ctx context.Context, session *domain.ChatSession, msgID string) error {
	msg := session.Message(msgID)
	if msg == nil || msg.Transient || msg.Welcome {
		return nil
	}
	if _, done := r.flushed[msgID]; done {
		return nil
	}

	r.flushed[msgID] = struct{}{}
	if err := r.store.InsertMessage(ctx, session.ID, *msg); err != nil {
		delete(r.flushed, msgID)
		r.logger.Error("failed to save chat message",
			"session_id", session.ID,
			"message_id", msgID,
			"error", err)
		return storeFailure("save message", fmt.Errorf("insert %s: %w", msgID, err))
	}

	at := r.now()
	session.UpdatedAt = at
	if err := r.store.TouchSession(ctx, session.ID, at); err != nil {
		r.logger.Warn("failed to refresh session timestamp", "session_id", session.ID, "error", err)
		return storeFailure("touch session", err)
	}
	return nil
}

// Flushed reports whether a message has been written.
func (r *MessageReconciler) Flushed(msgID string) bool {
	_, ok := r.flushed[msgID]
	return ok
}
