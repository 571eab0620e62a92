// Package chat implements the per-user conversational engine: sessions,
// message reconciliation, token accounting, typing reveal and the
// confirm-then-create strategy workflow.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brokernomex/strategy-chat/internal/config"
	"github.com/brokernomex/strategy-chat/internal/domain"
	"github.com/brokernomex/strategy-chat/internal/intent"
	"github.com/brokernomex/strategy-chat/internal/provider"
	"github.com/brokernomex/strategy-chat/internal/pubsub"
	"github.com/brokernomex/strategy-chat/internal/strategy"
	"github.com/google/uuid"
)

const (
	// ApologyMessage replaces the reply when the completion provider fails.
	ApologyMessage = "I'm sorry, I'm having trouble connecting right now. Please check your internet connection and try again. If the problem persists, the AI service might be temporarily unavailable."

	confirmationTemplate = "✅ **Strategy Created Successfully!**\n\nYour \"%s\" strategy has been saved to your database and added to your Strategies page. You can now configure and activate it from the Strategies section."
)

// Store is everything the engine persists through.
type Store interface {
	SessionStore
	MessageStore
	strategy.Inserter
	ListStrategiesByUser(ctx context.Context, userID string) ([]domain.TradingStrategy, error)
}

// Options tunes an Engine.
type Options struct {
	HistoryWindow int
	SwitchPolicy  string
	DefaultModel  string
	CharDelay     time.Duration // 0 finalizes replies immediately
	ChunkSize     int
}

func (o Options) withDefaults() Options {
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = 10
	}
	if o.SwitchPolicy == "" {
		o.SwitchPolicy = config.SwitchFinalize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1
	}
	return o
}

// SendResult is the outcome of one utterance.
type SendResult struct {
	SessionID   string                `json:"session_id"`
	UserMessage domain.ChatMessage    `json:"user_message"`
	Reply       domain.ChatMessage    `json:"reply"`
	Draft       *domain.StrategyDraft `json:"draft,omitempty"`
	// Degraded is set when the provider failed and Reply is the apology.
	Degraded bool `json:"degraded"`
}

// State is a read snapshot of everything the UI renders.
type State struct {
	CurrentSessionID string                   `json:"current_session_id"`
	Sessions         []SessionSummary         `json:"sessions"`
	Messages         []domain.ChatMessage     `json:"messages"`
	Tokens           TokenTotals              `json:"tokens"`
	PendingDraft     *domain.StrategyDraft    `json:"pending_draft,omitempty"`
	Strategies       []domain.TradingStrategy `json:"strategies"`
	Busy             bool                     `json:"busy"`
}

// Engine is the explicit context object for one user's chat. Every
// operation is serialized by mu; the lock is released while the completion
// provider runs.
type Engine struct {
	userID    string
	store     Store
	completer provider.Completer
	opts      Options
	logger    *slog.Logger
	broker    *pubsub.Broker[any]
	now       func() time.Time

	mu         sync.Mutex
	sessions   *SessionManager
	reconciler *MessageReconciler
	ledger     *TokenLedger
	gate       *strategy.DraftGate
	creator    *strategy.Creator
	reveals    map[string]*reveal
	inFlight   bool
	lastActive time.Time
	closed     bool
}

// NewEngine loads userID's sessions and strategies and returns a ready engine.
// A *StoreFailure error is non-fatal: the engine is usable with fallback state.
func NewEngine(ctx context.Context, userID string, st Store, completer provider.Completer, opts Options, logger *slog.Logger) (*Engine, error) {
	if userID == "" {
		return nil, ErrAuthMissing
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("user_id", userID)

	ledger := NewTokenLedger()
	e := &Engine{
		userID:     userID,
		store:      st,
		completer:  completer,
		opts:       opts.withDefaults(),
		logger:     logger,
		broker:     pubsub.NewBroker[any](),
		now:        func() time.Time { return time.Now().UTC() },
		sessions:   NewSessionManager(userID, st, ledger, logger),
		reconciler: NewMessageReconciler(st, logger),
		ledger:     ledger,
		gate:       strategy.NewDraftGate(),
		reveals:    make(map[string]*reveal),
	}
	e.lastActive = e.now()

	var failures []error
	existing, err := st.ListStrategiesByUser(ctx, userID)
	if err != nil {
		logger.Error("failed to load strategies", "error", err)
		failures = append(failures, fmt.Errorf("list strategies: %w", err))
	}
	e.creator = strategy.NewCreator(st, existing, logger)

	if err := e.sessions.LoadAll(ctx); err != nil {
		failures = append(failures, err)
	}
	for _, s := range e.sessions.All() {
		e.reconciler.MarkFlushed(s.Messages...)
	}

	return e, storeFailure("load engine", failures...)
}

// UserID returns the owning user.
func (e *Engine) UserID() string {
	return e.userID
}

// Subscribe streams engine events until ctx is done or the engine closes.
func (e *Engine) Subscribe(ctx context.Context) <-chan pubsub.Event[any] {
	return e.broker.Subscribe(ctx)
}

// SendUtterance appends the user's text to the current session, asks the
// provider for a reply and starts revealing it. A strategy request found in
// the exchange becomes the pending draft.
func (e *Engine) SendUtterance(ctx context.Context, text, model string) (*SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyUtterance
	}
	if model == "" {
		model = e.opts.DefaultModel
	}

	e.mu.Lock()
	if err := e.enter(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if e.inFlight {
		e.mu.Unlock()
		return nil, ErrBusy
	}

	session := e.sessions.Current()
	sessionID := session.ID
	history := toTurns(session.RecentMessages(e.opts.HistoryWindow))
	firstUtterance := !session.HasUserMessage()

	var failures []error
	userMsg := e.newMessage(domain.RoleUser, text)
	if err := e.reconciler.Append(ctx, session, userMsg); err != nil {
		failures = append(failures, err)
	}
	e.publish(pubsub.MessageAppended, MessageEvent{SessionID: sessionID, Message: userMsg})

	if firstUtterance {
		title := intent.Title(text)
		if err := e.sessions.Rename(ctx, sessionID, title); err != nil {
			failures = append(failures, err)
		}
		e.publish(pubsub.SessionRenamed, SessionEvent{SessionID: sessionID, Title: title, CurrentSessionID: e.sessions.CurrentID()})
	}

	e.inFlight = true
	e.mu.Unlock()

	completion, callErr := e.completer.Complete(ctx, provider.Request{
		Message: text,
		History: history,
		Model:   model,
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight = false
	e.lastActive = e.now()

	session = e.sessions.Get(sessionID)
	if session == nil {
		e.logger.Warn("session deleted while awaiting completion", "session_id", sessionID)
		return nil, fmt.Errorf("deliver reply: %w", ErrSessionNotFound)
	}
	result := &SendResult{SessionID: sessionID, UserMessage: userMsg}

	if callErr != nil {
		e.logger.Warn("completion failed", "session_id", sessionID, "model", model, "error", callErr)
		apology := e.newMessage(domain.RoleAssistant, ApologyMessage)
		if err := e.reconciler.Append(ctx, session, apology); err != nil {
			failures = append(failures, err)
		}
		e.publish(pubsub.MessageAppended, MessageEvent{SessionID: sessionID, Message: apology})
		result.Reply = apology
		result.Degraded = true
		return result, storeFailure("send message", failures...)
	}

	usedModel := completion.Model
	if usedModel == "" {
		usedModel = model
	}
	usage := completion.Usage
	e.ledger.Record(usage, usedModel)
	e.publish(pubsub.TokensUpdated, e.ledger.Totals())

	reply := e.newMessage(domain.RoleAssistant, completion.Message)
	reply.Transient = true
	reply.Usage = &usage
	// transient replies are not written until the reveal ends
	session.Messages = append(session.Messages, reply)
	e.publish(pubsub.MessageAppended, MessageEvent{SessionID: sessionID, Message: reply})

	if draft := intent.Extract(text, completion.Message); draft != nil {
		if replaced := e.gate.Offer(draft); replaced {
			e.logger.Debug("pending draft replaced", "name", draft.Name)
		}
		result.Draft = draft
		e.publish(pubsub.DraftPending, *draft)
	}

	if e.opts.CharDelay <= 0 {
		if err := e.finalize(ctx, session, reply.ID, ""); err != nil {
			failures = append(failures, err)
		}
	} else {
		e.reveals[reply.ID] = startReveal(sessionID, reply.ID, reply.Content, e.opts.CharDelay, e.opts.ChunkSize,
			func(revealed string) {
				e.publish(pubsub.MessageRevealed, RevealEvent{SessionID: sessionID, MessageID: reply.ID, Content: revealed})
			},
			func() { e.finishReveal(sessionID, reply.ID) },
		)
	}

	result.Reply = *session.Message(reply.ID)
	return result, storeFailure("send message", failures...)
}

// StopResponse ends every reveal in the current session early. The partial
// replies keep their full content, gain the stop marker and are persisted.
// It returns how many replies were stopped.
func (e *Engine) StopResponse(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(); err != nil {
		return 0, err
	}

	session := e.sessions.Current()
	var failures []error
	stopped := 0
	for id, r := range e.reveals {
		if r.sessionID != session.ID {
			continue
		}
		r.Stop()
		delete(e.reveals, id)
		if err := e.finalize(ctx, session, id, StopMarker); err != nil {
			failures = append(failures, err)
		}
		stopped++
	}
	if stopped > 0 {
		e.logger.Info("response stopped by user", "session_id", session.ID, "count", stopped)
	}
	return stopped, storeFailure("stop response", failures...)
}

// CreateSession starts a new current session.
func (e *Engine) CreateSession(ctx context.Context) (SessionSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(); err != nil {
		return SessionSummary{}, err
	}

	policyErr := e.leaveCurrent(ctx)
	if errors.Is(policyErr, ErrSwitchBlocked) {
		return SessionSummary{}, policyErr
	}

	sess, err := e.sessions.Create(ctx)
	e.reconciler.MarkFlushed(sess.Messages...)
	e.publish(pubsub.SessionCreated, SessionEvent{SessionID: sess.ID, Title: sess.Title, CurrentSessionID: sess.ID})
	e.publish(pubsub.TokensUpdated, e.ledger.Totals())
	return summarize(sess), errors.Join(policyErr, err)
}

// SwitchSession makes sessionID current. Transient replies in the session
// being left are handled by the configured switch policy.
func (e *Engine) SwitchSession(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(); err != nil {
		return err
	}

	if e.sessions.Get(sessionID) == nil {
		return ErrSessionNotFound
	}
	if sessionID == e.sessions.CurrentID() {
		return nil
	}

	policyErr := e.leaveCurrent(ctx)
	if errors.Is(policyErr, ErrSwitchBlocked) {
		return policyErr
	}
	if err := e.sessions.SwitchTo(sessionID); err != nil {
		return err
	}
	e.publish(pubsub.SessionSwitched, SessionEvent{SessionID: sessionID, CurrentSessionID: sessionID})
	e.publish(pubsub.TokensUpdated, e.ledger.Totals())
	return policyErr
}

// DeleteSession removes a session and its messages. The last session cannot
// be deleted.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(); err != nil {
		return err
	}

	previous := e.sessions.CurrentID()
	removed, err := e.sessions.Delete(ctx, sessionID)
	if err != nil {
		return err
	}

	for id, r := range e.reveals {
		if r.sessionID == sessionID {
			r.Stop()
			delete(e.reveals, id)
		}
	}
	e.reconciler.Forget(removed.Messages...)

	current := e.sessions.CurrentID()
	e.publish(pubsub.SessionDeleted, SessionEvent{SessionID: sessionID, CurrentSessionID: current})
	if current != previous {
		e.publish(pubsub.SessionSwitched, SessionEvent{SessionID: current, CurrentSessionID: current})
	}
	return nil
}

// ConfirmDraft creates the pending draft as an inactive strategy. The caller
// must pass the user's explicit acknowledgement. A failed creation leaves
// the draft discarded.
func (e *Engine) ConfirmDraft(ctx context.Context, acknowledged bool) (*domain.TradingStrategy, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(); err != nil {
		return nil, err
	}

	draft, err := e.gate.Confirm(acknowledged)
	if err != nil {
		return nil, err
	}

	created, err := e.creator.Create(ctx, e.userID, draft)
	if err != nil {
		e.publish(pubsub.DraftDiscarded, draft)
		return nil, err
	}
	e.publish(pubsub.StrategyCreated, *created)

	session := e.sessions.Current()
	confirmation := e.newMessage(domain.RoleAssistant, fmt.Sprintf(confirmationTemplate, created.Name))
	appendErr := e.reconciler.Append(ctx, session, confirmation)
	e.publish(pubsub.MessageAppended, MessageEvent{SessionID: session.ID, Message: confirmation})
	return created, appendErr
}

// DiscardDraft drops the pending draft.
func (e *Engine) DiscardDraft() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(); err != nil {
		return err
	}

	draft, _ := e.gate.Pending()
	if err := e.gate.Discard(); err != nil {
		return err
	}
	e.publish(pubsub.DraftDiscarded, draft)
	return nil
}

// Messages returns the current session's messages.
func (e *Engine) Messages() []domain.ChatMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions.Current().Clone().Messages
}

// Sessions returns session summaries ordered by recency.
func (e *Engine) Sessions() []SessionSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summaries()
}

// CurrentSessionID returns the current session id.
func (e *Engine) CurrentSessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions.CurrentID()
}

// Tokens returns the ledger totals.
func (e *Engine) Tokens() TokenTotals {
	return e.ledger.Totals()
}

// PendingDraft returns the draft awaiting confirmation.
func (e *Engine) PendingDraft() (domain.StrategyDraft, bool) {
	return e.gate.Pending()
}

// Strategies returns the user's strategies in creation order.
func (e *Engine) Strategies() []domain.TradingStrategy {
	return e.creator.Strategies()
}

// State returns a consistent snapshot for rendering.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := State{
		CurrentSessionID: e.sessions.CurrentID(),
		Sessions:         e.summaries(),
		Messages:         e.sessions.Current().Clone().Messages,
		Tokens:           e.ledger.Totals(),
		Strategies:       e.creator.Strategies(),
		Busy:             e.inFlight,
	}
	if d, ok := e.gate.Pending(); ok {
		st.PendingDraft = &d
	}
	return st
}

// Idle reports whether the engine has had no activity for ttl and holds
// nothing in flight.
func (e *Engine) Idle(now time.Time, ttl time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.inFlight &&
		len(e.reveals) == 0 &&
		e.broker.SubscriberCount() == 0 &&
		now.Sub(e.lastActive) >= ttl
}

// Close cancels reveals and ends all subscriptions. Later operations fail with ErrClosed.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, r := range e.reveals {
		r.Stop()
		delete(e.reveals, id)
	}
	e.broker.Shutdown()
}

// enter must be called with mu held.
func (e *Engine) enter() error {
	if e.closed {
		return ErrClosed
	}
	e.lastActive = e.now()
	return nil
}

// finishReveal runs on the reveal goroutine once the whole reply is shown.
func (e *Engine) finishReveal(sessionID, msgID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.reveals[msgID]; !ok {
		return
	}
	delete(e.reveals, msgID)

	session := e.sessions.Get(sessionID)
	if session == nil {
		return
	}
	// reveal goroutines outlive requests
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.finalize(ctx, session, msgID, ""); err != nil {
		e.logger.Warn("reply finalized without persistence", "session_id", sessionID, "message_id", msgID, "error", err)
	}
}

// finalize marks a transient message complete, appends suffix and flushes it.
func (e *Engine) finalize(ctx context.Context, session *domain.ChatSession, msgID, suffix string) error {
	msg := session.Message(msgID)
	if msg == nil || !msg.Transient {
		return nil
	}
	msg.Transient = false
	msg.Content += suffix
	err := e.reconciler.Flush(ctx, session, msgID)
	e.publish(pubsub.MessageFinalized, MessageEvent{SessionID: session.ID, Message: *msg})
	return err
}

// leaveCurrent applies the switch policy to transient replies of the
// current session before the pointer moves.
func (e *Engine) leaveCurrent(ctx context.Context) error {
	session := e.sessions.Current()
	var pending []string
	for id, r := range e.reveals {
		if r.sessionID == session.ID {
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	switch e.opts.SwitchPolicy {
	case config.SwitchBlock:
		return ErrSwitchBlocked
	case config.SwitchDiscard:
		for _, id := range pending {
			e.reveals[id].Stop()
			delete(e.reveals, id)
			session.Messages = removeMessage(session.Messages, id)
		}
		e.logger.Debug("transient replies discarded on switch", "session_id", session.ID, "count", len(pending))
		return nil
	default:
		var failures []error
		for _, id := range pending {
			e.reveals[id].Stop()
			delete(e.reveals, id)
			if err := e.finalize(ctx, session, id, ""); err != nil {
				failures = append(failures, err)
			}
		}
		return storeFailure("finalize transient replies", failures...)
	}
}

func (e *Engine) summaries() []SessionSummary {
	sessions := e.sessions.ByRecency()
	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, summarize(s))
	}
	return out
}

func (e *Engine) newMessage(role domain.Role, content string) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: e.now(),
	}
}

func (e *Engine) publish(t pubsub.EventType, payload any) {
	e.broker.Publish(t, payload)
}

func toTurns(msgs []domain.ChatMessage) []provider.Turn {
	turns := make([]provider.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, provider.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

func removeMessage(msgs []domain.ChatMessage, id string) []domain.ChatMessage {
	out := msgs[:0]
	for _, m := range msgs {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}
